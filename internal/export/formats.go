package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/kalambet/fixhero/internal/session"
)

// JSON renders the full session with export metadata.
type JSON struct{}

func (JSON) ContentType() string { return "application/json" }
func (JSON) Extension() string   { return "json" }

func (JSON) Render(r Report) ([]byte, error) {
	doc := struct {
		Session    session.Session `json:"session"`
		Browser    string          `json:"browser"`
		ExportedAt time.Time       `json:"exportedAt"`
	}{r.Session, browserOf(r), r.GeneratedAt.UTC()}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding session %s: %w", r.Session.ID, err)
	}
	return append(out, '\n'), nil
}

// CSV renders one row per issue. Screenshots are reduced to their kind so
// rows stay spreadsheet sized.
type CSV struct{}

func (CSV) ContentType() string { return "text/csv; charset=utf-8" }
func (CSV) Extension() string   { return "csv" }

var csvHeader = []string{
	"session_id", "issue_id", "time", "url", "title", "severity", "priority",
	"status", "category", "tags", "notes", "selector", "console_errors",
	"network_errors", "screenshot",
}

func (CSV) Render(r Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, issue := range r.Session.Issues {
		selector := ""
		if issue.ElementDetails != nil {
			selector = issue.ElementDetails.Selector
		}
		row := []string{
			r.Session.ID,
			issue.ID,
			time.UnixMilli(issue.Timestamp).UTC().Format(time.RFC3339),
			issue.URL,
			issue.Title,
			string(issue.Severity),
			issue.Priority,
			string(issue.Status),
			issue.Category,
			strings.Join(issue.Tags, ";"),
			issue.Notes,
			selector,
			strconv.Itoa(len(issue.ConsoleErrors)),
			strconv.Itoa(len(issue.NetworkErrors)),
			screenshotKind(issue),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing issue %s: %w", issue.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func screenshotKind(issue session.Issue) string {
	switch {
	case issue.Screenshot == "":
		return "none"
	case issue.HasDataScreenshot():
		return "embedded"
	default:
		return issue.Screenshot
	}
}

// HTML renders the Markdown report through goldmark and sanitises the
// result. It backs the dashboard as well as the html download.
type HTML struct{}

func (HTML) ContentType() string { return "text/html; charset=utf-8" }
func (HTML) Extension() string   { return "html" }

var (
	markdownEngine = goldmark.New(goldmark.WithExtensions(extension.GFM))
	htmlPolicy     = newHTMLPolicy()
)

// newHTMLPolicy allows user content plus inline screenshots.
func newHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowDataURIImages()
	return p
}

func (HTML) Render(r Report) ([]byte, error) {
	md, err := Markdown{}.Render(r)
	if err != nil {
		return nil, err
	}
	body, err := MarkdownToHTML(md)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Bug Report: %s</title></head>\n<body>\n",
		html.EscapeString(hostOf(r.Session.URL)))
	out.Write(body)
	out.WriteString("</body></html>\n")
	return out.Bytes(), nil
}

// MarkdownToHTML converts Markdown to sanitised HTML.
func MarkdownToHTML(md []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert(md, &buf); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	return htmlPolicy.SanitizeBytes(buf.Bytes()), nil
}

// IssuePayload is the body of a GitHub "create issue" request.
type IssuePayload struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

// GitHub renders one issue payload per captured issue as a JSON array.
type GitHub struct{}

func (GitHub) ContentType() string { return "application/json" }
func (GitHub) Extension() string   { return "github.json" }

func (GitHub) Render(r Report) ([]byte, error) {
	out, err := json.MarshalIndent(GitHubPayloads(r), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// GitHubPayloads builds the issue payloads for every issue in the report.
func GitHubPayloads(r Report) []IssuePayload {
	out := make([]IssuePayload, 0, len(r.Session.Issues))
	for i, issue := range r.Session.Issues {
		out = append(out, githubPayload(r, i+1, issue))
	}
	return out
}

func githubPayload(r Report, n int, issue session.Issue) IssuePayload {
	title := singleLine(issue.Title)
	if title == "" {
		title = "Untitled issue"
	}
	if issue.Severity != "" {
		title = fmt.Sprintf("[%s] %s", issue.Severity, title)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Captured on %s (%s) with %s.\n\n", singleLine(r.Session.URL), hostOf(r.Session.URL), singleLine(browserOf(r)))
	writeIssue(&b, n, issue)

	labels := []string{"fixhero"}
	if issue.Severity != "" {
		labels = append(labels, "severity:"+string(issue.Severity))
	}
	labels = session.MergeTags(labels, issue.Tags)
	return IssuePayload{Title: title, Body: b.String(), Labels: labels}
}
