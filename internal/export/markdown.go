package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/fixhero/internal/session"
)

// Markdown renders the bug report document: a title with the page host,
// session metadata, then one "### Issue N" section per issue separated by
// horizontal rules.
type Markdown struct{}

func (Markdown) ContentType() string { return "text/markdown; charset=utf-8" }
func (Markdown) Extension() string   { return "md" }

func (Markdown) Render(r Report) ([]byte, error) {
	var b strings.Builder
	s := r.Session

	fmt.Fprintf(&b, "# Bug Report: %s\n\n", hostOf(s.URL))
	if s.Name != "" {
		fmt.Fprintf(&b, "**Session:** %s\n", singleLine(s.Name))
	}
	fmt.Fprintf(&b, "**Date:** %s\n", formatMillis(s.StartTime))
	fmt.Fprintf(&b, "**URL:** %s\n", singleLine(s.URL))
	fmt.Fprintf(&b, "**Browser:** %s\n", singleLine(browserOf(r)))
	if s.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", paragraph(s.Description))
	}
	b.WriteString("\n---\n\n")

	if len(s.Issues) == 0 {
		b.WriteString("_No issues captured._\n")
	}
	for i, issue := range s.Issues {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		writeIssue(&b, i+1, issue)
	}
	return []byte(b.String()), nil
}

// writeIssue renders one issue section. n is its 1-based position.
func writeIssue(b *strings.Builder, n int, issue session.Issue) {
	title := singleLine(issue.Title)
	if title == "" {
		title = "Untitled issue"
	}
	fmt.Fprintf(b, "### Issue %d: %s\n\n", n, title)

	fmt.Fprintf(b, "- **Time:** %s\n", formatMillis(issue.Timestamp))
	if issue.URL != "" {
		fmt.Fprintf(b, "- **URL:** %s\n", singleLine(issue.URL))
	}
	if issue.Severity != "" {
		fmt.Fprintf(b, "- **Severity:** %s\n", issue.Severity)
	}
	if issue.Priority != "" {
		fmt.Fprintf(b, "- **Priority:** %s\n", singleLine(issue.Priority))
	}
	fmt.Fprintf(b, "- **Status:** %s\n", issue.Status)
	if issue.Category != "" {
		fmt.Fprintf(b, "- **Category:** %s\n", singleLine(issue.Category))
	}
	if len(issue.Tags) > 0 {
		fmt.Fprintf(b, "- **Tags:** %s\n", singleLine(strings.Join(issue.Tags, ", ")))
	}

	if issue.Notes != "" {
		fmt.Fprintf(b, "\n**Notes:**\n\n%s\n", paragraph(issue.Notes))
	}
	if issue.Summary != "" {
		fmt.Fprintf(b, "\n**Summary:** %s\n", singleLine(issue.Summary))
	}
	if issue.SuggestedFix != "" {
		fmt.Fprintf(b, "\n**Suggested fix:**\n\n%s\n", paragraph(issue.SuggestedFix))
	}

	if el := issue.ElementDetails; el != nil {
		b.WriteString("\n#### Element Details\n\n")
		writeFenced(b, elementText(el))
	}

	if len(issue.ConsoleErrors) > 0 {
		b.WriteString("\n#### Console Errors\n\n")
		for _, ce := range issue.ConsoleErrors {
			line := singleLine(ce.Message)
			if ce.Source != "" {
				line += fmt.Sprintf(" (%s:%d:%d)", singleLine(ce.Source), ce.Line, ce.Column)
			}
			fmt.Fprintf(b, "- %s\n", escapeLead(line))
		}
	}
	if len(issue.NetworkErrors) > 0 {
		b.WriteString("\n#### Network Errors\n\n")
		for _, ne := range issue.NetworkErrors {
			line := fmt.Sprintf("%s %s: %d", strings.ToUpper(ne.Method), singleLine(ne.URL), ne.Status)
			if ne.StatusText != "" {
				line += " " + singleLine(ne.StatusText)
			}
			fmt.Fprintf(b, "- %s\n", escapeLead(line))
		}
	}

	if issue.Screenshot != "" {
		b.WriteString("\n#### Screenshot\n\n")
		src := issue.Screenshot
		if strings.ContainsAny(src, " ()<>") {
			src = "<" + strings.NewReplacer("<", "%3C", ">", "%3E").Replace(src) + ">"
		}
		fmt.Fprintf(b, "![Screenshot](%s)\n", src)
	}
}

func elementText(el *session.ElementDetails) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Selector: %s\n", el.Selector)
	if el.XPath != "" {
		fmt.Fprintf(&b, "XPath: %s\n", el.XPath)
	}
	if el.Text != "" {
		fmt.Fprintf(&b, "Text: %s\n", el.Text)
	}
	if len(el.Attributes) > 0 {
		keys := make([]string, 0, len(el.Attributes))
		for k := range el.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Attributes:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s=%q\n", k, el.Attributes[k])
		}
	}
	if bb := el.BoundingBox; bb != nil {
		fmt.Fprintf(&b, "Box: %gx%g at (%g, %g)\n", bb.Width, bb.Height, bb.X, bb.Y)
	}
	if el.OuterHTML != "" {
		fmt.Fprintf(&b, "HTML: %s\n", el.OuterHTML)
	}
	return b.String()
}

// writeFenced wraps text in a backtick fence longer than any backtick run
// inside it, so captured HTML cannot close the block early.
func writeFenced(b *strings.Builder, text string) {
	longest, run := 0, 0
	for _, r := range text {
		if r == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	fence := strings.Repeat("`", max(3, longest+1))
	fmt.Fprintf(b, "%s\n%s", fence, text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteByte('\n')
	}
	fmt.Fprintf(b, "%s\n", fence)
}

// singleLine folds whitespace runs, newlines included, into single spaces.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// paragraph keeps the line structure of free text while stopping any line
// from opening a heading, list, quote or fence.
func paragraph(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = escapeLead(strings.TrimSpace(line))
	}
	return strings.Join(lines, "  \n")
}

// escapeLead backslash-escapes a leading character that would start a block
// construct.
func escapeLead(line string) string {
	if line == "" {
		return line
	}
	switch line[0] {
	case '#', '>', '-', '+', '*', '=', '`', '~', '<', '|', '_':
		return `\` + line
	}
	// Ordered list markers: digits followed by '.' or ')'.
	i := 0
	for i < len(line) && i < 9 && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return line[:i] + `\` + line[i:]
	}
	return line
}
