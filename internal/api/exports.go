package api

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/fixhero/internal/export"
	"github.com/kalambet/fixhero/internal/session"
)

func (deps Deps) report(r *http.Request, sess *session.Session) export.Report {
	return export.Report{
		Session:     *sess,
		Browser:     r.URL.Query().Get("browser"),
		GeneratedAt: deps.Now(),
	}
}

// handleExport streams the rendered document itself rather than an
// envelope, so browsers can save it directly.
func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("format")
		if format == "" {
			p, _ := deps.Prefs.Get(r.Context())
			format = p.DefaultExportFormat
		}
		ren, err := export.ForFormat(format)
		if err != nil {
			writeErr(w, err)
			return
		}
		sess, err := deps.Sessions.Session(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		rep := deps.report(r, sess)
		doc, err := ren.Render(rep)
		if err != nil {
			writeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", ren.ContentType())
		w.Header().Set("Content-Disposition", attachment(export.ASCIIFilename(rep, ren), export.Filename(rep, ren)))
		w.Write(doc)
	}
}

// attachment builds a Content-Disposition value. A name that is not plain
// ASCII also goes out in the RFC 5987 extended form.
func attachment(ascii, name string) string {
	v := mime.FormatMediaType("attachment", map[string]string{"filename": ascii})
	if name != ascii {
		v += "; filename*=UTF-8''" + url.PathEscape(name)
	}
	return v
}

func handleGitHubSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.GitHub == nil {
			writeErr(w, export.ErrGitHubNotConfigured)
			return
		}
		sess, err := deps.Sessions.Session(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		created, syncErr := deps.GitHub.Sync(r.Context(), deps.report(r, sess))
		for _, c := range created {
			if _, err := deps.Sessions.LinkGitHubIssue(r.Context(), sess.ID, c.IssueID, c.Number); err != nil {
				code, errType := statusFor(err)
				httpErrorWith(w, code, errType, fmt.Sprintf("recording github issue #%d: %v", c.Number, err), payload{"issues": created})
				return
			}
		}
		if syncErr != nil {
			httpErrorWith(w, http.StatusBadGateway, "api_error", syncErr.Error(), payload{"issues": created})
			return
		}
		writeOK(w, http.StatusOK, payload{"issues": created})
	}
}

// handleDashboard renders an HTML overview: every stored session, then the
// full report of the selected one (?session=, else the current session).
func handleDashboard(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		all, outcome := deps.Sessions.AllSessions(ctx)

		var selected *session.Session
		if id := r.URL.Query().Get("session"); id != "" {
			s, err := deps.Sessions.Session(ctx, id)
			if err != nil {
				writeErr(w, err)
				return
			}
			selected = s
		} else {
			selected, _ = deps.Sessions.Current(ctx)
		}

		var md bytes.Buffer
		md.WriteString("# FixHero Dashboard\n\n")
		if outcome.Degraded() {
			md.WriteString("> Storage is unavailable; the list below may be incomplete.\n\n")
		}
		if len(all) == 0 {
			md.WriteString("No sessions recorded yet.\n\n")
		}
		for _, s := range all {
			label := s.Name
			if label == "" {
				label = s.URL
			}
			fmt.Fprintf(&md, "- `%s` %s (%d issues)\n", s.ID, escapeInline(label), len(s.Issues))
		}
		md.WriteString("\n")

		body, err := export.MarkdownToHTML(md.Bytes())
		if err != nil {
			writeErr(w, err)
			return
		}
		if selected != nil {
			sub, err := export.Markdown{}.Render(deps.report(r, selected))
			if err == nil {
				sub, err = export.MarkdownToHTML(sub)
			}
			if err != nil {
				writeErr(w, err)
				return
			}
			body = append(append(body, "<hr>\n"...), sub...)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>FixHero Dashboard</title></head>\n<body>\n")
		w.Write(body)
		fmt.Fprint(w, "</body></html>\n")
	}
}

func escapeInline(s string) string {
	r := strings.NewReplacer("\n", " ", "\r", " ", "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`, "`", "\\`", "<", "&lt;")
	return r.Replace(s)
}

type dashboardOpenRequest struct {
	SessionID string `json:"sessionId"`
}

// handleDashboardOpen returns the URL a client should open to view the
// dashboard. The token travels in the query because browsers cannot set the
// Authorization header on a plain navigation.
func handleDashboardOpen(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dashboardOpenRequest
		if !decodeOptionalBody(w, r, &req) {
			return
		}
		q := url.Values{"token": {deps.Token}}
		if req.SessionID != "" {
			if _, err := deps.Sessions.Session(r.Context(), req.SessionID); err != nil {
				writeErr(w, err)
				return
			}
			q.Set("session", req.SessionID)
		}
		writeOK(w, http.StatusOK, payload{"url": strings.TrimRight(deps.BaseURL, "/") + "/dashboard?" + q.Encode()})
	}
}

func handleGetPrefs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, outcome := deps.Prefs.Get(r.Context())
		writeRead(w, outcome, payload{"preferences": p})
	}
}

// handlePatchPrefs accepts a flat object of preference keys. Values may be
// JSON strings, numbers or booleans; each is validated by the manager.
func handlePatchPrefs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if !decodeBody(w, r, &req) {
			return
		}
		for key, v := range req {
			if err := deps.Prefs.SetField(r.Context(), key, fmt.Sprint(v)); err != nil {
				writeErr(w, err)
				return
			}
		}
		p, outcome := deps.Prefs.Get(r.Context())
		writeRead(w, outcome, payload{"preferences": p})
	}
}
