package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/fixhero/internal/export"
	"github.com/kalambet/fixhero/internal/prefs"
	"github.com/kalambet/fixhero/internal/quota"
	"github.com/kalambet/fixhero/internal/session"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Sessions *session.Store
	Prefs    *prefs.Manager
	Quota    *quota.Reporter
	Version  string
	Now      func() time.Time
}

// NewMCPServer creates an MCP server with the session tools and the current
// session resource registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := server.NewMCPServer(
		"fixhero",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("fixhero records bug-capture sessions: issues found on a web page with notes, severity, tags and diagnostics."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("create_session",
			mcp.WithDescription("Start a new capture session for a page. The new session becomes current."),
			mcp.WithString("url", mcp.Description("Absolute URL of the page under test"), mcp.Required()),
		),
		mcpCreateSession(deps),
	)

	s.AddTool(
		mcp.NewTool("add_issue",
			mcp.WithDescription("Record an issue in the current session."),
			mcp.WithString("title", mcp.Description("Short description of the problem"), mcp.Required()),
			mcp.WithString("url", mcp.Description("Page URL the issue was seen on")),
			mcp.WithString("notes", mcp.Description("Free-form notes or reproduction steps")),
			mcp.WithString("severity", mcp.Description("low, medium, high or critical"), mcp.Enum("low", "medium", "high", "critical")),
			mcp.WithString("category", mcp.Description("Issue category, e.g. layout or functional")),
			mcp.WithArray("tags", mcp.Description("Optional tags")),
		),
		mcpAddIssue(deps),
	)

	s.AddTool(
		mcp.NewTool("get_current_session",
			mcp.WithDescription("Return the current session with its issues as JSON."),
		),
		mcpCurrentSession(deps),
	)

	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List stored sessions, oldest first, without their issues."),
		),
		mcpListSessions(deps),
	)

	s.AddTool(
		mcp.NewTool("export_session",
			mcp.WithDescription("Render a session as a report."),
			mcp.WithString("session_id", mcp.Description("Session to export; defaults to the current session")),
			mcp.WithString("format", mcp.Description("markdown, json, csv, html or github; defaults to the preferred format")),
		),
		mcpExportSession(deps),
	)

	s.AddTool(
		mcp.NewTool("storage_stats",
			mcp.WithDescription("Report storage used against the quota."),
		),
		mcpStorageStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"fixhero://sessions/current",
			"Current Session",
			mcp.WithResourceDescription("The current capture session as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCurrent(deps),
	)

	return s
}

func mcpCreateSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		u, err := req.RequireString("url")
		if err != nil || u == "" {
			return mcpError("url is required"), nil
		}
		sess, err := deps.Sessions.CreateSession(ctx, u)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create session: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Started session %s for %s", sess.ID, sess.URL)), nil
	}
}

func mcpAddIssue(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil || title == "" {
			return mcpError("title is required"), nil
		}
		in := session.Issue{
			Title:    title,
			URL:      req.GetString("url", ""),
			Notes:    req.GetString("notes", ""),
			Severity: session.Severity(req.GetString("severity", "")),
			Category: req.GetString("category", ""),
			Tags:     req.GetStringSlice("tags", nil),
		}
		issue, added, err := deps.Sessions.AddIssue(ctx, in)
		switch {
		case err != nil:
			return mcpError(fmt.Sprintf("failed to add issue: %v", err)), nil
		case !added:
			return mcpError("no current session; call create_session first"), nil
		}
		return mcpText(fmt.Sprintf("Added issue %s to session %s", issue.ID, issue.SessionID)), nil
	}
}

func mcpCurrentSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, outcome := deps.Sessions.Current(ctx)
		if outcome.Degraded() {
			return mcpError("storage is unavailable"), nil
		}
		if sess == nil {
			return mcpText("No current session."), nil
		}
		return mcpJSON(sess)
	}
}

type sessionSummary struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Name      string `json:"name,omitempty"`
	StartTime int64  `json:"startTime"`
	Issues    int    `json:"issueCount"`
}

func mcpListSessions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		all, outcome := deps.Sessions.AllSessions(ctx)
		if outcome.Degraded() {
			return mcpError("storage is unavailable"), nil
		}
		out := make([]sessionSummary, len(all))
		for i, s := range all {
			out[i] = sessionSummary{ID: s.ID, URL: s.URL, Name: s.Name, StartTime: s.StartTime, Issues: len(s.Issues)}
		}
		return mcpJSON(out)
	}
}

func mcpExportSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		format := req.GetString("format", "")
		if format == "" {
			p, _ := deps.Prefs.Get(ctx)
			format = p.DefaultExportFormat
		}
		ren, err := export.ForFormat(format)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		var sess *session.Session
		if id := req.GetString("session_id", ""); id != "" {
			sess, err = deps.Sessions.Session(ctx, id)
			if err != nil {
				return mcpError(fmt.Sprintf("session %s: %v", id, err)), nil
			}
		} else {
			sess, _ = deps.Sessions.Current(ctx)
			if sess == nil {
				return mcpError("no current session; pass session_id"), nil
			}
		}

		doc, err := ren.Render(export.Report{Session: *sess, GeneratedAt: deps.Now()})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to render: %v", err)), nil
		}
		return mcpText(string(doc)), nil
	}
}

func mcpStorageStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Quota.Stats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read storage stats: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Using %.2f MB of %.0f MB (%.1f%%)", st.UsedMB, st.TotalMB, st.Percent)), nil
	}
}

func mcpResourceCurrent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sess, outcome := deps.Sessions.Current(ctx)
		if outcome.Degraded() {
			return nil, errors.New("storage is unavailable")
		}
		b, err := json.Marshal(sess)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
