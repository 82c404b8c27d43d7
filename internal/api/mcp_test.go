package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/fixhero/internal/prefs"
	"github.com/kalambet/fixhero/internal/quota"
	"github.com/kalambet/fixhero/internal/session"
	"github.com/kalambet/fixhero/internal/storage"
	"github.com/kalambet/fixhero/internal/storage/storagetest"
)

func newTestMCPDeps(t *testing.T, backend storage.Backend) MCPDeps {
	t.Helper()
	return MCPDeps{
		Sessions: session.NewStore(backend),
		Prefs:    prefs.NewManager(backend),
		Quota:    quota.NewReporter(backend, 10),
		Now:      func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", name, err)
	}
	return result
}

func TestMCPTool_CreateSessionAndAddIssue(t *testing.T) {
	deps := newTestMCPDeps(t, storage.NewMemoryBackend())

	res := callTool(t, mcpCreateSession(deps), "create_session", map[string]any{"url": "https://shop.example"})
	if res.IsError {
		t.Fatalf("create_session: %s", toolText(t, res))
	}

	res = callTool(t, mcpAddIssue(deps), "add_issue", map[string]any{
		"title":    "Price overlaps image",
		"severity": "medium",
		"tags":     []any{"layout"},
	})
	if res.IsError {
		t.Fatalf("add_issue: %s", toolText(t, res))
	}

	cur, _ := deps.Sessions.Current(context.Background())
	if cur == nil || len(cur.Issues) != 1 {
		t.Fatalf("current = %+v", cur)
	}
	issue := cur.Issues[0]
	if issue.Title != "Price overlaps image" || issue.Severity != session.SeverityMedium {
		t.Errorf("issue = %+v", issue)
	}
	if len(issue.Tags) != 1 || issue.Tags[0] != "layout" {
		t.Errorf("tags = %v", issue.Tags)
	}
}

func TestMCPTool_CreateSessionRequiresURL(t *testing.T) {
	deps := newTestMCPDeps(t, storage.NewMemoryBackend())
	if res := callTool(t, mcpCreateSession(deps), "create_session", map[string]any{}); !res.IsError {
		t.Error("expected error without url")
	}
}

func TestMCPTool_AddIssueWithoutSession(t *testing.T) {
	deps := newTestMCPDeps(t, storage.NewMemoryBackend())
	res := callTool(t, mcpAddIssue(deps), "add_issue", map[string]any{"title": "x"})
	if !res.IsError || !strings.Contains(toolText(t, res), "create_session") {
		t.Errorf("add_issue = %+v", res)
	}
}

func TestMCPTool_AddIssueBadSeverity(t *testing.T) {
	deps := newTestMCPDeps(t, storage.NewMemoryBackend())
	callTool(t, mcpCreateSession(deps), "create_session", map[string]any{"url": "https://a.example"})
	if res := callTool(t, mcpAddIssue(deps), "add_issue", map[string]any{"title": "x", "severity": "urgent"}); !res.IsError {
		t.Error("expected error for invalid severity")
	}
}

func TestMCPTool_CurrentAndList(t *testing.T) {
	deps := newTestMCPDeps(t, storage.NewMemoryBackend())

	res := callTool(t, mcpCurrentSession(deps), "get_current_session", nil)
	if res.IsError || toolText(t, res) != "No current session." {
		t.Errorf("empty current = %q", toolText(t, res))
	}

	callTool(t, mcpCreateSession(deps), "create_session", map[string]any{"url": "https://a.example"})
	callTool(t, mcpCreateSession(deps), "create_session", map[string]any{"url": "https://b.example"})

	var cur session.Session
	if err := json.Unmarshal([]byte(toolText(t, callTool(t, mcpCurrentSession(deps), "get_current_session", nil))), &cur); err != nil {
		t.Fatal(err)
	}
	if cur.URL != "https://b.example" {
		t.Errorf("current url = %q", cur.URL)
	}

	var list []sessionSummary
	if err := json.Unmarshal([]byte(toolText(t, callTool(t, mcpListSessions(deps), "list_sessions", nil))), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].URL != "https://a.example" {
		t.Errorf("list = %+v", list)
	}
}

func TestMCPTool_StorageUnavailable(t *testing.T) {
	backend := storagetest.NewFlaky()
	deps := newTestMCPDeps(t, backend)
	backend.FailReads(true)

	if res := callTool(t, mcpListSessions(deps), "list_sessions", nil); !res.IsError {
		t.Error("list_sessions should report unavailable storage")
	}
	if res := callTool(t, mcpCurrentSession(deps), "get_current_session", nil); !res.IsError {
		t.Error("get_current_session should report unavailable storage")
	}
}

func TestMCPTool_ExportSession(t *testing.T) {
	deps := newTestMCPDeps(t, storage.NewMemoryBackend())
	callTool(t, mcpCreateSession(deps), "create_session", map[string]any{"url": "https://shop.example"})
	callTool(t, mcpAddIssue(deps), "add_issue", map[string]any{"title": "one"})

	md := toolText(t, callTool(t, mcpExportSession(deps), "export_session", nil))
	if !strings.HasPrefix(md, "# Bug Report: shop.example") || !strings.Contains(md, "### Issue 1: one") {
		t.Errorf("markdown = %q", md)
	}

	js := toolText(t, callTool(t, mcpExportSession(deps), "export_session", map[string]any{"format": "json"}))
	if !json.Valid([]byte(js)) {
		t.Errorf("json export is not valid JSON: %q", js)
	}

	if res := callTool(t, mcpExportSession(deps), "export_session", map[string]any{"format": "docx"}); !res.IsError {
		t.Error("expected error for unknown format")
	}
	if res := callTool(t, mcpExportSession(deps), "export_session", map[string]any{"session_id": "missing"}); !res.IsError {
		t.Error("expected error for unknown session")
	}
}

func TestMCPTool_StorageStats(t *testing.T) {
	deps := newTestMCPDeps(t, storage.NewMemoryBackend())
	callTool(t, mcpCreateSession(deps), "create_session", map[string]any{"url": "https://a.example"})

	text := toolText(t, callTool(t, mcpStorageStats(deps), "storage_stats", nil))
	if !strings.Contains(text, "of 10 MB") {
		t.Errorf("stats = %q", text)
	}
}

func TestMCPResource_Current(t *testing.T) {
	deps := newTestMCPDeps(t, storage.NewMemoryBackend())
	callTool(t, mcpCreateSession(deps), "create_session", map[string]any{"url": "https://a.example"})

	req := mcp.ReadResourceRequest{Params: mcp.ReadResourceParams{URI: "fixhero://sessions/current"}}
	contents, err := mcpResourceCurrent(deps)(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || !strings.Contains(tc.Text, "https://a.example") {
		t.Errorf("resource = %+v", contents)
	}
}

func TestNewMCPServer(t *testing.T) {
	if NewMCPServer(newTestMCPDeps(t, storage.NewMemoryBackend())) == nil {
		t.Fatal("nil server")
	}
}
