package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/kalambet/fixhero/internal/auth"
	"github.com/kalambet/fixhero/internal/export"
	"github.com/kalambet/fixhero/internal/metrics"
	"github.com/kalambet/fixhero/internal/prefs"
	"github.com/kalambet/fixhero/internal/quota"
	"github.com/kalambet/fixhero/internal/session"
	"github.com/kalambet/fixhero/internal/storage"
	"github.com/kalambet/fixhero/internal/storage/storagetest"
)

const testToken = "test-token"

type mockSuggester struct {
	sg  session.Suggestion
	err error
}

func (m *mockSuggester) SuggestTriage(context.Context, session.Issue) (session.Suggestion, error) {
	return m.sg, m.err
}

// mockSyncer opens numbered issues for every issue not yet linked, the way
// the GitHub client does.
type mockSyncer struct {
	got  export.Report
	next int
	err  error
}

func (m *mockSyncer) Sync(_ context.Context, r export.Report) ([]export.CreatedIssue, error) {
	m.got = r
	if m.err != nil {
		return nil, m.err
	}
	var out []export.CreatedIssue
	for _, issue := range r.Session.Issues {
		if issue.GitHubIssue != 0 {
			continue
		}
		m.next++
		out = append(out, export.CreatedIssue{IssueID: issue.ID, Number: m.next, HTMLURL: fmt.Sprintf("https://github.com/acme/shop/issues/%d", m.next)})
	}
	return out, nil
}

func newTestDeps(t *testing.T, backend storage.Backend) Deps {
	t.Helper()
	hash, err := auth.HashSecret("hunter2", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	v, err := auth.NewBcryptVerifier("dev@example.com", hash)
	if err != nil {
		t.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := prefs.NewManager(backend)
	return Deps{
		Sessions:       session.NewStore(backend, session.WithLimits(p), session.WithMetrics(m)),
		Prefs:          p,
		Quota:          quota.NewReporter(backend, 10),
		Guard:          auth.NewGuard(backend, v, m),
		Token:          testToken,
		BaseURL:        "http://127.0.0.1:4000/",
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Now:            func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

type result struct {
	code int
	body map[string]any
	raw  []byte
	hdr  http.Header
}

func call(t *testing.T, h http.Handler, method, path string, body any, token string) result {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	res := result{code: rec.Code, raw: rec.Body.Bytes(), hdr: rec.Header()}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(res.raw, &res.body); err != nil {
			t.Fatalf("%s %s: decoding %q: %v", method, path, res.raw, err)
		}
	}
	return res
}

func (r result) success() bool {
	ok, _ := r.body["success"].(bool)
	return ok
}

func (r result) errType() string {
	e, _ := r.body["error"].(map[string]any)
	s, _ := e["type"].(string)
	return s
}

func (r result) object(key string) map[string]any {
	m, _ := r.body[key].(map[string]any)
	return m
}

func TestHealthIsPublic(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	res := call(t, h, "GET", "/health", nil, "")
	if res.code != 200 || !res.success() {
		t.Errorf("GET /health = %d %v", res.code, res.body)
	}
}

func TestBearerAuthRequired(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	for _, tok := range []string{"", "wrong"} {
		res := call(t, h, "GET", "/sessions", nil, tok)
		if res.code != http.StatusUnauthorized || res.success() || res.errType() != "authentication_error" {
			t.Errorf("token %q: %d %v", tok, res.code, res.body)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))

	res := call(t, h, "POST", "/sessions", map[string]string{"url": "https://shop.example/cart"}, testToken)
	if res.code != http.StatusCreated || !res.success() {
		t.Fatalf("create = %d %v", res.code, res.body)
	}
	id := res.object("session")["id"].(string)

	res = call(t, h, "GET", "/sessions/current", nil, testToken)
	if got := res.object("session"); got["id"] != id || got["url"] != "https://shop.example/cart" {
		t.Errorf("current = %v", res.body)
	}

	res = call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "Button misaligned", "severity": "high"}, testToken)
	if res.code != http.StatusCreated {
		t.Fatalf("add issue = %d %v", res.code, res.body)
	}
	issue := res.object("issue")
	if issue["sessionId"] != id || issue["status"] != "open" {
		t.Errorf("issue = %v", issue)
	}
	issueID := issue["id"].(string)

	res = call(t, h, "PATCH", "/sessions/"+id+"/issues/"+issueID, map[string]any{"status": "resolved", "notes": "fixed in css"}, testToken)
	if res.code != 200 || res.object("issue")["status"] != "resolved" {
		t.Errorf("update issue = %d %v", res.code, res.body)
	}

	res = call(t, h, "PATCH", "/sessions/"+id, map[string]any{"name": "Cart pass"}, testToken)
	if res.object("session")["name"] != "Cart pass" {
		t.Errorf("rename = %v", res.body)
	}

	res = call(t, h, "GET", "/sessions", nil, testToken)
	if list, _ := res.body["sessions"].([]any); len(list) != 1 {
		t.Errorf("list = %v", res.body)
	}

	res = call(t, h, "DELETE", "/sessions", nil, testToken)
	if !res.success() {
		t.Fatalf("clear = %v", res.body)
	}
	res = call(t, h, "GET", "/sessions/current", nil, testToken)
	if res.body["session"] != nil {
		t.Errorf("current after clear = %v", res.body)
	}
	res = call(t, h, "GET", "/sessions", nil, testToken)
	if list, ok := res.body["sessions"].([]any); !ok || len(list) != 0 {
		t.Errorf("list after clear = %v", res.body)
	}
}

func TestCreateSessionRejectsRelativeURL(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	res := call(t, h, "POST", "/sessions", map[string]string{"url": "/cart"}, testToken)
	if res.code != http.StatusBadRequest || res.success() {
		t.Errorf("create = %d %v", res.code, res.body)
	}
}

func TestAddIssueWithoutSession(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	res := call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "x"}, testToken)
	if res.code != http.StatusConflict || res.errType() != "no_session" {
		t.Errorf("add issue = %d %v", res.code, res.body)
	}
}

func TestAddIssueInvalidSeverity(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken)
	res := call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "x", "severity": "urgent"}, testToken)
	if res.code != http.StatusBadRequest || res.errType() != "invalid_request_error" {
		t.Errorf("add issue = %d %v", res.code, res.body)
	}
}

func TestAddIssueHonoursCapturePrefs(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	call(t, h, "PATCH", "/preferences", map[string]any{"capture_console": false}, testToken)
	call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken)

	res := call(t, h, "POST", "/sessions/current/issues", map[string]any{
		"title":         "x",
		"consoleErrors": []map[string]any{{"message": "boom", "timestamp": 1}},
		"networkErrors": []map[string]any{{"url": "https://a.example/api", "method": "GET", "status": 500, "timestamp": 1}},
	}, testToken)
	issue := res.object("issue")
	if c, _ := issue["consoleErrors"].([]any); len(c) != 0 {
		t.Errorf("console errors captured despite preference: %v", c)
	}
	if n, _ := issue["networkErrors"].([]any); len(n) != 1 {
		t.Errorf("network errors = %v", n)
	}
}

func TestIssueLimitMapsToConflict(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	call(t, h, "PATCH", "/preferences", map[string]any{"max_issues_per_session": 1}, testToken)
	call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken)
	call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "one"}, testToken)

	res := call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "two"}, testToken)
	if res.code != http.StatusConflict || res.errType() != "issue_limit" {
		t.Errorf("second issue = %d %v", res.code, res.body)
	}
}

func TestMissingSessionIs404(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	for _, path := range []string{"/sessions/nope", "/sessions/nope/usage", "/sessions/nope/export?format=json"} {
		res := call(t, h, "GET", path, nil, testToken)
		if res.code != http.StatusNotFound || res.errType() != "not_found" {
			t.Errorf("GET %s = %d %v", path, res.code, res.body)
		}
	}
}

func TestDegradedReadsAreFlagged(t *testing.T) {
	backend := storagetest.NewFlaky()
	h := NewHandler(newTestDeps(t, backend))
	call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken)

	backend.FailReads(true)
	res := call(t, h, "GET", "/sessions", nil, testToken)
	if res.code != 200 || !res.success() || res.body["degraded"] != true {
		t.Errorf("list while degraded = %d %v", res.code, res.body)
	}
	if list, ok := res.body["sessions"].([]any); !ok || len(list) != 0 {
		t.Errorf("sessions = %v, want empty list", res.body["sessions"])
	}
}

func TestWriteFailureSurfaces(t *testing.T) {
	backend := storagetest.NewFlaky()
	h := NewHandler(newTestDeps(t, backend))
	backend.FailWrites(true)
	res := call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken)
	if res.code != http.StatusInternalServerError || res.success() {
		t.Errorf("create while failing = %d %v", res.code, res.body)
	}
}

func TestLoginLockout(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	bad := map[string]string{"identifier": "dev@example.com", "secret": "nope"}

	for i := 1; i < auth.MaxLoginAttempts; i++ {
		res := call(t, h, "POST", "/auth/login", bad, "")
		if res.code != http.StatusUnauthorized {
			t.Fatalf("attempt %d = %d %v", i, res.code, res.body)
		}
	}
	res := call(t, h, "POST", "/auth/login", bad, "")
	if res.code != http.StatusLocked {
		t.Fatalf("final attempt = %d %v", res.code, res.body)
	}
	if secs, _ := res.body["remainingTimeSeconds"].(float64); secs <= 0 || secs > 900 {
		t.Errorf("remainingTimeSeconds = %v", res.body["remainingTimeSeconds"])
	}

	good := map[string]string{"identifier": "dev@example.com", "secret": "hunter2"}
	if res := call(t, h, "POST", "/auth/login", good, ""); res.code != http.StatusLocked {
		t.Errorf("correct secret while locked = %d", res.code)
	}

	res = call(t, h, "GET", "/auth/status", nil, "")
	if res.body["locked"] != true {
		t.Errorf("status = %v", res.body)
	}
}

func TestLoginReturnsToken(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	res := call(t, h, "POST", "/auth/login", map[string]string{"identifier": "dev@example.com", "secret": "hunter2"}, "")
	if res.code != 200 || res.body["token"] != testToken {
		t.Errorf("login = %d %v", res.code, res.body)
	}
}

func TestLoginWithoutCredentials(t *testing.T) {
	deps := newTestDeps(t, storage.NewMemoryBackend())
	deps.Guard = nil
	h := NewHandler(deps)
	res := call(t, h, "POST", "/auth/login", map[string]string{"identifier": "a", "secret": "b"}, "")
	if res.code != http.StatusServiceUnavailable {
		t.Errorf("login = %d %v", res.code, res.body)
	}
}

func TestSuggestProposesWithoutSaving(t *testing.T) {
	deps := newTestDeps(t, storage.NewMemoryBackend())
	deps.Suggester = &mockSuggester{sg: session.Suggestion{Severity: session.SeverityHigh, Summary: "Cart total wrong", Tags: []string{"checkout"}}}
	h := NewHandler(deps)

	sid := call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken).object("session")["id"].(string)
	iid := call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "x", "tags": []string{"Checkout"}}, testToken).object("issue")["id"].(string)
	path := "/sessions/" + sid + "/issues/" + iid

	res := call(t, h, "POST", path+"/suggest", nil, testToken)
	if res.code != 200 {
		t.Fatalf("suggest = %d %v", res.code, res.body)
	}
	sg := res.object("suggestion")
	if sg["severity"] != "high" || sg["summary"] != "Cart total wrong" {
		t.Errorf("suggestion = %v", sg)
	}
	if _, ok := res.body["issue"]; ok {
		t.Errorf("proposal should not return an updated issue: %v", res.body)
	}
	stored := call(t, h, "GET", path, nil, testToken).object("issue")
	if stored["severity"] == "high" || stored["summary"] == "Cart total wrong" {
		t.Errorf("proposal was persisted: %v", stored)
	}

	for i := 0; i < 2; i++ {
		res := call(t, h, "POST", path+"/suggest", map[string]any{"suggestion": sg}, testToken)
		if res.code != 200 {
			t.Fatalf("apply = %d %v", res.code, res.body)
		}
		issue := res.object("issue")
		if issue["severity"] != "high" || issue["summary"] != "Cart total wrong" {
			t.Errorf("issue = %v", issue)
		}
		if tags, _ := issue["tags"].([]any); len(tags) != 1 {
			t.Errorf("tags after merge %d = %v", i+1, tags)
		}
	}
}

func TestSuggestChunkedEmptyBody(t *testing.T) {
	deps := newTestDeps(t, storage.NewMemoryBackend())
	deps.Suggester = &mockSuggester{sg: session.Suggestion{Priority: "P2"}}
	h := NewHandler(deps)
	sid := call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken).object("session")["id"].(string)
	iid := call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "x"}, testToken).object("issue")["id"].(string)

	for _, path := range []string{"/sessions/" + sid + "/issues/" + iid + "/suggest", "/dashboard/open"} {
		req := httptest.NewRequest("POST", path, io.NopCloser(strings.NewReader("")))
		req.ContentLength = -1
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != 200 {
			t.Errorf("POST %s with chunked empty body = %d %s", path, rec.Code, rec.Body)
		}
	}
}

func TestSuggestAcceptedSuggestionWithoutSuggester(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	sid := call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken).object("session")["id"].(string)
	iid := call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "x"}, testToken).object("issue")["id"].(string)
	path := "/sessions/" + sid + "/issues/" + iid + "/suggest"

	if res := call(t, h, "POST", path, nil, testToken); res.code != http.StatusServiceUnavailable {
		t.Errorf("suggest without suggester = %d %v", res.code, res.body)
	}

	res := call(t, h, "POST", path, map[string]any{"suggestion": map[string]any{"priority": "P1", "fix": "round totals"}}, testToken)
	issue := res.object("issue")
	if issue["priority"] != "P1" || issue["suggestedFix"] != "round totals" {
		t.Errorf("issue = %v", res.body)
	}
}

func TestSuggesterFailure(t *testing.T) {
	deps := newTestDeps(t, storage.NewMemoryBackend())
	deps.Suggester = &mockSuggester{err: errors.New("model offline")}
	h := NewHandler(deps)
	sid := call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken).object("session")["id"].(string)
	iid := call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "x"}, testToken).object("issue")["id"].(string)

	res := call(t, h, "POST", "/sessions/"+sid+"/issues/"+iid+"/suggest", nil, testToken)
	if res.code != http.StatusBadGateway {
		t.Errorf("suggest = %d %v", res.code, res.body)
	}
}

func TestExportMarkdown(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	sid := call(t, h, "POST", "/sessions", map[string]string{"url": "https://shop.example/cart"}, testToken).object("session")["id"].(string)
	call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "one"}, testToken)
	call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "two"}, testToken)

	res := call(t, h, "GET", "/sessions/"+sid+"/export?browser=Firefox", nil, testToken)
	if res.code != 200 {
		t.Fatalf("export = %d %s", res.code, res.raw)
	}
	md := string(res.raw)
	if !strings.HasPrefix(md, "# Bug Report: shop.example") || !strings.Contains(md, "Firefox") {
		t.Errorf("markdown = %q", md)
	}
	if n := strings.Count(md, "\n### Issue "); n != 2 {
		t.Errorf("issue headings = %d, want 2", n)
	}
	if cd := res.hdr.Get("Content-Disposition"); !strings.Contains(cd, ".md") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestExportIDNHostFilename(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	sid := call(t, h, "POST", "/sessions", map[string]string{"url": "https://bücher.example/kasse"}, testToken).object("session")["id"].(string)

	res := call(t, h, "GET", "/sessions/"+sid+"/export", nil, testToken)
	cd := res.hdr.Get("Content-Disposition")
	for _, r := range cd {
		if r > 0x7f {
			t.Fatalf("Content-Disposition carries non-ASCII: %q", cd)
		}
	}
	if !strings.Contains(cd, `filename=fixhero-xn--bcher-kva.example-`) && !strings.Contains(cd, `filename="fixhero-xn--bcher-kva.example-`) {
		t.Errorf("ASCII fallback missing: %q", cd)
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		t.Fatalf("ParseMediaType(%q): %v", cd, err)
	}
	if want := "fixhero-bücher.example-" + sid + ".md"; params["filename"] != want {
		t.Errorf("decoded filename = %q, want %q", params["filename"], want)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	sid := call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken).object("session")["id"].(string)
	res := call(t, h, "GET", "/sessions/"+sid+"/export?format=pdf", nil, testToken)
	if res.code != http.StatusBadRequest {
		t.Errorf("export = %d %v", res.code, res.body)
	}
}

func TestGitHubSync(t *testing.T) {
	deps := newTestDeps(t, storage.NewMemoryBackend())
	h := NewHandler(deps)
	sid := call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken).object("session")["id"].(string)
	iid := call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "one"}, testToken).object("issue")["id"].(string)

	if res := call(t, h, "POST", "/sessions/"+sid+"/sync/github", nil, testToken); res.code != http.StatusServiceUnavailable {
		t.Errorf("sync without client = %d %v", res.code, res.body)
	}

	syncer := &mockSyncer{}
	deps.GitHub = syncer
	h = NewHandler(deps)
	res := call(t, h, "POST", "/sessions/"+sid+"/sync/github", nil, testToken)
	if res.code != 200 {
		t.Fatalf("sync = %d %v", res.code, res.body)
	}
	if syncer.got.Session.ID != sid {
		t.Errorf("synced session = %q", syncer.got.Session.ID)
	}
	if issues, _ := res.body["issues"].([]any); len(issues) != 1 {
		t.Errorf("issues = %v", res.body["issues"])
	}
	issue := call(t, h, "GET", "/sessions/"+sid+"/issues/"+iid, nil, testToken).object("issue")
	if issue["githubIssue"] != float64(1) {
		t.Errorf("githubIssue = %v", issue["githubIssue"])
	}
}

func TestGitHubResyncSkipsLinkedIssues(t *testing.T) {
	deps := newTestDeps(t, storage.NewMemoryBackend())
	syncer := &mockSyncer{}
	deps.GitHub = syncer
	h := NewHandler(deps)
	sid := call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken).object("session")["id"].(string)
	call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "one"}, testToken)

	call(t, h, "POST", "/sessions/"+sid+"/sync/github", nil, testToken)
	res := call(t, h, "POST", "/sessions/"+sid+"/sync/github", nil, testToken)
	if issues, _ := res.body["issues"].([]any); res.code != 200 || len(issues) != 0 {
		t.Errorf("second sync = %d %v", res.code, res.body)
	}

	call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "two"}, testToken)
	res = call(t, h, "POST", "/sessions/"+sid+"/sync/github", nil, testToken)
	if issues, _ := res.body["issues"].([]any); len(issues) != 1 {
		t.Errorf("sync after new issue = %v", res.body["issues"])
	}
	if syncer.next != 2 {
		t.Errorf("opened %d GitHub issues, want 2", syncer.next)
	}
}

func TestDashboard(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken)
	call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "<script>alert(1)</script>"}, testToken)

	res := call(t, h, "POST", "/dashboard/open", nil, testToken)
	link, _ := res.body["url"].(string)
	if !strings.HasPrefix(link, "http://127.0.0.1:4000/dashboard?") || !strings.Contains(link, "token="+testToken) {
		t.Fatalf("dashboard url = %q", link)
	}

	if res := call(t, h, "GET", "/dashboard", nil, ""); res.code != http.StatusUnauthorized {
		t.Errorf("dashboard without token = %d", res.code)
	}

	res = call(t, h, "GET", "/dashboard?token="+testToken, nil, "")
	page := string(res.raw)
	if res.code != 200 || !strings.Contains(page, "FixHero Dashboard") {
		t.Fatalf("dashboard = %d %q", res.code, page)
	}
	if strings.Contains(page, "<script>") {
		t.Error("dashboard contains unsanitised script tag")
	}
}

func TestPreferences(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))

	res := call(t, h, "GET", "/preferences", nil, testToken)
	if p := res.object("preferences"); p["max_sessions_count"] != float64(50) || p["default_export_format"] != "markdown" {
		t.Errorf("defaults = %v", p)
	}

	res = call(t, h, "PATCH", "/preferences", map[string]any{"auto_tag": true, "default_export_format": "csv"}, testToken)
	if p := res.object("preferences"); p["auto_tag"] != true || p["default_export_format"] != "csv" {
		t.Errorf("after patch = %v", res.body)
	}

	res = call(t, h, "PATCH", "/preferences", map[string]any{"max_sessions_count": -1}, testToken)
	if res.code != http.StatusBadRequest {
		t.Errorf("invalid value = %d %v", res.code, res.body)
	}
	res = call(t, h, "PATCH", "/preferences", map[string]any{"colour": "blue"}, testToken)
	if res.code != http.StatusBadRequest {
		t.Errorf("unknown key = %d %v", res.code, res.body)
	}
}

func TestUsageAndStats(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	sid := call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken).object("session")["id"].(string)
	call(t, h, "POST", "/sessions/current/issues", map[string]any{"title": "x", "screenshot": "data:image/png;base64," + strings.Repeat("A", 100)}, testToken)

	res := call(t, h, "GET", "/sessions/"+sid+"/usage", nil, testToken)
	if u := res.object("usage"); u["screenshotsKB"] != 0.1 {
		t.Errorf("usage = %v", u)
	}

	res = call(t, h, "GET", "/storage/stats", nil, testToken)
	if st := res.object("stats"); st["totalMB"] != float64(10) || st["usedBytes"].(float64) <= 0 {
		t.Errorf("stats = %v", st)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandler(newTestDeps(t, storage.NewMemoryBackend()))
	call(t, h, "POST", "/sessions", map[string]string{"url": "https://a.example"}, testToken)

	res := call(t, h, "GET", "/metrics", nil, "")
	text := string(res.raw)
	if res.code != 200 || !strings.Contains(text, "fixhero_session_created_total 1") {
		t.Errorf("metrics = %d\n%s", res.code, text)
	}
	if !strings.Contains(text, `route="/sessions`) {
		t.Errorf("http metrics missing route label:\n%s", text)
	}
}
