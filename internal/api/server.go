// Package api serves the capture front end: an HTTP API whose responses use
// a {"success": bool, ...} envelope, and an MCP server exposing the same
// store to agents.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/fixhero/internal/auth"
	"github.com/kalambet/fixhero/internal/export"
	"github.com/kalambet/fixhero/internal/metrics"
	"github.com/kalambet/fixhero/internal/prefs"
	"github.com/kalambet/fixhero/internal/quota"
	"github.com/kalambet/fixhero/internal/session"
)

var errSuggesterOff = errors.New("ai suggestions are not available")

// Suggester proposes triage fields for an issue.
type Suggester interface {
	SuggestTriage(ctx context.Context, issue session.Issue) (session.Suggestion, error)
}

// Syncer pushes a report to an issue tracker.
type Syncer interface {
	Sync(ctx context.Context, r export.Report) ([]export.CreatedIssue, error)
}

type Deps struct {
	Sessions *session.Store
	Prefs    *prefs.Manager
	Quota    *quota.Reporter
	// Guard is nil when no login credentials are configured.
	Guard *auth.Guard
	// Suggester and GitHub are optional; their routes answer 503 when nil.
	Suggester Suggester
	GitHub    Syncer
	Token     string
	// BaseURL is where the daemon is reachable, used to build dashboard links.
	BaseURL        string
	Metrics        *metrics.Recorder
	MetricsHandler http.Handler
	Now            func() time.Time
}

func NewHandler(deps Deps) http.Handler {
	if deps.MetricsHandler == nil {
		deps.MetricsHandler = promhttp.Handler()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(instrument(deps.Metrics))

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	r.Post("/auth/login", handleLogin(deps))
	r.Get("/auth/status", handleLockStatus(deps))

	r.With(BearerAuth(deps.Token, true)).Get("/dashboard", handleDashboard(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token, false))

		r.Post("/dashboard/open", handleDashboardOpen(deps))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", handleCreateSession(deps))
			r.Get("/", handleListSessions(deps))
			r.Delete("/", handleClearSessions(deps))

			r.Get("/current", handleCurrentSession(deps))
			r.Put("/current", handleSetCurrent(deps))
			r.Post("/current/issues", handleAddIssue(deps))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handleGetSession(deps))
				r.Patch("/", handleUpdateSession(deps))
				r.Delete("/", handleDeleteSession(deps))
				r.Get("/usage", handleSessionUsage(deps))
				r.Get("/export", handleExport(deps))
				r.Post("/sync/github", handleGitHubSync(deps))

				r.Route("/issues/{issueID}", func(r chi.Router) {
					r.Get("/", handleGetIssue(deps))
					r.Patch("/", handleUpdateIssue(deps))
					r.Delete("/", handleDeleteIssue(deps))
					r.Post("/diagnostics", handleDiagnostics(deps))
					r.Post("/tags", handleMergeTags(deps))
					r.Post("/suggest", handleSuggest(deps))
				})
			})
		})

		r.Get("/storage/stats", handleStorageStats(deps))
		r.Get("/preferences", handleGetPrefs(deps))
		r.Patch("/preferences", handlePatchPrefs(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, payload{"status": "ok"})
}

// instrument records one observation per request, labelled with the matched
// route pattern so ids do not explode label cardinality.
func instrument(m *metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := ""
			if rc := chi.RouteContext(r.Context()); rc != nil {
				route = rc.RoutePattern()
			}
			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			m.HTTPRequest(route, code, time.Since(start))
		})
	}
}
