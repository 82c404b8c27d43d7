package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/fixhero/internal/session"
)

// applyCapturePrefs strips diagnostics the user opted out of capturing.
func applyCapturePrefs(ctx context.Context, deps Deps, console []session.ConsoleError, network []session.NetworkError) ([]session.ConsoleError, []session.NetworkError) {
	p, _ := deps.Prefs.Get(ctx)
	if !p.CaptureConsole {
		console = nil
	}
	if !p.CaptureNetwork {
		network = nil
	}
	return console, network
}

func handleAddIssue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in session.Issue
		if !decodeBody(w, r, &in) {
			return
		}
		in.ConsoleErrors, in.NetworkErrors = applyCapturePrefs(r.Context(), deps, in.ConsoleErrors, in.NetworkErrors)

		issue, added, err := deps.Sessions.AddIssue(r.Context(), in)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !added {
			writeErr(w, session.ErrNoSession)
			return
		}
		writeOK(w, http.StatusCreated, payload{"issue": issue})
	}
}

func handleGetIssue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issue, err := deps.Sessions.Issue(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "issueID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, http.StatusOK, payload{"issue": issue})
	}
}

func handleUpdateIssue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u session.IssueUpdate
		if !decodeBody(w, r, &u) {
			return
		}
		issue, err := deps.Sessions.UpdateIssue(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "issueID"), u)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, http.StatusOK, payload{"issue": issue})
	}
}

func handleDeleteIssue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sessions.DeleteIssue(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "issueID")); err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, http.StatusOK, nil)
	}
}

type diagnosticsRequest struct {
	ConsoleErrors []session.ConsoleError `json:"consoleErrors"`
	NetworkErrors []session.NetworkError `json:"networkErrors"`
}

func handleDiagnostics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req diagnosticsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		console, network := applyCapturePrefs(r.Context(), deps, req.ConsoleErrors, req.NetworkErrors)
		issue, err := deps.Sessions.AppendDiagnostics(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "issueID"), console, network)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, http.StatusOK, payload{"issue": issue})
	}
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

func handleMergeTags(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tagsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		issue, err := deps.Sessions.MergeTags(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "issueID"), req.Tags)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, http.StatusOK, payload{"issue": issue})
	}
}

// suggestRequest carries a suggestion the user accepted. Without one the
// configured suggester is asked and its answer is returned unsaved.
type suggestRequest struct {
	Suggestion *session.Suggestion `json:"suggestion"`
}

func handleSuggest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, issueID := chi.URLParam(r, "id"), chi.URLParam(r, "issueID")

		var req suggestRequest
		if !decodeOptionalBody(w, r, &req) {
			return
		}

		if req.Suggestion != nil {
			issue, err := deps.Sessions.ApplySuggestion(r.Context(), sessionID, issueID, *req.Suggestion)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeOK(w, http.StatusOK, payload{"issue": issue, "suggestion": req.Suggestion})
			return
		}

		if deps.Suggester == nil {
			writeErr(w, errSuggesterOff)
			return
		}
		issue, err := deps.Sessions.Issue(r.Context(), sessionID, issueID)
		if err != nil {
			writeErr(w, err)
			return
		}
		sg, err := deps.Suggester.SuggestTriage(r.Context(), *issue)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "ai suggestion failed: %v", err)
			return
		}
		writeOK(w, http.StatusOK, payload{"suggestion": sg})
	}
}
