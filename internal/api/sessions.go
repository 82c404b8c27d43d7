package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/fixhero/internal/quota"
	"github.com/kalambet/fixhero/internal/session"
)

type createSessionRequest struct {
	URL string `json:"url"`
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if u, err := url.Parse(req.URL); req.URL == "" || err != nil || u.Host == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url must be an absolute URL")
			return
		}
		sess, err := deps.Sessions.CreateSession(r.Context(), req.URL)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, http.StatusCreated, payload{"session": sess})
	}
}

func handleCurrentSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, outcome := deps.Sessions.Current(r.Context())
		writeRead(w, outcome, payload{"session": sess})
	}
}

type setCurrentRequest struct {
	ID string `json:"id"`
}

func handleSetCurrent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setCurrentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "id is required")
			return
		}
		if err := deps.Sessions.SetCurrent(r.Context(), req.ID); err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, http.StatusOK, nil)
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, outcome := deps.Sessions.AllSessions(r.Context())
		writeRead(w, outcome, payload{"sessions": all})
	}
}

func handleClearSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sessions.ClearAllSessions(r.Context()); err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, http.StatusOK, nil)
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Sessions.Session(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, http.StatusOK, payload{"session": sess})
	}
}

func handleUpdateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u session.MetadataUpdate
		if !decodeBody(w, r, &u) {
			return
		}
		sess, err := deps.Sessions.UpdateSessionMetadata(r.Context(), chi.URLParam(r, "id"), u)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, http.StatusOK, payload{"session": sess})
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sessions.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, http.StatusOK, nil)
	}
}

func handleSessionUsage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Sessions.Session(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, http.StatusOK, payload{"usage": quota.EstimateUsage(*sess)})
	}
}

func handleStorageStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Quota.Stats(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, http.StatusOK, payload{"stats": st})
	}
}
