package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/kalambet/fixhero/internal/auth"
)

// BearerAuth rejects requests without the daemon token. When allowQuery is
// set a ?token= parameter is accepted too, for pages opened in a browser.
func BearerAuth(token string, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tokenMatches(r, token, allowQuery) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenMatches(r *http.Request, token string, allowQuery bool) bool {
	const prefix = "Bearer "
	got := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, prefix) {
		got = h[len(prefix):]
	} else if allowQuery {
		got = r.URL.Query().Get("token")
	}
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

func handleLogin(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Guard == nil {
			httpError(w, http.StatusServiceUnavailable, "not_configured", "%v", auth.ErrNoCredentials)
			return
		}
		var req loginRequest
		if !decodeBody(w, r, &req) {
			return
		}

		// Checked first so a locked client learns how long to wait instead of
		// a bare rejection.
		if st := deps.Guard.CheckLockStatus(r.Context()); st.Locked {
			deps.Metrics.LoginAttempt("locked")
			httpErrorWith(w, http.StatusLocked, "locked", "too many failed login attempts",
				payload{"remainingTimeSeconds": st.RemainingSeconds})
			return
		}

		ok, outcome := deps.Guard.ValidateCredentials(r.Context(), req.Identifier, req.Secret)
		if !ok {
			// A failure can complete the lockout; report it right away.
			if st := deps.Guard.CheckLockStatus(r.Context()); st.Locked {
				httpErrorWith(w, http.StatusLocked, "locked", "too many failed login attempts",
					payload{"remainingTimeSeconds": st.RemainingSeconds})
				return
			}
			httpError(w, http.StatusUnauthorized, "authentication_error", "invalid credentials")
			return
		}
		writeRead(w, outcome, payload{"token": deps.Token})
	}
}

func handleLockStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Guard == nil {
			writeOK(w, http.StatusOK, payload{"locked": false, "remainingTimeSeconds": 0, "configured": false})
			return
		}
		st := deps.Guard.CheckLockStatus(r.Context())
		writeRead(w, st.Outcome, payload{
			"locked":               st.Locked,
			"remainingTimeSeconds": st.RemainingSeconds,
			"configured":           true,
		})
	}
}
