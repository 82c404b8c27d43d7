package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kalambet/fixhero/internal/export"
	"github.com/kalambet/fixhero/internal/session"
	"github.com/kalambet/fixhero/internal/storage"
)

// maxRequestBodySize leaves room for issues carrying an inline screenshot.
const maxRequestBodySize = 10 << 20 // 10MB

// payload is merged into the response envelope next to "success".
type payload map[string]any

func writeOK(w http.ResponseWriter, code int, p payload) {
	body := map[string]any{"success": true}
	for k, v := range p {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// writeRead answers a fail-open read. A degraded outcome still succeeds but
// is flagged so the client can tell an empty result from an unreadable one.
func writeRead(w http.ResponseWriter, outcome storage.Outcome, p payload) {
	if outcome.Degraded() {
		if p == nil {
			p = payload{}
		}
		p["degraded"] = true
		p["outcome"] = outcome.String()
	}
	writeOK(w, http.StatusOK, p)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	httpErrorWith(w, code, errType, fmt.Sprintf(format, args...), nil)
}

func httpErrorWith(w http.ResponseWriter, code int, errType, msg string, extra payload) {
	body := map[string]any{
		"success": false,
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// writeErr maps domain sentinels onto status codes.
func writeErr(w http.ResponseWriter, err error) {
	code, errType := statusFor(err)
	httpError(w, code, errType, "%v", err)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrNoSession):
		return http.StatusConflict, "no_session"
	case errors.Is(err, session.ErrIssueLimit):
		return http.StatusConflict, "issue_limit"
	case errors.Is(err, session.ErrInvalidField), errors.Is(err, export.ErrUnknownFormat):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, export.ErrGitHubNotConfigured), errors.Is(err, errSuggesterOff):
		return http.StatusServiceUnavailable, "not_configured"
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody for routes whose body may be absent. An
// empty body, chunked or not, leaves v untouched.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
