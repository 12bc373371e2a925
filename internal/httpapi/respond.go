package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/driftapp/drift/internal/gate"
	"github.com/driftapp/drift/internal/metrics"
)

// errorBody is the uniform error shape: the gate error's own fields,
// nothing internal.
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, ctx map[string]any) {
	writeJSON(w, status, errorBody{Code: code, Message: message, Context: ctx})
}

// writeGateError maps an engine rejection to its HTTP status and sends
// the error verbatim as the body.
func writeGateError(w http.ResponseWriter, gerr *gate.Error) {
	metrics.GateDenialsTotal.WithLabelValues(string(gerr.Code)).Inc()
	writeJSON(w, statusFor(gerr.Code), gerr)
}

// statusFor is the gate-code to HTTP mapping. Everything not singled
// out is a plain forbidden: the session is fine, the action is not.
func statusFor(code gate.Code) int {
	switch code {
	case gate.CodeInvalidSession:
		return http.StatusUnauthorized
	case gate.CodeRateLimited:
		return http.StatusTooManyRequests
	case gate.CodeChatExpired:
		return http.StatusGone
	default:
		return http.StatusForbidden
	}
}

// decodeBody parses a JSON request body into dst. A false return means
// the 400 response was already written.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed request body.", nil)
		return false
	}
	return true
}
