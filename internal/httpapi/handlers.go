package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"peopledesk.org/internal/auth"
	"peopledesk.org/internal/obs"
)

// Error codes carried in the JSON envelope. Clients branch on these, not on
// the human-readable message.
const (
	codeValidation       = "VALIDATION_FAILED"
	codeInvalidCreds     = "INVALID_CREDENTIALS"
	codeAccountInactive  = "ACCOUNT_INACTIVE"
	codeInvalidToken     = "INVALID_TOKEN"
	codePermissionDenied = "PERMISSION_DENIED"
	codeNotFound         = "NOT_FOUND"
	codeConflict         = "CONFLICT"
	codeMethod           = "METHOD_NOT_ALLOWED"
	codeRateLimited      = "RATE_LIMIT_EXCEEDED"
	codeInternal         = "INTERNAL"
)

type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success:   true,
		Data:      data,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success:   false,
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// writeServiceError maps auth sentinel errors onto HTTP statuses. Anything
// unrecognized is a 500 with the detail kept out of the response body.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, codeValidation, trimSentinel(err, auth.ErrInvalidInput))
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, codeInvalidCreds, "invalid email or password")
	case errors.Is(err, auth.ErrAccountInactive):
		// 401, not 403: the caller holds credentials or a token for an
		// account that can no longer authenticate, and the distinct code
		// lets clients stop retrying the refresh flow.
		writeError(w, r, http.StatusUnauthorized, codeAccountInactive, "account is inactive")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, codeInvalidToken, "invalid or expired token")
	case errors.Is(err, auth.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, codePermissionDenied, "permission denied")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, codeConflict, "resource already exists")
	default:
		fields := map[string]any{
			"msg":        "handler_error",
			"error":      err.Error(),
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": RequestIDFromContext(r.Context()),
		}
		if ident, ok := auth.IdentityFromContext(r.Context()); ok {
			fields["user_id"] = ident.UserID
		}
		obs.LogRequest(fields)
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// trimSentinel strips the sentinel prefix so validation messages read as
// plain field feedback ("email is required" rather than the wrapped chain).
func trimSentinel(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed json body", auth.ErrInvalidInput)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, codeMethod, "method not allowed")
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.ready != nil {
		if err := a.ready(r.Context()); err != nil {
			obs.SetReady(false)
			writeError(w, r, http.StatusServiceUnavailable, codeInternal, "dependencies not ready")
			return
		}
	}
	obs.SetReady(true)
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{
		"service": "peopledesk-gateway",
		"version": a.version,
	})
}
