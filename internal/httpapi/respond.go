package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	identity "github.com/actionjacksonthegoat-debug/SeventySix-sub005"
)

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// statusFor maps the closed error-code set onto HTTP statuses.
func statusFor(code string) int {
	switch code {
	case identity.CodeValidationFailed:
		return http.StatusBadRequest
	case identity.CodeInvalidCredentials, identity.CodeInvalidMFACode,
		identity.CodeTokenTheftDetected, identity.CodeSessionExpired,
		identity.CodeInvalidToken, identity.CodeUnauthorized:
		return http.StatusUnauthorized
	case identity.CodeAccountLocked:
		return http.StatusLocked
	case identity.CodeRateLimited:
		return http.StatusTooManyRequests
	case identity.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the caller-facing code for err. Internal details
// stay in the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := identity.ErrorCode(err)
	status := statusFor(code)
	if errors.Is(err, identity.ErrEngineNotReady) {
		status = http.StatusServiceUnavailable
	}

	body := errorBody{Error: code}
	var verr *identity.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", requestFields(r, err)...)
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	writeJSON(w, status, body)
}
