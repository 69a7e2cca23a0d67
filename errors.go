package identity

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrInvalidCredentials covers unknown user, inactive user, wrong
	// password and rejected proof-of-work alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while the lockout window is open.
	ErrAccountLocked = errors.New("account locked")
	// ErrInvalidMFACode covers a dead challenge and a wrong code.
	ErrInvalidMFACode = errors.New("invalid mfa code")
	// ErrMFALocked is returned when the per-user attempt tracker is full.
	ErrMFALocked = errors.New("mfa temporarily locked")
	// ErrTokenTheftDetected is returned when a revoked refresh token is
	// presented again. The whole family has been revoked.
	ErrTokenTheftDetected = errors.New("refresh token reuse detected")
	// ErrSessionExpired is returned when a refresh token or its family has
	// outlived its lifetime.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshInvalid is returned for unknown or malformed refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrLoginRateLimited is returned by the Redis login throttle.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned by the Redis refresh throttle.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrTOTPNotEnrolled is returned by TOTP operations on users without a
	// confirmed secret.
	ErrTOTPNotEnrolled = errors.New("totp not enrolled")
	// ErrTOTPAlreadyEnrolled is returned when enrollment is started twice.
	ErrTOTPAlreadyEnrolled = errors.New("totp already enrolled")
	ErrTrustedDeviceNotFound = errors.New("trusted device not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrUserNotFound          = errors.New("user not found")
	ErrUserExists            = errors.New("user already exists")
	// ErrEngineNotReady is returned by methods on an engine that was not
	// produced by Builder.Build or has been closed.
	ErrEngineNotReady = errors.New("engine not initialized")
	ErrInternal       = errors.New("internal error")
)

// ValidationError carries per-field messages. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(ErrValidation.Error())
	b.WriteString(": ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteString(" ")
		b.WriteString(e.Fields[k])
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError from field/message pairs.
func NewValidationError(kv ...string) *ValidationError {
	fields := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = kv[i+1]
	}
	return &ValidationError{Fields: fields}
}

// Caller-facing error codes.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeAccountLocked      = "account_locked"
	CodeInvalidMFACode     = "invalid_mfa_code"
	CodeTokenTheftDetected = "token_theft_detected"
	CodeSessionExpired     = "session_expired"
	CodeValidationFailed   = "validation_failed"
	CodeInvalidToken       = "invalid_token"
	CodeRateLimited        = "rate_limited"
	CodeUnauthorized       = "unauthorized"
	CodeNotFound           = "not_found"
	CodeInternalError      = "internal_error"
)

// ErrorCode maps err onto the closed set of caller-facing codes. Anything
// unrecognised is internal_error.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return CodeAccountLocked
	case errors.Is(err, ErrInvalidMFACode), errors.Is(err, ErrMFALocked):
		return CodeInvalidMFACode
	case errors.Is(err, ErrTokenTheftDetected):
		return CodeTokenTheftDetected
	case errors.Is(err, ErrSessionExpired):
		return CodeSessionExpired
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUserExists),
		errors.Is(err, ErrTOTPAlreadyEnrolled), errors.Is(err, ErrTOTPNotEnrolled):
		return CodeValidationFailed
	case errors.Is(err, ErrRefreshInvalid):
		return CodeInvalidToken
	case errors.Is(err, ErrLoginRateLimited), errors.Is(err, ErrRefreshRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrTrustedDeviceNotFound), errors.Is(err, ErrUserNotFound):
		return CodeNotFound
	default:
		return CodeInternalError
	}
}
