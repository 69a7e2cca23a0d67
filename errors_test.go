package identity

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrInvalidCredentials, CodeInvalidCredentials},
		{ErrAccountLocked, CodeAccountLocked},
		{ErrInvalidMFACode, CodeInvalidMFACode},
		{ErrMFALocked, CodeInvalidMFACode},
		{ErrTokenTheftDetected, CodeTokenTheftDetected},
		{ErrSessionExpired, CodeSessionExpired},
		{ErrRefreshInvalid, CodeInvalidToken},
		{ErrLoginRateLimited, CodeRateLimited},
		{ErrRefreshRateLimited, CodeRateLimited},
		{NewValidationError("email", "required"), CodeValidationFailed},
		{ErrUserExists, CodeValidationFailed},
		{ErrUnauthorized, CodeUnauthorized},
		{ErrTrustedDeviceNotFound, CodeNotFound},
		{fmt.Errorf("%w: db down", ErrInternal), CodeInternalError},
		{errors.New("anything else"), CodeInternalError},
	}
	for _, tc := range tests {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Fatalf("ErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("password", "min", "email", "required")
	msg := err.Error()
	if !strings.HasPrefix(msg, ErrValidation.Error()) {
		t.Fatalf("unexpected message %q", msg)
	}
	if strings.Index(msg, "email") > strings.Index(msg, "password") {
		t.Fatalf("fields should be sorted: %q", msg)
	}
	if !errors.Is(fmt.Errorf("wrapped: %w", err), ErrValidation) {
		t.Fatal("wrapped validation error must match ErrValidation")
	}
}
