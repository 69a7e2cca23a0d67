package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
)

// BeginTOTPEnrollment provisions a fresh authenticator secret for userID.
// Nothing is stored until ConfirmTOTPEnrollment proves the user's app
// produces matching codes.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, userID int64) (*TOTPEnrollment, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if !e.config.TOTP.Enabled {
		return nil, ErrTOTPNotEnrolled
	}

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.HasTOTP() {
		return nil, ErrTOTPAlreadyEnrolled
	}

	secret, uri, err := e.totp.GenerateKey(user.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: totp key: %v", ErrInternal, err)
	}
	return &TOTPEnrollment{Secret: secret, URI: uri}, nil
}

// ConfirmTOTPEnrollment stores secret for userID once code verifies against
// it and turns MFA on. The confirming code's time step is consumed, so it
// cannot be replayed at login.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, userID int64, secret, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if !e.config.TOTP.Enabled {
		return ErrTOTPNotEnrolled
	}
	secret = strings.TrimSpace(secret)
	if secret == "" || strings.TrimSpace(code) == "" {
		return NewValidationError("secret", "required", "code", "required")
	}

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.HasTOTP() {
		return ErrTOTPAlreadyEnrolled
	}
	if err := e.tracker.Check(user.ID, string(MFAMethodTOTP)); err != nil {
		return ErrMFALocked
	}

	ok, counter, err := e.totp.VerifyCode(secret, code, e.now())
	if err != nil {
		return NewValidationError("secret", "invalid")
	}
	if !ok {
		_, _ = e.tracker.RecordFailure(user.ID, string(MFAMethodTOTP))
		e.emitAudit(ctx, AuditMFAFailed, user.ID, false, ErrInvalidMFACode, func() map[string]string {
			return map[string]string{"method": string(MFAMethodTOTP), "reason": "enrollment_code_mismatch"}
		})
		return ErrInvalidMFACode
	}

	if err := e.users.SetTOTPSecret(ctx, user.ID, secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if _, err := e.users.AdvanceTOTPCounter(ctx, user.ID, counter); err != nil {
		e.warn("identity: advance totp counter after enrollment for user %d: %v", user.ID, err)
	}
	e.tracker.Reset(user.ID, string(MFAMethodTOTP))

	e.metricInc(MetricTOTPEnrolled)
	e.emitAudit(ctx, AuditTOTPEnrolled, user.ID, true, nil, nil)
	return nil
}

// DisableTOTP removes the authenticator secret after verifying a current
// code. Email MFA stays as it was.
func (e *Engine) DisableTOTP(ctx context.Context, userID int64, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasTOTP() {
		return ErrTOTPNotEnrolled
	}
	if err := e.tracker.Check(user.ID, string(MFAMethodTOTP)); err != nil {
		return ErrMFALocked
	}

	ok, counter, err := e.totp.VerifyCode(user.TOTPSecret.String, code, e.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if ok && e.config.TOTP.EnforceReplayProtection {
		ok, err = e.users.AdvanceTOTPCounter(ctx, user.ID, counter)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
	}
	if !ok {
		_, _ = e.tracker.RecordFailure(user.ID, string(MFAMethodTOTP))
		e.emitAudit(ctx, AuditMFAFailed, user.ID, false, ErrInvalidMFACode, func() map[string]string {
			return map[string]string{"method": string(MFAMethodTOTP), "reason": "disable_code_mismatch"}
		})
		return ErrInvalidMFACode
	}

	if err := e.users.SetTOTPSecret(ctx, user.ID, ""); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	e.tracker.Reset(user.ID, string(MFAMethodTOTP))

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, AuditTOTPDisabled, user.ID, true, nil, nil)
	return nil
}

// SetEmailMFA turns MFA on or off for userID. With MFA on and no TOTP
// secret, logins are challenged with an emailed code.
func (e *Engine) SetEmailMFA(ctx context.Context, userID int64, enabled bool) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !enabled && user.HasTOTP() {
		return NewValidationError("mfa", "disable totp first")
	}
	if err := e.users.SetMFAEnabled(ctx, user.ID, enabled); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	e.emitAudit(ctx, AuditEmailMFAChanged, user.ID, true, nil, func() map[string]string {
		return map[string]string{"enabled": strconv.FormatBool(enabled)}
	})
	return nil
}

func (e *Engine) loadUser(ctx context.Context, userID int64) (*stores.User, error) {
	if userID <= 0 {
		return nil, ErrUserNotFound
	}
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if !user.IsActive {
		return nil, ErrUserNotFound
	}
	return user, nil
}
