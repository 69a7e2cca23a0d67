package identity

import (
	"context"
	"time"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/flows"
)

// Login verifies a password and either issues a session or starts an MFA
// challenge. Unknown user, inactive user, wrong password and a rejected
// proof-of-work all return ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	defer e.observe(MetricLoginLatency, time.Now())

	out, err := e.flow.Login(ctx, flows.LoginInput{
		Identifier:  req.UsernameOrEmail,
		Password:    req.Password,
		DeviceToken: req.TrustedDeviceToken,
		PowPayload:  req.PowPayload,
	})
	if err != nil {
		return nil, err
	}

	res := &LoginResult{
		UserID:            out.UserID,
		Tokens:            sessionTokensFrom(out.Tokens),
		MFARequired:       out.MFARequired,
		TrustedDeviceUsed: out.Bypassed,
	}
	if out.Challenge != nil {
		res.ChallengeToken = out.Challenge.Token
		res.Method = out.Challenge.Method
		res.AvailableMethods = append([]MFAMethod(nil), out.Challenge.AvailableMethods...)
		res.ChallengeExpiresAt = out.Challenge.ExpiresAt
	}
	return res, nil
}

// VerifyMFA completes a login challenge. Every call spends one attempt on
// the challenge, including calls with a correct code once the ceiling is
// reached.
func (e *Engine) VerifyMFA(ctx context.Context, req VerifyMFARequest) (*MFAResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if req.ChallengeToken == "" || req.Code == "" {
		return nil, NewValidationError("challenge_token", "required", "code", "required")
	}

	out, err := e.flow.VerifyMFA(ctx, flows.VerifyMFAInput{
		ChallengeToken: req.ChallengeToken,
		Code:           req.Code,
		Method:         req.Method,
		TrustDevice:    req.TrustDevice,
		DeviceName:     req.DeviceName,
	})
	if err != nil {
		return nil, err
	}
	return &MFAResult{
		UserID:             out.UserID,
		Method:             out.Method,
		Tokens:             sessionTokensFrom(out.Tokens),
		TrustedDeviceToken: out.DeviceToken,
	}, nil
}

// ResendEmailChallenge sends a fresh email code for a live challenge,
// switching a TOTP challenge to email under the same token.
func (e *Engine) ResendEmailChallenge(ctx context.Context, challengeToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if challengeToken == "" {
		return NewValidationError("challenge_token", "required")
	}
	return e.flow.ResendEmailChallenge(ctx, challengeToken)
}

// NewPowChallenge issues a proof-of-work puzzle for the login form. It
// requires the built-in validator.
func (e *Engine) NewPowChallenge() (PowChallenge, error) {
	if !e.ready() || e.pow == nil {
		return PowChallenge{}, ErrEngineNotReady
	}
	return e.pow.NewChallenge()
}

// PowEnabled reports whether login requires a proof-of-work payload.
func (e *Engine) PowEnabled() bool {
	return e != nil && e.config.Pow.Enabled && e.powValidator != nil
}
