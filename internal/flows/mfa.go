package flows

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
)

// EmailTypeMFACode is the queue message type for one-time login codes.
const EmailTypeMFACode = "mfa_code"

// ChallengeStart is what the caller needs to continue a login.
type ChallengeStart struct {
	Token            string
	Method           MFAMethod
	AvailableMethods []MFAMethod
	ExpiresAt        time.Time
}

// VerifyMFAInput is one second-factor submission.
type VerifyMFAInput struct {
	ChallengeToken string
	Code           string
	Method         MFAMethod
	TrustDevice    bool
	DeviceName     string
}

// MFAOutcome is a successful verification.
type MFAOutcome struct {
	UserID      int64
	Method      MFAMethod
	Tokens      *SessionTokens
	DeviceToken string
}

type MFAMetrics struct {
	ChallengeInitiated int
	MFASuccess         int
	MFAFailure         int
	MFALocked          int
	BackupCodeUsed     int
}

type MFAErrors struct {
	EngineNotReady error
	InvalidMFACode error
	MFALocked      error
	Internal       error
}

// MFADeps captures challenge and verification dependencies.
type MFADeps struct {
	ChallengeTTL time.Duration
	MaxAttempts  int
	CodeDigits   int

	Now                  func() time.Time
	ClientIPFromContext  func(context.Context) string
	UserAgentFromContext func(context.Context) string

	NewChallengeToken func() (string, error)
	NewCode           func(digits int) (string, error)
	HashCode          func(string) string

	CreateChallenge   func(context.Context, *stores.MFAChallenge) error
	GetChallenge      func(context.Context, string) (*stores.MFAChallenge, error)
	RegisterAttempt   func(ctx context.Context, token string, maxAttempts int, now time.Time) (*stores.MFAChallenge, error)
	MarkChallengeUsed func(context.Context, int64) (bool, error)
	ReissueChallenge  func(ctx context.Context, token, method, codeHash string, expiresAt, now time.Time) error
	GetUser           func(context.Context, int64) (*stores.User, error)
	CountBackupCodes  func(context.Context, int64) (int, error)
	EnqueueEmail      func(ctx context.Context, msgType, recipient string, userID int64, data map[string]string) (string, error)

	Verifiers    map[MFAMethod]MFAVerifier
	IssueSession func(context.Context, IssueSessionInput) (*SessionTokens, error)
	TrustDevice  func(ctx context.Context, userID int64, name, userAgent, clientIP string) (string, error)

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics MFAMetrics
	Errors  MFAErrors
}

func normalizeMFADeps(deps *MFADeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.UserAgentFromContext == nil {
		deps.UserAgentFromContext = func(context.Context) string { return "" }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = nopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = nopAudit
	}
	if deps.Warn == nil {
		deps.Warn = nopWarn
	}
	if deps.CodeDigits == 0 {
		deps.CodeDigits = 6
	}
}

// RunStartChallenge persists a challenge for a decision other than
// Bypassed. An email code is enqueued for delivery; a failed enqueue is
// logged and the challenge stays valid so the caller can resend.
func RunStartChallenge(ctx context.Context, user *stores.User, decision MFADecision, deps MFADeps) (*ChallengeStart, error) {
	normalizeMFADeps(&deps)
	if deps.NewChallengeToken == nil || deps.CreateChallenge == nil || deps.HashCode == nil || deps.NewCode == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if decision != MFADecisionChallengeTOTP && decision != MFADecisionChallengeEmail {
		return nil, fmt.Errorf("%w: cannot start challenge for %s", deps.Errors.Internal, decision)
	}

	now := deps.Now().UTC()
	token, err := deps.NewChallengeToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.Internal, err)
	}

	c := &stores.MFAChallenge{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: now.Add(deps.ChallengeTTL),
		ClientIP:  deps.ClientIPFromContext(ctx),
		CreatedAt: now,
	}
	start := &ChallengeStart{Token: token, ExpiresAt: c.ExpiresAt}

	var code string
	switch decision {
	case MFADecisionChallengeTOTP:
		c.Method = string(MFAMethodTOTP)
		start.Method = MFAMethodTOTP
		start.AvailableMethods = []MFAMethod{MFAMethodTOTP, MFAMethodEmail, MFAMethodBackupCode}
	default:
		code, err = deps.NewCode(deps.CodeDigits)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", deps.Errors.Internal, err)
		}
		c.Method = string(MFAMethodEmail)
		c.CodeHash = deps.HashCode(code)
		start.Method = MFAMethodEmail
		start.AvailableMethods = []MFAMethod{MFAMethodEmail}
		if hasBackupCodes(ctx, user.ID, deps) {
			start.AvailableMethods = append(start.AvailableMethods, MFAMethodBackupCode)
		}
	}

	if err := deps.CreateChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.Internal, err)
	}

	if code != "" {
		sendCode(ctx, user, code, deps)
	}

	deps.MetricInc(deps.Metrics.ChallengeInitiated)
	deps.EmitAudit(ctx, EventMFAChallengeInitiated, user.ID, true, nil, meta("method", string(start.Method)))
	return start, nil
}

// RunResendEmailChallenge switches a live challenge to a fresh email code
// under the same token. It spends one attempt so a challenge cannot be
// used to send unbounded mail.
func RunResendEmailChallenge(ctx context.Context, challengeToken string, deps MFADeps) error {
	normalizeMFADeps(&deps)
	if deps.RegisterAttempt == nil || deps.ReissueChallenge == nil || deps.GetUser == nil || deps.NewCode == nil || deps.HashCode == nil {
		return deps.Errors.EngineNotReady
	}

	now := deps.Now().UTC()
	c, err := deps.RegisterAttempt(ctx, challengeToken, deps.MaxAttempts, now)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeDead) {
			deps.EmitAudit(ctx, EventMFAFailed, 0, false, deps.Errors.InvalidMFACode, meta("reason", "challenge_invalid", "step", "resend"))
			return deps.Errors.InvalidMFACode
		}
		return fmt.Errorf("%w: %v", deps.Errors.Internal, err)
	}

	user, err := deps.GetUser(ctx, c.UserID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return deps.Errors.InvalidMFACode
		}
		return fmt.Errorf("%w: %v", deps.Errors.Internal, err)
	}

	code, err := deps.NewCode(deps.CodeDigits)
	if err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.Internal, err)
	}
	if err := deps.ReissueChallenge(ctx, challengeToken, string(MFAMethodEmail), deps.HashCode(code), now.Add(deps.ChallengeTTL), now); err != nil {
		if errors.Is(err, stores.ErrChallengeDead) {
			return deps.Errors.InvalidMFACode
		}
		return fmt.Errorf("%w: %v", deps.Errors.Internal, err)
	}

	if deps.EnqueueEmail == nil {
		return fmt.Errorf("%w: email queue not configured", deps.Errors.Internal)
	}
	if _, err := deps.EnqueueEmail(ctx, EmailTypeMFACode, user.Email, user.ID, codeTemplate(code, deps.ChallengeTTL)); err != nil {
		return fmt.Errorf("%w: enqueue mfa code: %v", deps.Errors.Internal, err)
	}

	deps.MetricInc(deps.Metrics.ChallengeInitiated)
	deps.EmitAudit(ctx, EventMFAChallengeInitiated, user.ID, true, nil, meta("method", string(MFAMethodEmail), "reason", "resend"))
	return nil
}

// RunVerifyMFA spends one attempt on the challenge, runs the method's
// verifier, and on success marks the challenge used and issues a session.
// The (K+1)-th attempt fails before any code comparison.
func RunVerifyMFA(ctx context.Context, in VerifyMFAInput, deps MFADeps) (*MFAOutcome, error) {
	normalizeMFADeps(&deps)
	if deps.RegisterAttempt == nil || deps.MarkChallengeUsed == nil || deps.GetUser == nil || deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	now := deps.Now().UTC()
	c, err := deps.RegisterAttempt(ctx, in.ChallengeToken, deps.MaxAttempts, now)
	if err != nil {
		if !errors.Is(err, stores.ErrChallengeDead) {
			return nil, fmt.Errorf("%w: %v", deps.Errors.Internal, err)
		}
		var userID int64
		if deps.GetChallenge != nil {
			if dead, getErr := deps.GetChallenge(ctx, in.ChallengeToken); getErr == nil {
				userID = dead.UserID
			}
		}
		return nil, mfaFailed(ctx, userID, in.Method, &MFAFailure{Reason: "challenge_invalid"}, deps)
	}

	method := in.Method
	if method == "" {
		method = MFAMethod(c.Method)
	}
	verifier, ok := deps.Verifiers[method]
	if !ok || verifier == nil || !challengeAccepts(c.Method, method) {
		return nil, mfaFailed(ctx, c.UserID, method, &MFAFailure{Reason: "method_unavailable"}, deps)
	}

	user, err := deps.GetUser(ctx, c.UserID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, mfaFailed(ctx, c.UserID, method, &MFAFailure{Reason: "user_not_found"}, deps)
		}
		return nil, fmt.Errorf("%w: %v", deps.Errors.Internal, err)
	}
	if !user.IsActive {
		return nil, mfaFailed(ctx, user.ID, method, &MFAFailure{Reason: "user_inactive"}, deps)
	}

	if err := verifier.Verify(ctx, MFATarget{Challenge: c, User: user, Now: now}, in.Code); err != nil {
		var failure *MFAFailure
		if errors.As(err, &failure) {
			return nil, mfaFailed(ctx, user.ID, method, failure, deps)
		}
		return nil, fmt.Errorf("%w: %v", deps.Errors.Internal, err)
	}

	used, err := deps.MarkChallengeUsed(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.Internal, err)
	}
	if !used {
		return nil, mfaFailed(ctx, user.ID, method, &MFAFailure{Reason: "challenge_consumed"}, deps)
	}

	ip := deps.ClientIPFromContext(ctx)
	tokens, err := deps.IssueSession(ctx, IssueSessionInput{
		UserID:   user.ID,
		Username: user.Username,
		AMR:      []string{"pwd", method.AMR()},
		ClientIP: ip,
	})
	if err != nil {
		return nil, err
	}

	out := &MFAOutcome{UserID: user.ID, Method: method, Tokens: tokens}
	if in.TrustDevice && deps.TrustDevice != nil {
		deviceToken, err := deps.TrustDevice(ctx, user.ID, in.DeviceName, deps.UserAgentFromContext(ctx), ip)
		if err != nil {
			deps.Warn("identity: trusted device registration failed for user %d: %v", user.ID, err)
		} else {
			out.DeviceToken = deviceToken
		}
	}

	if method == MFAMethodBackupCode {
		deps.MetricInc(deps.Metrics.BackupCodeUsed)
	}
	deps.MetricInc(deps.Metrics.MFASuccess)
	deps.EmitAudit(ctx, EventMFASuccess, user.ID, true, nil, meta(
		"method", string(method),
		"trusted_device", strconv.FormatBool(out.DeviceToken != ""),
	))
	return out, nil
}

func mfaFailed(ctx context.Context, userID int64, method MFAMethod, failure *MFAFailure, deps MFADeps) error {
	result := deps.Errors.InvalidMFACode
	if failure.Locked {
		deps.MetricInc(deps.Metrics.MFALocked)
		result = deps.Errors.MFALocked
	}
	deps.MetricInc(deps.Metrics.MFAFailure)
	deps.EmitAudit(ctx, EventMFAFailed, userID, false, result, meta("method", string(method), "reason", failure.Reason))
	return result
}

// challengeAccepts reports whether method may answer a challenge issued
// for challengeMethod. Backup codes answer any challenge. Email answers a
// TOTP challenge only once a resend has switched the challenge to email.
func challengeAccepts(challengeMethod string, method MFAMethod) bool {
	return method == MFAMethodBackupCode || string(method) == challengeMethod
}

func hasBackupCodes(ctx context.Context, userID int64, deps MFADeps) bool {
	if deps.CountBackupCodes == nil {
		return false
	}
	n, err := deps.CountBackupCodes(ctx, userID)
	if err != nil {
		deps.Warn("identity: backup code count failed for user %d: %v", userID, err)
		return false
	}
	return n > 0
}

func sendCode(ctx context.Context, user *stores.User, code string, deps MFADeps) {
	if deps.EnqueueEmail == nil {
		deps.Warn("identity: no email queue configured; mfa code for user %d not sent", user.ID)
		return
	}
	if _, err := deps.EnqueueEmail(ctx, EmailTypeMFACode, user.Email, user.ID, codeTemplate(code, deps.ChallengeTTL)); err != nil {
		deps.Warn("identity: enqueue mfa code for user %d failed: %v", user.ID, err)
	}
}

func codeTemplate(code string, ttl time.Duration) map[string]string {
	return map[string]string{
		"code":            code,
		"expires_minutes": strconv.Itoa(int(ttl.Minutes())),
	}
}
