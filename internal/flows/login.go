package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
)

// LoginInput is one password login attempt.
type LoginInput struct {
	Identifier  string
	Password    string
	DeviceToken string
	PowPayload  string
}

// LoginOutcome carries either issued tokens or the challenge to continue
// with. It never carries an MFA code.
type LoginOutcome struct {
	UserID      int64
	Tokens      *SessionTokens
	MFARequired bool
	Challenge   *ChallengeStart
	Bypassed    bool
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
	AccountLocked    int
	PowRejected      int
	MFARequired      int
	MFABypassed      int
	PasswordUpgraded int
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	AccountLocked      error
	LoginRateLimited   error
	Internal           error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	MFAEnabled       bool
	TOTPEnabled      bool
	UpgradeOnLogin   bool
	LockoutThreshold int
	LockoutDuration  time.Duration

	Now                  func() time.Time
	ClientIPFromContext  func(context.Context) string
	UserAgentFromContext func(context.Context) string

	ValidatePow func(context.Context, string) error

	CheckLoginRate     func(ctx context.Context, identifier, ip string) error
	IncrementLoginRate func(ctx context.Context, identifier, ip string) error
	ResetLoginRate     func(ctx context.Context, identifier string) error
	IsRateLimited      func(error) bool

	FindUser           func(context.Context, string) (*stores.User, error)
	RecordFailedLogin  func(ctx context.Context, userID int64, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error)
	ResetFailedLogins  func(context.Context, int64) error
	UpdatePasswordHash func(context.Context, int64, string) error

	VerifyPassword func(password, encodedHash string) (bool, error)
	DummyVerify    func(password string)
	NeedsUpgrade   func(encodedHash string) (bool, error)
	HashPassword   func(string) (string, error)

	CheckTrustedDevice func(ctx context.Context, userID int64, token, userAgent, clientIP string) bool
	StartChallenge     func(context.Context, *stores.User, MFADecision) (*ChallengeStart, error)
	IssueSession       func(context.Context, IssueSessionInput) (*SessionTokens, error)

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics LoginMetrics
	Errors  LoginErrors
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
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
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.UserAgentFromContext == nil {
		deps.UserAgentFromContext = func(context.Context) string { return "" }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.DummyVerify == nil {
		deps.DummyVerify = func(string) {}
	}
}

// RunLogin verifies credentials and either issues a session or starts an
// MFA challenge. Unknown user, inactive user, wrong password and rejected
// proof-of-work all surface as the same invalid-credentials error.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) (*LoginOutcome, error) {
	normalizeLoginDeps(&deps)
	if deps.FindUser == nil ||
		deps.VerifyPassword == nil ||
		deps.RecordFailedLogin == nil ||
		deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	identifier := strings.TrimSpace(in.Identifier)
	ip := deps.ClientIPFromContext(ctx)

	if deps.ValidatePow != nil {
		if err := deps.ValidatePow(ctx, in.PowPayload); err != nil {
			deps.MetricInc(deps.Metrics.PowRejected)
			deps.EmitAudit(ctx, EventAltchaFailed, 0, false, deps.Errors.InvalidCredentials, meta(
				"identifier", identifier,
				"reason", err.Error(),
			))
			return nil, deps.Errors.InvalidCredentials
		}
	}

	if deps.CheckLoginRate != nil {
		if err := deps.CheckLoginRate(ctx, identifier, ip); err != nil {
			if deps.IsRateLimited(err) {
				return nil, loginRateLimited(ctx, identifier, deps)
			}
			deps.Warn("identity: login throttle check failed: %v", err)
		}
	}

	if identifier == "" || in.Password == "" {
		deps.DummyVerify(in.Password)
		return nil, loginRejected(ctx, 0, identifier, ip, "empty_credentials", deps)
	}

	user, err := deps.FindUser(ctx, identifier)
	if err != nil {
		if !errors.Is(err, stores.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", deps.Errors.Internal, err)
		}
		deps.DummyVerify(in.Password)
		return nil, loginRejected(ctx, 0, identifier, ip, "user_not_found", deps)
	}
	if !user.IsActive {
		deps.DummyVerify(in.Password)
		return nil, loginRejected(ctx, user.ID, identifier, ip, "user_inactive", deps)
	}

	now := deps.Now().UTC()
	if user.LockedAt(now) {
		deps.MetricInc(deps.Metrics.AccountLocked)
		deps.EmitAudit(ctx, EventAccountLocked, user.ID, false, deps.Errors.AccountLocked, meta(
			"identifier", identifier,
			"reason", "lockout_active",
			"lockout_until", user.LockoutUntil.Time.UTC().Format(time.RFC3339),
		))
		return nil, deps.Errors.AccountLocked
	}

	ok, err := deps.VerifyPassword(in.Password, user.PasswordHash)
	if err != nil {
		deps.Warn("identity: password verify failed for user %d: %v", user.ID, err)
		ok = false
	}
	if !ok {
		return nil, passwordMismatch(ctx, user, identifier, ip, now, deps)
	}

	if user.FailedLoginCount > 0 && deps.ResetFailedLogins != nil {
		if err := deps.ResetFailedLogins(ctx, user.ID); err != nil {
			deps.Warn("identity: reset failed logins for user %d: %v", user.ID, err)
		}
	}
	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, identifier); err != nil {
			deps.Warn("identity: reset login throttle failed: %v", err)
		}
	}
	upgradePasswordHash(ctx, user, in.Password, deps)

	if !deps.MFAEnabled || !user.MFAEnabled {
		tokens, err := deps.IssueSession(ctx, IssueSessionInput{
			UserID:   user.ID,
			Username: user.Username,
			AMR:      []string{"pwd"},
			ClientIP: ip,
		})
		if err != nil {
			return nil, err
		}
		deps.MetricInc(deps.Metrics.LoginSuccess)
		deps.EmitAudit(ctx, EventLoginSuccess, user.ID, true, nil, meta("identifier", identifier))
		return &LoginOutcome{UserID: user.ID, Tokens: tokens}, nil
	}

	trusted := false
	if in.DeviceToken != "" && deps.CheckTrustedDevice != nil {
		trusted = deps.CheckTrustedDevice(ctx, user.ID, in.DeviceToken, deps.UserAgentFromContext(ctx), ip)
	}

	decision := DecideMFA(MFADecisionInput{
		DeviceTrusted: trusted,
		TOTPEnrolled:  user.HasTOTP(),
		TOTPEnabled:   deps.TOTPEnabled,
	})

	switch decision {
	case MFADecisionBypassed:
		tokens, err := deps.IssueSession(ctx, IssueSessionInput{
			UserID:   user.ID,
			Username: user.Username,
			AMR:      []string{"pwd", "mfa"},
			ClientIP: ip,
		})
		if err != nil {
			return nil, err
		}
		deps.MetricInc(deps.Metrics.MFABypassed)
		deps.EmitAudit(ctx, EventMFASuccess, user.ID, true, nil, meta("reason", "trusted_device"))
		return &LoginOutcome{UserID: user.ID, Tokens: tokens, Bypassed: true}, nil
	default:
		if deps.StartChallenge == nil {
			return nil, deps.Errors.EngineNotReady
		}
		start, err := deps.StartChallenge(ctx, user, decision)
		if err != nil {
			return nil, err
		}
		deps.MetricInc(deps.Metrics.MFARequired)
		return &LoginOutcome{UserID: user.ID, MFARequired: true, Challenge: start}, nil
	}
}

func passwordMismatch(ctx context.Context, user *stores.User, identifier, ip string, now time.Time, deps LoginDeps) error {
	_, lockedUntil, err := deps.RecordFailedLogin(ctx, user.ID, deps.LockoutThreshold, deps.LockoutDuration, now)
	if err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.Internal, err)
	}
	rlErr := incrementLoginRate(ctx, identifier, ip, deps)
	if lockedUntil != nil {
		deps.MetricInc(deps.Metrics.AccountLocked)
		deps.EmitAudit(ctx, EventAccountLocked, user.ID, false, deps.Errors.AccountLocked, meta(
			"identifier", identifier,
			"reason", "threshold_reached",
			"lockout_until", lockedUntil.UTC().Format(time.RFC3339),
		))
		return deps.Errors.AccountLocked
	}
	if rlErr != nil {
		return rlErr
	}

	deps.MetricInc(deps.Metrics.LoginFailure)
	deps.EmitAudit(ctx, EventLoginFailed, user.ID, false, deps.Errors.InvalidCredentials, meta(
		"identifier", identifier,
		"reason", "invalid_password",
	))
	return deps.Errors.InvalidCredentials
}

func loginRejected(ctx context.Context, userID int64, identifier, ip, reason string, deps LoginDeps) error {
	if rlErr := incrementLoginRate(ctx, identifier, ip, deps); rlErr != nil {
		return rlErr
	}
	deps.MetricInc(deps.Metrics.LoginFailure)
	deps.EmitAudit(ctx, EventLoginFailed, userID, false, deps.Errors.InvalidCredentials, meta(
		"identifier", identifier,
		"reason", reason,
	))
	return deps.Errors.InvalidCredentials
}

func incrementLoginRate(ctx context.Context, identifier, ip string, deps LoginDeps) error {
	if deps.IncrementLoginRate == nil {
		return nil
	}
	if err := deps.IncrementLoginRate(ctx, identifier, ip); err != nil {
		if deps.IsRateLimited(err) {
			return loginRateLimited(ctx, identifier, deps)
		}
		deps.Warn("identity: login throttle increment failed: %v", err)
	}
	return nil
}

func loginRateLimited(ctx context.Context, identifier string, deps LoginDeps) error {
	deps.MetricInc(deps.Metrics.LoginRateLimited)
	deps.EmitAudit(ctx, EventLoginFailed, 0, false, deps.Errors.LoginRateLimited, meta(
		"identifier", identifier,
		"reason", "rate_limited",
	))
	return deps.Errors.LoginRateLimited
}

func upgradePasswordHash(ctx context.Context, user *stores.User, password string, deps LoginDeps) {
	if !deps.UpgradeOnLogin || deps.NeedsUpgrade == nil || deps.HashPassword == nil || deps.UpdatePasswordHash == nil {
		return
	}
	needs, err := deps.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := deps.HashPassword(password)
	if err != nil {
		deps.Warn("identity: password rehash failed for user %d: %v", user.ID, err)
		return
	}
	if err := deps.UpdatePasswordHash(ctx, user.ID, upgraded); err != nil {
		deps.Warn("identity: password hash upgrade failed for user %d: %v", user.ID, err)
		return
	}
	deps.MetricInc(deps.Metrics.PasswordUpgraded)
}
