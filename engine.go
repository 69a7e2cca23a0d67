package identity

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal"
	internalaudit "github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/audit"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/flows"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/limiters"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/pow"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/rate"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/jwt"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/password"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/refresh"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/session"
)

// Engine is the authentication core. Build one with New().WithDB(db).Build().
type Engine struct {
	config Config
	now    func() time.Time
	warn   func(string, ...any)
	closed atomic.Bool

	db          *sqlx.DB
	users       *stores.UserStore
	challenges  *stores.MFAChallengeStore
	backupCodes *stores.BackupCodeStore
	devices     *stores.TrustedDeviceStore
	sessions    *session.Store

	tracker      *limiters.MFAAttemptTracker
	rateLimiter  *rate.Limiter
	pow          *pow.Validator
	powValidator PowValidator
	mailQueue    EmailQueue

	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	passwords  *password.Chain
	dummyHash  string
	totp       *totpManager
	jwtManager *jwt.Manager

	flow flows.Service
}

// Close flushes the audit dispatcher. Engine methods return
// ErrEngineNotReady afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closed.Store(true)
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

func (e *Engine) ready() bool {
	return e != nil && !e.closed.Load() && e.flow.Initialized()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	userID int64,
	success bool,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = ErrorCode(err)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) flowMetric(id int) {
	e.metricInc(MetricID(id))
}

func isRateLimited(err error) bool {
	return errors.Is(err, rate.ErrRateLimited)
}

// buildFlows wires every flow against the engine's stores. It runs once
// from Build.
func (e *Engine) buildFlows() flows.Service {
	cfg := e.config
	var deps flows.Deps

	deps.Session = flows.SessionDeps{
		Now:                  e.now,
		RefreshTTL:           cfg.Session.RefreshTTL,
		AbsoluteLifetime:     cfg.Session.AbsoluteLifetime,
		NewRefreshToken:      refresh.New,
		NewFamilyID:          uuid.NewString,
		InsertRefresh:        e.sessions.Insert,
		IssueAccess:          e.jwtManager.CreateAccess,
		MetricInc:            e.flowMetric,
		MetricSessionCreated: int(MetricSessionCreated),
		Errors: flows.SessionErrors{
			EngineNotReady:  ErrEngineNotReady,
			SessionCreation: ErrInternal,
		},
	}
	issueSession := func(ctx context.Context, in flows.IssueSessionInput) (*flows.SessionTokens, error) {
		return flows.RunIssueSession(ctx, in, deps.Session)
	}

	deps.TrustedDevice = flows.TrustedDeviceDeps{
		Enabled:        cfg.TrustedDevices.Enabled,
		TTL:            cfg.TrustedDevices.TTL,
		MaxPerUser:     cfg.TrustedDevices.MaxPerUser,
		Now:            e.now,
		NewDeviceToken: internal.NewDeviceToken,
		ListActive:     e.devices.ListActive,
		Create:         e.devices.Create,
		Touch:          e.devices.Touch,
		Delete:         e.devices.Delete,
		DeleteAll:      e.devices.DeleteAllForUser,
		EmitAudit:      e.emitAudit,
		Warn:           e.warn,
		Errors: flows.TrustedDeviceErrors{
			EngineNotReady: ErrEngineNotReady,
			NotFound:       ErrTrustedDeviceNotFound,
			Unavailable:    ErrInternal,
		},
	}
	trustDevice := func(ctx context.Context, userID int64, name, ua, ip string) (string, error) {
		token, err := flows.RunTrustDevice(ctx, userID, name, ua, ip, deps.TrustedDevice)
		if err == nil && token != "" {
			e.metricInc(MetricTrustedDeviceCreated)
		}
		return token, err
	}

	deps.BackupCode = flows.BackupCodeDeps{
		BackupCodeCount:    cfg.BackupCodes.Count,
		BackupCodeLength:   cfg.BackupCodes.Length,
		Now:                e.now,
		GetUser:            e.users.FindByID,
		ReplaceBackupCodes: e.backupCodes.Replace,
		CountUnused:        e.backupCodes.CountUnused,
		MetricInc:          e.flowMetric,
		EmitAudit:          e.emitAudit,
		Metrics: flows.BackupCodeMetrics{
			BackupCodeRegenerated: int(MetricBackupCodeRegenerated),
		},
		Errors: flows.BackupCodeErrors{
			EngineNotReady:        ErrEngineNotReady,
			UserNotFound:          ErrUserNotFound,
			BackupCodeUnavailable: ErrInternal,
		},
	}

	var enqueue func(ctx context.Context, msgType, recipient string, userID int64, data map[string]string) (string, error)
	if e.mailQueue != nil {
		enqueue = e.mailQueue.Enqueue
	}

	verifiers := []flows.MFAVerifier{
		flows.EmailCodeVerifier{},
		flows.BackupCodeVerifier{Tracker: e.tracker, Consume: e.backupCodes.Consume},
	}
	if cfg.TOTP.Enabled {
		verifiers = append(verifiers, flows.TOTPVerifier{
			Tracker:          e.tracker,
			VerifyCode:       e.totp.VerifyCode,
			AdvanceCounter:   e.users.AdvanceTOTPCounter,
			ReplayProtection: cfg.TOTP.EnforceReplayProtection,
		})
	}

	deps.MFA = flows.MFADeps{
		ChallengeTTL:         cfg.MFA.ChallengeTTL,
		MaxAttempts:          cfg.MFA.MaxAttempts,
		CodeDigits:           cfg.MFA.CodeDigits,
		Now:                  e.now,
		ClientIPFromContext:  clientIPFromContext,
		UserAgentFromContext: userAgentFromContext,
		NewChallengeToken:    internal.NewChallengeToken,
		NewCode:              internal.NewOTP,
		HashCode:             internal.HashToken,
		CreateChallenge:      e.challenges.Create,
		GetChallenge:         e.challenges.Get,
		RegisterAttempt:      e.challenges.RegisterAttempt,
		MarkChallengeUsed:    e.challenges.MarkUsed,
		ReissueChallenge:     e.challenges.Reissue,
		GetUser:              e.users.FindByID,
		CountBackupCodes:     e.backupCodes.CountUnused,
		EnqueueEmail:         enqueue,

		Verifiers:    flows.NewVerifierSet(verifiers...),
		IssueSession: issueSession,
		TrustDevice:  trustDevice,
		MetricInc:    e.flowMetric,
		EmitAudit:    e.emitAudit,
		Warn:         e.warn,
		Metrics: flows.MFAMetrics{
			ChallengeInitiated: int(MetricMFAChallengeInitiated),
			MFASuccess:         int(MetricMFASuccess),
			MFAFailure:         int(MetricMFAFailure),
			MFALocked:          int(MetricMFALocked),
			BackupCodeUsed:     int(MetricBackupCodeUsed),
		},
		Errors: flows.MFAErrors{
			EngineNotReady: ErrEngineNotReady,
			InvalidMFACode: ErrInvalidMFACode,
			MFALocked:      ErrMFALocked,
			Internal:       ErrInternal,
		},
	}

	deps.Login = flows.LoginDeps{
		MFAEnabled:           cfg.MFA.Enabled,
		TOTPEnabled:          cfg.TOTP.Enabled,
		UpgradeOnLogin:       cfg.Password.UpgradeOnLogin,
		LockoutThreshold:     cfg.Lockout.Threshold,
		LockoutDuration:      cfg.Lockout.Duration,
		Now:                  e.now,
		ClientIPFromContext:  clientIPFromContext,
		UserAgentFromContext: userAgentFromContext,
		IsRateLimited:        isRateLimited,
		FindUser:             e.users.FindByLogin,
		RecordFailedLogin:    e.users.RecordFailedLogin,
		ResetFailedLogins:    e.users.ResetFailedLogins,
		UpdatePasswordHash:   e.users.UpdatePasswordHash,
		VerifyPassword:       e.passwords.Verify,
		DummyVerify: func(pw string) {
			_, _ = e.passwords.Verify(pw, e.dummyHash)
		},
		NeedsUpgrade: e.passwords.NeedsUpgrade,
		HashPassword: e.passwords.Hash,
		CheckTrustedDevice: func(ctx context.Context, userID int64, token, ua, ip string) bool {
			return flows.RunCheckTrustedDevice(ctx, userID, token, ua, ip, deps.TrustedDevice)
		},
		StartChallenge: func(ctx context.Context, u *stores.User, d flows.MFADecision) (*flows.ChallengeStart, error) {
			return flows.RunStartChallenge(ctx, u, d, deps.MFA)
		},
		IssueSession: issueSession,
		MetricInc:    e.flowMetric,
		EmitAudit:    e.emitAudit,
		Warn:         e.warn,
		Metrics: flows.LoginMetrics{
			LoginSuccess:     int(MetricLoginSuccess),
			LoginFailure:     int(MetricLoginFailure),
			LoginRateLimited: int(MetricLoginRateLimited),
			AccountLocked:    int(MetricAccountLocked),
			PowRejected:      int(MetricPowRejected),
			MFARequired:      int(MetricMFARequired),
			MFABypassed:      int(MetricMFABypassed),
			PasswordUpgraded: int(MetricPasswordUpgraded),
		},
		Errors: flows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			AccountLocked:      ErrAccountLocked,
			LoginRateLimited:   ErrLoginRateLimited,
			Internal:           ErrInternal,
		},
	}
	if cfg.Pow.Enabled && e.powValidator != nil {
		deps.Login.ValidatePow = e.powValidator.Validate
	}

	deps.Refresh = flows.RefreshDeps{
		Now:                 e.now,
		RefreshTTL:          cfg.Session.RefreshTTL,
		AbsoluteLifetime:    cfg.Session.AbsoluteLifetime,
		ClockSkew:           cfg.Session.ClockSkew,
		ClientIPFromContext: clientIPFromContext,
		HashRefreshToken:    refresh.Hash,
		NewRefreshToken:     refresh.New,
		FindRefresh:         e.sessions.FindByHash,
		Rotate:              e.sessions.Rotate,
		RevokeFamily:        e.sessions.RevokeFamily,
		IsRateLimited:       isRateLimited,
		GetUser:             e.users.FindByID,
		IssueAccess:         e.jwtManager.CreateAccess,
		Warn:                e.warn,
	}

	if e.rateLimiter != nil {
		deps.Login.CheckLoginRate = e.rateLimiter.CheckLogin
		deps.Login.IncrementLoginRate = e.rateLimiter.IncrementLogin
		deps.Login.ResetLoginRate = e.rateLimiter.ResetLogin
		if cfg.RateLimit.EnableRefreshThrottle {
			deps.Refresh.CheckRefreshRate = e.rateLimiter.CheckRefresh
		}
	}

	deps.Logout = flows.LogoutDeps{
		Now:              e.now,
		HashRefreshToken: refresh.Hash,
		RevokeByHash:     e.sessions.RevokeByHash,
		RevokeAllForUser: e.sessions.RevokeAllForUser,
		MetricInc:        e.flowMetric,
		EmitAudit:        e.emitAudit,
		Metrics: flows.LogoutMetrics{
			Logout:    int(MetricLogout),
			LogoutAll: int(MetricLogoutAll),
		},
		Errors: flows.LogoutErrors{
			EngineNotReady: ErrEngineNotReady,
			Internal:       ErrInternal,
		},
	}

	deps.Validate = flows.ValidateDeps{
		ParseAccess: e.jwtManager.ParseAccess,
		CheckUser:   true,
		GetUser:     e.users.FindByID,
	}

	return flows.New(deps)
}
