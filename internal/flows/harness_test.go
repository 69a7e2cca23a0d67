package flows

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/dbtest"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/limiters"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/jwt"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/refresh"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/session"
)

var (
	errNotReady     = errors.New("engine not ready")
	errInvalid      = errors.New("invalid credentials")
	errLocked       = errors.New("account locked")
	errRateLimited  = errors.New("login rate limited")
	errInternal     = errors.New("internal error")
	errMFAInvalid   = errors.New("invalid mfa code")
	errMFALocked    = errors.New("mfa locked")
	errSession      = errors.New("session creation failed")
	errNotFound     = errors.New("not found")
	errUnavailable  = errors.New("unavailable")
	errUserNotFound = errors.New("user not found")
)

const (
	testPassword = "correct horse"
	totpGood     = "111111"
	totpNext     = "222222"
)

type auditRecord struct {
	event   string
	userID  int64
	success bool
	meta    map[string]string
}

type sentMail struct {
	msgType   string
	recipient string
	userID    int64
	data      map[string]string
}

// harness wires every flow over a migrated SQLite database, a fixed clock
// and in-memory recorders for mail and audit.
type harness struct {
	t        *testing.T
	now      time.Time
	db       *sqlx.DB
	user     *stores.User
	users    *stores.UserStore
	chals    *stores.MFAChallengeStore
	codes    *stores.BackupCodeStore
	devices  *stores.TrustedDeviceStore
	sessions *session.Store
	tokens   *jwt.Manager
	tracker  *limiters.MFAAttemptTracker

	mu       sync.Mutex
	mail     []sentMail
	audits   []auditRecord
	mailFail bool

	deps Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.Open(t)

	h := &harness{
		t:        t,
		now:      time.Now().UTC().Truncate(time.Second),
		db:       db,
		users:    stores.NewUserStore(db),
		chals:    stores.NewMFAChallengeStore(db),
		codes:    stores.NewBackupCodeStore(db),
		devices:  stores.NewTrustedDeviceStore(db),
		sessions: session.NewStore(db),
	}
	h.user = dbtest.SeedUser(t, db, "alice", "alice@example.com", "hash:"+testPassword)

	mgr, err := jwt.NewManager(jwt.Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    bytes.Repeat([]byte("k"), 32),
		Issuer:        "identity-test",
		Now:           h.clock,
	})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	h.tokens = mgr
	h.tracker = limiters.NewMFAAttemptTracker(limiters.MFAAttemptConfig{MaxFailures: 3, Window: 15 * time.Minute}).WithClock(h.clock)

	h.deps.Session = SessionDeps{
		Now:              h.clock,
		RefreshTTL:       14 * 24 * time.Hour,
		AbsoluteLifetime: 30 * 24 * time.Hour,
		NewRefreshToken:  refresh.New,
		NewFamilyID:      uuid.NewString,
		InsertRefresh:    h.sessions.Insert,
		IssueAccess:      mgr.CreateAccess,
		Errors:           SessionErrors{EngineNotReady: errNotReady, SessionCreation: errSession},
	}

	h.deps.TrustedDevice = TrustedDeviceDeps{
		Enabled:        true,
		TTL:            30 * 24 * time.Hour,
		MaxPerUser:     5,
		Now:            h.clock,
		NewDeviceToken: internal.NewDeviceToken,
		ListActive:     h.devices.ListActive,
		Create:         h.devices.Create,
		Touch:          h.devices.Touch,
		Delete:         h.devices.Delete,
		DeleteAll:      h.devices.DeleteAllForUser,
		EmitAudit:      h.audit,
		Errors:         TrustedDeviceErrors{EngineNotReady: errNotReady, NotFound: errNotFound, Unavailable: errUnavailable},
	}

	h.deps.BackupCode = BackupCodeDeps{
		BackupCodeCount:    10,
		BackupCodeLength:   8,
		Now:                h.clock,
		GetUser:            h.users.FindByID,
		ReplaceBackupCodes: h.codes.Replace,
		CountUnused:        h.codes.CountUnused,
		EmitAudit:          h.audit,
		Errors: BackupCodeErrors{
			EngineNotReady:        errNotReady,
			UserNotFound:          errUserNotFound,
			BackupCodeUnavailable: errUnavailable,
		},
	}

	h.deps.MFA = MFADeps{
		ChallengeTTL:         5 * time.Minute,
		MaxAttempts:          5,
		CodeDigits:           6,
		Now:                  h.clock,
		ClientIPFromContext:  func(context.Context) string { return "203.0.113.7" },
		UserAgentFromContext: func(context.Context) string { return "test-agent" },
		NewChallengeToken:    internal.NewChallengeToken,
		NewCode:              internal.NewOTP,
		HashCode:             internal.HashToken,
		CreateChallenge:      h.chals.Create,
		GetChallenge:         h.chals.Get,
		RegisterAttempt:      h.chals.RegisterAttempt,
		MarkChallengeUsed:    h.chals.MarkUsed,
		ReissueChallenge:     h.chals.Reissue,
		GetUser:              h.users.FindByID,
		CountBackupCodes:     h.codes.CountUnused,
		EnqueueEmail:         h.enqueue,
		Verifiers: NewVerifierSet(
			EmailCodeVerifier{},
			TOTPVerifier{
				Tracker:          h.tracker,
				VerifyCode:       fakeTOTP,
				AdvanceCounter:   h.users.AdvanceTOTPCounter,
				ReplayProtection: true,
			},
			BackupCodeVerifier{Tracker: h.tracker, Consume: h.codes.Consume},
		),
		IssueSession: func(ctx context.Context, in IssueSessionInput) (*SessionTokens, error) {
			return RunIssueSession(ctx, in, h.deps.Session)
		},
		TrustDevice: func(ctx context.Context, userID int64, name, ua, ip string) (string, error) {
			return RunTrustDevice(ctx, userID, name, ua, ip, h.deps.TrustedDevice)
		},
		EmitAudit: h.audit,
		Errors: MFAErrors{
			EngineNotReady: errNotReady,
			InvalidMFACode: errMFAInvalid,
			MFALocked:      errMFALocked,
			Internal:       errInternal,
		},
	}

	h.deps.Login = LoginDeps{
		MFAEnabled:           true,
		TOTPEnabled:          true,
		LockoutThreshold:     5,
		LockoutDuration:      15 * time.Minute,
		Now:                  h.clock,
		ClientIPFromContext:  func(context.Context) string { return "203.0.113.7" },
		UserAgentFromContext: func(context.Context) string { return "test-agent" },
		FindUser:             h.users.FindByLogin,
		RecordFailedLogin:    h.users.RecordFailedLogin,
		ResetFailedLogins:    h.users.ResetFailedLogins,
		UpdatePasswordHash:   h.users.UpdatePasswordHash,
		VerifyPassword: func(pw, hash string) (bool, error) {
			return hash == "hash:"+pw, nil
		},
		CheckTrustedDevice: func(ctx context.Context, userID int64, token, ua, ip string) bool {
			return RunCheckTrustedDevice(ctx, userID, token, ua, ip, h.deps.TrustedDevice)
		},
		StartChallenge: func(ctx context.Context, u *stores.User, d MFADecision) (*ChallengeStart, error) {
			return RunStartChallenge(ctx, u, d, h.deps.MFA)
		},
		IssueSession: func(ctx context.Context, in IssueSessionInput) (*SessionTokens, error) {
			return RunIssueSession(ctx, in, h.deps.Session)
		},
		EmitAudit: h.audit,
		Errors: LoginErrors{
			EngineNotReady:     errNotReady,
			InvalidCredentials: errInvalid,
			AccountLocked:      errLocked,
			LoginRateLimited:   errRateLimited,
			Internal:           errInternal,
		},
	}

	h.deps.Refresh = RefreshDeps{
		Now:              h.clock,
		RefreshTTL:       14 * 24 * time.Hour,
		AbsoluteLifetime: 30 * 24 * time.Hour,
		HashRefreshToken: refresh.Hash,
		NewRefreshToken:  refresh.New,
		FindRefresh:      h.sessions.FindByHash,
		Rotate:           h.sessions.Rotate,
		RevokeFamily:     h.sessions.RevokeFamily,
		GetUser:          h.users.FindByID,
		IssueAccess:      mgr.CreateAccess,
	}

	h.deps.Logout = LogoutDeps{
		Now:              h.clock,
		HashRefreshToken: refresh.Hash,
		RevokeByHash:     h.sessions.RevokeByHash,
		RevokeAllForUser: h.sessions.RevokeAllForUser,
		EmitAudit:        h.audit,
		Errors:           LogoutErrors{EngineNotReady: errNotReady, Internal: errInternal},
	}

	h.deps.Validate = ValidateDeps{
		ParseAccess: mgr.ParseAccess,
		CheckUser:   true,
		GetUser:     h.users.FindByID,
	}
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) audit(_ context.Context, event string, userID int64, success bool, _ error, meta func() map[string]string) {
	var m map[string]string
	if meta != nil {
		m = meta()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audits = append(h.audits, auditRecord{event: event, userID: userID, success: success, meta: m})
}

func (h *harness) enqueue(_ context.Context, msgType, recipient string, userID int64, data map[string]string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mailFail {
		return "", errors.New("queue down")
	}
	h.mail = append(h.mail, sentMail{msgType: msgType, recipient: recipient, userID: userID, data: data})
	return uuid.NewString(), nil
}

func (h *harness) service() Service {
	return New(h.deps)
}

func (h *harness) lastMailCode() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.mail) == 0 {
		h.t.Fatal("no mail enqueued")
	}
	return h.mail[len(h.mail)-1].data["code"]
}

func (h *harness) eventCount(event string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, a := range h.audits {
		if a.event == event {
			n++
		}
	}
	return n
}

func (h *harness) lastEvent(event string) auditRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.audits) - 1; i >= 0; i-- {
		if h.audits[i].event == event {
			return h.audits[i]
		}
	}
	h.t.Fatalf("no %s audit event recorded", event)
	return auditRecord{}
}

func (h *harness) challengeCount() int {
	h.t.Helper()
	var n int
	if err := h.db.Get(&n, `SELECT COUNT(*) FROM mfa_challenges`); err != nil {
		h.t.Fatalf("count challenges: %v", err)
	}
	return n
}

func (h *harness) enableMFA() {
	h.t.Helper()
	if err := h.users.SetMFAEnabled(context.Background(), h.user.ID, true); err != nil {
		h.t.Fatalf("enable mfa: %v", err)
	}
}

func (h *harness) enrollTOTP() {
	h.t.Helper()
	if err := h.users.SetTOTPSecret(context.Background(), h.user.ID, "JBSWY3DPEHPK3PXP"); err != nil {
		h.t.Fatalf("enroll totp: %v", err)
	}
}

// fakeTOTP accepts two fixed codes mapped to consecutive time steps.
func fakeTOTP(_ string, code string, _ time.Time) (bool, int64, error) {
	switch strings.TrimSpace(code) {
	case totpGood:
		return true, 1000, nil
	case totpNext:
		return true, 1001, nil
	default:
		return false, 0, nil
	}
}
