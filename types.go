package identity

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/audit"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/flows"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/pow"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/jwt"
)

// MFAMethod is the second factor a challenge or verification uses.
type MFAMethod = flows.MFAMethod

const (
	MFAMethodTOTP       = flows.MFAMethodTOTP
	MFAMethodEmail      = flows.MFAMethodEmail
	MFAMethodBackupCode = flows.MFAMethodBackupCode
)

// ParseMFAMethod accepts the wire spellings of a method. The empty string is
// accepted and means "the method the challenge was issued for".
func ParseMFAMethod(s string) (MFAMethod, bool) {
	return flows.ParseMFAMethod(s)
}

// LoginRequest is one password login attempt. Client IP and user-agent are
// read from the context (see WithClientIP and WithUserAgent).
type LoginRequest struct {
	UsernameOrEmail    string
	Password           string
	TrustedDeviceToken string
	PowPayload         string
}

// LoginResult is either a session or a pending MFA challenge. It never
// carries an MFA code.
type LoginResult struct {
	UserID             int64
	Tokens             *SessionTokens
	MFARequired        bool
	ChallengeToken     string
	Method             MFAMethod
	AvailableMethods   []MFAMethod
	ChallengeExpiresAt time.Time
	TrustedDeviceUsed  bool
}

// VerifyMFARequest submits a code against a login challenge. Method may be
// empty to use the challenge's own method.
type VerifyMFARequest struct {
	ChallengeToken string
	Code           string
	Method         MFAMethod
	TrustDevice    bool
	DeviceName     string
}

// MFAResult is a completed second factor. TrustedDeviceToken is set only
// when the request asked to trust the device and it was stored.
type MFAResult struct {
	UserID             int64
	Method             MFAMethod
	Tokens             *SessionTokens
	TrustedDeviceToken string
}

// SessionTokens is an issued access/refresh pair.
type SessionTokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	FamilyID         string
}

func sessionTokensFrom(t *flows.SessionTokens) *SessionTokens {
	if t == nil {
		return nil
	}
	return &SessionTokens{
		AccessToken:      t.AccessToken,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshToken:     t.RefreshToken,
		RefreshExpiresAt: t.RefreshExpiresAt,
		FamilyID:         t.FamilyID,
	}
}

// AuthResult is returned by ValidateAccess.
type AuthResult struct {
	UserID    int64
	Username  string
	SessionID string
	AMR       []string
	ExpiresAt time.Time
}

func authResultFrom(userID int64, c *jwt.AccessClaims) *AuthResult {
	out := &AuthResult{
		UserID:    userID,
		Username:  c.Username,
		SessionID: c.SID,
		AMR:       append([]string(nil), c.AMR...),
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}

// TrustedDevice is the caller-facing view of a remembered device. The token
// hash and fingerprint never leave the engine.
type TrustedDevice struct {
	ID         int64
	Name       string
	ExpiresAt  time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// NewUser is the input to CreateUser.
type NewUser struct {
	Username   string
	Email      string
	Password   string
	MFAEnabled bool
	Inactive   bool
}

// User is the caller-facing view of a credential record.
type User struct {
	ID          int64
	Username    string
	Email       string
	IsActive    bool
	MFAEnabled  bool
	TOTPEnabled bool
	CreatedAt   time.Time
}

// TOTPEnrollment is a provisioned but not yet confirmed authenticator secret.
type TOTPEnrollment struct {
	Secret string
	URI    string
}

// PurgeResult counts the rows a PurgeExpired sweep deleted.
type PurgeResult struct {
	Challenges     int64
	RefreshTokens  int64
	TrustedDevices int64
}

// Total is the sum of every purged row.
func (r PurgeResult) Total() int64 {
	return r.Challenges + r.RefreshTokens + r.TrustedDevices
}

// PowChallenge is the puzzle handed to clients before login.
type PowChallenge = pow.Challenge

// EmailQueue accepts outbound mail for asynchronous delivery.
type EmailQueue interface {
	Enqueue(ctx context.Context, msgType, recipient string, userID int64, data map[string]string) (string, error)
}

// PowValidator checks a client's proof-of-work payload.
type PowValidator interface {
	Validate(ctx context.Context, payload string) error
}

// AuditEvent is one security-relevant record.
type AuditEvent = internalaudit.Event

// AuditSink receives dispatched audit events.
type AuditSink = internalaudit.Sink

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc = internalaudit.SinkFunc

// NoOpSink drops every event.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers events on a channel, mostly for tests.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// Audit event types.
const (
	AuditLoginSuccess          = flows.EventLoginSuccess
	AuditLoginFailed           = flows.EventLoginFailed
	AuditAccountLocked         = flows.EventAccountLocked
	AuditMFAFailed             = flows.EventMFAFailed
	AuditMFASuccess            = flows.EventMFASuccess
	AuditMFAChallengeInitiated = flows.EventMFAChallengeInitiated
	AuditAltchaFailed          = flows.EventAltchaFailed
	AuditTokenTheftDetected    = flows.EventTokenTheftDetected
	AuditSessionRefreshed      = flows.EventSessionRefreshed
	AuditLogout                = flows.EventLogout
	AuditTrustedDeviceRevoked  = flows.EventTrustedDeviceRevoked
	AuditBackupCodesGenerated  = flows.EventBackupCodesGenerated
	AuditTOTPEnrolled          = "totp-enrolled"
	AuditTOTPDisabled          = "totp-disabled"
	AuditEmailMFAChanged       = "email-mfa-changed"
	AuditUserCreated           = "user-created"
)
