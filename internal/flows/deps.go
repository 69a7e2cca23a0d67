package flows

import "context"

// Deps groups flow dependency sets. The root engine builds this once and
// delegates request methods to the matching flow implementation.
type Deps struct {
	Login         LoginDeps
	MFA           MFADeps
	Session       SessionDeps
	Refresh       RefreshDeps
	Logout        LogoutDeps
	BackupCode    BackupCodeDeps
	TrustedDevice TrustedDeviceDeps
	Validate      ValidateDeps
}

// AuditFunc emits one audit event. meta is only evaluated when the event is
// actually dispatched.
type AuditFunc func(ctx context.Context, event string, userID int64, success bool, err error, meta func() map[string]string)

// Audit event types.
const (
	EventLoginSuccess          = "login-success"
	EventLoginFailed           = "login-failed"
	EventAccountLocked         = "account-locked"
	EventMFAFailed             = "mfa-failed"
	EventMFASuccess            = "mfa-success"
	EventMFAChallengeInitiated = "mfa-challenge-initiated"
	EventAltchaFailed          = "altcha-failed"
	EventTokenTheftDetected    = "token-theft-detected"
	EventSessionRefreshed      = "session-refreshed"
	EventLogout                = "logout"
	EventTrustedDeviceRevoked  = "trusted-device-revoked"
	EventBackupCodesGenerated  = "backup-codes-generated"
)

func nopMetric(int) {}

func nopAudit(context.Context, string, int64, bool, error, func() map[string]string) {}

func nopWarn(string, ...any) {}

func meta(kv ...string) func() map[string]string {
	return func() map[string]string {
		m := make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			m[kv[i]] = kv[i+1]
		}
		return m
	}
}
