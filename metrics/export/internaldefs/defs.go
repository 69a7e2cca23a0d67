package internaldefs

import (
	identity "github.com/actionjacksonthegoat-debug/SeventySix-sub005"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   identity.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram for exporters.
type HistogramDef struct {
	ID   identity.MetricID
	Name string
	Help string
}

// AuditDroppedName is exported alongside the engine counters.
const AuditDroppedName = "identity_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: identity.MetricLoginSuccess, Name: "identity_login_success_total", Help: "Successful password logins."},
	{ID: identity.MetricLoginFailure, Name: "identity_login_failure_total", Help: "Failed password logins."},
	{ID: identity.MetricLoginRateLimited, Name: "identity_login_rate_limited_total", Help: "Logins rejected by the Redis throttle."},
	{ID: identity.MetricAccountLocked, Name: "identity_account_locked_total", Help: "Logins rejected because the account is locked."},
	{ID: identity.MetricPowRejected, Name: "identity_pow_rejected_total", Help: "Logins rejected for a missing or invalid proof of work."},
	{ID: identity.MetricPasswordUpgraded, Name: "identity_password_upgraded_total", Help: "Password hashes re-hashed at login."},
	{ID: identity.MetricMFARequired, Name: "identity_mfa_required_total", Help: "Logins that required a second factor."},
	{ID: identity.MetricMFABypassed, Name: "identity_mfa_bypassed_total", Help: "Logins that skipped MFA via a trusted device."},
	{ID: identity.MetricMFAChallengeInitiated, Name: "identity_mfa_challenge_initiated_total", Help: "MFA challenges issued."},
	{ID: identity.MetricMFASuccess, Name: "identity_mfa_success_total", Help: "Successful MFA verifications."},
	{ID: identity.MetricMFAFailure, Name: "identity_mfa_failure_total", Help: "Failed MFA verifications."},
	{ID: identity.MetricMFALocked, Name: "identity_mfa_locked_total", Help: "MFA verifications rejected by the attempt tracker."},
	{ID: identity.MetricBackupCodeUsed, Name: "identity_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: identity.MetricBackupCodeRegenerated, Name: "identity_backup_code_regenerated_total", Help: "Backup code batches generated."},
	{ID: identity.MetricSessionCreated, Name: "identity_session_created_total", Help: "Refresh-token families created."},
	{ID: identity.MetricRefreshSuccess, Name: "identity_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: identity.MetricRefreshFailure, Name: "identity_refresh_failure_total", Help: "Refreshes rejected as invalid."},
	{ID: identity.MetricRefreshReuseDetected, Name: "identity_refresh_reuse_detected_total", Help: "Revoked refresh tokens presented again."},
	{ID: identity.MetricRefreshRateLimited, Name: "identity_refresh_rate_limited_total", Help: "Refreshes rejected by the Redis throttle."},
	{ID: identity.MetricSessionExpired, Name: "identity_session_expired_total", Help: "Refreshes rejected for token or session expiry."},
	{ID: identity.MetricLogout, Name: "identity_logout_total", Help: "Single-family logouts."},
	{ID: identity.MetricLogoutAll, Name: "identity_logout_all_total", Help: "Logout-all operations."},
	{ID: identity.MetricTrustedDeviceCreated, Name: "identity_trusted_device_created_total", Help: "Trusted devices registered."},
	{ID: identity.MetricTrustedDeviceRevoked, Name: "identity_trusted_device_revoked_total", Help: "Trusted devices revoked."},
	{ID: identity.MetricTOTPEnrolled, Name: "identity_totp_enrolled_total", Help: "TOTP enrollments confirmed."},
	{ID: identity.MetricTOTPDisabled, Name: "identity_totp_disabled_total", Help: "TOTP enrollments removed."},
	{ID: identity.MetricUserCreated, Name: "identity_user_created_total", Help: "Users created."},
	{ID: identity.MetricPurgedRows, Name: "identity_purged_rows_total", Help: "Expired rows deleted by the purge sweep."},
}

var HistogramDefs = []HistogramDef{
	{ID: identity.MetricLoginLatency, Name: "identity_login_latency_seconds", Help: "Login latency."},
	{ID: identity.MetricRefreshLatency, Name: "identity_refresh_latency_seconds", Help: "Refresh latency."},
	{ID: identity.MetricValidateLatency, Name: "identity_validate_latency_seconds", Help: "Access-token validation latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine's
// eighth bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// flatten buckets into gauges.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine's eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
