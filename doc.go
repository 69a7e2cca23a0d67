// Package identity is an authentication and session-security engine: password
// login with lockout, MFA challenges (TOTP, emailed codes, backup codes),
// trusted-device bypass and rotating refresh-token families with reuse
// detection and an absolute session ceiling.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// identity is the public surface. It exposes [Engine], [Builder], [Config] and
// value types (LoginResult, SessionTokens, MetricsSnapshot). Flow orchestration,
// persistence, rate limiting and audit dispatch live under internal/ and are
// never exported.
//
// # What this package must NOT do
//
//   - Expose SQL handles, Redis clients or internal stores in its public API.
//   - Perform I/O outside of Engine methods.
//   - Import any sub-package that re-imports identity (no import cycles).
//
// # Time
//
// Every timestamp the engine writes or compares comes from one clock
// (UTC). Per-token expiry tolerates Session.ClockSkew; the absolute session
// ceiling does not.
package identity
