// Package limiters provides the process-local MFA attempt tracker used by
// challenge-less second-factor checks (TOTP and backup codes).
//
// # Limiters
//
//   - [MFAAttemptTracker]: per-(user, method) failure counter with a fixed
//     TTL window, backed by an expirable LRU so idle keys are evicted.
//
// All methods are nil-safe: calling any method on a nil receiver is a no-op
// that never blocks a login.
//
// # Architecture boundaries
//
// The tracker only counts. Flow functions decide what a lockout means and
// which error the caller sees. Cross-process throttles live in internal/rate.
//
// # What this package must NOT do
//
//   - Import the root package or any sibling internal package.
//   - Persist state; a restart intentionally forgets all counters.
package limiters
