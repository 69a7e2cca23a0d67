// Package stores provides the SQL-backed record stores behind the
// authentication flows: user credentials, MFA challenges, backup codes and
// trusted devices. Refresh tokens live in the session package.
//
// # Design
//
// Every store wraps a *sqlx.DB and writes portable SQL with `?` binds that
// are rebound for the active driver. State transitions that must be
// at-most-once (challenge attempts, backup code consumption, TOTP counter
// advance) are single conditional UPDATE statements whose affected-row count
// decides the outcome, so concurrent callers cannot both win.
//
// # Architecture boundaries
//
// This package owns persistence and row-level concurrency control. It does
// NOT generate codes, hash secrets, or make authentication decisions; those
// belong to internal/flows.
//
// # What this package must NOT do
//
//   - Import the root package or any sibling internal package.
//   - Log or persist plaintext secrets.
//   - Retry failed statements.
package stores
