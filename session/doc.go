// Package session persists refresh-token rotation families in SQL.
//
// # Rotation model
//
// Every login creates a family: one refresh_tokens row whose FamilyID is a
// fresh uuid and whose SessionStartedAt is the issuance instant. Each refresh
// revokes the presented row and inserts a successor carrying the same
// FamilyID and SessionStartedAt, so the absolute session ceiling never moves.
// Presenting a revoked row's hash again is reuse: the whole family is
// revoked.
//
// # Architecture boundaries
//
// This package owns the [Store] (SQL) and the [RefreshToken] model. It does
// NOT mint access tokens, generate refresh secrets, or emit audit events;
// those belong to the engine and internal/flows.
//
// # What this package must NOT do
//
//   - Import the root package, jwt, or internal/flows.
//   - Persist plaintext refresh values.
//   - Retry statements or transactions.
package session
