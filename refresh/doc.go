// Package refresh implements generation, parsing and hashing of opaque
// refresh-token bearer values.
//
// # Token format
//
// 32 random bytes, base64url-encoded without padding. Only the hex SHA-256
// of the decoded bytes is ever persisted; the plaintext exists solely in the
// response to the client.
//
// # Architecture boundaries
//
// This package owns token encoding/decoding and structural validation.
// Rotation policy, reuse detection, and family revocation are handled by the
// session store and internal/flows.
//
// # What this package must NOT do
//
//   - Access the database or any I/O.
//   - Import the root package, jwt, or session.
//   - Implement rotation or replay logic.
package refresh
