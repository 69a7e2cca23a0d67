// Package internal contains helpers that are private to the module: secure
// random token and OTP generation, token hashing and trusted-device
// fingerprints.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators for every Engine operation
//   - limiters: in-memory MFA attempt tracker
//   - rate: Redis-backed login/refresh throttles
//   - pow: ALTCHA-style proof-of-work challenges
//   - stores: SQL stores for users, challenges, backup codes, devices
//   - httpapi: REST binding of the engine
//   - security: configuration posture report
//   - dbtest: SQLite fixtures for package tests
//
// # What this package must NOT do
//
//   - Export types that appear in the public identity API.
//   - Log or persist plaintext secrets.
package internal
