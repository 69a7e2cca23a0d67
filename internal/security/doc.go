// Package security summarises the security posture of an engine
// configuration for operators: signing algorithm, token lifetimes, password
// cost and which protections are actually active.
//
// # What this package must NOT do
//
//   - Include key material or secrets in a report.
package security
