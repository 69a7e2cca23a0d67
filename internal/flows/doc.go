// Package flows contains the orchestrators behind every Engine operation.
//
// Each flow function (RunLogin, RunVerifyMFA, RunRefresh, etc.) accepts a typed
// dependency struct of function fields and returns results without side
// effects beyond those dependencies. Tests wire fakes; the Engine wires the
// SQL stores, the Redis limiter, the JWT manager and the audit dispatcher.
//
// # Architecture boundaries
//
// Flows decide outcomes and which audit events to emit. They do NOT own
// stores, the attempt tracker or the dispatcher; ownership stays with the
// Engine. Host-level sentinel errors are passed in through the Errors
// sub-structs so this package never imports the root package.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root identity package.
//   - Perform I/O directly; all I/O is mediated through dependency fields.
package flows
