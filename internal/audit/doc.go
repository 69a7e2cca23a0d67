// Package audit implements async event dispatching for security-relevant operations.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, func adapter, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics;
//     drops are counted and reported through an optional warn hook.
//   - [Event]: structured audit record with timestamp, type, user, IP and metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the Engine and flow functions do.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import the root identity package or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
