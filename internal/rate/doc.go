// Package rate provides Redis-backed fixed-window throttles for login and
// refresh requests, shared across every replica of the service.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key
// suffixes under the configured prefix:
//   - al:  login per-identifier
//   - ali: login per-IP
//   - ar:  refresh per-family
//
// # What this package must NOT do
//
//   - Replace the persisted account lockout; these counters are advisory and
//     vanish with Redis.
//   - Be imported outside this module.
package rate
