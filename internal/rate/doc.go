// Package rate provides Redis-backed fixed-window counters used by the
// embedded identity provider to throttle sign-in attempts and outbound
// email requests.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys are
// <prefix>:rl:<scope>:<subject>.
//
// # What this package must NOT do
//
//   - Decide what happens when a limit is hit. Callers map ErrRateLimited.
//   - Be imported outside the goSession module.
package rate
