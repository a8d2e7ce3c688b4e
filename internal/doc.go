// Package internal contains helpers that are private to goSession.
//
// # Sub-packages
//
//   - authstate: latest-value broadcaster behind provider auth-state streams
//   - stores: Redis challenge records for reset and verification codes
//   - rate: fixed-window attempt counters in Redis
//
// # What this package must NOT do
//
//   - Export types that appear in the public goSession API.
package internal
