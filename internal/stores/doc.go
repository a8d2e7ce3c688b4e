// Package stores provides the Redis-backed, short-lived challenge records used
// by the embedded identity provider for password reset and email verification
// codes.
//
// # Design
//
// A record stores the SHA-256 of the emailed code, never the code itself,
// under a TTL. Consume uses a WATCH/MULTI optimistic transaction with a
// bounded retry on contention. Records are single-use and are deleted after
// too many wrong attempts.
//
// # What this package must NOT do
//
//   - Import goSession or any sibling package.
//   - Log or expose plaintext codes.
package stores
