// Package password hashes and verifies account passwords for the embedded
// identity provider using Argon2id.
//
// # Output format
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsRehash] reports hashes produced with weaker parameters than the
// current [Config] so the provider can upgrade them after a successful sign-in.
//
// # What this package must NOT do
//
//   - Store or look up credentials; callers own persistence.
//   - Import any other goSession package.
//   - Log plaintext passwords.
package password
