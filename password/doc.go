// Package password implements the pluggable password hashing capability:
// Argon2id for new hashes and a legacy bcrypt verifier for imported ones.
//
// # Output format
//
// New hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Chain] dispatches on the stored hash prefix. Any hash not produced by the
// primary Argon2id parameters reports NeedsUpgrade so the engine can re-hash
// on the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other package of this module.
//   - Log plaintext passwords.
package password
