// Package password hashes secrets with argon2id and enforces the account
// password policy.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash after the next successful login. The same hasher is used
// for backup codes, which is why [Argon2.Hash] does not impose a minimum
// length; composition and length rules live in [Policy].
//
// This package never stores passwords and never logs plaintext.
package password
