// Package backupcode generates, hashes and matches single-use recovery codes
// for accounts with two-factor authentication enabled.
//
// Plaintext codes leave this package exactly once, from [Generate]. Only
// argon2id hashes are persisted; consuming a matched hash is the credential
// store's job.
package backupcode
