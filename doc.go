// Package kairosauth implements password login with optional TOTP two-factor
// authentication, backup codes, email verification and password recovery.
//
// # Login state machine
//
// [Engine.Login] verifies the password. For accounts without two-factor
// authentication it returns [StateSessionEstablished] and a [Session]. For
// accounts with it enabled, it stores a pending record in Redis and returns
// [StatePendingTwoFactor] with a PendingID. [Engine.VerifyTwoFactor] then
// accepts exactly one TOTP code or backup code for that PendingID. The
// pending record expires after Config.TwoFactor.PendingTTL and is destroyed
// after Config.TwoFactor.MaxAttempts rejected codes.
//
// Established sessions live in Redis and are referenced by a signed access
// token carrying the session ID and the authentication methods used ("amr").
// [Engine.ValidateSession] checks both.
//
// # Storage
//
// Account credentials and emailed tokens are persisted through
// [credential.Store] and [token.Store]; see store/postgres and store/memory.
// Pending logins, sessions and login throttling counters use Redis.
//
// # Audit
//
// Every login and verification outcome is sent to the configured
// [AuditSink] before the method returns. Delivery is asynchronous; see
// [Engine.AuditDropped].
//
// Engine methods are safe for concurrent use after [Builder.Build].
package kairosauth
