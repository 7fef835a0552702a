// Package stores provides the Redis stores for pending two-factor logins and
// for the last accepted TOTP step of each user.
//
// A record is written when a password has been verified for an account with
// two-factor authentication enabled. It is binary encoded with a version
// byte, carries an explicit TTL and is deleted on success, on timeout or when
// the attempt ceiling is reached. Attempt increments use WATCH/MULTI
// optimistic transactions with bounded retries.
//
// TOTPStepStore claims a step with a Lua compare-and-set so two requests
// carrying the same code cannot both succeed.
//
// This package makes no authentication decisions and never stores codes.
package stores
