// Package internal holds helpers private to kairosauth: session identifiers
// and opaque token generation.
//
// # Sub-packages
//
//   - audit: event type, sinks and the async dispatcher
//   - config: environment-driven daemon configuration
//   - limiters: Redis throttle for verification and recovery links
//   - logger: zap construction and email masking
//   - rate: Redis-backed login throttling
//   - scheduler: cron jobs run by the daemon
//   - stores: Redis store for pending two-factor logins
package internal
