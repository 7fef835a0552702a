// Package limiters throttles requests that make the engine send email:
// verification resends and password recovery. Counters are Redis fixed
// windows keyed per email and per client IP.
//
// Key prefixes:
//   - klk:  link requests per purpose and email
//   - klki: link requests per purpose and client IP
//
// A nil [LinkRequestLimiter] allows everything.
package limiters
