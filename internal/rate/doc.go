// Package rate throttles failed primary logins with Redis fixed-window
// counters: INCR plus EXPIRE on the first hit of a window.
//
// Key prefixes:
//   - kl:  failed logins per email
//   - kli: failed logins per client IP
package rate
