// Package middleware adapts [kairosauth.Engine] session validation to
// net/http.
//
// [Guard] reads the access token from the Authorization header or the
// session cookie, calls Engine.ValidateSession and stores the session in
// the request context. [RequireSecondFactor] additionally rejects sessions
// that were established with the password alone.
//
// This package makes no authentication decisions of its own.
package middleware
