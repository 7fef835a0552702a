// Package httpapi exposes the engine over JSON/HTTP with a chi router.
//
// Public routes cover registration, email verification, password recovery
// and the two-step login (POST /login then POST /verify-2fa). Routes that
// act on the signed-in user sit behind [middleware.Guard] and accept the
// access token as a bearer header or the session cookie.
//
// Engine errors are translated to status codes in one place (writeError).
// Error bodies carry a stable machine code and never echo credentials.
package httpapi
