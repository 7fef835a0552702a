// Package jwt signs and verifies session access tokens. Tokens carry the
// user ID, the server-side session ID and the authentication methods that
// completed the login.
package jwt
