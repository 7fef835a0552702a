// Package session persists established login sessions in Redis.
//
// Sessions are stored in a compact versioned binary encoding under
// "<prefix>:<sessionID>" with a per-user set "<prefix>u:<userID>" that backs
// logout-everywhere. Each session records the factor that completed the
// login and whether remember-me was requested.
//
// This package does not parse tokens or make authentication decisions.
package session
