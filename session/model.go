package session

// Session is an established login. AuthMethod records which factor
// completed the login ("password", "totp" or "backup_code"). Persistent
// sessions were created with remember-me and outlive the browser session.
type Session struct {
	SessionID  string
	UserID     string
	AuthMethod string
	Persistent bool

	IPHash        [32]byte
	UserAgentHash [32]byte

	CreatedAt int64
	ExpiresAt int64
}
