package kairosauth

import (
	"time"

	"github.com/MrEthical07/kairosauth/credential"
	"github.com/MrEthical07/kairosauth/internal/stores"
)

// AuthMethod identifies the factor that completed a login.
type AuthMethod string

const (
	AuthMethodPassword   AuthMethod = "password"
	AuthMethodTOTP       AuthMethod = "totp"
	AuthMethodBackupCode AuthMethod = "backup_code"
)

// Valid reports whether m is a known method.
func (m AuthMethod) Valid() bool {
	switch m {
	case AuthMethodPassword, AuthMethodTOTP, AuthMethodBackupCode:
		return true
	}
	return false
}

// amr returns the access token "amr" claim for a login completed by m.
func (m AuthMethod) amr() []string {
	if m == AuthMethodPassword {
		return []string{string(AuthMethodPassword)}
	}
	return []string{string(AuthMethodPassword), string(m)}
}

// LoginState is the position of a login in the state machine.
type LoginState int

const (
	StateAnonymous LoginState = iota
	StatePendingTwoFactor
	StateSessionEstablished
)

func (s LoginState) String() string {
	switch s {
	case StatePendingTwoFactor:
		return "pending_two_factor"
	case StateSessionEstablished:
		return "session_established"
	default:
		return "anonymous"
	}
}

// LoginRequest is the primary-factor submission.
type LoginRequest struct {
	Email      string
	Password   string
	RememberMe bool
}

// TwoFactorSubmission carries exactly one of Code (TOTP) or BackupCode.
type TwoFactorSubmission struct {
	Code       string
	BackupCode string
}

// Session is an established login. AccessToken is only set when the session
// is created; it is the bearer credential for ValidateSession.
type Session struct {
	ID          string
	UserID      string
	AuthMethod  AuthMethod
	Persistent  bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
	AccessToken string
}

// LoginResult is the outcome of Login and VerifyTwoFactor.
//
// In StatePendingTwoFactor, PendingID correlates the follow-up
// VerifyTwoFactor call. In StateSessionEstablished, Session is set.
type LoginResult struct {
	State             LoginState
	UserID            string
	PendingID         string
	PendingExpiresAt  time.Time
	AttemptsRemaining int
	Session           *Session
}

// TwoFactorSetup is returned by BeginTwoFactorSetup for display to the user.
type TwoFactorSetup struct {
	Secret          string
	ProvisioningURI string
	QRCodePNG       []byte
}

// RegisterRequest is the input for Register.
type RegisterRequest struct {
	Email    string
	Password string
}

type (
	UserCredential          = credential.UserCredential
	PendingTwoFactorSession = stores.PendingTwoFactor
)
