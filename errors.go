package kairosauth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned for an unknown email and for a wrong
	// password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotVerified is returned after a correct password when the
	// email address has not been verified.
	ErrAccountNotVerified = errors.New("account email not verified")
	// ErrInvalidTwoFactorCode is wrapped by *TwoFactorError for a rejected TOTP code.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	// ErrInvalidBackupCode is wrapped by *TwoFactorError for a rejected backup code.
	ErrInvalidBackupCode = errors.New("invalid backup code")
	// ErrTwoFactorSessionExpired means the pending login is gone: never
	// created, already completed, or older than the pending TTL.
	ErrTwoFactorSessionExpired = errors.New("two-factor session expired")
	// ErrTwoFactorAttemptsExceeded means the pending login was destroyed after
	// too many failed codes.
	ErrTwoFactorAttemptsExceeded = errors.New("two-factor attempts exceeded")
	// ErrTokenInvalidOrExpired covers unknown, used and expired email
	// verification and password recovery tokens.
	ErrTokenInvalidOrExpired = errors.New("token invalid or expired")

	ErrTwoFactorSubmissionInvalid = errors.New("submit exactly one of code or backup code")
	ErrTwoFactorAlreadyEnabled    = errors.New("two-factor authentication already enabled")
	ErrTwoFactorNotEnabled        = errors.New("two-factor authentication not enabled")
	ErrTwoFactorSetupMissing      = errors.New("two-factor setup not started")
	ErrPasswordPolicy             = errors.New("password policy violation")
	ErrEmailTaken                 = errors.New("email already registered")
	ErrInvalidEmail               = errors.New("invalid email address")
	ErrLoginRateLimited           = errors.New("login rate limited")
	ErrRequestRateLimited         = errors.New("too many link requests")
	ErrSessionNotFound            = errors.New("session not found")
	ErrUnauthorized               = errors.New("unauthorized")
	ErrEngineNotReady             = errors.New("engine not initialized")
	ErrBackendUnavailable         = errors.New("backend unavailable")
)

// TwoFactorError reports a rejected second factor while the pending login
// is still usable.
type TwoFactorError struct {
	Err               error
	AttemptsRemaining int
}

func (e *TwoFactorError) Error() string {
	return fmt.Sprintf("%v (%d attempts remaining)", e.Err, e.AttemptsRemaining)
}

func (e *TwoFactorError) Unwrap() error {
	return e.Err
}
