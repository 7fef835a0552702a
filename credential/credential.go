// Package credential defines the account credential record and the storage
// contract the authentication engine depends on.
package credential

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrDuplicateEmail is returned by Store.Create when the email is taken.
	ErrDuplicateEmail = errors.New("credential: email already registered")
	// ErrNotFound is returned by mutations that target an unknown user.
	ErrNotFound = errors.New("credential: user not found")
)

// UserCredential is the persisted authentication state of one account.
//
// TwoFactorSecret is set while 2FA is being enrolled and while it is enabled.
// BackupCodes holds argon2id hashes and is empty whenever 2FA is disabled.
type UserCredential struct {
	ID                   string
	Email                string
	PasswordHash         string
	EmailVerified        bool
	EmailVerifiedAt      time.Time
	TwoFactorEnabled     bool
	TwoFactorSecret      string
	BackupCodes          []string
	TwoFactorActivatedAt time.Time
	CreatedAt            time.Time
}

// NewUser is the input for Store.Create.
type NewUser struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Store persists credentials. Every mutation is atomic for the affected user.
//
// Lookups return found=false with a nil error for unknown users.
type Store interface {
	FindByEmail(ctx context.Context, email string) (UserCredential, bool, error)
	FindByID(ctx context.Context, userID string) (UserCredential, bool, error)
	Create(ctx context.Context, user NewUser) (UserCredential, error)
	SetPassword(ctx context.Context, userID, passwordHash string) error
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error
	// SetTwoFactorSecret stores a pending secret without enabling 2FA.
	SetTwoFactorSecret(ctx context.Context, userID, secret string) error
	EnableTwoFactor(ctx context.Context, userID, secret string, backupCodeHashes []string, at time.Time) error
	// DisableTwoFactor clears the secret, backup codes and activation time.
	DisableTwoFactor(ctx context.Context, userID string) error
	// ConsumeBackupCode removes exactly codeHash and reports whether it was
	// present. Of two concurrent calls with the same hash, one wins.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
}

// NormalizeEmail lower-cases and trims an email for use as the login key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
