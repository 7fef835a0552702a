// Package token issues and consumes single-use emailed tokens for email
// verification and password recovery.
//
// Token values are 32 random bytes encoded as unpadded base64url. Only the
// SHA-256 digest of a value is handed to the Store.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/kairosauth/internal"
)

// Purpose scopes a token to one flow.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordRecovery  Purpose = "password_recovery"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeEmailVerification || p == PurposePasswordRecovery
}

// ErrInvalidOrExpired is returned when a token is unknown, already used,
// expired or issued for another purpose.
var ErrInvalidOrExpired = errors.New("token: invalid or expired")

// VerificationToken is a persisted token. Hash is the hex SHA-256 digest of
// the value that was sent to the user.
type VerificationToken struct {
	ID        string
	UserID    string
	Purpose   Purpose
	Hash      string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// Store persists tokens.
type Store interface {
	// Replace marks every unused token of t.Purpose for t.UserID used and
	// inserts t, in one atomic step.
	Replace(ctx context.Context, t VerificationToken) error
	// Consume marks the unused, unexpired token with hash and purpose used
	// and returns it, or returns ErrInvalidOrExpired.
	Consume(ctx context.Context, hash string, purpose Purpose, now time.Time) (VerificationToken, error)
	// PurgeExpired deletes tokens that expired before the cutoff.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// Issuer creates and redeems tokens against a Store.
type Issuer struct {
	store Store
	now   func() time.Time
}

// NewIssuer returns an Issuer. A nil now uses time.Now.
func NewIssuer(store Store, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{store: store, now: now}
}

// Issue creates a token for userID that expires after ttl, invalidating
// earlier unused tokens of the same purpose. The returned value is the only
// copy of the plaintext.
func (i *Issuer) Issue(ctx context.Context, userID string, purpose Purpose, ttl time.Duration) (string, error) {
	if !purpose.Valid() {
		return "", fmt.Errorf("token: unknown purpose %q", purpose)
	}
	if ttl <= 0 {
		return "", errors.New("token: ttl must be positive")
	}

	value, digest, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}

	now := i.now()
	t := VerificationToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Purpose:   purpose,
		Hash:      digest,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := i.store.Replace(ctx, t); err != nil {
		return "", fmt.Errorf("token: persist: %w", err)
	}
	return value, nil
}

// Consume redeems value for purpose. It succeeds at most once per token.
func (i *Issuer) Consume(ctx context.Context, value string, purpose Purpose) (VerificationToken, error) {
	if value == "" || !purpose.Valid() {
		return VerificationToken{}, ErrInvalidOrExpired
	}
	return i.store.Consume(ctx, internal.HashToken(value), purpose, i.now())
}

// PurgeExpired removes tokens that expired before now minus grace.
func (i *Issuer) PurgeExpired(ctx context.Context, grace time.Duration) (int64, error) {
	return i.store.PurgeExpired(ctx, i.now().Add(-grace))
}
