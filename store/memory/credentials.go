package memory

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/MrEthical07/kairosauth/credential"
)

// Credentials is an in-memory credential.Store.
type Credentials struct {
	mu      sync.Mutex
	byID    map[string]credential.UserCredential
	byEmail map[string]string
}

// NewCredentials returns an empty store.
func NewCredentials() *Credentials {
	return &Credentials{
		byID:    make(map[string]credential.UserCredential),
		byEmail: make(map[string]string),
	}
}

func (s *Credentials) FindByEmail(ctx context.Context, email string) (credential.UserCredential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[credential.NormalizeEmail(email)]
	if !ok {
		return credential.UserCredential{}, false, nil
	}
	return cloneUser(s.byID[id]), true, nil
}

func (s *Credentials) FindByID(ctx context.Context, userID string) (credential.UserCredential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[userID]
	if !ok {
		return credential.UserCredential{}, false, nil
	}
	return cloneUser(user), true, nil
}

func (s *Credentials) Create(ctx context.Context, in credential.NewUser) (credential.UserCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := credential.NormalizeEmail(in.Email)
	if _, taken := s.byEmail[email]; taken {
		return credential.UserCredential{}, credential.ErrDuplicateEmail
	}
	user := credential.UserCredential{
		ID:           in.ID,
		Email:        email,
		PasswordHash: in.PasswordHash,
		CreatedAt:    in.CreatedAt,
	}
	s.byID[user.ID] = user
	s.byEmail[email] = user.ID
	return cloneUser(user), nil
}

func (s *Credentials) SetPassword(ctx context.Context, userID, passwordHash string) error {
	return s.update(userID, func(u *credential.UserCredential) {
		u.PasswordHash = passwordHash
	})
}

func (s *Credentials) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	return s.update(userID, func(u *credential.UserCredential) {
		if !u.EmailVerified {
			u.EmailVerified = true
			u.EmailVerifiedAt = at
		}
	})
}

func (s *Credentials) SetTwoFactorSecret(ctx context.Context, userID, secret string) error {
	return s.update(userID, func(u *credential.UserCredential) {
		u.TwoFactorSecret = secret
	})
}

func (s *Credentials) EnableTwoFactor(ctx context.Context, userID, secret string, backupCodeHashes []string, at time.Time) error {
	return s.update(userID, func(u *credential.UserCredential) {
		u.TwoFactorEnabled = true
		u.TwoFactorSecret = secret
		u.BackupCodes = append([]string(nil), backupCodeHashes...)
		u.TwoFactorActivatedAt = at
	})
}

func (s *Credentials) DisableTwoFactor(ctx context.Context, userID string) error {
	return s.update(userID, func(u *credential.UserCredential) {
		u.TwoFactorEnabled = false
		u.TwoFactorSecret = ""
		u.BackupCodes = nil
		u.TwoFactorActivatedAt = time.Time{}
	})
}

func (s *Credentials) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[userID]
	if !ok {
		return false, nil
	}
	matchIndex := -1
	for i := range user.BackupCodes {
		if subtle.ConstantTimeCompare([]byte(user.BackupCodes[i]), []byte(codeHash)) == 1 && matchIndex == -1 {
			matchIndex = i
		}
	}
	if matchIndex < 0 {
		return false, nil
	}
	next := make([]string, 0, len(user.BackupCodes)-1)
	next = append(next, user.BackupCodes[:matchIndex]...)
	next = append(next, user.BackupCodes[matchIndex+1:]...)
	user.BackupCodes = next
	s.byID[userID] = user
	return true, nil
}

func (s *Credentials) update(userID string, fn func(*credential.UserCredential)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[userID]
	if !ok {
		return credential.ErrNotFound
	}
	fn(&user)
	s.byID[userID] = user
	return nil
}

func cloneUser(u credential.UserCredential) credential.UserCredential {
	if u.BackupCodes != nil {
		u.BackupCodes = append([]string(nil), u.BackupCodes...)
	}
	return u
}
