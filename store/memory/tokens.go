package memory

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/kairosauth/token"
)

// Tokens is an in-memory token.Store keyed by token digest.
type Tokens struct {
	mu     sync.Mutex
	byHash map[string]token.VerificationToken
}

// NewTokens returns an empty store.
func NewTokens() *Tokens {
	return &Tokens{byHash: make(map[string]token.VerificationToken)}
}

func (s *Tokens) Replace(ctx context.Context, t token.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, existing := range s.byHash {
		if existing.UserID == t.UserID && existing.Purpose == t.Purpose && !existing.Used {
			existing.Used = true
			s.byHash[hash] = existing
		}
	}
	s.byHash[t.Hash] = t
	return nil
}

func (s *Tokens) Consume(ctx context.Context, hash string, purpose token.Purpose, now time.Time) (token.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byHash[hash]
	if !ok || t.Used || t.Purpose != purpose || !now.Before(t.ExpiresAt) {
		return token.VerificationToken{}, token.ErrInvalidOrExpired
	}
	t.Used = true
	s.byHash[hash] = t
	return t, nil
}

func (s *Tokens) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, t := range s.byHash {
		if t.ExpiresAt.Before(before) {
			delete(s.byHash, hash)
			n++
		}
	}
	return n, nil
}
