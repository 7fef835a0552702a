package backupcode

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// Alphabet is the set of characters codes are drawn from (uppercase hex).
const Alphabet = "0123456789ABCDEF"

const (
	// DefaultCount is the number of codes issued on activation.
	DefaultCount = 10
	// DefaultLength is the number of characters per code.
	DefaultLength = 8

	maxGenerateRounds = 64
)

var (
	// ErrInvalidParameters is returned for a non-positive count or length.
	ErrInvalidParameters = errors.New("backup code count and length must be positive")
	// ErrGenerationExhausted is returned when unique codes could not be produced.
	ErrGenerationExhausted = errors.New("unable to generate unique backup codes")
)

// Hasher hashes a single code.
type Hasher interface {
	Hash(code string) (string, error)
}

// Verifier checks a code against a stored hash.
type Verifier interface {
	Verify(code, encodedHash string) (bool, error)
}

// randomIndex is swapped in tests to force collisions.
var randomIndex = cryptoRandomIndex

// Generate returns count pairwise-unique codes of length characters. A code
// that collides with an earlier one is discarded and drawn again.
func Generate(count, length int) ([]string, error) {
	if count <= 0 || length <= 0 {
		return nil, ErrInvalidParameters
	}

	seen := make(map[string]struct{}, count)
	codes := make([]string, 0, count)
	for rounds := 0; len(codes) < count; rounds++ {
		if rounds >= count*maxGenerateRounds {
			return nil, ErrGenerationExhausted
		}
		code, err := newCode(length)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// Normalize canonicalizes user input: surrounding space, inner spaces and
// dashes are removed and letters are uppercased.
func Normalize(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// WellFormed reports whether a normalized code has the expected length and
// only alphabet characters.
func WellFormed(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// HashAll hashes each code independently, preserving order.
func HashAll(h Hasher, codes []string) ([]string, error) {
	hashes := make([]string, 0, len(codes))
	for _, code := range codes {
		hashed, err := h.Hash(code)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hashed)
	}
	return hashes, nil
}

// Match scans hashes for one that verifies against the normalized submitted
// code and returns it. An empty set never matches. Malformed hashes are
// skipped.
func Match(v Verifier, hashes []string, submitted string) (string, bool) {
	code := Normalize(submitted)
	if code == "" {
		return "", false
	}

	for _, hashed := range hashes {
		ok, err := v.Verify(code, hashed)
		if err != nil {
			continue
		}
		if ok {
			return hashed, true
		}
	}
	return "", false
}

func newCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(Alphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(Alphabet[n])
	}
	return b.String(), nil
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
