package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// SecretBytes is the raw size of generated shared secrets (160 bits).
const SecretBytes = 20

const defaultQRSize = 256

var (
	// ErrEmptySecret is returned when a code is requested for an empty secret.
	ErrEmptySecret = errors.New("empty totp secret")
	// ErrInvalidSecret is returned when the secret is not valid base32.
	ErrInvalidSecret = errors.New("invalid totp secret encoding")
	// ErrUnsupportedAlgorithm is returned for HMAC algorithms other than SHA1/SHA256/SHA512.
	ErrUnsupportedAlgorithm = errors.New("unsupported totp algorithm")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config controls code generation and verification.
type Config struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	Skew      int
}

// DefaultConfig returns the authenticator-app compatible defaults: 6 digits,
// 30 second steps, SHA1 and one step of clock skew in either direction.
func DefaultConfig() Config {
	return Config{
		Issuer:    "Kairos",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      1,
	}
}

// TOTP generates and verifies RFC 6238 time-based one-time passwords.
type TOTP struct {
	config Config
}

// New returns a TOTP engine. Zero fields fall back to DefaultConfig values.
func New(cfg Config) *TOTP {
	def := DefaultConfig()
	if cfg.Digits <= 0 {
		cfg.Digits = def.Digits
	}
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = def.Algorithm
	}
	if cfg.Skew < 0 {
		cfg.Skew = 0
	}
	return &TOTP{config: cfg}
}

// Config returns the effective configuration.
func (m *TOTP) Config() Config {
	return m.config
}

// GenerateSecret returns a new random shared secret encoded as unpadded base32.
func (m *TOTP) GenerateSecret() (string, error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return secretEncoding.EncodeToString(raw), nil
}

// ProvisioningURI builds the otpauth:// URI consumed by authenticator apps.
func (m *TOTP) ProvisioningURI(secret, account string) string {
	issuer := m.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(m.config.Period))
	v.Set("digits", strconv.Itoa(m.config.Digits))
	v.Set("algorithm", strings.ToUpper(m.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// ProvisioningQR renders uri as a PNG QR code.
func (m *TOTP) ProvisioningQR(uri string) ([]byte, error) {
	return qrcode.Encode(uri, qrcode.Medium, defaultQRSize)
}

// CodeAt returns the code for the time step containing t.
func (m *TOTP) CodeAt(secret string, t time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotpCode(key, t.Unix()/int64(m.config.Period), m.config.Digits, m.config.Algorithm)
}

// Verify reports whether code matches the step containing now or any step
// within the configured skew.
func (m *TOTP) Verify(secret, code string, now time.Time) (bool, error) {
	_, ok, err := m.VerifyStep(secret, code, now)
	return ok, err
}

// VerifyStep is Verify that also returns the matched time step, for replay
// tracking. Every candidate step is computed and compared so the running
// time does not depend on which step matched.
func (m *TOTP) VerifyStep(secret, code string, now time.Time) (int64, bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumeric(trimmed) {
		return 0, false, nil
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return 0, false, err
	}

	matched := 0
	var matchedCounter int64
	baseCounter := now.Unix() / int64(m.config.Period)
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(key, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return 0, false, err
		}
		eq := subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed))
		matched |= eq
		matchedCounter = int64(subtle.ConstantTimeSelect(eq, int(counter), int(matchedCounter)))
	}

	if matched != 1 {
		return 0, false, nil
	}
	return matchedCounter, true, nil
}

// StepWindow is how long a code stays acceptable: the step length times
// the number of candidate steps, plus one step of margin.
func (m *TOTP) StepWindow() time.Duration {
	return time.Duration(m.config.Period*(2*m.config.Skew+2)) * time.Second
}

func decodeSecret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.TrimSpace(secret))
	normalized = strings.TrimRight(normalized, "=")
	if normalized == "" {
		return nil, ErrEmptySecret
	}
	key, err := secretEncoding.DecodeString(normalized)
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return key, nil
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
