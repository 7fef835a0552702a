package kairosauth

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/kairosauth/password"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override what differs; Build validates the result.
type Config struct {
	Password     PasswordConfig
	TOTP         TOTPConfig
	BackupCodes  BackupCodeConfig
	TwoFactor    TwoFactorConfig
	Tokens       TokenConfig
	Session      SessionConfig
	JWT          JWTConfig
	Security     SecurityConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
	Notification NotificationConfig
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id cost parameters and the password policy.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
	Policy         password.PolicyConfig
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	Skew      int
	// EnforceReplayProtection rejects a code whose time step is not newer
	// than the last step accepted for the same user.
	EnforceReplayProtection bool
}

type BackupCodeConfig struct {
	Count  int
	Length int
}

// TwoFactorConfig bounds the pending state between a verified password and
// a verified second factor.
type TwoFactorConfig struct {
	PendingTTL  time.Duration
	MaxAttempts int
	RedisPrefix string
}

/*
====================================
TOKENS / SESSION / JWT
====================================
*/

type TokenConfig struct {
	EmailVerificationTTL time.Duration
	PasswordRecoveryTTL  time.Duration
	// PurgeGrace keeps expired tokens this long before PurgeExpiredTokens
	// deletes them.
	PurgeGrace time.Duration
}

// SessionConfig controls established sessions. RememberMeTTL applies when
// the login asked to be remembered, TTL otherwise.
type SessionConfig struct {
	RedisPrefix   string
	TTL           time.Duration
	RememberMeTTL time.Duration
}

type JWTConfig struct {
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SECURITY / AUDIT / METRICS
====================================
*/

type SecurityConfig struct {
	// RequireVerifiedEmail blocks login until the email is verified. It is
	// evaluated only after the password is verified.
	RequireVerifiedEmail bool
	EnableLoginThrottle  bool
	EnableIPThrottle     bool
	MaxLoginAttempts     int
	LoginWindow          time.Duration

	// Link throttle caps verification resends and recovery requests per
	// email and per client IP.
	EnableLinkThrottle bool
	MaxLinkRequests    int
	LinkWindow         time.Duration
}

// AuditConfig controls the security audit log. With Synchronous set, every
// event reaches the sink before the engine call returns; BufferSize and
// DropIfFull apply only to buffered delivery.
type AuditConfig struct {
	Enabled      bool
	Synchronous  bool
	WriteTimeout time.Duration
	BufferSize   int
	DropIfFull   bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// NotificationConfig holds the base URLs that links are built from. The
// token is appended as the "token" query parameter.
type NotificationConfig struct {
	VerificationURL string
	RecoveryURL     string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. JWT keys are left empty and
// must be supplied.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		Password: PasswordConfig{
			Memory:         pw.Memory,
			Time:           pw.Time,
			Parallelism:    pw.Parallelism,
			SaltLength:     pw.SaltLength,
			KeyLength:      pw.KeyLength,
			UpgradeOnLogin: true,
			Policy:         password.DefaultPolicyConfig(),
		},
		TOTP: TOTPConfig{
			Issuer:    "Kairos",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,

			EnforceReplayProtection: true,
		},
		BackupCodes: BackupCodeConfig{
			Count:  10,
			Length: 8,
		},
		TwoFactor: TwoFactorConfig{
			PendingTTL:  5 * time.Minute,
			MaxAttempts: 3,
			RedisPrefix: "p2fa",
		},
		Tokens: TokenConfig{
			EmailVerificationTTL: 24 * time.Hour,
			PasswordRecoveryTTL:  time.Hour,
			PurgeGrace:           24 * time.Hour,
		},
		Session: SessionConfig{
			RedisPrefix:   "ks",
			TTL:           12 * time.Hour,
			RememberMeTTL: 14 * 24 * time.Hour,
		},
		JWT: JWTConfig{
			SigningMethod: "ed25519",
			Issuer:        "kairos",
		},
		Security: SecurityConfig{
			RequireVerifiedEmail: true,
			EnableLoginThrottle:  true,
			EnableIPThrottle:     true,
			MaxLoginAttempts:     10,
			LoginWindow:          15 * time.Minute,
			EnableLinkThrottle:   true,
			MaxLinkRequests:      5,
			LinkWindow:           time.Hour,
		},
		Audit: AuditConfig{
			Enabled:      true,
			Synchronous:  true,
			WriteTimeout: 5 * time.Second,
			BufferSize:   1024,
			DropIfFull:   false,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Notification: NotificationConfig{
			VerificationURL: "http://localhost:8080/verify-email",
			RecoveryURL:     "http://localhost:8080/reset-password",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.Policy.MinLength < 8 {
		return errors.New("Password Policy MinLength must be >= 8")
	}
	if c.Password.Policy.MinStrengthScore < 0 || c.Password.Policy.MinStrengthScore > 4 {
		return errors.New("Password Policy MinStrengthScore must be between 0 and 4")
	}

	// TOTP
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be between 0 and 2")
	}
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must be set")
	}

	// Backup codes
	if c.BackupCodes.Count <= 0 {
		return errors.New("BackupCodes Count must be > 0")
	}
	if c.BackupCodes.Length < 8 {
		return errors.New("BackupCodes Length must be >= 8")
	}

	// Pending two-factor
	if c.TwoFactor.PendingTTL <= 0 {
		return errors.New("TwoFactor PendingTTL must be > 0")
	}
	if c.TwoFactor.MaxAttempts <= 0 || c.TwoFactor.MaxAttempts > 10 {
		return errors.New("TwoFactor MaxAttempts must be between 1 and 10")
	}

	// Tokens
	if c.Tokens.EmailVerificationTTL <= 0 {
		return errors.New("Tokens EmailVerificationTTL must be > 0")
	}
	if c.Tokens.PasswordRecoveryTTL <= 0 {
		return errors.New("Tokens PasswordRecoveryTTL must be > 0")
	}
	if c.Tokens.PurgeGrace < 0 {
		return errors.New("Tokens PurgeGrace must be >= 0")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.RememberMeTTL < c.Session.TTL {
		return errors.New("Session RememberMeTTL must be >= TTL")
	}

	// JWT
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT PrivateKey must be set")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 PrivateKey must be >= 32 bytes")
	}

	// Security
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("Security MaxLoginAttempts must be > 0")
		}
		if c.Security.LoginWindow <= 0 {
			return errors.New("Security LoginWindow must be > 0")
		}
	}
	if c.Security.EnableLinkThrottle {
		if c.Security.MaxLinkRequests <= 0 {
			return errors.New("Security MaxLinkRequests must be > 0")
		}
		if c.Security.LinkWindow <= 0 {
			return errors.New("Security LinkWindow must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Audit.Enabled && c.Audit.WriteTimeout <= 0 {
		return errors.New("Audit WriteTimeout must be > 0")
	}

	return nil
}
