// Package config loads the daemon's settings from the environment.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MrEthical07/kairosauth"
)

// Config holds all configuration for kairos-authd.
type Config struct {
	Env            string   `mapstructure:"APP_ENV"`
	HTTPAddr       string   `mapstructure:"HTTP_ADDR"`
	AllowedOrigins []string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	SecureCookies  bool     `mapstructure:"SECURE_COOKIES"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	NotifyExchange string `mapstructure:"NOTIFY_EXCHANGE"`

	KafkaBrokers    []string `mapstructure:"KAFKA_BROKERS"`
	KafkaAuditTopic string   `mapstructure:"KAFKA_AUDIT_TOPIC"`
	AuditToPostgres bool     `mapstructure:"AUDIT_TO_POSTGRES"`

	JWTSigningMethod string `mapstructure:"JWT_SIGNING_METHOD"`
	JWTPrivateKey    string `mapstructure:"JWT_PRIVATE_KEY"`
	JWTPublicKey     string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer        string `mapstructure:"JWT_ISSUER"`

	TOTPIssuer      string `mapstructure:"TOTP_ISSUER"`
	VerificationURL string `mapstructure:"VERIFICATION_URL"`
	RecoveryURL     string `mapstructure:"RECOVERY_URL"`

	RequireVerifiedEmail bool          `mapstructure:"REQUIRE_VERIFIED_EMAIL"`
	PendingTTL           time.Duration `mapstructure:"TWO_FACTOR_PENDING_TTL"`
	MaxTwoFactorAttempts int           `mapstructure:"TWO_FACTOR_MAX_ATTEMPTS"`
	SessionTTL           time.Duration `mapstructure:"SESSION_TTL"`
	RememberMeTTL        time.Duration `mapstructure:"REMEMBER_ME_TTL"`

	TokenPurgeSchedule string        `mapstructure:"TOKEN_PURGE_SCHEDULE"`
	ShutdownTimeout    time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var keys = []string{
	"APP_ENV", "HTTP_ADDR", "CORS_ALLOWED_ORIGINS", "SECURE_COOKIES",
	"DATABASE_URL", "REDIS_URL",
	"RABBITMQ_URL", "NOTIFY_EXCHANGE",
	"KAFKA_BROKERS", "KAFKA_AUDIT_TOPIC", "AUDIT_TO_POSTGRES",
	"JWT_SIGNING_METHOD", "JWT_PRIVATE_KEY", "JWT_PUBLIC_KEY", "JWT_ISSUER",
	"TOTP_ISSUER", "VERIFICATION_URL", "RECOVERY_URL",
	"REQUIRE_VERIFIED_EMAIL", "TWO_FACTOR_PENDING_TTL", "TWO_FACTOR_MAX_ATTEMPTS",
	"SESSION_TTL", "REMEMBER_ME_TTL",
	"TOKEN_PURGE_SCHEDULE", "SHUTDOWN_TIMEOUT",
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	def := kairosauth.DefaultConfig()

	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	viper.SetDefault("NOTIFY_EXCHANGE", "kairos.notifications")
	viper.SetDefault("KAFKA_AUDIT_TOPIC", "kairos.audit")
	viper.SetDefault("JWT_SIGNING_METHOD", def.JWT.SigningMethod)
	viper.SetDefault("JWT_ISSUER", "kairos")
	viper.SetDefault("TOTP_ISSUER", def.TOTP.Issuer)
	viper.SetDefault("VERIFICATION_URL", def.Notification.VerificationURL)
	viper.SetDefault("RECOVERY_URL", def.Notification.RecoveryURL)
	viper.SetDefault("REQUIRE_VERIFIED_EMAIL", def.Security.RequireVerifiedEmail)
	viper.SetDefault("TWO_FACTOR_PENDING_TTL", def.TwoFactor.PendingTTL)
	viper.SetDefault("TWO_FACTOR_MAX_ATTEMPTS", def.TwoFactor.MaxAttempts)
	viper.SetDefault("SESSION_TTL", def.Session.TTL)
	viper.SetDefault("REMEMBER_ME_TTL", def.Session.RememberMeTTL)
	viper.SetDefault("TOKEN_PURGE_SCHEDULE", "@hourly")
	viper.SetDefault("SHUTDOWN_TIMEOUT", 15*time.Second)
	viper.AutomaticEnv()

	for _, k := range keys {
		_ = viper.BindEnv(k)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.AllowedOrigins = splitList(cfg.AllowedOrigins)
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if strings.TrimSpace(cfg.JWTPrivateKey) == "" {
		return nil, errors.New("JWT_PRIVATE_KEY is required")
	}
	return &cfg, nil
}

// EngineConfig overlays the environment on the engine defaults. Keys are
// standard base64.
func (c *Config) EngineConfig() (kairosauth.Config, error) {
	out := kairosauth.DefaultConfig()

	priv, err := base64.StdEncoding.DecodeString(c.JWTPrivateKey)
	if err != nil {
		return out, fmt.Errorf("decode JWT_PRIVATE_KEY: %w", err)
	}
	var pub []byte
	if c.JWTPublicKey != "" {
		if pub, err = base64.StdEncoding.DecodeString(c.JWTPublicKey); err != nil {
			return out, fmt.Errorf("decode JWT_PUBLIC_KEY: %w", err)
		}
	} else if strings.EqualFold(c.JWTSigningMethod, "ed25519") && len(priv) == ed25519.PrivateKeySize {
		pub = ed25519.PrivateKey(priv).Public().(ed25519.PublicKey)
	}

	out.JWT.SigningMethod = strings.ToLower(c.JWTSigningMethod)
	out.JWT.PrivateKey = priv
	out.JWT.PublicKey = pub
	out.JWT.Issuer = c.JWTIssuer
	out.TOTP.Issuer = c.TOTPIssuer
	out.Notification.VerificationURL = c.VerificationURL
	out.Notification.RecoveryURL = c.RecoveryURL
	out.Security.RequireVerifiedEmail = c.RequireVerifiedEmail
	out.TwoFactor.PendingTTL = c.PendingTTL
	out.TwoFactor.MaxAttempts = c.MaxTwoFactorAttempts
	out.Session.TTL = c.SessionTTL
	out.Session.RememberMeTTL = c.RememberMeTTL

	if err := out.Validate(); err != nil {
		return out, fmt.Errorf("engine config: %w", err)
	}
	return out, nil
}

// splitList drops blanks left by "a, b," style values.
func splitList(in []string) []string {
	var out []string
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
