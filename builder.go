package kairosauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/kairosauth/credential"
	"github.com/MrEthical07/kairosauth/internal"
	"github.com/MrEthical07/kairosauth/internal/audit"
	"github.com/MrEthical07/kairosauth/internal/limiters"
	"github.com/MrEthical07/kairosauth/internal/rate"
	"github.com/MrEthical07/kairosauth/internal/stores"
	"github.com/MrEthical07/kairosauth/jwt"
	"github.com/MrEthical07/kairosauth/notify"
	"github.com/MrEthical07/kairosauth/password"
	"github.com/MrEthical07/kairosauth/session"
	"github.com/MrEthical07/kairosauth/token"
	"github.com/MrEthical07/kairosauth/totp"
)

// dummyPassword is hashed once at build time. Logins for unknown emails
// verify against it so they cost the same as a wrong password.
const dummyPassword = "kairos-timing-equalizer"

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config      Config
	redis       redis.UniversalClient
	credentials credential.Store
	tokenStore  token.Store
	notifier    notify.Notifier
	auditSink   AuditSink
	logger      *zap.Logger
	now         func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for pending logins, sessions and login
// throttling.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCredentialStore(store credential.Store) *Builder {
	b.credentials = store
	return b
}

func (b *Builder) WithTokenStore(store token.Store) *Builder {
	b.tokenStore = store
	return b
}

// WithNotifier sets the outbound notification channel. Without one,
// notifications are logged and dropped.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the clock used for pending-login age, token expiry
// and session timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}
	if b.tokenStore == nil {
		return nil, errors.New("token store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	notifier := b.notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}

	engine := &Engine{
		config:      cloneConfig(cfg),
		logger:      logger,
		credentials: b.credentials,
		tokens:      token.NewIssuer(b.tokenStore, now),
		pending:     stores.NewPendingTwoFactorStore(b.redis, cfg.TwoFactor.RedisPrefix),
		totpSteps:   stores.NewTOTPStepStore(b.redis, ""),
		sessions:    session.NewStore(b.redis, cfg.Session.RedisPrefix),
		notifier:    notifier,
		now:         now,
		newID:       internal.NewSessionID,
	}

	engine.limiter = rate.New(b.redis, rate.Config{
		Enabled:          cfg.Security.EnableLoginThrottle,
		EnableIPThrottle: cfg.Security.EnableIPThrottle,
		MaxLoginAttempts: cfg.Security.MaxLoginAttempts,
		LoginWindow:      cfg.Security.LoginWindow,
	})
	if cfg.Security.EnableLinkThrottle {
		engine.linkLimiter = limiters.NewLinkRequestLimiter(b.redis, limiters.LinkRequestConfig{
			EnableEmailThrottle: true,
			EnableIPThrottle:    cfg.Security.EnableIPThrottle,
			MaxRequests:         cfg.Security.MaxLinkRequests,
			Window:              cfg.Security.LinkWindow,
		})
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		Synchronous: cfg.Audit.Synchronous,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.totp = totp.New(totp.Config{
		Issuer:    cfg.TOTP.Issuer,
		Digits:    cfg.TOTP.Digits,
		Period:    cfg.TOTP.Period,
		Algorithm: cfg.TOTP.Algorithm,
		Skew:      cfg.TOTP.Skew,
	})
	engine.policy = password.PolicyFromConfig(cfg.Password.Policy)

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	dummy, err := ph.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}
	engine.dummyHash = dummy

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Session.TTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}
