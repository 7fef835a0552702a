package kairosauth

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/kairosauth/credential"
	"github.com/MrEthical07/kairosauth/notify"
	"github.com/MrEthical07/kairosauth/store/memory"
	"github.com/MrEthical07/kairosauth/totp"
)

const (
	testEmail    = "a@x.com"
	testPassword = "Secret1!"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// outbox records every notification the engine sends.
type outbox struct {
	mu       sync.Mutex
	messages []notify.Message
	err      error
}

func (o *outbox) Notify(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return o.err
}

func (o *outbox) last(t *testing.T, kind notify.Kind) notify.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].Kind == kind {
			return o.messages[i]
		}
	}
	t.Fatalf("no %s notification sent", kind)
	return notify.Message{}
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	value := u.Query().Get("token")
	if value == "" {
		t.Fatalf("link %q has no token", link)
	}
	return value
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// testConfig uses cheap argon2 parameters and an HS256 key.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.SaltLength = 16
	cfg.Password.KeyLength = 32
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

type testEnv struct {
	engine *Engine
	creds  *memory.Credentials
	tokens *memory.Tokens
	sink   *ChannelSink
	outbox *outbox
	clock  *fakeClock
	mr     *miniredis.Miniredis
	redis  *redis.Client
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWithAudit(t, mutate, nil, nil)
}

// newTestEnvWithAudit builds the engine around sink and logger instead of
// the default channel sink and no-op logger.
func newTestEnvWithAudit(t *testing.T, mutate func(*Config), sink AuditSink, logger *zap.Logger) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mr, rdb := newTestRedis(t)
	env := &testEnv{
		creds:  memory.NewCredentials(),
		tokens: memory.NewTokens(),
		sink:   NewChannelSink(512),
		outbox: &outbox{},
		clock:  newFakeClock(),
		mr:     mr,
		redis:  rdb,
	}

	if sink == nil {
		sink = env.sink
	}
	builder := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(env.creds).
		WithTokenStore(env.tokens).
		WithNotifier(env.outbox).
		WithAuditSink(sink).
		WithClock(env.clock.Now)
	if logger != nil {
		builder = builder.WithLogger(logger)
	}
	engine, err := builder.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

// seedUser creates a verified account directly in the credential store.
func (env *testEnv) seedUser(t *testing.T, email, password string) string {
	t.Helper()

	hash, err := env.engine.passwordHash.Hash(password)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	user, err := env.creds.Create(context.Background(), credential.NewUser{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    env.clock.Now(),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := env.creds.MarkEmailVerified(context.Background(), user.ID, env.clock.Now()); err != nil {
		t.Fatalf("verify user: %v", err)
	}
	return user.ID
}

// enableTwoFactor runs the activation flow and returns the shared secret and
// the plaintext backup codes.
func (env *testEnv) enableTwoFactor(t *testing.T, userID string) (string, []string) {
	t.Helper()

	ctx := context.Background()
	setup, err := env.engine.BeginTwoFactorSetup(ctx, userID)
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup: %v", err)
	}
	codes, err := env.engine.ActivateTwoFactor(ctx, userID, env.code(t, setup.Secret))
	if err != nil {
		t.Fatalf("ActivateTwoFactor: %v", err)
	}
	// The activation code's step is spent.
	env.clock.Advance(time.Duration(env.engine.config.TOTP.Period) * time.Second)
	return setup.Secret, codes
}

// code returns the TOTP code for secret at the engine's current time.
func (env *testEnv) code(t *testing.T, secret string) string {
	t.Helper()

	generator := totp.New(totp.Config{
		Issuer:    env.engine.config.TOTP.Issuer,
		Digits:    env.engine.config.TOTP.Digits,
		Period:    env.engine.config.TOTP.Period,
		Algorithm: env.engine.config.TOTP.Algorithm,
	})
	c, err := generator.CodeAt(secret, env.clock.Now())
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	return c
}

// wrongCode returns a well-formed code that differs from every code inside
// the skew window.
func (env *testEnv) wrongCode(t *testing.T, secret string) string {
	t.Helper()

	period := time.Duration(env.engine.config.TOTP.Period) * time.Second
	valid := map[string]bool{}
	for _, d := range []time.Duration{-period, 0, period} {
		generator := totp.New(totp.Config{Digits: 6, Period: env.engine.config.TOTP.Period})
		c, err := generator.CodeAt(secret, env.clock.Now().Add(d))
		if err != nil {
			t.Fatalf("CodeAt: %v", err)
		}
		valid[c] = true
	}
	for _, candidate := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[candidate] {
			return candidate
		}
	}
	t.Fatal("no invalid code candidate")
	return ""
}

// waitForEvent reads audit events until one of eventType arrives.
func (env *testEnv) waitForEvent(t *testing.T, eventType string) AuditEvent {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-env.sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("audit event %q not received", eventType)
			return AuditEvent{}
		}
	}
}

// loginToPending logs in a 2FA account and returns the pending ID.
func (env *testEnv) loginToPending(t *testing.T, email, password string) string {
	t.Helper()

	res, err := env.engine.Login(context.Background(), LoginRequest{Email: email, Password: password})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.State != StatePendingTwoFactor {
		t.Fatalf("expected pending state, got %s", res.State)
	}
	return res.PendingID
}
