package kairosauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/kairosauth/password"
)

func TestLoginWithoutTwoFactorEstablishesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	userID := env.seedUser(t, testEmail, testPassword)

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.7"), "test-agent")
	res, err := env.engine.Login(ctx, LoginRequest{Email: "  A@X.com ", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.State != StateSessionEstablished {
		t.Fatalf("expected session_established, got %s", res.State)
	}
	if res.Session == nil || res.Session.UserID != userID {
		t.Fatalf("unexpected session: %+v", res.Session)
	}
	if res.Session.AuthMethod != AuthMethodPassword {
		t.Fatalf("expected password method, got %s", res.Session.AuthMethod)
	}
	if res.Session.Persistent {
		t.Fatal("expected non-persistent session without remember-me")
	}
	if res.PendingID != "" {
		t.Fatal("expected no pending ID")
	}

	ev := env.waitForEvent(t, auditEventLoginSuccess)
	if !ev.Success || ev.RequiresTwoFactor {
		t.Fatalf("unexpected audit flags: %+v", ev)
	}
	if ev.UserID != userID || ev.Email != testEmail {
		t.Fatalf("unexpected audit identity: %+v", ev)
	}
	if ev.IP != "198.51.100.7" || ev.UserAgent != "test-agent" {
		t.Fatalf("unexpected audit request context: %+v", ev)
	}

	got, err := env.engine.ValidateSession(context.Background(), res.Session.AccessToken)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if got.ID != res.Session.ID || got.AuthMethod != AuthMethodPassword {
		t.Fatalf("unexpected validated session: %+v", got)
	}
}

func TestLoginRememberMeUsesLongTTL(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, testEmail, testPassword)

	res, err := env.engine.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword, RememberMe: true})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.Session.Persistent {
		t.Fatal("expected persistent session")
	}
	ttl := res.Session.ExpiresAt.Sub(res.Session.CreatedAt)
	if ttl != env.engine.config.Session.RememberMeTTL {
		t.Fatalf("expected remember-me ttl %s, got %s", env.engine.config.Session.RememberMeTTL, ttl)
	}
}

func TestLoginUnknownEmailAndWrongPasswordIndistinguishable(t *testing.T) {
	env := newTestEnv(t, nil)
	userID := env.seedUser(t, testEmail, testPassword)

	_, errUnknown := env.engine.Login(context.Background(), LoginRequest{Email: "nobody@x.com", Password: testPassword})
	_, errWrong := env.engine.Login(context.Background(), LoginRequest{Email: testEmail, Password: "Wrong1!x"})

	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v and %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("expected identical messages, got %q and %q", errUnknown, errWrong)
	}

	first := env.waitForEvent(t, auditEventLoginFailure)
	if first.UserID != "" || first.Email != "nobody@x.com" || first.Success {
		t.Fatalf("unexpected unknown-email audit: %+v", first)
	}
	second := env.waitForEvent(t, auditEventLoginFailure)
	if second.UserID != userID || second.Reason != string(auditErrInvalidCredentials) {
		t.Fatalf("unexpected wrong-password audit: %+v", second)
	}
}

func TestLoginUnverifiedEmailBlockedAfterPassword(t *testing.T) {
	env := newTestEnv(t, nil)

	userID, err := env.engine.Register(context.Background(), RegisterRequest{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := env.engine.Login(context.Background(), LoginRequest{Email: testEmail, Password: "Wrong1!x"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected wrong password to win over unverified, got %v", err)
	}

	_, err = env.engine.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword})
	if !errors.Is(err, ErrAccountNotVerified) {
		t.Fatalf("expected ErrAccountNotVerified, got %v", err)
	}

	ev := env.waitForEvent(t, auditEventLoginFailure)
	for ev.Reason != string(auditErrAccountNotVerified) {
		ev = env.waitForEvent(t, auditEventLoginFailure)
	}
	if ev.UserID != userID {
		t.Fatalf("expected user id on audit, got %+v", ev)
	}
}

func TestLoginUnverifiedAllowedWhenNotRequired(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Security.RequireVerifiedEmail = false
	})

	if _, err := env.engine.Register(context.Background(), RegisterRequest{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res, err := env.engine.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.State != StateSessionEstablished {
		t.Fatalf("expected session, got %s", res.State)
	}
}

func TestLoginWithTwoFactorReturnsPending(t *testing.T) {
	env := newTestEnv(t, nil)
	userID := env.seedUser(t, testEmail, testPassword)
	env.enableTwoFactor(t, userID)

	res, err := env.engine.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.State != StatePendingTwoFactor {
		t.Fatalf("expected pending_two_factor, got %s", res.State)
	}
	if res.Session != nil {
		t.Fatal("expected no session before the second factor")
	}
	if res.PendingID == "" {
		t.Fatal("expected pending ID")
	}
	if res.AttemptsRemaining != 3 {
		t.Fatalf("expected 3 attempts remaining, got %d", res.AttemptsRemaining)
	}
	if want := env.clock.Now().Add(5 * time.Minute); !res.PendingExpiresAt.Equal(want) {
		t.Fatalf("expected pending expiry %s, got %s", want, res.PendingExpiresAt)
	}

	ev := env.waitForEvent(t, auditEventLoginPendingTwoFactor)
	if !ev.Success || !ev.RequiresTwoFactor || ev.UserID != userID {
		t.Fatalf("unexpected pending audit: %+v", ev)
	}
}

func TestLoginThrottlesAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Security.MaxLoginAttempts = 3
	})
	env.seedUser(t, testEmail, testPassword)

	for i := 0; i < 3; i++ {
		if _, err := env.engine.Login(context.Background(), LoginRequest{Email: testEmail, Password: "Wrong1!x"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	_, err := env.engine.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword})
	if !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}
	env.waitForEvent(t, auditEventLoginRateLimited)

	env.mr.FastForward(16 * time.Minute)
	if _, err := env.engine.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("expected login after window, got %v", err)
	}
}

func TestLoginSuccessResetsEmailCounter(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Security.MaxLoginAttempts = 3
	})
	env.seedUser(t, testEmail, testPassword)

	for i := 0; i < 2; i++ {
		_, _ = env.engine.Login(context.Background(), LoginRequest{Email: testEmail, Password: "Wrong1!x"})
	}
	if _, err := env.engine.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	attempts, err := env.engine.limiter.LoginAttempts(context.Background(), testEmail)
	if err != nil {
		t.Fatalf("LoginAttempts: %v", err)
	}
	if attempts != 0 {
		t.Fatalf("expected counter reset, got %d", attempts)
	}
}

func TestLoginUpgradesStaleHash(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Password.Time = 2
	})

	old, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	hash, err := old.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	userID := env.seedUser(t, testEmail, "Other1!x")
	if err := env.creds.SetPassword(context.Background(), userID, hash); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	if _, err := env.engine.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	user, _, _ := env.creds.FindByID(context.Background(), userID)
	if user.PasswordHash == hash {
		t.Fatal("expected password hash to be upgraded")
	}
	needs, err := env.engine.passwordHash.NeedsUpgrade(user.PasswordHash)
	if err != nil || needs {
		t.Fatalf("expected current parameters, needs=%v err=%v", needs, err)
	}
}

func TestLoginBeforeBuildNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
