package kairosauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/kairosauth/notify"
	"github.com/MrEthical07/kairosauth/password"
)

func TestRegisterAndVerifyEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	userID, err := env.engine.Register(ctx, RegisterRequest{Email: " A@x.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	user, found, err := env.creds.FindByEmail(ctx, testEmail)
	if err != nil || !found {
		t.Fatalf("expected stored user, found=%v err=%v", found, err)
	}
	if user.ID != userID || user.EmailVerified {
		t.Fatalf("unexpected stored user: %+v", user)
	}

	msg := env.outbox.last(t, notify.KindEmailVerification)
	if msg.UserID != userID || msg.Email != testEmail {
		t.Fatalf("unexpected notification: %+v", msg)
	}
	if want := env.clock.Now().Add(24 * time.Hour); !msg.ExpiresAt.Equal(want) {
		t.Fatalf("expected 24h link, got %s", msg.ExpiresAt)
	}
	value := tokenFromLink(t, msg.Link)

	if err := env.engine.VerifyEmail(ctx, value); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	user, _, _ = env.creds.FindByID(ctx, userID)
	if !user.EmailVerified {
		t.Fatal("expected email verified")
	}

	if err := env.engine.VerifyEmail(ctx, value); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected single-use token, got %v", err)
	}

	if _, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("Login after verification: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, RegisterRequest{Email: "not-an-email", Password: testPassword}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}

	_, err := env.engine.Register(ctx, RegisterRequest{Email: testEmail, Password: "secret1!"})
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	var v *password.ViolationError
	if !errors.As(err, &v) || v.Code != "uppercase" {
		t.Fatalf("expected uppercase violation, got %v", err)
	}

	if _, err := env.engine.Register(ctx, RegisterRequest{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := env.engine.Register(ctx, RegisterRequest{Email: "A@X.COM", Password: testPassword}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterSurvivesNotifierFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.outbox.err = errors.New("smtp down")

	userID, err := env.engine.Register(context.Background(), RegisterRequest{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}

	value := tokenFromLink(t, env.outbox.last(t, notify.KindEmailVerification).Link)
	if err := env.engine.VerifyEmail(context.Background(), value); err != nil {
		t.Fatalf("expected issued token to stay valid, got %v", err)
	}
	user, _, _ := env.creds.FindByID(context.Background(), userID)
	if !user.EmailVerified {
		t.Fatal("expected email verified")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricNotificationFailure]; got != 1 {
		t.Fatalf("expected one notification failure, got %d", got)
	}
}

func TestVerifyEmailExpiredToken(t *testing.T) {
	env := newTestEnv(t, nil)

	if _, err := env.engine.Register(context.Background(), RegisterRequest{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	value := tokenFromLink(t, env.outbox.last(t, notify.KindEmailVerification).Link)

	env.clock.Advance(24*time.Hour + time.Second)
	if err := env.engine.VerifyEmail(context.Background(), value); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected ErrTokenInvalidOrExpired, got %v", err)
	}
}

func TestResendVerificationInvalidatesEarlierToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, RegisterRequest{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	first := tokenFromLink(t, env.outbox.last(t, notify.KindEmailVerification).Link)

	if err := env.engine.ResendVerification(ctx, testEmail); err != nil {
		t.Fatalf("ResendVerification: %v", err)
	}
	second := tokenFromLink(t, env.outbox.last(t, notify.KindEmailVerification).Link)
	if first == second {
		t.Fatal("expected a new token")
	}

	if err := env.engine.VerifyEmail(ctx, first); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected first token invalidated, got %v", err)
	}
	if err := env.engine.VerifyEmail(ctx, second); err != nil {
		t.Fatalf("VerifyEmail with second token: %v", err)
	}

	sent := env.outbox.count()
	if err := env.engine.ResendVerification(ctx, testEmail); err != nil {
		t.Fatalf("ResendVerification on verified account: %v", err)
	}
	if err := env.engine.ResendVerification(ctx, "nobody@x.com"); err != nil {
		t.Fatalf("ResendVerification on unknown email: %v", err)
	}
	if env.outbox.count() != sent {
		t.Fatal("expected no notification for verified or unknown accounts")
	}
}

func TestPasswordRecoveryFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, testEmail, testPassword)

	res, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := env.engine.RequestPasswordRecovery(ctx, testEmail); err != nil {
		t.Fatalf("RequestPasswordRecovery: %v", err)
	}
	msg := env.outbox.last(t, notify.KindPasswordRecovery)
	if want := env.clock.Now().Add(time.Hour); !msg.ExpiresAt.Equal(want) {
		t.Fatalf("expected 1h link, got %s", msg.ExpiresAt)
	}
	value := tokenFromLink(t, msg.Link)

	if err := env.engine.ResetPassword(ctx, value, "weak"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, value, "NewSecret2$"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if err := env.engine.ResetPassword(ctx, value, "NewSecret3$"); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected used token rejected, got %v", err)
	}

	if _, err := env.engine.ValidateSession(ctx, res.Session.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected sessions revoked after reset, got %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: "NewSecret2$"}); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
}

func TestPasswordRecoveryUnknownEmailSilent(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.engine.RequestPasswordRecovery(context.Background(), "nobody@x.com"); err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
	if env.outbox.count() != 0 {
		t.Fatal("expected no notification for an unknown email")
	}
}

func TestLinkRequestsThrottled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Security.MaxLinkRequests = 2
	})
	env.seedUser(t, testEmail, testPassword)
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	for i := 0; i < 2; i++ {
		if err := env.engine.RequestPasswordRecovery(ctx, testEmail); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := env.engine.RequestPasswordRecovery(ctx, testEmail); !errors.Is(err, ErrRequestRateLimited) {
		t.Fatalf("expected ErrRequestRateLimited, got %v", err)
	}
	if env.outbox.count() != 2 {
		t.Fatalf("expected 2 recovery messages, got %d", env.outbox.count())
	}

	// Unknown addresses spend budget the same way.
	other := WithClientIP(context.Background(), "198.51.100.4")
	_ = env.engine.RequestPasswordRecovery(other, "nobody@x.com")
	_ = env.engine.RequestPasswordRecovery(other, "nobody@x.com")
	if err := env.engine.RequestPasswordRecovery(other, "nobody@x.com"); !errors.Is(err, ErrRequestRateLimited) {
		t.Fatalf("expected unknown email throttled, got %v", err)
	}

	// Resend has its own budget.
	if err := env.engine.ResendVerification(ctx, testEmail); err != nil {
		t.Fatalf("ResendVerification: %v", err)
	}

	ev := env.waitForEvent(t, auditEventLinkRateLimited)
	if ev.Success || ev.Reason != string(auditErrRateLimited) || ev.Email != testEmail {
		t.Fatalf("unexpected audit event: %+v", ev)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLinkRateLimited]; got != 2 {
		t.Fatalf("expected 2 throttled requests counted, got %d", got)
	}

	env.mr.FastForward(time.Hour + time.Second)
	if err := env.engine.RequestPasswordRecovery(ctx, testEmail); err != nil {
		t.Fatalf("expected window reset, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	userID := env.seedUser(t, testEmail, testPassword)

	if err := env.engine.ChangePassword(ctx, userID, "Wrong1!x", "NewSecret2$"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := env.engine.ChangePassword(ctx, userID, testPassword, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := env.engine.ChangePassword(ctx, userID, testPassword, "NewSecret2$"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: "NewSecret2$"}); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
	if err := env.engine.ChangePassword(ctx, "unknown", testPassword, "NewSecret2$"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown user, got %v", err)
	}
}

func TestPurgeExpiredTokens(t *testing.T) {
	env := newTestEnv(t, nil)

	if _, err := env.engine.Register(context.Background(), RegisterRequest{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	n, err := env.engine.PurgeExpiredTokens(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected nothing purged yet, n=%d err=%v", n, err)
	}

	env.clock.Advance(48*time.Hour + time.Second)
	n, err = env.engine.PurgeExpiredTokens(context.Background())
	if err != nil {
		t.Fatalf("PurgeExpiredTokens: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one purged token, got %d", n)
	}
}
