package kairosauth

import (
	"context"
	"errors"
	"testing"
)

func loginSession(t *testing.T, env *testEnv) *Session {
	t.Helper()
	res, err := env.engine.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res.Session
}

func TestValidateSessionRejectsGarbage(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := env.engine.ValidateSession(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized for %q, got %v", token, err)
		}
	}
}

func TestLogoutEndsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	userID := env.seedUser(t, testEmail, testPassword)
	sess := loginSession(t, env)

	if err := env.engine.Logout(context.Background(), sess.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := env.engine.ValidateSession(context.Background(), sess.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}

	ev := env.waitForEvent(t, auditEventLogoutSession)
	if !ev.Success || ev.UserID != userID || ev.SessionID != sess.ID {
		t.Fatalf("unexpected logout audit: %+v", ev)
	}

	if err := env.engine.Logout(context.Background(), sess.ID); err != nil {
		t.Fatalf("expected repeated logout to succeed, got %v", err)
	}
	if err := env.engine.Logout(context.Background(), ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for empty id, got %v", err)
	}
}

func TestLogoutAllEndsEverySession(t *testing.T) {
	env := newTestEnv(t, nil)
	userID := env.seedUser(t, testEmail, testPassword)

	sessions := []*Session{loginSession(t, env), loginSession(t, env), loginSession(t, env)}

	n, err := env.engine.LogoutAll(context.Background(), userID)
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if n != len(sessions) {
		t.Fatalf("expected %d sessions removed, got %d", len(sessions), n)
	}
	for _, s := range sessions {
		if _, err := env.engine.ValidateSession(context.Background(), s.AccessToken); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected session %s revoked, got %v", s.ID, err)
		}
	}

	n, err = env.engine.LogoutAll(context.Background(), userID)
	if err != nil || n != 0 {
		t.Fatalf("expected nothing left, n=%d err=%v", n, err)
	}
}

func TestValidateSessionBackendDown(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, testEmail, testPassword)
	sess := loginSession(t, env)

	env.mr.Close()
	if _, err := env.engine.ValidateSession(context.Background(), sess.AccessToken); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if err := env.engine.Ping(context.Background()); err == nil {
		t.Fatal("expected Ping to fail")
	}
}
