package kairosauth

import (
	"context"
	"crypto/sha256"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/kairosauth/session"
)

// establishSession persists a new session for userID and signs its access
// token. The token carries the session ID and the methods that completed
// the login.
func (e *Engine) establishSession(ctx context.Context, userID string, method AuthMethod, rememberMe bool) (*Session, error) {
	sid, err := e.newID()
	if err != nil {
		return nil, err
	}
	sessionID := sid.String()

	ttl := e.config.Session.TTL
	if rememberMe {
		ttl = e.config.Session.RememberMeTTL
	}

	now := e.now()
	expiresAt := now.Add(ttl)
	record := &session.Session{
		SessionID:     sessionID,
		UserID:        userID,
		AuthMethod:    string(method),
		Persistent:    rememberMe,
		IPHash:        sha256.Sum256([]byte(clientIPFromContext(ctx))),
		UserAgentHash: sha256.Sum256([]byte(userAgentFromContext(ctx))),
		CreatedAt:     now.Unix(),
		ExpiresAt:     expiresAt.Unix(),
	}
	if err := e.sessions.Save(ctx, record, ttl); err != nil {
		return nil, mapSessionStoreError(err)
	}

	access, err := e.jwtManager.CreateAccess(userID, sessionID, method.amr(), ttl)
	if err != nil {
		_ = e.sessions.Delete(ctx, sessionID)
		return nil, err
	}

	e.metricInc(MetricSessionCreated)

	return &Session{
		ID:          sessionID,
		UserID:      userID,
		AuthMethod:  method,
		Persistent:  rememberMe,
		CreatedAt:   time.Unix(record.CreatedAt, 0),
		ExpiresAt:   time.Unix(record.ExpiresAt, 0),
		AccessToken: access,
	}, nil
}

// ValidateSession verifies an access token and loads its session. A token
// whose session was logged out or expired is rejected with
// ErrSessionNotFound even while the signature is still valid.
func (e *Engine) ValidateSession(ctx context.Context, accessToken string) (*Session, error) {
	if e == nil || e.jwtManager == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeLatency(MetricValidateLatency, start)

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrUnauthorized
	}

	record, err := e.sessions.Get(ctx, claims.SID)
	if err != nil {
		return nil, mapSessionStoreError(err)
	}
	if record.UserID != claims.UID {
		return nil, ErrUnauthorized
	}

	return &Session{
		ID:         record.SessionID,
		UserID:     record.UserID,
		AuthMethod: AuthMethod(record.AuthMethod),
		Persistent: record.Persistent,
		CreatedAt:  time.Unix(record.CreatedAt, 0),
		ExpiresAt:  time.Unix(record.ExpiresAt, 0),
	}, nil
}

// Logout ends one session. Logging out an unknown session succeeds.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if sessionID == "" {
		return ErrSessionNotFound
	}

	var userID string
	if record, err := e.sessions.Get(ctx, sessionID); err == nil {
		userID = record.UserID
	}

	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		mapped := mapSessionStoreError(err)
		e.emitAudit(ctx, auditRecord{eventType: auditEventLogoutSession, userID: userID, sessionID: sessionID, err: mapped})
		return mapped
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditRecord{eventType: auditEventLogoutSession, success: true, userID: userID, sessionID: sessionID})
	return nil
}

// LogoutAll ends every session of userID and returns how many were removed.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	n, err := e.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		mapped := mapSessionStoreError(err)
		e.emitAudit(ctx, auditRecord{eventType: auditEventLogoutAll, userID: userID, err: mapped})
		return 0, mapped
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditRecord{
		eventType: auditEventLogoutAll,
		success:   true,
		userID:    userID,
		metadata:  map[string]string{"sessions": strconv.Itoa(n)},
	})
	return n, nil
}

// revokeAllSessions is used after a password reset. Failure is logged; the
// password change itself already succeeded.
func (e *Engine) revokeAllSessions(ctx context.Context, userID string) {
	n, err := e.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		e.logger.Warn("session revocation failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if n > 0 {
		e.logger.Info("sessions revoked", zap.String("user_id", userID), zap.Int("count", n))
	}
}

func mapSessionStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrRedisUnavailable):
		return ErrBackendUnavailable
	case errors.Is(err, session.ErrInvalidEncoding):
		return ErrSessionNotFound
	default:
		return err
	}
}
