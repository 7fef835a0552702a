package kairosauth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/kairosauth/credential"
	"github.com/MrEthical07/kairosauth/internal/logger"
	"github.com/MrEthical07/kairosauth/internal/rate"
	"github.com/MrEthical07/kairosauth/internal/stores"
)

// Login verifies the primary factor.
//
// An unknown email and a wrong password both return ErrInvalidCredentials
// after the same amount of hashing work. A correct password for an account
// without 2FA returns StateSessionEstablished with a new session. With 2FA
// enabled it returns StatePendingTwoFactor and a PendingID that must be
// passed to VerifyTwoFactor before PendingExpiresAt.
//
// Every outcome is audited before Login returns.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeLatency(MetricLoginLatency, start)

	email := credential.NormalizeEmail(req.Email)
	ip := clientIPFromContext(ctx)

	if err := e.limiter.CheckLogin(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditRecord{eventType: auditEventLoginRateLimited, email: email, err: ErrLoginRateLimited})
			return nil, ErrLoginRateLimited
		}
		e.logger.Error("login throttle check failed", zap.Error(err))
		e.emitAudit(ctx, auditRecord{eventType: auditEventLoginFailure, email: email, err: ErrBackendUnavailable})
		return nil, ErrBackendUnavailable
	}

	user, found, err := e.credentials.FindByEmail(ctx, email)
	if err != nil {
		e.logger.Error("credential lookup failed", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
		e.emitAudit(ctx, auditRecord{eventType: auditEventLoginFailure, email: email, err: ErrBackendUnavailable})
		return nil, ErrBackendUnavailable
	}

	if !found {
		// Burn the same argon2 work as a real verification.
		_, _ = e.passwordHash.Verify(req.Password, e.dummyHash)
		return nil, e.failPrimary(ctx, email, ip, "")
	}

	ok, err := e.passwordHash.Verify(req.Password, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.failPrimary(ctx, email, ip, user.ID)
	}

	if err := e.limiter.ResetLogin(ctx, email); err != nil {
		e.logger.Warn("login throttle reset failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	e.upgradePasswordHash(ctx, user, req.Password)

	if e.config.Security.RequireVerifiedEmail && !user.EmailVerified {
		e.metricInc(MetricLoginNotVerified)
		e.emitAudit(ctx, auditRecord{eventType: auditEventLoginFailure, userID: user.ID, email: email, err: ErrAccountNotVerified})
		return nil, ErrAccountNotVerified
	}

	if !user.TwoFactorEnabled {
		sess, err := e.establishSession(ctx, user.ID, AuthMethodPassword, req.RememberMe)
		if err != nil {
			e.emitAudit(ctx, auditRecord{eventType: auditEventLoginFailure, userID: user.ID, email: email, err: err})
			return nil, err
		}
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditRecord{
			eventType: auditEventLoginSuccess,
			success:   true,
			userID:    user.ID,
			email:     email,
			sessionID: sess.ID,
			metadata:  map[string]string{"method": string(AuthMethodPassword)},
		})
		return &LoginResult{
			State:   StateSessionEstablished,
			UserID:  user.ID,
			Session: sess,
		}, nil
	}

	return e.beginPendingTwoFactor(ctx, user, email, req.RememberMe)
}

func (e *Engine) beginPendingTwoFactor(ctx context.Context, user credential.UserCredential, email string, rememberMe bool) (*LoginResult, error) {
	id, err := e.newID()
	if err != nil {
		e.logger.Error("pending two-factor id generation failed", zap.String("user_id", user.ID), zap.Error(err))
		e.emitAudit(ctx, auditRecord{eventType: auditEventLoginFailure, requiresTwoFactor: true, userID: user.ID, email: email, err: err})
		return nil, err
	}
	pendingID := id.String()

	now := e.now()
	record := &stores.PendingTwoFactor{
		UserID:     user.ID,
		CreatedAt:  now,
		RememberMe: rememberMe,
	}
	if err := e.pending.Save(ctx, pendingID, record, e.config.TwoFactor.PendingTTL); err != nil {
		e.logger.Error("pending two-factor save failed", zap.String("user_id", user.ID), zap.Error(err))
		e.emitAudit(ctx, auditRecord{eventType: auditEventLoginFailure, requiresTwoFactor: true, userID: user.ID, email: email, err: ErrBackendUnavailable})
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditRecord{
		eventType:         auditEventLoginPendingTwoFactor,
		success:           true,
		requiresTwoFactor: true,
		userID:            user.ID,
		email:             email,
	})

	return &LoginResult{
		State:             StatePendingTwoFactor,
		UserID:            user.ID,
		PendingID:         pendingID,
		PendingExpiresAt:  now.Add(e.config.TwoFactor.PendingTTL),
		AttemptsRemaining: e.config.TwoFactor.MaxAttempts,
	}, nil
}

// failPrimary records a failed primary login and returns the uniform error.
func (e *Engine) failPrimary(ctx context.Context, email, ip, userID string) error {
	if err := e.limiter.IncrementLogin(ctx, email, ip); err != nil {
		e.logger.Warn("login throttle increment failed", zap.Error(err))
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditRecord{eventType: auditEventLoginFailure, userID: userID, email: email, err: ErrInvalidCredentials})
	return ErrInvalidCredentials
}

// upgradePasswordHash rehashes with the current argon2 parameters when the
// stored hash is older. Failure never blocks the login.
func (e *Engine) upgradePasswordHash(ctx context.Context, user credential.UserCredential, plain string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	stale, err := e.passwordHash.NeedsUpgrade(user.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.passwordHash.Hash(plain)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if err := e.credentials.SetPassword(ctx, user.ID, hash); err != nil {
		e.logger.Warn("password hash upgrade failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}
