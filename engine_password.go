package kairosauth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/kairosauth/credential"
	"github.com/MrEthical07/kairosauth/internal/limiters"
	"github.com/MrEthical07/kairosauth/internal/logger"
	"github.com/MrEthical07/kairosauth/notify"
	"github.com/MrEthical07/kairosauth/token"
)

// RequestPasswordRecovery emails a single-use reset link when email belongs
// to an account. It returns nil whether or not the account exists.
func (e *Engine) RequestPasswordRecovery(ctx context.Context, email string) error {
	if !e.ready() || e.tokens == nil {
		return ErrEngineNotReady
	}

	email = credential.NormalizeEmail(email)
	if err := e.allowLinkRequest(ctx, linkPurposeRecovery, email); err != nil {
		return err
	}
	e.metricInc(MetricPasswordRecoveryRequest)

	user, found, err := e.credentials.FindByEmail(ctx, email)
	if err != nil {
		e.logger.Error("credential lookup failed", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
		return ErrBackendUnavailable
	}
	if !found {
		e.emitAudit(ctx, auditRecord{eventType: auditEventPasswordRecoveryRequest, success: true, email: email})
		return nil
	}

	ttl := e.config.Tokens.PasswordRecoveryTTL
	value, err := e.tokens.Issue(ctx, user.ID, token.PurposePasswordRecovery, ttl)
	if err != nil {
		e.logger.Error("recovery token not issued", zap.String("user_id", user.ID), zap.Error(err))
		return ErrBackendUnavailable
	}
	e.sendLink(ctx, notify.KindPasswordRecovery, user, e.config.Notification.RecoveryURL, value, ttl)

	e.emitAudit(ctx, auditRecord{eventType: auditEventPasswordRecoveryRequest, success: true, userID: user.ID, email: email})
	return nil
}

// ResetPassword redeems a recovery token, sets newPassword and ends every
// session of the account.
func (e *Engine) ResetPassword(ctx context.Context, value, newPassword string) error {
	if !e.ready() || e.tokens == nil {
		return ErrEngineNotReady
	}

	// Check the policy first so a rejected password does not burn the token.
	if err := e.policy.Validate(newPassword); err != nil {
		e.metricInc(MetricPasswordResetFailure)
		return fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
	}

	t, err := e.tokens.Consume(ctx, value, token.PurposePasswordRecovery)
	if err != nil {
		mapped := mapTokenError(err)
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditRecord{eventType: auditEventPasswordReset, err: mapped})
		return mapped
	}

	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
	}
	if err := e.credentials.SetPassword(ctx, t.UserID, hash); err != nil {
		e.logger.Error("password reset write failed", zap.String("user_id", t.UserID), zap.Error(err))
		if errors.Is(err, credential.ErrNotFound) {
			return ErrTokenInvalidOrExpired
		}
		return ErrBackendUnavailable
	}

	e.revokeAllSessions(ctx, t.UserID)

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditRecord{eventType: auditEventPasswordReset, success: true, userID: t.UserID})
	return nil
}

// ChangePassword replaces the password of a signed-in user after checking
// the current one. Existing sessions are kept.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.passwordHash.Verify(current, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditRecord{eventType: auditEventPasswordChange, userID: user.ID, email: user.Email, err: ErrInvalidCredentials})
		return ErrInvalidCredentials
	}
	if err := e.policy.Validate(next, user.Email); err != nil {
		e.emitAudit(ctx, auditRecord{eventType: auditEventPasswordChange, userID: user.ID, email: user.Email, err: ErrPasswordPolicy})
		return fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
	}

	hash, err := e.passwordHash.Hash(next)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
	}
	if err := e.credentials.SetPassword(ctx, user.ID, hash); err != nil {
		e.logger.Error("password change write failed", zap.String("user_id", user.ID), zap.Error(err))
		return ErrBackendUnavailable
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditRecord{eventType: auditEventPasswordChange, success: true, userID: user.ID, email: user.Email})
	return nil
}

const (
	linkPurposeVerification = "verification"
	linkPurposeRecovery     = "recovery"
)

// allowLinkRequest applies the link throttle. It runs before the account
// lookup so known and unknown addresses spend the same budget.
func (e *Engine) allowLinkRequest(ctx context.Context, purpose, email string) error {
	err := e.linkLimiter.Allow(ctx, purpose, email, clientIPFromContext(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrLinkRequestLimited):
		e.metricInc(MetricLinkRateLimited)
		e.emitAudit(ctx, auditRecord{eventType: auditEventLinkRateLimited, email: email, err: ErrRequestRateLimited})
		return ErrRequestRateLimited
	default:
		e.logger.Error("link throttle unavailable", zap.String("purpose", purpose), zap.Error(err))
		return ErrBackendUnavailable
	}
}
