package kairosauth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/kairosauth/credential"
	"github.com/MrEthical07/kairosauth/internal/logger"
	"github.com/MrEthical07/kairosauth/notify"
	"github.com/MrEthical07/kairosauth/token"
)

// Register creates an unverified account and sends an email verification
// link. It returns the new user ID.
//
// The verification link is sent best-effort: the account and its token
// exist even when the notifier fails.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (string, error) {
	if !e.ready() || e.tokens == nil {
		return "", ErrEngineNotReady
	}

	email := credential.NormalizeEmail(req.Email)
	if !validEmail(email) {
		e.emitAudit(ctx, auditRecord{eventType: auditEventAccountRegistered, email: email, err: ErrInvalidEmail})
		return "", ErrInvalidEmail
	}
	if err := e.policy.Validate(req.Password, email); err != nil {
		e.emitAudit(ctx, auditRecord{eventType: auditEventAccountRegistered, email: email, err: ErrPasswordPolicy})
		return "", fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
	}

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
	}

	user, err := e.credentials.Create(ctx, credential.NewUser{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    e.now(),
	})
	if err != nil {
		if errors.Is(err, credential.ErrDuplicateEmail) {
			e.metricInc(MetricRegistrationDuplicate)
			e.emitAudit(ctx, auditRecord{eventType: auditEventAccountRegistered, email: email, err: ErrEmailTaken})
			return "", ErrEmailTaken
		}
		e.logger.Error("account create failed", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
		return "", ErrBackendUnavailable
	}

	e.metricInc(MetricRegistrationSuccess)
	e.emitAudit(ctx, auditRecord{eventType: auditEventAccountRegistered, success: true, userID: user.ID, email: email})

	if err := e.sendVerification(ctx, user); err != nil {
		e.logger.Warn("verification token not issued", zap.String("user_id", user.ID), zap.Error(err))
	}
	return user.ID, nil
}

// VerifyEmail redeems an email verification token.
func (e *Engine) VerifyEmail(ctx context.Context, value string) error {
	if !e.ready() || e.tokens == nil {
		return ErrEngineNotReady
	}

	t, err := e.tokens.Consume(ctx, value, token.PurposeEmailVerification)
	if err != nil {
		mapped := mapTokenError(err)
		if errors.Is(mapped, ErrTokenInvalidOrExpired) {
			e.metricInc(MetricEmailVerificationFailure)
		} else {
			e.logger.Error("verification token consume failed", zap.Error(err))
		}
		e.emitAudit(ctx, auditRecord{eventType: auditEventEmailVerification, err: mapped})
		return mapped
	}

	if err := e.credentials.MarkEmailVerified(ctx, t.UserID, e.now()); err != nil {
		e.logger.Error("mark email verified failed", zap.String("user_id", t.UserID), zap.Error(err))
		if errors.Is(err, credential.ErrNotFound) {
			return ErrTokenInvalidOrExpired
		}
		return ErrBackendUnavailable
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditRecord{eventType: auditEventEmailVerification, success: true, userID: t.UserID})
	return nil
}

// ResendVerification issues a fresh verification token, invalidating older
// ones, for an unverified account. Unknown and already verified addresses
// succeed silently.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	if !e.ready() || e.tokens == nil {
		return ErrEngineNotReady
	}

	email = credential.NormalizeEmail(email)
	if err := e.allowLinkRequest(ctx, linkPurposeVerification, email); err != nil {
		return err
	}

	user, found, err := e.credentials.FindByEmail(ctx, email)
	if err != nil {
		e.logger.Error("credential lookup failed", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
		return ErrBackendUnavailable
	}
	if !found || user.EmailVerified {
		return nil
	}

	e.metricInc(MetricEmailVerificationRequest)
	if err := e.sendVerification(ctx, user); err != nil {
		e.logger.Error("verification token not issued", zap.String("user_id", user.ID), zap.Error(err))
		return ErrBackendUnavailable
	}
	e.emitAudit(ctx, auditRecord{eventType: auditEventVerificationResent, success: true, userID: user.ID, email: email})
	return nil
}

func (e *Engine) sendVerification(ctx context.Context, user credential.UserCredential) error {
	ttl := e.config.Tokens.EmailVerificationTTL
	value, err := e.tokens.Issue(ctx, user.ID, token.PurposeEmailVerification, ttl)
	if err != nil {
		return err
	}
	e.sendLink(ctx, notify.KindEmailVerification, user, e.config.Notification.VerificationURL, value, ttl)
	return nil
}

// sendLink delivers a link message. Delivery failure is logged and counted;
// the token stays valid.
func (e *Engine) sendLink(ctx context.Context, kind notify.Kind, user credential.UserCredential, base, value string, ttl time.Duration) {
	link, err := notify.BuildLink(base, value)
	if err != nil {
		e.metricInc(MetricNotificationFailure)
		e.logger.Warn("notification link invalid", zap.String("kind", string(kind)), zap.Error(err))
		return
	}

	msg := notify.Message{
		Kind:      kind,
		UserID:    user.ID,
		Email:     user.Email,
		Link:      link,
		ExpiresAt: e.now().Add(ttl),
	}
	if err := e.notifier.Notify(ctx, msg); err != nil {
		e.metricInc(MetricNotificationFailure)
		e.logger.Warn("notification delivery failed",
			zap.String("kind", string(kind)),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}
}

func mapTokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, token.ErrInvalidOrExpired):
		return ErrTokenInvalidOrExpired
	default:
		return ErrBackendUnavailable
	}
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
