package kairosauth

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

const (
	auditEventLoginSuccess              = "login_success"
	auditEventLoginFailure              = "login_failure"
	auditEventLoginRateLimited          = "login_rate_limited"
	auditEventLinkRateLimited           = "link_request_rate_limited"
	auditEventLoginPendingTwoFactor     = "login_pending_two_factor"
	auditEventTwoFactorFailure          = "two_factor_failure"
	auditEventTwoFactorExpired          = "two_factor_expired"
	auditEventTwoFactorAttemptsExceeded = "two_factor_attempts_exceeded"
	auditEventTwoFactorSetupRequested   = "two_factor_setup_requested"
	auditEventTwoFactorEnabled          = "two_factor_enabled"
	auditEventTwoFactorDisabled         = "two_factor_disabled"
	auditEventAccountRegistered         = "account_registered"
	auditEventEmailVerification         = "email_verification"
	auditEventVerificationResent        = "email_verification_resent"
	auditEventPasswordRecoveryRequest   = "password_recovery_request"
	auditEventPasswordReset             = "password_reset"
	auditEventPasswordChange            = "password_change"
	auditEventLogoutSession             = "logout_session"
	auditEventLogoutAll                 = "logout_all"
)

// AuditErrorCode is the machine-readable failure reason on audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials      AuditErrorCode = "invalid_credentials"
	auditErrAccountNotVerified      AuditErrorCode = "account_not_verified"
	auditErrRateLimited             AuditErrorCode = "rate_limited"
	auditErrInvalidTwoFactorCode    AuditErrorCode = "invalid_two_factor_code"
	auditErrInvalidBackupCode       AuditErrorCode = "invalid_backup_code"
	auditErrTwoFactorExpired        AuditErrorCode = "two_factor_session_expired"
	auditErrAttemptsExceeded        AuditErrorCode = "two_factor_attempts_exceeded"
	auditErrSubmissionInvalid       AuditErrorCode = "two_factor_submission_invalid"
	auditErrTwoFactorAlreadyEnabled AuditErrorCode = "two_factor_already_enabled"
	auditErrTwoFactorNotEnabled     AuditErrorCode = "two_factor_not_enabled"
	auditErrTwoFactorSetupMissing   AuditErrorCode = "two_factor_setup_missing"
	auditErrTokenInvalid            AuditErrorCode = "token_invalid_or_expired"
	auditErrPasswordPolicy          AuditErrorCode = "password_policy"
	auditErrDuplicate               AuditErrorCode = "duplicate"
	auditErrInvalidEmail            AuditErrorCode = "invalid_email"
	auditErrSessionNotFound         AuditErrorCode = "session_not_found"
	auditErrUnauthorized            AuditErrorCode = "unauthorized"
	auditErrUnavailable             AuditErrorCode = "backend_unavailable"
	auditErrInternal                AuditErrorCode = "internal_error"
)

// auditRecord collects the fields of one event before it is stamped with
// request context.
type auditRecord struct {
	eventType         string
	success           bool
	requiresTwoFactor bool
	userID            string
	email             string
	sessionID         string
	err               error
	metadata          map[string]string
}

// emitAudit writes one audit event. In synchronous mode the sink has stored
// it, or failed, by the time emitAudit returns. The write is detached from
// caller cancellation so an aborted request is still recorded.
func (e *Engine) emitAudit(ctx context.Context, rec auditRecord) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp:         e.now().UTC(),
		EventType:         rec.eventType,
		UserID:            rec.userID,
		Email:             rec.email,
		SessionID:         rec.sessionID,
		IP:                clientIPFromContext(ctx),
		UserAgent:         userAgentFromContext(ctx),
		Success:           rec.success,
		RequiresTwoFactor: rec.requiresTwoFactor,
		Metadata:          rec.metadata,
	}
	if code := auditErrorCode(rec.err); code != "" {
		event.Reason = string(code)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Audit.WriteTimeout)
	defer cancel()
	if err := e.audit.Record(writeCtx, event); err != nil {
		e.metricInc(MetricAuditWriteFailure)
		e.logger.Error("audit event not recorded",
			zap.String("event_type", event.EventType),
			zap.String("reason", event.Reason),
			zap.Error(err),
		)
	}
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountNotVerified):
		return auditErrAccountNotVerified
	case errors.Is(err, ErrLoginRateLimited), errors.Is(err, ErrRequestRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidTwoFactorCode):
		return auditErrInvalidTwoFactorCode
	case errors.Is(err, ErrInvalidBackupCode):
		return auditErrInvalidBackupCode
	case errors.Is(err, ErrTwoFactorSessionExpired):
		return auditErrTwoFactorExpired
	case errors.Is(err, ErrTwoFactorAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrTwoFactorSubmissionInvalid):
		return auditErrSubmissionInvalid
	case errors.Is(err, ErrTwoFactorAlreadyEnabled):
		return auditErrTwoFactorAlreadyEnabled
	case errors.Is(err, ErrTwoFactorNotEnabled):
		return auditErrTwoFactorNotEnabled
	case errors.Is(err, ErrTwoFactorSetupMissing):
		return auditErrTwoFactorSetupMissing
	case errors.Is(err, ErrTokenInvalidOrExpired):
		return auditErrTokenInvalid
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrEmailTaken):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidEmail):
		return auditErrInvalidEmail
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrBackendUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
