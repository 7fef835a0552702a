package kairosauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/kairosauth/backupcode"
	"github.com/MrEthical07/kairosauth/credential"
	"github.com/MrEthical07/kairosauth/internal/stores"
)

// VerifyTwoFactor completes a pending login with exactly one of a TOTP code
// or a backup code.
//
// The pending login must exist, be younger than TwoFactor.PendingTTL and
// have fewer than TwoFactor.MaxAttempts failures; otherwise it is destroyed
// and ErrTwoFactorSessionExpired or ErrTwoFactorAttemptsExceeded is
// returned. A rejected code returns a *TwoFactorError carrying the attempts
// left, except on the last allowed attempt which returns
// ErrTwoFactorAttemptsExceeded. A malformed code counts as a failure.
func (e *Engine) VerifyTwoFactor(ctx context.Context, pendingID string, sub TwoFactorSubmission) (*LoginResult, error) {
	if !e.ready() || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeLatency(MetricTwoFactorLatency, start)

	code := strings.TrimSpace(sub.Code)
	backup := strings.TrimSpace(sub.BackupCode)
	if (code == "") == (backup == "") {
		e.auditTwoFactorRejected(ctx, "", "", ErrTwoFactorSubmissionInvalid)
		return nil, ErrTwoFactorSubmissionInvalid
	}

	if pendingID == "" {
		return nil, e.expirePending(ctx, "", "", auditEventTwoFactorExpired, ErrTwoFactorSessionExpired)
	}

	record, err := e.pending.Get(ctx, pendingID)
	switch {
	case errors.Is(err, stores.ErrPendingNotFound):
		return nil, e.expirePending(ctx, "", "", auditEventTwoFactorExpired, ErrTwoFactorSessionExpired)
	case errors.Is(err, stores.ErrPendingCorrupt):
		return nil, e.expirePending(ctx, pendingID, "", auditEventTwoFactorExpired, ErrTwoFactorSessionExpired)
	case err != nil:
		e.logger.Error("pending two-factor load failed", zap.Error(err))
		e.auditTwoFactorRejected(ctx, "", "", ErrBackendUnavailable)
		return nil, ErrBackendUnavailable
	}

	if e.now().Sub(record.CreatedAt) > e.config.TwoFactor.PendingTTL {
		return nil, e.expirePending(ctx, pendingID, record.UserID, auditEventTwoFactorExpired, ErrTwoFactorSessionExpired)
	}
	if int(record.Attempts) >= e.config.TwoFactor.MaxAttempts {
		return nil, e.expirePending(ctx, pendingID, record.UserID, auditEventTwoFactorAttemptsExceeded, ErrTwoFactorAttemptsExceeded)
	}

	user, found, err := e.credentials.FindByID(ctx, record.UserID)
	if err != nil {
		e.logger.Error("credential lookup failed", zap.String("user_id", record.UserID), zap.Error(err))
		e.auditTwoFactorRejected(ctx, record.UserID, "", ErrBackendUnavailable)
		return nil, ErrBackendUnavailable
	}
	if !found || !user.TwoFactorEnabled || user.TwoFactorSecret == "" {
		return nil, e.expirePending(ctx, pendingID, record.UserID, auditEventTwoFactorExpired, ErrTwoFactorSessionExpired)
	}

	method := AuthMethodTOTP
	var verifyErr error
	if code != "" {
		verifyErr = e.verifyTOTP(ctx, user, code)
	} else {
		method = AuthMethodBackupCode
		verifyErr = e.consumeBackupCode(ctx, user, backup)
	}

	if verifyErr != nil {
		if errors.Is(verifyErr, ErrBackendUnavailable) {
			e.auditTwoFactorRejected(ctx, user.ID, user.Email, verifyErr)
			return nil, verifyErr
		}
		return nil, e.failTwoFactor(ctx, pendingID, user, verifyErr)
	}

	// Exactly one concurrent success deletes the record.
	deleted, err := e.pending.Delete(ctx, pendingID)
	if err != nil {
		e.logger.Error("pending two-factor delete failed", zap.Error(err))
		e.auditTwoFactorRejected(ctx, user.ID, user.Email, ErrBackendUnavailable)
		return nil, ErrBackendUnavailable
	}
	if !deleted {
		return nil, e.expirePending(ctx, "", user.ID, auditEventTwoFactorExpired, ErrTwoFactorSessionExpired)
	}

	sess, err := e.establishSession(ctx, user.ID, method, record.RememberMe)
	if err != nil {
		e.emitAudit(ctx, auditRecord{eventType: auditEventTwoFactorFailure, requiresTwoFactor: true, userID: user.ID, email: user.Email, err: err})
		return nil, err
	}

	e.metricInc(MetricTwoFactorSuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditRecord{
		eventType:         auditEventLoginSuccess,
		success:           true,
		requiresTwoFactor: true,
		userID:            user.ID,
		email:             user.Email,
		sessionID:         sess.ID,
		metadata:          map[string]string{"method": string(method)},
	})

	return &LoginResult{
		State:   StateSessionEstablished,
		UserID:  user.ID,
		Session: sess,
	}, nil
}

// verifyTOTP checks code against the user's secret and, with replay
// protection on, claims the matched time step so the same code cannot be
// accepted twice.
func (e *Engine) verifyTOTP(ctx context.Context, user credential.UserCredential, code string) error {
	step, ok, err := e.totp.VerifyStep(user.TwoFactorSecret, code, e.now())
	if err != nil {
		e.logger.Error("totp verification failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	if !ok {
		return ErrInvalidTwoFactorCode
	}
	if !e.config.TOTP.EnforceReplayProtection {
		return nil
	}

	claimed, err := e.totpSteps.Claim(ctx, user.ID, step, e.totp.StepWindow())
	if err != nil {
		e.logger.Error("totp step claim failed", zap.String("user_id", user.ID), zap.Error(err))
		return ErrBackendUnavailable
	}
	if !claimed {
		e.metricInc(MetricTOTPReplay)
		e.logger.Warn("totp code replayed", zap.String("user_id", user.ID), zap.Int64("step", step))
		return ErrInvalidTwoFactorCode
	}
	return nil
}

// consumeBackupCode returns nil when submitted matched a stored hash and
// this call removed it.
func (e *Engine) consumeBackupCode(ctx context.Context, user credential.UserCredential, submitted string) error {
	normalized := backupcode.Normalize(submitted)
	if !backupcode.WellFormed(normalized, e.config.BackupCodes.Length) {
		e.metricInc(MetricBackupCodeFailed)
		return ErrInvalidBackupCode
	}

	hash, ok := backupcode.Match(e.passwordHash, user.BackupCodes, normalized)
	if !ok {
		e.metricInc(MetricBackupCodeFailed)
		return ErrInvalidBackupCode
	}

	consumed, err := e.credentials.ConsumeBackupCode(ctx, user.ID, hash)
	if err != nil {
		e.logger.Error("backup code consume failed", zap.String("user_id", user.ID), zap.Error(err))
		return ErrBackendUnavailable
	}
	if !consumed {
		// Another request used the same code first.
		e.metricInc(MetricBackupCodeFailed)
		return ErrInvalidBackupCode
	}

	e.metricInc(MetricBackupCodeUsed)
	return nil
}

func (e *Engine) failTwoFactor(ctx context.Context, pendingID string, user credential.UserCredential, cause error) error {
	attempts, exceeded, err := e.pending.RecordFailure(ctx, pendingID, e.config.TwoFactor.MaxAttempts)
	switch {
	case errors.Is(err, stores.ErrPendingNotFound), errors.Is(err, stores.ErrPendingCorrupt):
		return e.expirePending(ctx, "", user.ID, auditEventTwoFactorExpired, ErrTwoFactorSessionExpired)
	case err != nil:
		e.logger.Error("pending two-factor update failed", zap.Error(err))
		e.auditTwoFactorRejected(ctx, user.ID, user.Email, ErrBackendUnavailable)
		return ErrBackendUnavailable
	}

	e.metricInc(MetricTwoFactorFailure)
	if exceeded {
		e.metricInc(MetricTwoFactorAttemptsExceeded)
		e.emitAudit(ctx, auditRecord{
			eventType:         auditEventTwoFactorAttemptsExceeded,
			requiresTwoFactor: true,
			userID:            user.ID,
			email:             user.Email,
			err:               ErrTwoFactorAttemptsExceeded,
			metadata:          map[string]string{"last_failure": string(auditErrorCode(cause))},
		})
		return ErrTwoFactorAttemptsExceeded
	}

	remaining := e.config.TwoFactor.MaxAttempts - attempts
	e.emitAudit(ctx, auditRecord{
		eventType:         auditEventTwoFactorFailure,
		requiresTwoFactor: true,
		userID:            user.ID,
		email:             user.Email,
		err:               cause,
	})
	return &TwoFactorError{Err: cause, AttemptsRemaining: remaining}
}

// auditTwoFactorRejected records a second-factor attempt that ended before
// a code could be judged.
func (e *Engine) auditTwoFactorRejected(ctx context.Context, userID, email string, cause error) {
	e.emitAudit(ctx, auditRecord{
		eventType:         auditEventTwoFactorFailure,
		requiresTwoFactor: true,
		userID:            userID,
		email:             email,
		err:               cause,
	})
}

// expirePending destroys the pending record when pendingID is set and
// audits the rejection.
func (e *Engine) expirePending(ctx context.Context, pendingID, userID, eventType string, cause error) error {
	if pendingID != "" {
		if _, err := e.pending.Delete(ctx, pendingID); err != nil {
			e.logger.Warn("pending two-factor cleanup failed", zap.Error(err))
		}
	}
	if errors.Is(cause, ErrTwoFactorAttemptsExceeded) {
		e.metricInc(MetricTwoFactorAttemptsExceeded)
	} else {
		e.metricInc(MetricTwoFactorExpired)
	}
	e.emitAudit(ctx, auditRecord{eventType: eventType, requiresTwoFactor: true, userID: userID, err: cause})
	return cause
}

/*
====================================
ACTIVATION / DEACTIVATION
====================================
*/

// BeginTwoFactorSetup returns the shared secret to enroll in an
// authenticator app. The secret is generated on first call and reused until
// activation so a page reload shows the same QR code.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	if !e.ready() || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret := user.TwoFactorSecret
	if secret == "" {
		secret, err = e.totp.GenerateSecret()
		if err != nil {
			return nil, err
		}
		if err := e.credentials.SetTwoFactorSecret(ctx, user.ID, secret); err != nil {
			e.logger.Error("two-factor secret save failed", zap.String("user_id", user.ID), zap.Error(err))
			return nil, ErrBackendUnavailable
		}
	}

	uri := e.totp.ProvisioningURI(secret, user.Email)
	png, err := e.totp.ProvisioningQR(uri)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditRecord{eventType: auditEventTwoFactorSetupRequested, success: true, userID: user.ID, email: user.Email})

	return &TwoFactorSetup{
		Secret:          secret,
		ProvisioningURI: uri,
		QRCodePNG:       png,
	}, nil
}

// ActivateTwoFactor enables 2FA after one valid TOTP code for the pending
// secret and returns the plaintext backup codes. They are not retrievable
// again; only their hashes are stored.
func (e *Engine) ActivateTwoFactor(ctx context.Context, userID, code string) ([]string, error) {
	if !e.ready() || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if user.TwoFactorSecret == "" {
		return nil, ErrTwoFactorSetupMissing
	}

	if err := e.verifyTOTP(ctx, user, code); err != nil {
		e.emitAudit(ctx, auditRecord{eventType: auditEventTwoFactorEnabled, userID: user.ID, email: user.Email, err: err})
		return nil, err
	}

	codes, err := backupcode.Generate(e.config.BackupCodes.Count, e.config.BackupCodes.Length)
	if err != nil {
		return nil, err
	}
	hashes, err := backupcode.HashAll(e.passwordHash, codes)
	if err != nil {
		return nil, err
	}

	if err := e.credentials.EnableTwoFactor(ctx, user.ID, user.TwoFactorSecret, hashes, e.now()); err != nil {
		e.logger.Error("two-factor enable failed", zap.String("user_id", user.ID), zap.Error(err))
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditRecord{eventType: auditEventTwoFactorEnabled, success: true, userID: user.ID, email: user.Email})
	return codes, nil
}

// DeactivateTwoFactor disables 2FA after re-checking the account password.
// The secret and all backup codes are discarded.
func (e *Engine) DeactivateTwoFactor(ctx context.Context, userID, currentPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	ok, err := e.passwordHash.Verify(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditRecord{eventType: auditEventTwoFactorDisabled, userID: user.ID, email: user.Email, err: ErrInvalidCredentials})
		return ErrInvalidCredentials
	}

	if err := e.credentials.DisableTwoFactor(ctx, user.ID); err != nil {
		e.logger.Error("two-factor disable failed", zap.String("user_id", user.ID), zap.Error(err))
		return ErrBackendUnavailable
	}

	if e.config.TOTP.EnforceReplayProtection {
		if err := e.totpSteps.Forget(ctx, user.ID); err != nil {
			e.logger.Warn("totp step cleanup failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditRecord{eventType: auditEventTwoFactorDisabled, success: true, userID: user.ID, email: user.Email})
	return nil
}

// BackupCodesRemaining returns how many unused backup codes userID has.
func (e *Engine) BackupCodesRemaining(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !user.TwoFactorEnabled {
		return 0, ErrTwoFactorNotEnabled
	}
	return len(user.BackupCodes), nil
}

// loadUser resolves an authenticated user ID. A missing user means the
// caller's session outlived the account.
func (e *Engine) loadUser(ctx context.Context, userID string) (credential.UserCredential, error) {
	if userID == "" {
		return credential.UserCredential{}, ErrUnauthorized
	}
	user, found, err := e.credentials.FindByID(ctx, userID)
	if err != nil {
		e.logger.Error("credential lookup failed", zap.String("user_id", userID), zap.Error(err))
		return credential.UserCredential{}, ErrBackendUnavailable
	}
	if !found {
		return credential.UserCredential{}, ErrUnauthorized
	}
	return user, nil
}
