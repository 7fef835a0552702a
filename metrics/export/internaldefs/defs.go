package internaldefs

import (
	"github.com/MrEthical07/kairosauth"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   kairosauth.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine latency histogram to its exported name.
type HistogramDef struct {
	ID   kairosauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: kairosauth.MetricLoginSuccess, Name: "kairos_login_success_total", Help: "Logins that ended with an established session."},
	{ID: kairosauth.MetricLoginFailure, Name: "kairos_login_failure_total", Help: "Primary logins rejected for bad credentials."},
	{ID: kairosauth.MetricLoginRateLimited, Name: "kairos_login_rate_limited_total", Help: "Primary logins rejected by the throttle."},
	{ID: kairosauth.MetricLoginNotVerified, Name: "kairos_login_not_verified_total", Help: "Primary logins blocked on an unverified email."},
	{ID: kairosauth.MetricTwoFactorRequired, Name: "kairos_two_factor_required_total", Help: "Primary logins that moved to the pending second-factor state."},
	{ID: kairosauth.MetricTwoFactorSuccess, Name: "kairos_two_factor_success_total", Help: "Successful second-factor verifications."},
	{ID: kairosauth.MetricTwoFactorFailure, Name: "kairos_two_factor_failure_total", Help: "Rejected second-factor codes."},
	{ID: kairosauth.MetricTwoFactorExpired, Name: "kairos_two_factor_expired_total", Help: "Second-factor submissions against a missing or expired pending login."},
	{ID: kairosauth.MetricTwoFactorAttemptsExceeded, Name: "kairos_two_factor_attempts_exceeded_total", Help: "Pending logins destroyed after too many failed codes."},
	{ID: kairosauth.MetricBackupCodeUsed, Name: "kairos_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: kairosauth.MetricBackupCodeFailed, Name: "kairos_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: kairosauth.MetricTwoFactorEnabled, Name: "kairos_two_factor_enabled_total", Help: "Two-factor activations."},
	{ID: kairosauth.MetricTwoFactorDisabled, Name: "kairos_two_factor_disabled_total", Help: "Two-factor deactivations."},
	{ID: kairosauth.MetricSessionCreated, Name: "kairos_session_created_total", Help: "Sessions created."},
	{ID: kairosauth.MetricLogout, Name: "kairos_logout_total", Help: "Single-session logouts."},
	{ID: kairosauth.MetricLogoutAll, Name: "kairos_logout_all_total", Help: "Logout-all operations."},
	{ID: kairosauth.MetricRegistrationSuccess, Name: "kairos_registration_success_total", Help: "Accounts registered."},
	{ID: kairosauth.MetricRegistrationDuplicate, Name: "kairos_registration_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: kairosauth.MetricEmailVerificationRequest, Name: "kairos_email_verification_request_total", Help: "Verification links issued."},
	{ID: kairosauth.MetricEmailVerificationSuccess, Name: "kairos_email_verification_success_total", Help: "Emails verified."},
	{ID: kairosauth.MetricEmailVerificationFailure, Name: "kairos_email_verification_failure_total", Help: "Rejected verification tokens."},
	{ID: kairosauth.MetricPasswordRecoveryRequest, Name: "kairos_password_recovery_request_total", Help: "Recovery links issued."},
	{ID: kairosauth.MetricPasswordResetSuccess, Name: "kairos_password_reset_success_total", Help: "Passwords reset from a recovery link."},
	{ID: kairosauth.MetricPasswordResetFailure, Name: "kairos_password_reset_failure_total", Help: "Rejected recovery tokens."},
	{ID: kairosauth.MetricPasswordChangeSuccess, Name: "kairos_password_change_success_total", Help: "Passwords changed by signed-in users."},
	{ID: kairosauth.MetricPasswordChangeInvalidOld, Name: "kairos_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: kairosauth.MetricNotificationFailure, Name: "kairos_notification_failure_total", Help: "Notifications the delivery channel failed to accept."},
	{ID: kairosauth.MetricAuditWriteFailure, Name: "kairos_audit_write_failure_total", Help: "Audit events the sink failed to store."},
	{ID: kairosauth.MetricTOTPReplay, Name: "kairos_totp_replay_total", Help: "TOTP codes rejected because their time step was already used."},
	{ID: kairosauth.MetricLinkRateLimited, Name: "kairos_link_request_rate_limited_total", Help: "Verification and recovery requests rejected by the link throttle."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: kairosauth.MetricLoginLatency, Name: "kairos_login_latency_seconds", Help: "Primary login latency."},
	{ID: kairosauth.MetricTwoFactorLatency, Name: "kairos_two_factor_latency_seconds", Help: "Second-factor verification latency."},
	{ID: kairosauth.MetricValidateLatency, Name: "kairos_validate_latency_seconds", Help: "Session validation latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const (
	AuditDroppedName = "kairos_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher queue was full."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine's
// last bucket is the +Inf overflow.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, overflow included, for exporters
// that flatten buckets into separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zero.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
