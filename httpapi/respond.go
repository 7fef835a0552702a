package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/kairosauth"
	"github.com/MrEthical07/kairosauth/middleware"
	"github.com/MrEthical07/kairosauth/password"
)

const (
	maxBodyBytes      = 1 << 20
	pendingCookieName = "kairos_pending"
)

type errorBody struct {
	Error             string `json:"error"`
	Message           string `json:"message,omitempty"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "invalid request body"})
		return false
	}
	return true
}

// writeError maps engine errors to a status and a stable code. Unknown
// errors are logged and reported as internal.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var tfErr *kairosauth.TwoFactorError
	if errors.As(err, &tfErr) {
		code := "invalid_code"
		if errors.Is(tfErr, kairosauth.ErrInvalidBackupCode) {
			code = "invalid_backup_code"
		}
		remaining := tfErr.AttemptsRemaining
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: code, AttemptsRemaining: &remaining})
		return
	}

	var violation *password.ViolationError
	if errors.As(err, &violation) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "password_policy", Message: violation.Message})
		return
	}

	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, kairosauth.ErrInvalidCredentials):
		status, code = http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, kairosauth.ErrAccountNotVerified):
		status, code = http.StatusForbidden, "account_not_verified"
	case errors.Is(err, kairosauth.ErrLoginRateLimited), errors.Is(err, kairosauth.ErrRequestRateLimited):
		status, code = http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, kairosauth.ErrTwoFactorSessionExpired):
		status, code = http.StatusUnauthorized, "two_factor_expired"
	case errors.Is(err, kairosauth.ErrTwoFactorAttemptsExceeded):
		status, code = http.StatusUnauthorized, "two_factor_attempts_exceeded"
	case errors.Is(err, kairosauth.ErrTwoFactorSubmissionInvalid):
		status, code = http.StatusBadRequest, "invalid_submission"
	case errors.Is(err, kairosauth.ErrInvalidTwoFactorCode):
		status, code = http.StatusBadRequest, "invalid_code"
	case errors.Is(err, kairosauth.ErrInvalidEmail):
		status, code = http.StatusBadRequest, "invalid_email"
	case errors.Is(err, kairosauth.ErrPasswordPolicy):
		status, code = http.StatusBadRequest, "password_policy"
	case errors.Is(err, kairosauth.ErrTokenInvalidOrExpired):
		status, code = http.StatusBadRequest, "token_invalid_or_expired"
	case errors.Is(err, kairosauth.ErrEmailTaken):
		status, code = http.StatusConflict, "email_taken"
	case errors.Is(err, kairosauth.ErrTwoFactorAlreadyEnabled):
		status, code = http.StatusConflict, "two_factor_already_enabled"
	case errors.Is(err, kairosauth.ErrTwoFactorNotEnabled):
		status, code = http.StatusConflict, "two_factor_not_enabled"
	case errors.Is(err, kairosauth.ErrTwoFactorSetupMissing):
		status, code = http.StatusConflict, "two_factor_setup_missing"
	case errors.Is(err, kairosauth.ErrUnauthorized), errors.Is(err, kairosauth.ErrSessionNotFound):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, kairosauth.ErrBackendUnavailable), errors.Is(err, kairosauth.ErrEngineNotReady):
		status, code = http.StatusServiceUnavailable, "unavailable"
	default:
		h.logger.Error("unhandled engine error", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: code})
}

// setSessionCookie stores the access token. Remembered sessions get a
// persistent cookie, the rest end with the browser session.
func (h *Handler) setSessionCookie(w http.ResponseWriter, sess *kairosauth.Session) {
	c := &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.AccessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if sess.Persistent {
		c.Expires = sess.ExpiresAt
		c.MaxAge = int(time.Until(sess.ExpiresAt).Seconds())
	}
	http.SetCookie(w, c)
}

func (h *Handler) setPendingCookie(w http.ResponseWriter, res *kairosauth.LoginResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     pendingCookieName,
		Value:    res.PendingID,
		Path:     "/",
		Expires:  res.PendingExpiresAt,
		MaxAge:   int(time.Until(res.PendingExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
