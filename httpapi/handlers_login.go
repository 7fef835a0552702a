package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/kairosauth"
	"github.com/MrEthical07/kairosauth/middleware"
)

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type verifyTwoFactorRequest struct {
	PendingID  string `json:"pending_id"`
	Code       string `json:"code"`
	BackupCode string `json:"backup_code"`
}

type sessionResponse struct {
	State       string    `json:"state"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	AuthMethod  string    `json:"auth_method"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type pendingResponse struct {
	State             string    `json:"state"`
	PendingID         string    `json:"pending_id"`
	ExpiresAt         time.Time `json:"expires_at"`
	AttemptsRemaining int       `json:"attempts_remaining"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.engine.Login(r.Context(), kairosauth.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeLoginResult(w, res)
}

// handleVerifyTwoFactor accepts the pending ID from the body or from the
// cookie set by handleLogin.
func (h *Handler) handleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyTwoFactorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PendingID == "" {
		if c, err := r.Cookie(pendingCookieName); err == nil {
			req.PendingID = c.Value
		}
	}

	res, err := h.engine.VerifyTwoFactor(r.Context(), req.PendingID, kairosauth.TwoFactorSubmission{
		Code:       req.Code,
		BackupCode: req.BackupCode,
	})
	if err != nil {
		if errors.Is(err, kairosauth.ErrTwoFactorSessionExpired) || errors.Is(err, kairosauth.ErrTwoFactorAttemptsExceeded) {
			h.clearCookie(w, pendingCookieName)
		}
		h.writeError(w, err)
		return
	}
	h.clearCookie(w, pendingCookieName)
	h.writeLoginResult(w, res)
}

func (h *Handler) writeLoginResult(w http.ResponseWriter, res *kairosauth.LoginResult) {
	if res.State == kairosauth.StatePendingTwoFactor {
		h.setPendingCookie(w, res)
		writeJSON(w, http.StatusOK, pendingResponse{
			State:             res.State.String(),
			PendingID:         res.PendingID,
			ExpiresAt:         res.PendingExpiresAt,
			AttemptsRemaining: res.AttemptsRemaining,
		})
		return
	}

	sess := res.Session
	h.setSessionCookie(w, sess)
	writeJSON(w, http.StatusOK, sessionResponse{
		State:       res.State.String(),
		UserID:      sess.UserID,
		SessionID:   sess.ID,
		AuthMethod:  string(sess.AuthMethod),
		AccessToken: sess.AccessToken,
		ExpiresAt:   sess.ExpiresAt,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     sess.UserID,
		"session_id":  sess.ID,
		"auth_method": sess.AuthMethod,
		"expires_at":  sess.ExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	if err := h.engine.Logout(r.Context(), sess.ID); err != nil {
		h.writeError(w, err)
		return
	}
	h.clearCookie(w, middleware.SessionCookieName)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	n, err := h.engine.LogoutAll(r.Context(), sess.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.clearCookie(w, middleware.SessionCookieName)
	writeJSON(w, http.StatusOK, map[string]int{"sessions": n})
}
