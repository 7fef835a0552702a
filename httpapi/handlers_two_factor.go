package httpapi

import (
	"net/http"

	"github.com/MrEthical07/kairosauth/middleware"
)

type setupResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCodePNG       []byte `json:"qr_code_png"`
}

type activateRequest struct {
	Code string `json:"code"`
}

type deactivateRequest struct {
	Password string `json:"password"`
}

func (h *Handler) handleSetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	setup, err := h.engine.BeginTwoFactorSetup(r.Context(), sess.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setupResponse{
		Secret:          setup.Secret,
		ProvisioningURI: setup.ProvisioningURI,
		QRCodePNG:       setup.QRCodePNG,
	})
}

// handleActivateTwoFactor returns the plaintext backup codes. This is the
// only time they are shown.
func (h *Handler) handleActivateTwoFactor(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	var req activateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	codes, err := h.engine.ActivateTwoFactor(r.Context(), sess.UserID, req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

func (h *Handler) handleDeactivateTwoFactor(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	var req deactivateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.DeactivateTwoFactor(r.Context(), sess.UserID, req.Password); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBackupCodesRemaining(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	n, err := h.engine.BackupCodesRemaining(r.Context(), sess.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"remaining": n})
}
