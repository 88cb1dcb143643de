package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/mark8pips/licensing/internal/lifecycle"
	"github.com/mark8pips/licensing/internal/store"
)

type LicenseHandler struct {
	engine       *lifecycle.Engine
	licenseStore *store.LicenseStore
	userStore    *store.UserStore
	logger       *slog.Logger
}

func NewLicenseHandler(engine *lifecycle.Engine, ls *store.LicenseStore, us *store.UserStore, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{engine: engine, licenseStore: ls, userStore: us, logger: logger}
}

// Get handles GET /api/admin/licenses/{key}: license detail with its owner.
func (h *LicenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	lic, err := h.licenseStore.GetByKey(key)
	if err != nil {
		h.logger.Error("get license", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if lic == nil {
		writeError(w, http.StatusNotFound, "license not found")
		return
	}
	user, err := h.userStore.GetByID(lic.UserID)
	if err != nil {
		h.logger.Error("get license owner", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"license": lic,
		"user":    user,
	})
}

type createLicenseRequest struct {
	Email            string  `json:"email"`
	EAName           string  `json:"ea_name"`
	AccountNumbers   []int64 `json:"account_numbers"`
	SubscriptionType string  `json:"subscription_type"`
}

// Create handles POST /api/admin/licenses: manual issuance of a license
// authorizing an explicit set of account numbers.
func (h *LicenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	req.EAName = strings.TrimSpace(req.EAName)
	if req.EAName == "" {
		writeError(w, http.StatusBadRequest, "ea_name is required")
		return
	}

	res, err := h.engine.IssueManual(
		AdminFromContext(r.Context()),
		req.Email, req.EAName, req.AccountNumbers, req.SubscriptionType,
	)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"license_key": res.LicenseKey,
		"expires_at":  res.ExpiresAt,
	})
}

type extendLicenseRequest struct {
	Days   int `json:"days"`
	Months int `json:"months"`
}

// Extend handles POST /api/admin/licenses/{key}/extend.
func (h *LicenseHandler) Extend(w http.ResponseWriter, r *http.Request) {
	var req extendLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	expiresAt, err := h.engine.ExtendLicense(AdminFromContext(r.Context()), r.PathValue("key"), req.Days, req.Months)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "expires_at": expiresAt})
}

// Revoke handles POST /api/admin/licenses/{key}/revoke.
func (h *LicenseHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Revoke(AdminFromContext(r.Context()), r.PathValue("key")); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
