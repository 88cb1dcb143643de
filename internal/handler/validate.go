package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark8pips/licensing/internal/lifecycle"
)

type ValidateHandler struct {
	engine *lifecycle.Engine
	logger *slog.Logger
}

func NewValidateHandler(engine *lifecycle.Engine, logger *slog.Logger) *ValidateHandler {
	return &ValidateHandler{engine: engine, logger: logger}
}

type validateRequest struct {
	LicenseKey    string    `json:"license_key"`
	AccountNumber flexInt64 `json:"account_number"`
}

type validateResponse struct {
	Valid bool `json:"valid"`
	*lifecycle.ValidationResult
	Message string `json:"message,omitempty"`
}

// Validate handles POST /api/validate-license. Unlike auto-register this
// endpoint speaks HTTP status codes: 404 for unknown keys, 403 with a
// reason for denied ones.
func (h *ValidateHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.LicenseKey = strings.TrimSpace(req.LicenseKey)
	if req.LicenseKey == "" || req.AccountNumber <= 0 {
		writeError(w, http.StatusBadRequest, "license_key and account_number are required")
		return
	}

	res, err := h.engine.ValidateLicense(req.LicenseKey, int64(req.AccountNumber))
	if err != nil {
		var fe *lifecycle.ForbiddenError
		switch {
		case errors.As(err, &fe):
			writeJSON(w, http.StatusForbidden, map[string]any{"valid": false, "message": fe.Reason})
		case errors.Is(err, lifecycle.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]any{"valid": false, "message": "not_found"})
		default:
			h.logger.Error("validate license", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{Valid: true, ValidationResult: res})
}
