package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mark8pips/licensing/internal/store"
)

// defaultSettings backstop the public site before an admin has saved
// anything.
var defaultSettings = map[string]string{
	"site_title":       "Mark8Pips",
	"support_email":    "support@mark8pips.com",
	"telegram_link":    "",
	"show_pricing":     "true",
	"maintenance":      "false",
	"announcement":     "",
	"currency":         "USD",
	"refund_days":      "14",
	"trial_days":       "30",
	"contact_whatsapp": "",
}

type SettingsHandler struct {
	settingsStore *store.SettingsStore
	activityStore *store.ActivityStore
	logger        *slog.Logger
}

func NewSettingsHandler(ss *store.SettingsStore, as *store.ActivityStore, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settingsStore: ss, activityStore: as, logger: logger}
}

// Public handles GET /api/public/website-settings: stored values overlaid
// on the defaults, cacheable for five minutes.
func (h *SettingsHandler) Public(w http.ResponseWriter, r *http.Request) {
	stored, err := h.settingsStore.GetAll()
	if err != nil {
		h.logger.Error("get settings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	settings := make(map[string]string, len(defaultSettings)+len(stored))
	for k, v := range defaultSettings {
		settings[k] = v
	}
	for k, v := range stored {
		settings[k] = v
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "settings": settings})
}

// Get handles GET /api/admin/settings: raw stored values only.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stored, err := h.settingsStore.GetAll()
	if err != nil {
		h.logger.Error("get settings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "settings": stored})
}

// Update handles PUT /api/admin/settings: upserts every supplied key.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req) == 0 {
		writeError(w, http.StatusBadRequest, "no settings supplied")
		return
	}

	for k, v := range req {
		if err := h.settingsStore.Set(k, v); err != nil {
			h.logger.Error("set setting", "key", k, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	actor := AdminFromContext(r.Context())
	if err := h.activityStore.Append(actor, "update_settings", "settings", ""); err != nil {
		h.logger.Error("append audit entry", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
