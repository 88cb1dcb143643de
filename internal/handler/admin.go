package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark8pips/licensing/internal/lifecycle"
	"github.com/mark8pips/licensing/internal/model"
	"github.com/mark8pips/licensing/internal/store"
)

type AdminHandler struct {
	engine     *lifecycle.Engine
	userStore  *store.UserStore
	orderStore *store.OrderStore
	logger     *slog.Logger
}

func NewAdminHandler(engine *lifecycle.Engine, us *store.UserStore, os *store.OrderStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{engine: engine, userStore: us, orderStore: os, logger: logger}
}

type dashboardStats struct {
	TotalUsers   int     `json:"total_users"`
	TrialUsers   int     `json:"trial_users"`
	PaidUsers    int     `json:"paid_users"`
	ActiveUsers  int     `json:"active_users"`
	TotalRevenue float64 `json:"total_revenue"`
}

// Dashboard handles GET /api/admin/dashboard: the full user list plus
// headline stats.
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	users, err := h.userStore.List()
	if err != nil {
		h.logger.Error("list users", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	orders, err := h.orderStore.List()
	if err != nil {
		h.logger.Error("list orders", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	now := time.Now()
	var stats dashboardStats
	stats.TotalUsers = len(users)
	for _, u := range users {
		switch u.Status {
		case model.StatusTrial:
			stats.TrialUsers++
		case model.StatusActive:
			stats.PaidUsers++
		}
		if (u.Status == model.StatusActive || u.Status == model.StatusTrial) && u.ExpiresAt.After(now) {
			stats.ActiveUsers++
		}
	}
	for _, o := range orders {
		if o.PaymentStatus == model.PaymentCompleted {
			stats.TotalRevenue += o.Amount
		}
	}

	if users == nil {
		users = []*model.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   stats,
		"users":   users,
	})
}

type dashboardAction struct {
	Action           string    `json:"action"`
	AccountNumber    flexInt64 `json:"account_number"`
	SubscriptionType string    `json:"subscription_type"`
	Days             int       `json:"days"`
	Months           int       `json:"months"`
}

// DashboardAction handles POST /api/admin/dashboard: upgrade, extend,
// suspend, and reactivate, keyed by account number.
func (h *AdminHandler) DashboardAction(w http.ResponseWriter, r *http.Request) {
	var req dashboardAction
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.AccountNumber <= 0 {
		writeError(w, http.StatusBadRequest, "account_number is required")
		return
	}

	actor := AdminFromContext(r.Context())
	accountNumber := int64(req.AccountNumber)

	var expiresAt time.Time
	var err error
	switch req.Action {
	case "upgrade":
		expiresAt, err = h.engine.Upgrade(actor, accountNumber, req.SubscriptionType)
	case "extend":
		expiresAt, err = h.engine.Extend(actor, accountNumber, req.Days, req.Months)
	case "suspend":
		err = h.engine.Suspend(actor, accountNumber)
	case "reactivate":
		err = h.engine.Reactivate(actor, accountNumber)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := map[string]any{"success": true}
	if !expiresAt.IsZero() {
		resp["expires_at"] = expiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}
