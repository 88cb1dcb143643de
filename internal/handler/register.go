package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mark8pips/licensing/internal/lifecycle"
	"github.com/mark8pips/licensing/internal/model"
)

// flexInt64 accepts a JSON number or a numeric string. MT5 terminals are
// inconsistent about quoting account numbers in WebRequest payloads.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt64(n)
	return nil
}

type RegisterHandler struct {
	engine *lifecycle.Engine
	logger *slog.Logger
}

func NewRegisterHandler(engine *lifecycle.Engine, logger *slog.Logger) *RegisterHandler {
	return &RegisterHandler{engine: engine, logger: logger}
}

type registerRequest struct {
	AccountNumber  flexInt64 `json:"account_number"`
	BrokerName     string    `json:"broker_name"`
	TrialType      string    `json:"trial_type"`
	AccountName    string    `json:"account_name"`
	AccountBalance *float64  `json:"account_balance"`
	EAVersion      string    `json:"ea_version"`
	MT5Build       string    `json:"mt5_build"`
}

// AutoRegister handles POST /api/auto-register: first contact provisions a
// trial, later contacts count a check-in and report admission.
func (h *RegisterHandler) AutoRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.AccountNumber <= 0 {
		writeError(w, http.StatusBadRequest, "account_number is required")
		return
	}
	req.BrokerName = strings.TrimSpace(req.BrokerName)
	if req.BrokerName == "" {
		writeError(w, http.StatusBadRequest, "broker_name is required")
		return
	}

	tel := model.Telemetry{BrokerName: &req.BrokerName}
	if name := strings.TrimSpace(req.AccountName); name != "" {
		tel.AccountName = &name
	}
	if req.AccountBalance != nil {
		tel.AccountBalance = req.AccountBalance
	}
	if v := strings.TrimSpace(req.EAVersion); v != "" {
		tel.EAVersion = &v
	}
	if b := strings.TrimSpace(req.MT5Build); b != "" {
		tel.MT5Build = &b
	}

	res, err := h.engine.RegisterOrCheckIn(lifecycle.RegisterParams{
		AccountNumber: int64(req.AccountNumber),
		TrialType:     req.TrialType,
		Telemetry:     tel,
	})
	if err != nil {
		h.logger.Error("auto-register", "account", req.AccountNumber, "error", err)
		writeEngineError(w, err)
		return
	}

	// Denied admission is still a 200: the EA branches on valid/status,
	// not on HTTP codes.
	writeJSON(w, http.StatusOK, res)
}
