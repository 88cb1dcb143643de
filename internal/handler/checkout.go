package handler

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"

	"github.com/mark8pips/licensing/internal/model"
	"github.com/mark8pips/licensing/internal/store"
	"github.com/mark8pips/licensing/internal/stripe"
)

type CheckoutHandler struct {
	stripeClient *stripe.Client
	orderStore   *store.OrderStore
	productStore *store.ProductStore
	logger       *slog.Logger
}

func NewCheckoutHandler(sc *stripe.Client, os *store.OrderStore, ps *store.ProductStore, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{stripeClient: sc, orderStore: os, productStore: ps, logger: logger}
}

type checkoutRequest struct {
	OrderID string `json:"order_id"`
}

// CreateSession handles POST /api/payments/stripe/checkout: opens a hosted
// checkout session for a pending order and returns its URL.
func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	order, err := h.orderStore.GetByID(req.OrderID)
	if err != nil {
		h.logger.Error("get order", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if order == nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if order.PaymentStatus != model.PaymentPending {
		writeError(w, http.StatusConflict, "order is not pending payment")
		return
	}

	product, err := h.productStore.GetByID(order.ProductID)
	if err != nil || product == nil {
		h.logger.Error("get product for order", "order", order.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	sessionID, url, err := h.stripeClient.CreateCheckoutSession(stripe.CheckoutParams{
		OrderID:       order.ID,
		ProductName:   product.Name,
		Description:   order.SubscriptionType + " plan",
		AmountCents:   int64(math.Round(order.Amount * 100)),
		CustomerEmail: order.CustomerEmail,
	})
	if err != nil {
		h.logger.Error("create checkout session", "order", order.ID, "error", err)
		writeError(w, http.StatusBadGateway, "payment provider error")
		return
	}

	if err := h.orderStore.SetStripeSessionID(order.ID, sessionID); err != nil {
		h.logger.Error("store session id", "order", order.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "checkout_url": url})
}
