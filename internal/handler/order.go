package handler

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/mark8pips/licensing/internal/email"
	"github.com/mark8pips/licensing/internal/lifecycle"
	"github.com/mark8pips/licensing/internal/model"
	"github.com/mark8pips/licensing/internal/store"
)

const referralDiscount = 0.10

type OrderHandler struct {
	engine       *lifecycle.Engine
	orderStore   *store.OrderStore
	productStore *store.ProductStore
	emailClient  *email.Client
	adminEmail   string
	logger       *slog.Logger
}

func NewOrderHandler(
	engine *lifecycle.Engine,
	os *store.OrderStore,
	ps *store.ProductStore,
	ec *email.Client,
	adminEmail string,
	logger *slog.Logger,
) *OrderHandler {
	return &OrderHandler{
		engine:       engine,
		orderStore:   os,
		productStore: ps,
		emailClient:  ec,
		adminEmail:   adminEmail,
		logger:       logger,
	}
}

type createOrderRequest struct {
	ProductID        int64     `json:"product_id"`
	CustomerName     string    `json:"customer_name"`
	CustomerEmail    string    `json:"customer_email"`
	AccountNumber    flexInt64 `json:"account_number"`
	SubscriptionType string    `json:"subscription_type"`
	ReferralCode     string    `json:"referral_code"`
}

// Create handles POST /api/public/orders: validates the purchase, prices it
// from the product, and records a pending order awaiting payment.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.CustomerName == "" {
		writeError(w, http.StatusBadRequest, "customer_name is required")
		return
	}
	if _, err := mail.ParseAddress(req.CustomerEmail); err != nil {
		writeError(w, http.StatusBadRequest, "valid customer_email is required")
		return
	}
	// MT5 account numbers are 6 to 10 digits.
	if req.AccountNumber < 100000 || req.AccountNumber > 9999999999 {
		writeError(w, http.StatusBadRequest, "account_number must be 6-10 digits")
		return
	}

	product, err := h.productStore.GetByID(req.ProductID)
	if err != nil {
		h.logger.Error("get product", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if product == nil || !product.IsActive {
		writeError(w, http.StatusBadRequest, "product not available")
		return
	}
	price, ok := product.Price(req.SubscriptionType)
	if !ok || price <= 0 {
		writeError(w, http.StatusBadRequest, "invalid subscription_type for this product")
		return
	}

	if err := h.engine.EnsurePurchasable(int64(req.AccountNumber)); err != nil {
		writeEngineError(w, err)
		return
	}

	amount := price
	var discount float64
	if strings.TrimSpace(req.ReferralCode) != "" {
		discount = price * referralDiscount
		amount = price - discount
	}

	now := time.Now()
	orderID, err := lifecycle.NewOrderID(now)
	if err != nil {
		h.logger.Error("generate order id", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ip := clientIP(r)
	order, err := h.orderStore.Create(&model.Order{
		ID:               orderID,
		ProductID:        product.ID,
		CustomerName:     req.CustomerName,
		CustomerEmail:    req.CustomerEmail,
		AccountNumber:    int64(req.AccountNumber),
		SubscriptionType: req.SubscriptionType,
		Amount:           amount,
		OriginalAmount:   price,
		DiscountAmount:   discount,
		ClientIP:         &ip,
	})
	if err != nil {
		h.logger.Error("create order", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if h.emailClient != nil && h.emailClient.Configured() {
		conf := email.OrderConfirmation{
			OrderID:       order.ID,
			CustomerName:  order.CustomerName,
			ProductName:   product.Name,
			Plan:          order.SubscriptionType,
			Amount:        order.Amount,
			AccountNumber: order.AccountNumber,
		}
		go func() {
			if err := h.emailClient.SendOrderConfirmation(order.CustomerEmail, conf); err != nil {
				h.logger.Error("send order confirmation", "order", order.ID, "error", err)
			}
			if h.adminEmail != "" {
				if err := h.emailClient.SendNewOrderAlert(h.adminEmail, conf, order.CustomerEmail); err != nil {
					h.logger.Error("send new order alert", "order", order.ID, "error", err)
				}
			}
		}()
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"order_id": order.ID,
		"amount":   order.Amount,
		"discount": order.DiscountAmount,
	})
}

// List handles GET /api/admin/orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderStore.List()
	if err != nil {
		h.logger.Error("list orders", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if orders == nil {
		orders = []*model.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "orders": orders})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
