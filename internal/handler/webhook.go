package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	stripesdk "github.com/stripe/stripe-go/v82"

	"github.com/mark8pips/licensing/internal/email"
	"github.com/mark8pips/licensing/internal/lifecycle"
	"github.com/mark8pips/licensing/internal/store"
	"github.com/mark8pips/licensing/internal/stripe"
)

const downloadTokenTTL = 24 * time.Hour

type WebhookHandler struct {
	engine        *lifecycle.Engine
	stripeClient  *stripe.Client
	orderStore    *store.OrderStore
	downloadStore *store.DownloadStore
	emailClient   *email.Client
	cryptoSecret  []byte
	logger        *slog.Logger
}

func NewWebhookHandler(
	engine *lifecycle.Engine,
	sc *stripe.Client,
	os *store.OrderStore,
	ds *store.DownloadStore,
	ec *email.Client,
	cryptoSecret []byte,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		engine:        engine,
		stripeClient:  sc,
		orderStore:    os,
		downloadStore: ds,
		emailClient:   ec,
		cryptoSecret:  cryptoSecret,
		logger:        logger,
	}
}

// HandleStripe handles POST /api/webhooks/stripe. Delivery is at-least-once;
// the engine's pending-to-completed order transition absorbs duplicates.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.stripeClient.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(event)
	case "checkout.session.expired":
		h.handleCheckoutExpired(event)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(event stripesdk.Event) {
	var sess stripesdk.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("webhook: unmarshal checkout session", "error", err)
		return
	}

	orderID := sess.Metadata["order_id"]
	if orderID == "" {
		h.logger.Error("webhook: checkout session missing order_id metadata", "session", sess.ID)
		return
	}

	paymentID := sess.ID
	if sess.PaymentIntent != nil {
		paymentID = sess.PaymentIntent.ID
	}
	h.completeOrder(orderID, "stripe", paymentID)
}

func (h *WebhookHandler) handleCheckoutExpired(event stripesdk.Event) {
	var sess stripesdk.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("webhook: unmarshal checkout session", "error", err)
		return
	}
	orderID := sess.Metadata["order_id"]
	if orderID == "" {
		return
	}
	if err := h.orderStore.MarkExpired(orderID); err != nil {
		h.logger.Error("webhook: mark order expired", "order", orderID, "error", err)
	}
}

type cryptoWebhookPayload struct {
	OrderID string `json:"order_id"`
	Status  int    `json:"status"`
	TxnID   string `json:"txn_id"`
}

// HandleCrypto handles POST /api/webhooks/crypto. The processor signs the
// raw body with HMAC-SHA256; status 100 means the payment is final.
func (h *WebhookHandler) HandleCrypto(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	mac := hmac.New(sha256.New, h.cryptoSecret)
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(r.Header.Get("X-Signature"))) {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	var payload cryptoWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if payload.Status == 100 && payload.OrderID != "" {
		h.completeOrder(payload.OrderID, "crypto", payload.TxnID)
	}

	w.WriteHeader(http.StatusOK)
}

// completeOrder runs payment finalization: license issuance, download token,
// and the payment-success email.
func (h *WebhookHandler) completeOrder(orderID, method, paymentID string) {
	order, err := h.orderStore.GetByID(orderID)
	if err != nil {
		h.logger.Error("webhook: get order", "order", orderID, "error", err)
		return
	}
	if order == nil {
		h.logger.Error("webhook: unknown order", "order", orderID)
		return
	}

	res, err := h.engine.IssueFromPayment(order, method, paymentID)
	if err != nil {
		h.logger.Error("webhook: issue from payment", "order", orderID, "error", err)
		return
	}
	if res.AlreadyProcessed {
		return
	}

	token, err := h.downloadStore.Create(order.ID, order.AccountNumber, time.Now().Add(downloadTokenTTL))
	if err != nil {
		h.logger.Error("webhook: create download token", "order", orderID, "error", err)
	}

	if h.emailClient != nil && h.emailClient.Configured() {
		conf := email.OrderConfirmation{
			OrderID:       order.ID,
			CustomerName:  order.CustomerName,
			ProductName:   order.ProductName,
			Plan:          order.SubscriptionType,
			Amount:        order.Amount,
			AccountNumber: order.AccountNumber,
		}
		var tokenValue string
		if token != nil {
			tokenValue = token.Token
		}
		go func() {
			if err := h.emailClient.SendPaymentSuccess(order.CustomerEmail, conf, res.LicenseKey, tokenValue); err != nil {
				h.logger.Error("webhook: send payment success", "order", order.ID, "error", err)
			}
		}()
	}

	h.logger.Info("payment completed", "order", order.ID, "method", method)
}
