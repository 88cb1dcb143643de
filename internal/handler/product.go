package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mark8pips/licensing/internal/model"
	"github.com/mark8pips/licensing/internal/store"
)

type ProductHandler struct {
	productStore  *store.ProductStore
	activityStore *store.ActivityStore
	logger        *slog.Logger
}

func NewProductHandler(ps *store.ProductStore, as *store.ActivityStore, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{productStore: ps, activityStore: as, logger: logger}
}

// ListActive handles GET /api/public/products.
func (h *ProductHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	products, err := h.productStore.ListActive()
	if err != nil {
		h.logger.Error("list active products", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if products == nil {
		products = []*model.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "products": products})
}

// List handles GET /api/admin/products: all products, inactive included.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.productStore.List()
	if err != nil {
		h.logger.Error("list products", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if products == nil {
		products = []*model.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "products": products})
}

type productRequest struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Description   string  `json:"description"`
	PriceMonthly  float64 `json:"price_monthly"`
	PriceYearly   float64 `json:"price_yearly"`
	PriceLifetime float64 `json:"price_lifetime"`
}

// Create handles POST /api/admin/products. Omitted yearly and lifetime
// prices default from the monthly price (x10 and x30).
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.PriceMonthly <= 0 {
		writeError(w, http.StatusBadRequest, "price_monthly must be positive")
		return
	}

	product, err := h.productStore.Create(req.Name, req.Type, req.Description, req.PriceMonthly, req.PriceYearly, req.PriceLifetime)
	if err != nil {
		h.logger.Error("create product", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.audit(r, "create_product", product.ID, product.Name)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "product": product})
}

type productActiveRequest struct {
	IsActive bool `json:"is_active"`
}

// SetActive handles PUT /api/admin/products/{id}/active.
func (h *ProductHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req productActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := h.productStore.SetActive(id, req.IsActive); err != nil {
		h.logger.Error("set product active", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.audit(r, "set_product_active", id, strconv.FormatBool(req.IsActive))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Delete handles DELETE /api/admin/products/{id}.
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.productStore.Delete(id); err != nil {
		h.logger.Error("delete product", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.audit(r, "delete_product", id, "")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *ProductHandler) audit(r *http.Request, action string, productID int64, detail string) {
	actor := AdminFromContext(r.Context())
	target := "product:" + strconv.FormatInt(productID, 10)
	if err := h.activityStore.Append(actor, action, target, detail); err != nil {
		h.logger.Error("append audit entry", "action", action, "error", err)
	}
}
