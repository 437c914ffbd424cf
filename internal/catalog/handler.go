package catalog

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stocklight/stocklight/internal/platform/httpx"
)

// Handler exposes read-only catalog lookups for collaborating services.
type Handler struct {
	repo *Repository
}

// NewHandler constructs the catalog handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products/{productID}", h.handleGetProduct)
	r.Get("/variants/{variantID}", h.handleGetVariant)
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if id == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product id is required")
		return
	}
	product, err := h.repo.GetProduct(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":              product.ID,
		"sku":             product.SKU,
		"name":            product.Name,
		"current_stock":   product.CurrentStock,
		"min_stock_level": product.MinStockLevel,
		"updated_at":      product.UpdatedAt.Format(time.RFC3339),
	})
}

func (h *Handler) handleGetVariant(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "variantID"), 10, 64)
	if id == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "variant id is required")
		return
	}
	variant, err := h.repo.GetVariant(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":              variant.ID,
		"product_id":      variant.ProductID,
		"sku":             variant.SKU,
		"name":            variant.Name,
		"current_stock":   variant.CurrentStock,
		"min_stock_level": variant.MinStockLevel,
		"updated_at":      variant.UpdatedAt.Format(time.RFC3339),
	})
}
