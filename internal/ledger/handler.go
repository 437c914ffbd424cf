package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stocklight/stocklight/internal/platform/httpx"
)

// Handler wires the ledger HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleRecordMovement)
	r.Get("/movements", h.handleListMovements)
	r.Get("/stock", h.handleCurrentStock)
}

type recordMovementRequest struct {
	ProductID     int64  `json:"product_id" validate:"required,gt=0"`
	VariantID     int64  `json:"variant_id" validate:"omitempty,gt=0"`
	Type          string `json:"type" validate:"required"`
	Quantity      int64  `json:"quantity" validate:"required"`
	ReferenceType string `json:"reference_type" validate:"omitempty,max=64"`
	ReferenceID   string `json:"reference_id" validate:"omitempty,max=128"`
	Reason        string `json:"reason" validate:"omitempty,max=500"`
	ActorID       int64  `json:"actor_id" validate:"omitempty,gt=0"`
}

type movementResponse struct {
	ID            int64  `json:"id"`
	ProductID     int64  `json:"product_id"`
	VariantID     int64  `json:"variant_id,omitempty"`
	Type          string `json:"type"`
	Quantity      int64  `json:"quantity"`
	ReferenceType string `json:"reference_type,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	CreatedBy     int64  `json:"created_by,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func (h *Handler) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	var req recordMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	movement, err := h.service.Record(r.Context(), RecordInput{
		ProductID:     req.ProductID,
		VariantID:     req.VariantID,
		Type:          MovementType(req.Type),
		Quantity:      req.Quantity,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Reason:        req.Reason,
		ActorID:       req.ActorID,
	})
	if err != nil {
		h.logger.Warn("record movement failed", slog.Any("error", err), slog.Int64("product_id", req.ProductID))
		httpx.RespondError(w, err)
		return
	}

	h.logger.Info("movement recorded",
		slog.Int64("movement_id", movement.ID),
		slog.String("type", string(movement.Type)),
		slog.Int64("quantity", movement.Quantity))
	httpx.JSON(w, http.StatusCreated, toMovementResponse(movement))
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	filter := MovementFilter{
		ProductID: queryInt64(r, "product_id"),
		VariantID: queryInt64(r, "variant_id"),
	}
	if limit := queryInt64(r, "limit"); limit > 0 {
		filter.Limit = int(limit)
	}
	if filter.ProductID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id is required")
		return
	}

	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, toMovementResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

func (h *Handler) handleCurrentStock(w http.ResponseWriter, r *http.Request) {
	productID := queryInt64(r, "product_id")
	variantID := queryInt64(r, "variant_id")
	if productID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id is required")
		return
	}

	stock, err := h.service.CurrentStock(r.Context(), productID, variantID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":    productID,
		"variant_id":    variantID,
		"current_stock": stock,
	})
}

func toMovementResponse(m Movement) movementResponse {
	return movementResponse{
		ID:            m.ID,
		ProductID:     m.ProductID,
		VariantID:     m.VariantID,
		Type:          string(m.Type),
		Quantity:      m.Quantity,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
		Reason:        m.Reason,
		CreatedBy:     m.CreatedBy,
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
	}
}

func validationDetail(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		return errs[0].Error()
	}
	return err.Error()
}

func queryInt64(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}
