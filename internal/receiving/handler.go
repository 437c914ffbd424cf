package receiving

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stocklight/stocklight/internal/platform/httpx"
)

// Handler wires the receiving HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the receiving handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers purchase order receiving routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchase-orders/{poID}", func(r chi.Router) {
		r.Get("/", h.handleGetPurchaseOrder)
		r.Post("/receipts", h.handleReceive)
		r.Post("/status", h.handleSetStatus)
	})
}

type receiveLineRequest struct {
	POItemID  int64   `json:"po_item_id" validate:"required,gt=0"`
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  int64   `json:"quantity" validate:"required,gt=0"`
	UnitCost  float64 `json:"unit_cost" validate:"gte=0"`
	Condition string  `json:"condition" validate:"omitempty,max=64"`
	Notes     string  `json:"notes" validate:"omitempty,max=500"`
}

type receiveRequest struct {
	ReceivedDate   string               `json:"received_date" validate:"omitempty,datetime=2006-01-02"`
	ReceivedBy     int64                `json:"received_by" validate:"required,gt=0"`
	Notes          string               `json:"notes" validate:"omitempty,max=500"`
	IdempotencyKey string               `json:"idempotency_key" validate:"omitempty,max=128"`
	Lines          []receiveLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type setStatusRequest struct {
	Status  string `json:"status" validate:"required"`
	ActorID int64  `json:"actor_id" validate:"required,gt=0"`
	Note    string `json:"note" validate:"omitempty,max=500"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	poID := pathInt64(r, "poID")
	if poID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "purchase order id is required")
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	input := ReceiveInput{
		POID:           poID,
		ReceivedBy:     req.ReceivedBy,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.ReceivedDate != "" {
		date, err := time.Parse("2006-01-02", req.ReceivedDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "received_date must be YYYY-MM-DD")
			return
		}
		input.ReceivedDate = date
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReceiveLine{
			POItemID:  line.POItemID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitCost:  line.UnitCost,
			Condition: line.Condition,
			Notes:     line.Notes,
		})
	}

	result, err := h.service.Receive(r.Context(), input)
	if err != nil {
		h.logger.Warn("receive failed", slog.Any("error", err), slog.Int64("po_id", poID))
		httpx.RespondError(w, err)
		return
	}

	h.logger.Info("receipt posted",
		slog.Int64("po_id", poID),
		slog.String("receipt_number", result.ReceiptNumber),
		slog.String("po_status", string(result.POStatus)))
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"receipt_id":     result.ReceiptID,
		"receipt_number": result.ReceiptNumber,
		"po_status":      string(result.POStatus),
		"over_received":  result.OverReceived,
	})
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	poID := pathInt64(r, "poID")
	if poID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "purchase order id is required")
		return
	}
	var req setStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	po, err := h.service.SetStatus(r.Context(), poID, Status(req.Status), req.ActorID, req.Note)
	if err != nil {
		h.logger.Warn("set status failed", slog.Any("error", err), slog.Int64("po_id", poID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"po_id":  po.ID,
		"status": string(po.Status),
	})
}

func (h *Handler) handleGetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	poID := pathInt64(r, "poID")
	if poID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "purchase order id is required")
		return
	}

	po, items, err := h.service.GetPurchaseOrder(r.Context(), poID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	outItems := make([]map[string]any, 0, len(items))
	for _, item := range items {
		outItems = append(outItems, map[string]any{
			"id":                item.ID,
			"product_id":        item.ProductID,
			"variant_id":        item.VariantID,
			"quantity_ordered":  item.QuantityOrdered,
			"quantity_received": item.QuantityReceived,
			"quantity_invoiced": item.QuantityInvoiced,
			"unit_cost":         item.UnitCost,
		})
	}
	resp := map[string]any{
		"id":            po.ID,
		"po_number":     po.PONumber,
		"supplier_id":   po.SupplierID,
		"status":        string(po.Status),
		"order_date":    po.OrderDate.Format("2006-01-02"),
		"expected_date": po.ExpectedDate.Format("2006-01-02"),
		"total_cost":    po.TotalCost,
		"items":         outItems,
	}
	if po.ReceivedDate != nil {
		resp["received_date"] = po.ReceivedDate.Format("2006-01-02")
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func validationDetail(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		return errs[0].Error()
	}
	return err.Error()
}

func pathInt64(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return v
}
