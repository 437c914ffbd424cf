package receiving

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(svc *Service) http.Handler {
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	r := chi.NewRouter()
	NewHandler(logger, svc).MountRoutes(r)
	return r
}

func TestHandleReceive(t *testing.T) {
	store, svc := newReceiveFixture(OverReceiptFlag)
	router := newTestRouter(svc)

	body := `{"received_by":7,"lines":[{"po_item_id":1,"product_id":100,"quantity":6,"unit_cost":2.5}]}`
	req := httptest.NewRequest(http.MethodPost, "/purchase-orders/1/receipts", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "partial", resp["po_status"])
	require.NotEmpty(t, resp["receipt_number"])
	require.Len(t, store.receipts, 1)
}

func TestHandleReceiveValidation(t *testing.T) {
	_, svc := newReceiveFixture(OverReceiptFlag)
	router := newTestRouter(svc)

	cases := []struct {
		name string
		path string
		body string
	}{
		{"missing lines", "/purchase-orders/1/receipts", `{"received_by":7}`},
		{"zero quantity", "/purchase-orders/1/receipts", `{"received_by":7,"lines":[{"po_item_id":1,"product_id":100,"quantity":0}]}`},
		{"bad date", "/purchase-orders/1/receipts", `{"received_by":7,"received_date":"01-02-2026","lines":[{"po_item_id":1,"product_id":100,"quantity":2}]}`},
		{"unknown field", "/purchase-orders/1/receipts", `{"received_by":7,"warehouse":"A","lines":[{"po_item_id":1,"product_id":100,"quantity":2}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleReceiveCancelledPO(t *testing.T) {
	store, svc := newReceiveFixture(OverReceiptFlag)
	store.po.Status = StatusCancelled
	router := newTestRouter(svc)

	body := `{"received_by":7,"lines":[{"po_item_id":1,"product_id":100,"quantity":2}]}`
	req := httptest.NewRequest(http.MethodPost, "/purchase-orders/1/receipts", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleSetStatus(t *testing.T) {
	store, svc := newReceiveFixture(OverReceiptFlag)
	store.po.Status = StatusDraft
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/purchase-orders/1/status", strings.NewReader(`{"status":"sent","actor_id":9}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, StatusSent, store.po.Status)

	// Resolver-owned statuses are rejected at the service layer.
	req = httptest.NewRequest(http.MethodPost, "/purchase-orders/1/status", strings.NewReader(`{"status":"received","actor_id":9}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetPurchaseOrder(t *testing.T) {
	_, svc := newReceiveFixture(OverReceiptFlag)
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/purchase-orders/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "PO-2026-001", resp["po_number"])
	require.Len(t, resp["items"], 2)

	req = httptest.NewRequest(http.MethodGet, "/purchase-orders/42", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
