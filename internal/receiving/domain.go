// Package receiving reconciles purchase orders against received shipments:
// it owns receipts, line-level received quantities and the derived purchase
// order status.
package receiving

import "time"

// Status enumerates purchase order lifecycle states. partial and received
// are derived by the resolver; the rest are administrative.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPartial   Status = "partial"
	StatusReceived  Status = "received"
	StatusCancelled Status = "cancelled"
)

// KnownStatus reports whether s belongs to the enumerated status set.
func KnownStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusSent, StatusPartial, StatusReceived, StatusCancelled:
		return true
	}
	return false
}

// ResolverOwned reports whether s may only be set by the status resolver.
func ResolverOwned(s Status) bool {
	return s == StatusPartial || s == StatusReceived
}

// PurchaseOrder is the order header.
type PurchaseOrder struct {
	ID           int64
	PONumber     string
	SupplierID   int64
	Status       Status
	OrderDate    time.Time
	ExpectedDate time.Time
	ReceivedDate *time.Time
	TotalCost    float64
}

// POItem tracks ordered versus received quantities for one product line.
// QuantityReceived is the only mutable aggregate in this module; it only
// ever advances.
type POItem struct {
	ID               int64
	POID             int64
	ProductID        int64
	VariantID        int64
	QuantityOrdered  int64
	QuantityReceived int64
	QuantityInvoiced int64
	UnitCost         float64
}

// Receipt records one physical receiving event against a purchase order.
// Immutable once written.
type Receipt struct {
	ID            int64
	POID          int64
	ReceiptNumber string
	ReceivedDate  time.Time
	ReceivedBy    int64
	Notes         string
}

// ReceiptItem is one received line within a receipt.
type ReceiptItem struct {
	ID               int64
	ReceiptID        int64
	POItemID         int64
	ProductID        int64
	QuantityReceived int64
	UnitCost         float64
	Condition        string
	Notes            string
}

// ReceiveLine is the caller-facing shape of one line to receive.
type ReceiveLine struct {
	POItemID  int64
	ProductID int64
	Quantity  int64
	UnitCost  float64
	Condition string
	Notes     string
}

// ReceiveInput describes one receiving call.
type ReceiveInput struct {
	POID           int64
	ReceivedDate   time.Time
	ReceivedBy     int64
	Notes          string
	IdempotencyKey string
	Lines          []ReceiveLine
}

// ReceiveResult reports the outcome of a receiving call. OverReceived lists
// PO item ids whose received quantity now exceeds the ordered quantity; it is
// only populated under the flag policy.
type ReceiveResult struct {
	ReceiptID     int64
	ReceiptNumber string
	POStatus      Status
	OverReceived  []int64
}
