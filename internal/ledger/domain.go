// Package ledger implements the append-only stock movement ledger and the
// projector that keeps current stock levels consistent with it.
package ledger

import "time"

// MovementType enumerates the closed set of supported stock movements.
type MovementType string

const (
	// MovementReceipt records goods received against a purchase order.
	MovementReceipt MovementType = "receipt"
	// MovementAdjustment records a manual correction, signed by the caller.
	MovementAdjustment MovementType = "adjustment"
	// MovementSale records an outbound sale.
	MovementSale MovementType = "sale"
	// MovementReturn records a customer return coming back to stock.
	MovementReturn MovementType = "return"
	// MovementTransfer records stock leaving for another location.
	MovementTransfer MovementType = "transfer"
	// MovementLoss records shrinkage, damage or write-off.
	MovementLoss MovementType = "loss"
	// MovementFound records stock discovered during counts.
	MovementFound MovementType = "found"
)

// KnownType reports whether t belongs to the enumerated movement set.
func KnownType(t MovementType) bool {
	switch t {
	case MovementReceipt, MovementAdjustment, MovementSale, MovementReturn, MovementTransfer, MovementLoss, MovementFound:
		return true
	}
	return false
}

// SignedDelta derives the signed stock delta from the movement type and the
// caller-supplied quantity. For every type except adjustment the caller
// passes an unsigned magnitude; adjustment is the one type that moves stock
// either direction explicitly.
func SignedDelta(t MovementType, quantity int64) int64 {
	switch t {
	case MovementReceipt, MovementReturn, MovementFound:
		return abs(quantity)
	case MovementSale, MovementTransfer, MovementLoss:
		return -abs(quantity)
	default:
		return quantity
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Movement is an immutable ledger entry. Quantity is the applied signed
// delta; corrections are new offsetting movements, never updates.
type Movement struct {
	ID            int64
	ProductID     int64
	VariantID     int64
	Type          MovementType
	Quantity      int64
	ReferenceType string
	ReferenceID   string
	Reason        string
	CreatedBy     int64
	CreatedAt     time.Time
}

// RecordInput describes a movement to append. Quantity carries the unsigned
// magnitude except for adjustments, where it is the signed value itself.
type RecordInput struct {
	ProductID     int64
	VariantID     int64
	Type          MovementType
	Quantity      int64
	ReferenceType string
	ReferenceID   string
	Reason        string
	ActorID       int64
}

// MovementFilter narrows movement history queries.
type MovementFilter struct {
	ProductID int64
	VariantID int64
	Limit     int
}
