package receiving

// ResolveStatus derives the purchase order status from the aggregate of
// ordered versus received quantities across all items. It is a pure function
// of the item rows and safe to recompute any number of times.
//
// The resolver never regresses an administrative state: a sent order with
// zero receipts stays sent, and cancelled is terminal.
func ResolveStatus(current Status, items []POItem) Status {
	if current == StatusCancelled {
		return current
	}
	var totalOrdered, totalReceived int64
	for _, item := range items {
		totalOrdered += item.QuantityOrdered
		totalReceived += item.QuantityReceived
	}
	switch {
	case totalOrdered > 0 && totalReceived >= totalOrdered:
		return StatusReceived
	case totalReceived > 0:
		return StatusPartial
	default:
		return current
	}
}
