// Package shared holds cross-module primitives: the error taxonomy, audit
// logging, idempotency keys and approval history.
package shared

import "errors"

var (
	// ErrValidation indicates malformed input. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock is the strict-policy rejection of a movement that
	// would take stock below zero. A business rule violation, not a fault.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConcurrencyConflict wraps lock/transaction contention. Callers may
	// retry with backoff; the service itself never retries.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrOverReceipt is returned under the reject policy when a receipt line
	// would push quantity received past quantity ordered.
	ErrOverReceipt = errors.New("over-receipt rejected")
	// ErrInvalidState occurs when an action violates a status workflow.
	ErrInvalidState = errors.New("invalid state transition")
)
