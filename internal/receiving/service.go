package receiving

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/stocklight/stocklight/internal/ledger"
	"github.com/stocklight/stocklight/internal/shared"
)

// Over-receipt policies. Fixed per deployment, never per call.
const (
	OverReceiptReject = "reject"
	OverReceiptFlag   = "flag"
)

// RepositoryPort describes repository operations used by the coordinator.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchaseOrder(ctx context.Context, poID int64) (PurchaseOrder, []POItem, error)
}

// LedgerPort is the single movement-recording interface the coordinator
// drives. RecordInTx runs inside the coordinator's transaction; AfterApply
// runs its post-commit side effects.
type LedgerPort interface {
	RecordInTx(ctx context.Context, tx ledger.TxRepository, input ledger.RecordInput) (ledger.Movement, error)
	AfterApply(ctx context.Context, movements ...ledger.Movement)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards receipt resubmission. Implemented by
// shared.IdempotencyStore.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort abstracts receipt counters.
type MetricsPort interface {
	ObserveReceipt()
}

// ServiceConfig groups deployment-level policy settings.
type ServiceConfig struct {
	OverReceiptPolicy string
}

// Service orchestrates purchase order receiving.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	idempotency IdempotencyPort
	approvals   *shared.ApprovalRecorder
	audit       AuditPort
	metrics     MetricsPort
	logger      *slog.Logger
	rejectOver  bool
	now         func() time.Time
}

// NewService constructs the receiving coordinator. now may be nil and
// defaults to time.Now.
func NewService(repo RepositoryPort, ledgerPort LedgerPort, idem IdempotencyPort, approvals *shared.ApprovalRecorder, audit AuditPort, metrics MetricsPort, logger *slog.Logger, cfg ServiceConfig, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:        repo,
		ledger:      ledgerPort,
		idempotency: idem,
		approvals:   approvals,
		audit:       audit,
		metrics:     metrics,
		logger:      logger,
		rejectOver:  cfg.OverReceiptPolicy == OverReceiptReject,
		now:         now,
	}
}

// Receive posts a shipment against a purchase order. The receipt, its items,
// the PO item increments, the ledger movements, the stock updates and the
// status recompute form one atomic transaction under a per-PO row lock;
// nothing is partially committed.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (ReceiveResult, error) {
	if err := validateReceiveInput(input); err != nil {
		return ReceiveResult{}, err
	}
	receivedDate := input.ReceivedDate
	if receivedDate.IsZero() {
		receivedDate = s.now().UTC()
	}

	insertedKey := false
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "receiving"); err != nil {
			return ReceiveResult{}, err
		}
		insertedKey = true
	}

	var (
		result    ReceiveResult
		movements []ledger.Movement
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, input.POID)
		if err != nil {
			return err
		}
		if po.Status == StatusCancelled {
			return fmt.Errorf("%w: purchase order %s is cancelled", shared.ErrInvalidState, po.PONumber)
		}

		receipt := Receipt{
			POID:          po.ID,
			ReceiptNumber: fmt.Sprintf("RCP-%d", s.now().UnixNano()),
			ReceivedDate:  receivedDate,
			ReceivedBy:    input.ReceivedBy,
			Notes:         input.Notes,
		}
		receiptID, err := tx.InsertReceipt(ctx, receipt)
		if err != nil {
			return err
		}

		ledgerTx := tx.Ledger()
		var overReceived []int64
		for _, line := range input.Lines {
			item, err := tx.AddReceivedQuantity(ctx, line.POItemID, po.ID, line.Quantity)
			if err != nil {
				return fmt.Errorf("po item %d: %w", line.POItemID, err)
			}
			if item.ProductID != line.ProductID {
				return fmt.Errorf("%w: po item %d does not reference product %d", shared.ErrNotFound, line.POItemID, line.ProductID)
			}
			if item.QuantityReceived > item.QuantityOrdered {
				if s.rejectOver {
					return fmt.Errorf("%w: po item %d received %d of %d ordered", shared.ErrOverReceipt, item.ID, item.QuantityReceived, item.QuantityOrdered)
				}
				overReceived = append(overReceived, item.ID)
			}

			if err := tx.InsertReceiptItem(ctx, ReceiptItem{
				ReceiptID:        receiptID,
				POItemID:         line.POItemID,
				ProductID:        line.ProductID,
				QuantityReceived: line.Quantity,
				UnitCost:         line.UnitCost,
				Condition:        line.Condition,
				Notes:            line.Notes,
			}); err != nil {
				return err
			}

			movement, err := s.ledger.RecordInTx(ctx, ledgerTx, ledger.RecordInput{
				ProductID:     line.ProductID,
				VariantID:     item.VariantID,
				Type:          ledger.MovementReceipt,
				Quantity:      line.Quantity,
				ReferenceType: "po_receipt",
				ReferenceID:   strconv.FormatInt(receiptID, 10),
				Reason:        fmt.Sprintf("receipt %s", receipt.ReceiptNumber),
				ActorID:       input.ReceivedBy,
			})
			if err != nil {
				return err
			}
			movements = append(movements, movement)
		}

		items, err := tx.ListItems(ctx, po.ID)
		if err != nil {
			return err
		}
		newStatus := ResolveStatus(po.Status, items)
		var completedAt *time.Time
		if newStatus == StatusReceived {
			completedAt = &receivedDate
		}
		if err := tx.UpdateStatus(ctx, po.ID, newStatus, completedAt); err != nil {
			return err
		}

		result = ReceiveResult{
			ReceiptID:     receiptID,
			ReceiptNumber: receipt.ReceiptNumber,
			POStatus:      newStatus,
			OverReceived:  overReceived,
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return ReceiveResult{}, err
	}

	s.ledger.AfterApply(ctx, movements...)
	if s.metrics != nil {
		s.metrics.ObserveReceipt()
	}
	s.recordAudit(ctx, input.ReceivedBy, "RECEIPT_POST", result.ReceiptID, map[string]any{
		"po_id":          input.POID,
		"receipt_number": result.ReceiptNumber,
		"lines":          len(input.Lines),
		"po_status":      string(result.POStatus),
	})
	if len(result.OverReceived) > 0 {
		if s.logger != nil {
			s.logger.Warn("over-receipt flagged",
				slog.Int64("po_id", input.POID),
				slog.Any("po_item_ids", result.OverReceived))
		}
		s.recordAudit(ctx, input.ReceivedBy, "RECEIPT_OVER", result.ReceiptID, map[string]any{
			"po_id":       input.POID,
			"po_item_ids": result.OverReceived,
		})
	}
	return result, nil
}

// SetStatus performs an administrative status transition. partial and
// received are resolver-owned and rejected here.
func (s *Service) SetStatus(ctx context.Context, poID int64, status Status, actorID int64, note string) (PurchaseOrder, error) {
	if !KnownStatus(status) {
		return PurchaseOrder{}, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, status)
	}
	if ResolverOwned(status) {
		return PurchaseOrder{}, fmt.Errorf("%w: status %q is derived from receipts", shared.ErrValidation, status)
	}

	var updated PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if !adminTransitionAllowed(po.Status, status) {
			return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidState, po.Status, status)
		}
		if err := tx.UpdateStatus(ctx, poID, status, nil); err != nil {
			return err
		}
		updated = po
		updated.Status = status
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}

	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  "PO",
			RefID:   poID,
			ActorID: actorID,
			Action:  approvalAction(status),
			Note:    note,
		})
	}
	s.recordAudit(ctx, actorID, "PO_STATUS", poID, map[string]any{"status": string(status), "note": note})
	return updated, nil
}

// GetPurchaseOrder returns the order header with its items.
func (s *Service) GetPurchaseOrder(ctx context.Context, poID int64) (PurchaseOrder, []POItem, error) {
	if poID == 0 {
		return PurchaseOrder{}, nil, fmt.Errorf("%w: purchase order required", shared.ErrValidation)
	}
	return s.repo.GetPurchaseOrder(ctx, poID)
}

// adminTransitionAllowed encodes the administrative state machine:
// draft -> sent, sent -> draft, and cancellation from any non-terminal state.
func adminTransitionAllowed(from, to Status) bool {
	switch to {
	case StatusSent:
		return from == StatusDraft
	case StatusDraft:
		return from == StatusSent
	case StatusCancelled:
		return from != StatusReceived && from != StatusCancelled
	default:
		return false
	}
}

func approvalAction(status Status) shared.ApprovalAction {
	switch status {
	case StatusSent:
		return shared.ApprovalSend
	case StatusCancelled:
		return shared.ApprovalCancel
	default:
		return shared.ApprovalReopen
	}
}

func validateReceiveInput(input ReceiveInput) error {
	if input.POID == 0 {
		return fmt.Errorf("%w: purchase order required", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	for i, line := range input.Lines {
		if line.POItemID == 0 || line.ProductID == 0 {
			return fmt.Errorf("%w: line %d requires po item and product", shared.ErrValidation, i)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: line %d quantity must be positive", shared.ErrValidation, i)
		}
		if line.UnitCost < 0 {
			return fmt.Errorf("%w: line %d unit cost must be >= 0", shared.ErrValidation, i)
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
