package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/stocklight/stocklight/internal/shared"
)

// Negative-stock policies. The policy is fixed per deployment; call sites
// never choose.
const (
	PolicyStrict = "strict"
	PolicyClamp  = "clamp"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CurrentStock(ctx context.Context, productID, variantID int64) (int64, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort abstracts movement counters.
type MetricsPort interface {
	ObserveMovement(movementType string)
}

// ServiceConfig groups deployment-level policy settings.
type ServiceConfig struct {
	Policy               string
	MaxMovementMagnitude int64
}

// Service is the single canonical movement-recording interface. Every
// stock-affecting flow goes through Record or, for coordinators that manage
// their own transaction, RecordInTx.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	cache   *StockCache
	logger  *slog.Logger
	clamp   bool
	maxMag  int64
	now     func() time.Time
}

// NewService builds Service. All dependencies are explicit; now may be nil
// and defaults to time.Now.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort, cache *StockCache, logger *slog.Logger, cfg ServiceConfig, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	maxMag := cfg.MaxMovementMagnitude
	if maxMag <= 0 {
		maxMag = 1_000_000
	}
	return &Service{
		repo:    repo,
		audit:   audit,
		metrics: metrics,
		cache:   cache,
		logger:  logger,
		clamp:   cfg.Policy == PolicyClamp,
		maxMag:  maxMag,
		now:     now,
	}
}

// Record validates, appends the movement and projects the stock change in
// one transaction. Any validation failure aborts with no row written.
func (s *Service) Record(ctx context.Context, input RecordInput) (Movement, error) {
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, err = s.RecordInTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.AfterApply(ctx, movement)
	return movement, nil
}

// RecordInTx appends a movement and applies its delta inside an already open
// transaction. Coordinators that call this must invoke AfterApply once their
// transaction commits.
func (s *Service) RecordInTx(ctx context.Context, tx TxRepository, input RecordInput) (Movement, error) {
	if err := s.validate(input); err != nil {
		return Movement{}, err
	}
	delta := SignedDelta(input.Type, input.Quantity)

	newStock, clamped, err := tx.ApplyDelta(ctx, input.ProductID, input.VariantID, delta, s.clamp)
	if err != nil {
		return Movement{}, err
	}
	if clamped && s.logger != nil {
		// Ledger total and displayed stock diverge here; the ledger keeps
		// the true requested magnitude.
		s.logger.Warn("stock clamped at zero",
			slog.Int64("product_id", input.ProductID),
			slog.Int64("variant_id", input.VariantID),
			slog.Int64("delta", delta),
			slog.Int64("current_stock", newStock))
	}

	movement := Movement{
		ProductID:     input.ProductID,
		VariantID:     input.VariantID,
		Type:          input.Type,
		Quantity:      delta,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Reason:        input.Reason,
		CreatedBy:     input.ActorID,
		CreatedAt:     s.now().UTC(),
	}
	id, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return Movement{}, err
	}
	movement.ID = id
	return movement, nil
}

// AfterApply runs post-commit side effects for applied movements: cache
// invalidation, metrics and write-behind auditing. None of these affect
// correctness.
func (s *Service) AfterApply(ctx context.Context, movements ...Movement) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil && s.logger != nil {
			s.logger.Warn("stock cache invalidate", slog.Any("error", err))
		}
	}
	for _, m := range movements {
		if s.metrics != nil {
			s.metrics.ObserveMovement(string(m.Type))
		}
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditLog{
				ActorID:  m.CreatedBy,
				Action:   fmt.Sprintf("ledger:%s", m.Type),
				Entity:   "stock_movement",
				EntityID: strconv.FormatInt(m.ID, 10),
				Meta: map[string]any{
					"product_id": m.ProductID,
					"variant_id": m.VariantID,
					"quantity":   m.Quantity,
					"reference":  m.ReferenceType,
				},
			})
		}
	}
}

// CurrentStock reads the projected stock level, served from the snapshot
// cache when warm.
func (s *Service) CurrentStock(ctx context.Context, productID, variantID int64) (int64, error) {
	if productID == 0 {
		return 0, fmt.Errorf("%w: product required", shared.ErrValidation)
	}
	if s.cache == nil {
		return s.repo.CurrentStock(ctx, productID, variantID)
	}
	return s.cache.GetOrLoad(ctx, productID, variantID, func() (int64, error) {
		return s.repo.CurrentStock(ctx, productID, variantID)
	})
}

// ListMovements returns ledger history for a product or variant.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ProductID == 0 {
		return nil, fmt.Errorf("%w: product required", shared.ErrValidation)
	}
	return s.repo.ListMovements(ctx, filter)
}

func (s *Service) validate(input RecordInput) error {
	if input.ProductID == 0 {
		return fmt.Errorf("%w: product required", shared.ErrValidation)
	}
	if !KnownType(input.Type) {
		return fmt.Errorf("%w: unknown movement type %q", shared.ErrValidation, input.Type)
	}
	if input.Quantity == 0 {
		return fmt.Errorf("%w: quantity must be non-zero", shared.ErrValidation)
	}
	if mag := abs(SignedDelta(input.Type, input.Quantity)); mag > s.maxMag {
		return fmt.Errorf("%w: quantity %d exceeds movement cap %d", shared.ErrValidation, mag, s.maxMag)
	}
	return nil
}
