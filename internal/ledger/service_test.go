package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stocklight/stocklight/internal/shared"
)

type memoryRepo struct {
	stocks    map[string]int64
	known     map[string]bool
	movements []Movement
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{stocks: make(map[string]int64), known: make(map[string]bool)}
}

func (r *memoryRepo) register(productID, variantID, stock int64) {
	key := stockKey(productID, variantID)
	r.known[key] = true
	r.stocks[key] = stock
}

func stockKey(productID, variantID int64) string {
	return fmt.Sprintf("%d:%d", productID, variantID)
}

type memoryTx struct {
	repo      *memoryRepo
	stocks    map[string]int64
	movements []Movement
}

// WithTx stages writes and swaps them in only when fn succeeds, mirroring
// transactional rollback.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: r, stocks: make(map[string]int64, len(r.stocks))}
	for k, v := range r.stocks {
		tx.stocks[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.stocks = tx.stocks
	r.movements = append(r.movements, tx.movements...)
	return nil
}

func (r *memoryRepo) CurrentStock(ctx context.Context, productID, variantID int64) (int64, error) {
	key := stockKey(productID, variantID)
	if !r.known[key] {
		return 0, shared.ErrNotFound
	}
	return r.stocks[key], nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	out := []Movement{}
	for _, m := range r.movements {
		if m.ProductID == filter.ProductID && (filter.VariantID == 0 || m.VariantID == filter.VariantID) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.movements = append(tx.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) ApplyDelta(ctx context.Context, productID, variantID, delta int64, clamp bool) (int64, bool, error) {
	key := stockKey(productID, variantID)
	if !tx.repo.known[key] {
		return 0, false, shared.ErrNotFound
	}
	next := tx.stocks[key] + delta
	clamped := false
	if next < 0 {
		if !clamp {
			return 0, false, shared.ErrInsufficientStock
		}
		next = 0
		clamped = true
	}
	tx.stocks[key] = next
	return next, clamped, nil
}

func newTestService(repo *memoryRepo, policy string) *Service {
	return NewService(repo, nil, nil, nil, nil, ServiceConfig{Policy: policy, MaxMovementMagnitude: 1000}, nil)
}

func TestRecordSignPolicy(t *testing.T) {
	repo := newMemoryRepo()
	repo.register(1, 0, 10)
	svc := newTestService(repo, PolicyStrict)
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordInput{ProductID: 1, Type: MovementSale, Quantity: 5})
	require.NoError(t, err)
	stock, err := svc.CurrentStock(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, int64(5), stock)

	_, err = svc.Record(ctx, RecordInput{ProductID: 1, Type: MovementReceipt, Quantity: 5})
	require.NoError(t, err)
	stock, err = svc.CurrentStock(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, int64(10), stock)

	_, err = svc.Record(ctx, RecordInput{ProductID: 1, Type: MovementAdjustment, Quantity: -3})
	require.NoError(t, err)
	stock, err = svc.CurrentStock(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, int64(7), stock)
}

func TestRecordConservation(t *testing.T) {
	repo := newMemoryRepo()
	repo.register(1, 0, 0)
	svc := newTestService(repo, PolicyStrict)
	ctx := context.Background()

	inputs := []RecordInput{
		{ProductID: 1, Type: MovementReceipt, Quantity: 20},
		{ProductID: 1, Type: MovementSale, Quantity: 8},
		{ProductID: 1, Type: MovementReturn, Quantity: 2},
		{ProductID: 1, Type: MovementLoss, Quantity: 1},
		{ProductID: 1, Type: MovementAdjustment, Quantity: -4},
		{ProductID: 1, Type: MovementFound, Quantity: 3},
	}
	for _, input := range inputs {
		_, err := svc.Record(ctx, input)
		require.NoError(t, err)
	}

	movements, err := svc.ListMovements(ctx, MovementFilter{ProductID: 1})
	require.NoError(t, err)
	var total int64
	for _, m := range movements {
		total += m.Quantity
	}
	stock, err := svc.CurrentStock(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, total, stock)
	require.Equal(t, int64(12), stock)
}

func TestRecordStrictRejectsNegative(t *testing.T) {
	repo := newMemoryRepo()
	repo.register(1, 0, 3)
	svc := newTestService(repo, PolicyStrict)
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordInput{ProductID: 1, Type: MovementSale, Quantity: 5})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// Ledger and stock stay untouched.
	require.Empty(t, repo.movements)
	stock, err := svc.CurrentStock(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, int64(3), stock)
}

func TestRecordClampFloorsVisibleStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.register(1, 0, 3)
	svc := newTestService(repo, PolicyClamp)
	ctx := context.Background()

	movement, err := svc.Record(ctx, RecordInput{ProductID: 1, Type: MovementSale, Quantity: 5})
	require.NoError(t, err)
	// Ledger records the true requested magnitude.
	require.Equal(t, int64(-5), movement.Quantity)

	stock, err := svc.CurrentStock(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), stock)
}

func TestRecordClampLogsOnlyOnDivergence(t *testing.T) {
	repo := newMemoryRepo()
	repo.register(1, 0, 5)
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	svc := NewService(repo, nil, nil, nil, logger, ServiceConfig{Policy: PolicyClamp, MaxMovementMagnitude: 1000}, nil)
	ctx := context.Background()

	// Selling down to exactly zero clamps nothing.
	_, err := svc.Record(ctx, RecordInput{ProductID: 1, Type: MovementSale, Quantity: 5})
	require.NoError(t, err)
	require.NotContains(t, buf.String(), "stock clamped at zero")

	// Selling past zero does.
	_, err = svc.Record(ctx, RecordInput{ProductID: 1, Type: MovementSale, Quantity: 3})
	require.NoError(t, err)
	require.Contains(t, buf.String(), "stock clamped at zero")
}

func TestRecordValidation(t *testing.T) {
	repo := newMemoryRepo()
	repo.register(1, 0, 10)
	svc := newTestService(repo, PolicyStrict)
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordInput{ProductID: 1, Type: MovementType("restock"), Quantity: 5})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Record(ctx, RecordInput{ProductID: 1, Type: MovementAdjustment, Quantity: 0})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Record(ctx, RecordInput{ProductID: 1, Type: MovementReceipt, Quantity: 5000})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Record(ctx, RecordInput{ProductID: 9, Type: MovementReceipt, Quantity: 5})
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.Empty(t, repo.movements)
}

func TestRecordVariantStockIsSeparate(t *testing.T) {
	repo := newMemoryRepo()
	repo.register(1, 0, 10)
	repo.register(1, 7, 2)
	svc := newTestService(repo, PolicyStrict)
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordInput{ProductID: 1, VariantID: 7, Type: MovementReceipt, Quantity: 4})
	require.NoError(t, err)

	variantStock, err := svc.CurrentStock(ctx, 1, 7)
	require.NoError(t, err)
	require.Equal(t, int64(6), variantStock)

	productStock, err := svc.CurrentStock(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, int64(10), productStock)
}
