package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklight/stocklight/internal/platform/db"
	"github.com/stocklight/stocklight/internal/shared"
)

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the service. The
// receiving coordinator reuses the same interface so receipt movements land
// in the same transaction as the purchase order writes.
type TxRepository interface {
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	ApplyDelta(ctx context.Context, productID, variantID, delta int64, clamp bool) (newStock int64, clamped bool, err error)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction. Exposed for coordinators that
// drive the ledger inside their own atomic unit.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// CurrentStock reads the projected stock level for a product or variant.
func (r *Repository) CurrentStock(ctx context.Context, productID, variantID int64) (int64, error) {
	var stock int64
	var err error
	if variantID != 0 {
		err = r.pool.QueryRow(ctx, `SELECT current_stock FROM product_variants WHERE id=$1 AND product_id=$2`, variantID, productID).Scan(&stock)
	} else {
		err = r.pool.QueryRow(ctx, `SELECT current_stock FROM products WHERE id=$1`, productID).Scan(&stock)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.ErrNotFound
	}
	return stock, err
}

// ListMovements returns ledger history, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, COALESCE(variant_id, 0), type, quantity, COALESCE(reference_type, ''), COALESCE(reference_id, ''), COALESCE(reason, ''), COALESCE(created_by, 0), created_at
FROM stock_movements
WHERE product_id=$1 AND ($2 = 0 OR variant_id=$2)
ORDER BY created_at DESC, id DESC
LIMIT $3`, filter.ProductID, filter.VariantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.VariantID, &m.Type, &m.Quantity, &m.ReferenceType, &m.ReferenceID, &m.Reason, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, variant_id, type, quantity, reference_type, reference_id, reason, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		m.ProductID, nullInt(m.VariantID), string(m.Type), m.Quantity, nullStr(m.ReferenceType), nullStr(m.ReferenceID), nullStr(m.Reason), nullInt(m.CreatedBy), m.CreatedAt).Scan(&id)
	return id, err
}

// ApplyDelta advances current stock by delta as atomic column arithmetic.
// Under the strict policy a movement that would go below zero matches no row
// and is rejected; under clamp the visible stock floors at zero and the
// returned flag reports whether the floor actually engaged.
func (r *txRepository) ApplyDelta(ctx context.Context, productID, variantID, delta int64, clamp bool) (int64, bool, error) {
	var (
		newStock  int64
		prevStock int64
		err       error
	)
	switch {
	case variantID != 0 && clamp:
		err = r.tx.QueryRow(ctx, `UPDATE product_variants v SET current_stock = GREATEST(0, v.current_stock + $1), updated_at = NOW()
FROM (SELECT id, current_stock FROM product_variants WHERE id=$2 AND product_id=$3 FOR UPDATE) prev
WHERE v.id = prev.id
RETURNING v.current_stock, prev.current_stock`, delta, variantID, productID).Scan(&newStock, &prevStock)
	case variantID != 0:
		err = r.tx.QueryRow(ctx, `UPDATE product_variants SET current_stock = current_stock + $1, updated_at = NOW()
WHERE id=$2 AND product_id=$3 AND current_stock + $1 >= 0 RETURNING current_stock`, delta, variantID, productID).Scan(&newStock)
	case clamp:
		err = r.tx.QueryRow(ctx, `UPDATE products p SET current_stock = GREATEST(0, p.current_stock + $1), updated_at = NOW()
FROM (SELECT id, current_stock FROM products WHERE id=$2 FOR UPDATE) prev
WHERE p.id = prev.id
RETURNING p.current_stock, prev.current_stock`, delta, productID).Scan(&newStock, &prevStock)
	default:
		err = r.tx.QueryRow(ctx, `UPDATE products SET current_stock = current_stock + $1, updated_at = NOW()
WHERE id=$2 AND current_stock + $1 >= 0 RETURNING current_stock`, delta, productID).Scan(&newStock)
	}
	if err == nil {
		return newStock, clamp && prevStock+delta < 0, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}
	exists, checkErr := r.exists(ctx, productID, variantID)
	if checkErr != nil {
		return 0, false, checkErr
	}
	if !exists {
		return 0, false, shared.ErrNotFound
	}
	return 0, false, shared.ErrInsufficientStock
}

func (r *txRepository) exists(ctx context.Context, productID, variantID int64) (bool, error) {
	var exists bool
	if variantID != 0 {
		err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM product_variants WHERE id=$1 AND product_id=$2)`, variantID, productID).Scan(&exists)
		return exists, err
	}
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id=$1)`, productID).Scan(&exists)
	return exists, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullStr(value string) any {
	if value == "" {
		return nil
	}
	return value
}
