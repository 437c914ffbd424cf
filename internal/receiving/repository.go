package receiving

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklight/stocklight/internal/ledger"
	"github.com/stocklight/stocklight/internal/platform/db"
	"github.com/stocklight/stocklight/internal/shared"
)

// Repository persists purchase order receiving data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the coordinator.
// Ledger returns a ledger recorder bound to the same transaction so receipt
// movements and stock updates commit or abort together with the PO writes.
type TxRepository interface {
	GetPOForUpdate(ctx context.Context, poID int64) (PurchaseOrder, error)
	ListItems(ctx context.Context, poID int64) ([]POItem, error)
	InsertReceipt(ctx context.Context, receipt Receipt) (int64, error)
	InsertReceiptItem(ctx context.Context, item ReceiptItem) error
	AddReceivedQuantity(ctx context.Context, poItemID, poID, quantity int64) (POItem, error)
	UpdateStatus(ctx context.Context, poID int64, status Status, receivedDate *time.Time) error
	Ledger() ledger.TxRepository
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("receiving repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetPurchaseOrder loads a purchase order header with its items.
func (r *Repository) GetPurchaseOrder(ctx context.Context, poID int64) (PurchaseOrder, []POItem, error) {
	var po PurchaseOrder
	err := r.pool.QueryRow(ctx, `SELECT id, po_number, supplier_id, status, order_date, expected_date, received_date, total_cost
FROM purchase_orders WHERE id=$1`, poID).
		Scan(&po.ID, &po.PONumber, &po.SupplierID, &po.Status, &po.OrderDate, &po.ExpectedDate, &po.ReceivedDate, &po.TotalCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, shared.ErrNotFound
		}
		return PurchaseOrder{}, nil, err
	}

	items, err := scanItems(ctx, r.pool, poID)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, items, nil
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return ledger.NewTxRepository(r.tx)
}

// GetPOForUpdate locks the purchase order row for the duration of the
// transaction. Two concurrent receipts against the same PO serialize here.
func (r *txRepository) GetPOForUpdate(ctx context.Context, poID int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := r.tx.QueryRow(ctx, `SELECT id, po_number, supplier_id, status, order_date, expected_date, received_date, total_cost
FROM purchase_orders WHERE id=$1 FOR UPDATE`, poID).
		Scan(&po.ID, &po.PONumber, &po.SupplierID, &po.Status, &po.OrderDate, &po.ExpectedDate, &po.ReceivedDate, &po.TotalCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, shared.ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (r *txRepository) ListItems(ctx context.Context, poID int64) ([]POItem, error) {
	return scanItems(ctx, r.tx, poID)
}

func (r *txRepository) InsertReceipt(ctx context.Context, receipt Receipt) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO po_receipts (po_id, receipt_number, received_date, received_by, notes, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`,
		receipt.POID, receipt.ReceiptNumber, receipt.ReceivedDate, receipt.ReceivedBy, receipt.Notes).Scan(&id)
	return id, err
}

func (r *txRepository) InsertReceiptItem(ctx context.Context, item ReceiptItem) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO po_receipt_items (receipt_id, po_item_id, product_id, quantity_received, unit_cost, condition, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		item.ReceiptID, item.POItemID, item.ProductID, item.QuantityReceived, item.UnitCost, nullStr(item.Condition), nullStr(item.Notes))
	return err
}

// AddReceivedQuantity advances quantity_received as atomic column arithmetic
// and returns the updated row. A miss means the item does not belong to the
// purchase order.
func (r *txRepository) AddReceivedQuantity(ctx context.Context, poItemID, poID, quantity int64) (POItem, error) {
	var item POItem
	err := r.tx.QueryRow(ctx, `UPDATE po_items SET quantity_received = quantity_received + $1
WHERE id=$2 AND po_id=$3
RETURNING id, po_id, product_id, COALESCE(variant_id, 0), quantity_ordered, quantity_received, quantity_invoiced, unit_cost`,
		quantity, poItemID, poID).
		Scan(&item.ID, &item.POID, &item.ProductID, &item.VariantID, &item.QuantityOrdered, &item.QuantityReceived, &item.QuantityInvoiced, &item.UnitCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return POItem{}, shared.ErrNotFound
		}
		return POItem{}, err
	}
	return item, nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, poID int64, status Status, receivedDate *time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$1, received_date=COALESCE($2, received_date), updated_at=NOW() WHERE id=$3`,
		string(status), receivedDate, poID)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanItems(ctx context.Context, q querier, poID int64) ([]POItem, error) {
	rows, err := q.Query(ctx, `SELECT id, po_id, product_id, COALESCE(variant_id, 0), quantity_ordered, quantity_received, quantity_invoiced, unit_cost
FROM po_items WHERE po_id=$1 ORDER BY id ASC`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []POItem{}
	for rows.Next() {
		var item POItem
		if err := rows.Scan(&item.ID, &item.POID, &item.ProductID, &item.VariantID, &item.QuantityOrdered, &item.QuantityReceived, &item.QuantityInvoiced, &item.UnitCost); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullStr(value string) any {
	if value == "" {
		return nil
	}
	return value
}
