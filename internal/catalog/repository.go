package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklight/stocklight/internal/shared"
)

// Repository reads product and variant rows from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProduct fetches a product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, current_stock, min_stock_level, updated_at FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.CurrentStock, &p.MinStockLevel, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// GetVariant fetches a variant by id.
func (r *Repository) GetVariant(ctx context.Context, id int64) (Variant, error) {
	var v Variant
	err := r.pool.QueryRow(ctx, `SELECT id, product_id, sku, name, current_stock, min_stock_level, updated_at FROM product_variants WHERE id=$1`, id).
		Scan(&v.ID, &v.ProductID, &v.SKU, &v.Name, &v.CurrentStock, &v.MinStockLevel, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Variant{}, shared.ErrNotFound
		}
		return Variant{}, err
	}
	return v, nil
}

// ListLowStock returns products and variants at or below their minimum
// stock level. Used by the low-stock scan job.
func (r *Repository) ListLowStock(ctx context.Context, limit int) ([]LowStockEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
SELECT product_id, variant_id, sku, current_stock, min_stock_level FROM (
  SELECT id AS product_id, 0 AS variant_id, sku, current_stock, min_stock_level FROM products
  UNION ALL
  SELECT product_id, id AS variant_id, sku, current_stock, min_stock_level FROM product_variants
) stock
WHERE current_stock <= min_stock_level AND min_stock_level > 0
ORDER BY current_stock - min_stock_level ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []LowStockEntry{}
	for rows.Next() {
		var e LowStockEntry
		if err := rows.Scan(&e.ProductID, &e.VariantID, &e.SKU, &e.CurrentStock, &e.MinStockLevel); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
