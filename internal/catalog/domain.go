// Package catalog is a read-only facade over the product tables maintained
// by the catalog service. Stocklight never creates or edits catalog rows.
package catalog

import "time"

// Product is the stock-tracked unit when it has no variants.
type Product struct {
	ID            int64
	SKU           string
	Name          string
	CurrentStock  int64
	MinStockLevel int64
	UpdatedAt     time.Time
}

// Variant is the finer-grained stock-tracked unit when present.
type Variant struct {
	ID            int64
	ProductID     int64
	SKU           string
	Name          string
	CurrentStock  int64
	MinStockLevel int64
	UpdatedAt     time.Time
}

// LowStockEntry reports a product or variant at or below its minimum level.
type LowStockEntry struct {
	ProductID     int64
	VariantID     int64
	SKU           string
	CurrentStock  int64
	MinStockLevel int64
}
