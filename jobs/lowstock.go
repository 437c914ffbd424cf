package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/stocklight/stocklight/internal/catalog"
	jobmetrics "github.com/stocklight/stocklight/internal/jobs"
)

// CatalogPort exposes the catalog reads the scan needs.
type CatalogPort interface {
	ListLowStock(ctx context.Context, limit int) ([]catalog.LowStockEntry, error)
}

// LowStockJob reports products and variants at or below min_stock_level so
// the purchasing team can raise orders.
type LowStockJob struct {
	catalog CatalogPort
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewLowStockJob constructs LowStockJob.
func NewLowStockJob(catalogPort CatalogPort, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockJob {
	return &LowStockJob{catalog: catalogPort, logger: logger, metrics: metrics}
}

// Handle processes TaskLowStockScan tasks.
func (j *LowStockJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("low_stock_scan")

	entries, err := j.catalog.ListLowStock(ctx, 500)
	if err != nil {
		j.logger.Error("low stock scan failed", slog.Any("error", err))
		return tracker.End(err)
	}

	for _, entry := range entries {
		j.logger.Warn("stock at or below minimum",
			slog.Int64("product_id", entry.ProductID),
			slog.Int64("variant_id", entry.VariantID),
			slog.String("sku", entry.SKU),
			slog.Int64("current_stock", entry.CurrentStock),
			slog.Int64("min_stock_level", entry.MinStockLevel))
	}
	j.metrics.SetLowStock(len(entries))
	j.logger.Info("low stock scan finished", slog.Int("entries", len(entries)))
	return tracker.End(nil)
}
