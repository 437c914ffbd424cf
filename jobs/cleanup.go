package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/stocklight/stocklight/internal/jobs"
)

// IdempotencyPort exposes the retention cleanup the job needs.
type IdempotencyPort interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// CleanupJob prunes idempotency keys past their retention window so the
// guard table stays small. Keys this old can no longer collide with a live
// resubmission.
type CleanupJob struct {
	idempotency IdempotencyPort
	logger      *slog.Logger
	metrics     *jobmetrics.Metrics
	retention   time.Duration
}

// NewCleanupJob constructs CleanupJob. A non-positive retention defaults to
// seven days.
func NewCleanupJob(idem IdempotencyPort, logger *slog.Logger, metrics *jobmetrics.Metrics, retention time.Duration) *CleanupJob {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &CleanupJob{idempotency: idem, logger: logger, metrics: metrics, retention: retention}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("idempotency_cleanup")

	if err := j.idempotency.Cleanup(ctx, j.retention); err != nil {
		j.logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("idempotency cleanup finished", slog.Duration("retention", j.retention))
	return tracker.End(nil)
}
