package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	// ApprovalSend marks a purchase order being sent to the supplier.
	ApprovalSend ApprovalAction = "SEND"
	// ApprovalCancel marks an administrative cancellation.
	ApprovalCancel ApprovalAction = "CANCEL"
	// ApprovalReopen marks a sent order pulled back to draft.
	ApprovalReopen ApprovalAction = "REOPEN"
)

// ApprovalLog represents a single administrative transition record.
type ApprovalLog struct {
	ID      int64
	Module  string
	RefID   int64
	ActorID int64
	Action  ApprovalAction
	Note    string
	At      time.Time
}

// ApprovalRecorder persists approval history.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// Record writes an approval entry to the database.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	if log.Module == "" || log.Action == "" {
		return errors.New("approval log requires module and action")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approval_logs (module, ref_id, actor_id, action, note, occurred_at) VALUES ($1, $2, $3, $4, $5, NOW())`,
		log.Module, log.RefID, log.ActorID, string(log.Action), log.Note)
	if err != nil && r.logger != nil {
		r.logger.Warn("approval record failed", slog.Any("error", err))
	}
	return err
}
