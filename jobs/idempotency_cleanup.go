package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

const idempotencyCleanupJob = "idempotency_cleanup"

// KeyPruner removes idempotency keys older than a retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob prunes stale allocation idempotency keys.
type IdempotencyCleanupJob struct {
	Pruner    KeyPruner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob builds the job.
func NewIdempotencyCleanupJob(pruner KeyPruner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleanupJob{Pruner: pruner, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle executes the Asynq task. A payload retention overrides the configured one.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Pruner == nil {
		return errors.New("idempotency cleanup job not configured")
	}
	retention := j.Retention
	if len(task.Payload()) > 0 {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode idempotency cleanup payload: %w", err)
		}
		if payload.Retention > 0 {
			retention = payload.Retention
		}
	}
	if retention <= 0 {
		return errors.New("idempotency cleanup retention must be positive")
	}

	tracker := j.Metrics.Track(idempotencyCleanupJob)
	removed, err := j.Pruner.Cleanup(ctx, retention)
	if err != nil {
		j.Logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddPrunedKeys(removed)
	j.Logger.Info("idempotency cleanup completed", slog.Int64("removed", removed), slog.Duration("retention", retention))
	return tracker.End(nil)
}
