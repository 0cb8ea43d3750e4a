package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockFlagsRefresh re-evaluates low-stock and expiry flags on stored records.
	TaskStockFlagsRefresh = "stock:flags_refresh"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// FlagsRefreshPayload configures a flags refresh run.
type FlagsRefreshPayload struct {
	PageSize int `json:"page_size"`
}

// NewFlagsRefreshTask constructs an Asynq task for the flags refresh.
func NewFlagsRefreshTask(pageSize int) (*asynq.Task, error) {
	body, err := json.Marshal(FlagsRefreshPayload{PageSize: pageSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockFlagsRefresh, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs an Asynq task pruning idempotency keys.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
