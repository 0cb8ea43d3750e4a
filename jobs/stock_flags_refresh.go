package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/stock"
)

const (
	flagsRefreshJob     = "stock_flags_refresh"
	flagsRefreshLockTTL = 5 * time.Minute
	defaultPageSize     = 200
)

// FlagsRefresher is the subset of the stock service the refresh job needs.
type FlagsRefresher interface {
	RefreshFlags(ctx context.Context, pageSize int) (stock.RefreshReport, error)
}

// Locker obtains distributed locks so only one worker sweeps at a time.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// FlagsRefreshJob persists drifted lowStock/isExpired flags across all
// active stock records.
type FlagsRefreshJob struct {
	Refresher FlagsRefresher
	Locker    Locker
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewFlagsRefreshJob builds the job.
func NewFlagsRefreshJob(refresher FlagsRefresher, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *FlagsRefreshJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlagsRefreshJob{Refresher: refresher, Locker: locker, Logger: logger, Metrics: metrics}
}

// Handle executes the Asynq task.
func (j *FlagsRefreshJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload FlagsRefreshPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode flags refresh payload: %w", err)
		}
	}
	_, err := j.Run(ctx, payload.PageSize)
	return err
}

// Run performs one sweep. A sweep already held by another worker is skipped.
func (j *FlagsRefreshJob) Run(ctx context.Context, pageSize int) (stock.RefreshReport, error) {
	if j == nil || j.Refresher == nil {
		return stock.RefreshReport{}, errors.New("flags refresh job not configured")
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if j.Locker != nil {
		lock, err := j.Locker.Obtain(ctx, shared.JobLockKey(flagsRefreshJob), flagsRefreshLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			j.Logger.Info("flags refresh already running")
			return stock.RefreshReport{}, nil
		}
		if err != nil {
			return stock.RefreshReport{}, fmt.Errorf("obtain flags refresh lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				j.Logger.Warn("release flags refresh lock", slog.Any("error", err))
			}
		}()
	}

	tracker := j.Metrics.Track(flagsRefreshJob)
	report, err := j.Refresher.RefreshFlags(ctx, pageSize)
	if err != nil {
		j.Logger.Error("flags refresh failed", slog.Any("error", err), slog.Int("scanned", report.Scanned))
		return report, tracker.End(err)
	}
	j.Metrics.SetFlagCounts(report.LowStock, report.Expired)
	j.Logger.Info("flags refresh completed",
		slog.Int("scanned", report.Scanned),
		slog.Int("updated", report.Updated),
		slog.Int("conflicts", report.Conflicts),
		slog.Int("low_stock", report.LowStock),
		slog.Int("expired", report.Expired),
	)
	return report, tracker.End(nil)
}
