package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/stocklane/stocklane/internal/jobs"
)

// KeyPruner removes idempotency keys past their retention window and reports
// how many were removed.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Cleaner prunes old idempotency keys.
type Cleaner struct {
	store     KeyPruner
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
	retention time.Duration
}

// NewCleaner constructs a Cleaner. Retention is the fallback when a task
// carries none.
func NewCleaner(store KeyPruner, logger *slog.Logger, metrics *jobmetrics.Metrics, retention time.Duration) *Cleaner {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Cleaner{store: store, logger: logger, metrics: metrics, retention: retention}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (c *Cleaner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = c.retention
	}
	tracker := c.metrics.Track(TaskIdempotencyCleanup)
	pruned, err := c.store.Cleanup(ctx, retention)
	if err != nil {
		return tracker.End(err)
	}
	c.logger.Debug("idempotency keys pruned",
		slog.Int64("pruned", pruned),
		slog.Duration("retention", retention))
	return tracker.End(nil)
}
