package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/stocklane/stocklane/internal/jobs"
	"github.com/stocklane/stocklane/internal/shared"
)

// ExpiredReleaser is the slice of the reservation service the sweep needs.
type ExpiredReleaser interface {
	ReleaseExpired(ctx context.Context) (int64, error)
}

// Sweeper releases expired reservations on a schedule. A short-lived redis
// lock keeps overlapping worker instances single-flight; the sweep itself is
// idempotent either way, the lock only avoids redundant database work.
type Sweeper struct {
	reservations ExpiredReleaser
	redis        *redis.Client
	logger       *slog.Logger
	metrics      *jobmetrics.Metrics
	lockTTL      time.Duration
}

// NewSweeper constructs a Sweeper.
func NewSweeper(reservations ExpiredReleaser, rdb *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *Sweeper {
	return &Sweeper{reservations: reservations, redis: rdb, logger: logger, metrics: metrics, lockTTL: 30 * time.Second}
}

// Handle processes TaskReservationSweep tasks.
func (s *Sweeper) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReservationSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if s.redis != nil {
		ok, err := s.redis.SetNX(ctx, shared.ReservationSweepLockKey(), time.Now().UnixNano(), s.lockTTL).Result()
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Debug("reservation sweep already running elsewhere")
			return nil
		}
		defer s.redis.Del(context.WithoutCancel(ctx), shared.ReservationSweepLockKey())
	}
	tracker := s.metrics.Track(TaskReservationSweep)
	released, err := s.reservations.ReleaseExpired(ctx)
	if err != nil {
		return tracker.End(err)
	}
	if released > 0 {
		s.metrics.AddReleased(TaskReservationSweep, released)
		s.logger.Info("released expired reservations", slog.Int64("count", released))
	}
	return tracker.End(nil)
}
