package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/stocklane/stocklane/internal/jobs"
)

type fakePruner struct {
	calls     int
	olderThan time.Duration
	pruned    int64
	err       error
}

func (f *fakePruner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.calls++
	f.olderThan = olderThan
	return f.pruned, f.err
}

func cleanupTask(t *testing.T, retention time.Duration) *asynq.Task {
	t.Helper()
	task, err := NewIdempotencyCleanupTask(retention)
	require.NoError(t, err)
	return task
}

func TestCleanerPrunesWithTaskRetention(t *testing.T) {
	pruner := &fakePruner{pruned: 12}
	cleaner := NewCleaner(pruner, testLogger(), jobmetrics.NewMetrics(nil), 7*24*time.Hour)

	err := cleaner.Handle(context.Background(), cleanupTask(t, 48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruner.calls)
	assert.Equal(t, 48*time.Hour, pruner.olderThan)
}

func TestCleanerFallsBackToConfiguredRetention(t *testing.T) {
	pruner := &fakePruner{}
	cleaner := NewCleaner(pruner, testLogger(), jobmetrics.NewMetrics(nil), 72*time.Hour)

	err := cleaner.Handle(context.Background(), cleanupTask(t, 0))
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, pruner.olderThan)
}

func TestCleanerPropagatesStoreFailure(t *testing.T) {
	pruner := &fakePruner{err: errors.New("db gone")}
	cleaner := NewCleaner(pruner, testLogger(), jobmetrics.NewMetrics(nil), time.Hour)

	err := cleaner.Handle(context.Background(), cleanupTask(t, time.Hour))
	assert.Error(t, err)
}

func TestCleanerSkipsMalformedPayload(t *testing.T) {
	pruner := &fakePruner{}
	cleaner := NewCleaner(pruner, testLogger(), jobmetrics.NewMetrics(nil), time.Hour)

	err := cleaner.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, pruner.calls)
}
