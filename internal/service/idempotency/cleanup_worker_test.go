package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttejuosho/akubata/internal/domain"
	"github.com/ttejuosho/akubata/internal/metrics"
	"github.com/ttejuosho/akubata/internal/storage/memory"
)

func TestCleanupWorker_SweepRemovesOnlyExpiredKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	repo := memory.NewIdempotencyRepository()

	for i := range 5 {
		_, err := repo.CreateProcessing(ctx, fmt.Sprintf("checkout-old-%d", i), "hash", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "add-item-live", "hash", now.Add(time.Hour))
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	worker := NewCleanupWorker(repo,
		WithBatchSize(2),
		WithClock(func() time.Time { return now }),
		WithCleanupMetrics(metrics.NewCleanupMetrics(registry)),
	)

	deleted, err := worker.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	_, err = repo.Get(ctx, "checkout-old-0")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	live, err := repo.Get(ctx, "add-item-live")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, live.Status)

	expected := `
# HELP akubata_idempotency_cleanup_deleted_total Total number of deleted expired idempotency records
# TYPE akubata_idempotency_cleanup_deleted_total counter
akubata_idempotency_cleanup_deleted_total 5
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "akubata_idempotency_cleanup_deleted_total"))
}

func TestCleanupWorker_SweepStopsOnRepositoryError(t *testing.T) {
	repo := &failingCleanupRepo{err: errors.New("connection reset")}
	worker := NewCleanupWorker(repo, WithBatchSize(10))

	deleted, err := worker.Sweep(context.Background())
	require.ErrorContains(t, err, "connection reset")
	assert.Zero(t, deleted)
	assert.EqualValues(t, 1, repo.calls.Load())
}

func TestCleanupWorker_RunStopsOnCancel(t *testing.T) {
	repo := &failingCleanupRepo{}
	worker := NewCleanupWorker(repo, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return repo.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop on context cancel")
	}
}

func TestCleanupWorker_NilRepositoryReturnsImmediately(_ *testing.T) {
	NewCleanupWorker(nil).Run(context.Background())
}

// failingCleanupRepo реализует только DeleteExpired.
type failingCleanupRepo struct {
	domain.IdempotencyRepository
	err   error
	calls atomic.Int64
}

func (r *failingCleanupRepo) DeleteExpired(context.Context, time.Time, int) (int, error) {
	r.calls.Add(1)
	return 0, r.err
}
