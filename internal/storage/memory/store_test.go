package memory_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttejuosho/akubata/internal/domain"
	"github.com/ttejuosho/akubata/internal/storage/memory"
)

func seedProduct(t *testing.T, store *memory.Store, id string, price int64, stock int32) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Products().Create(ctx, domain.Product{ID: id, Name: "product " + id, UnitPriceMinor: price, StockQuantity: stock})
		return err
	})
	require.NoError(t, err)
}

func TestStore_RollbackDiscardsChanges(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "p-1", 1000, 5)
	boom := errors.New("boom")

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().CreateOpenOrder(ctx, "u-1")
		require.NoError(t, err)
		_, err = tx.Orders().InsertLineItem(ctx, domain.LineItem{OrderID: order.ID, ProductID: "p-1", Quantity: 2, PriceMinor: 1000})
		require.NoError(t, err)
		_, err = tx.Products().AdjustStock(ctx, "p-1", -2)
		require.NoError(t, err)
		_, err = tx.Outbox().Enqueue(ctx, domain.OutboxMessage{EventType: "order.completed"})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Orders().FindOpenOrder(ctx, "u-1")
		assert.ErrorIs(t, err, domain.ErrCartNotFound)

		product, err := tx.Products().LockAndRead(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, int32(5), product.StockQuantity)
		return nil
	})
	require.NoError(t, err)

	stats, err := store.Outbox().Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
}

func TestStore_LockTimeoutReturnsConflict(t *testing.T) {
	store := memory.NewStore(memory.WithLockTimeout(20 * time.Millisecond))

	holding := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
			close(holding)
			<-release
			return nil
		})
	}()

	<-holding
	called := false
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		called = true
		return nil
	})
	close(release)
	wg.Wait()

	require.ErrorIs(t, err, domain.ErrConflict)
	assert.False(t, called)
}

func TestStore_StockNeverNegative(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "p-1", 500, 3)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Products().AdjustStock(ctx, "p-1", -4)
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	err = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Products().AdjustStock(ctx, "missing", 1)
		return err
	})
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestStore_StockAndTotalStayInRange(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "p-1", 500, math.MaxInt32-1)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Products().AdjustStock(ctx, "p-1", 2)
		return err
	})
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)

	var orderID string
	err = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().CreateOpenOrder(ctx, "u-1")
		orderID = order.ID
		if err != nil {
			return err
		}
		_, err = tx.Orders().AdjustTotal(ctx, order.ID, math.MaxInt64)
		return err
	})
	require.NoError(t, err)

	err = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Orders().AdjustTotal(ctx, orderID, 1)
		return err
	})
	require.ErrorIs(t, err, domain.ErrAmountOverflow)

	err = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		product, err := tx.Products().LockAndRead(ctx, "p-1")
		assert.Equal(t, int32(math.MaxInt32-1), product.StockQuantity)
		return err
	})
	require.NoError(t, err)
}

func TestStore_SingleOpenOrderAndStatusMachine(t *testing.T) {
	store := memory.NewStore()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().CreateOpenOrder(ctx, "u-1")
		require.NoError(t, err)

		_, err = tx.Orders().CreateOpenOrder(ctx, "u-1")
		require.ErrorIs(t, err, domain.ErrOpenOrderExists)

		_, err = tx.Orders().AdjustTotal(ctx, order.ID, -1)
		require.ErrorIs(t, err, domain.ErrAmountNegative)

		require.NoError(t, tx.Orders().SetStatus(ctx, order.ID, domain.OrderStatusClosed))
		require.ErrorIs(t, tx.Orders().SetStatus(ctx, order.ID, domain.OrderStatusOpen), domain.ErrInvalidStatusTransition)

		_, err = tx.Orders().CreateOpenOrder(ctx, "u-1")
		require.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_OutboxVisibleAfterCommit(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	var saved domain.OutboxMessage
	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		saved, err = tx.Outbox().Enqueue(ctx, domain.OutboxMessage{AggregateType: "order", AggregateID: "o-1", EventType: "order.completed"})
		return err
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	pending, err := store.Outbox().PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, saved.ID, pending[0].ID)

	require.NoError(t, store.Outbox().MarkSent(ctx, saved.ID))
	status, ok := store.Outbox().Status(saved.ID)
	require.True(t, ok)
	assert.Equal(t, "sent", status)

	require.ErrorIs(t, store.Outbox().MarkFailed(ctx, "missing"), domain.ErrOutboxPublish)
}
