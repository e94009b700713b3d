package idempotency_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttejuosho/akubata/internal/domain"
	"github.com/ttejuosho/akubata/internal/service/idempotency"
	"github.com/ttejuosho/akubata/internal/storage/memory"
)

type addRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

func TestGuard_ReplaysSuccessfulResponse(t *testing.T) {
	ctx := context.Background()
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository())

	calls := 0
	handler := func(context.Context) idempotency.Response {
		calls++
		return idempotency.Response{Status: http.StatusOK, Body: []byte(`{"total":"20.00"}`)}
	}

	req := addRequest{ProductID: "p-1", Quantity: 4}
	first, replayed, err := guard.Execute(ctx, "key-1", "add", req, handler)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := guard.Execute(ctx, "key-1", "add", req, handler)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, http.StatusOK, second.Status)
	assert.Equal(t, 1, calls)
}

func TestGuard_ReplaysStoredFailure(t *testing.T) {
	ctx := context.Background()
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository())

	calls := 0
	handler := func(context.Context) idempotency.Response {
		calls++
		return idempotency.Response{Status: http.StatusConflict, Body: []byte(`{"error":"insufficient stock"}`), Failed: true}
	}

	req := addRequest{ProductID: "p-1", Quantity: 50}
	_, _, err := guard.Execute(ctx, "key-1", "add", req, handler)
	require.NoError(t, err)

	resp, replayed, err := guard.Execute(ctx, "key-1", "add", req, handler)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.True(t, resp.Failed)
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, 1, calls)
}

func TestGuard_RetryableFailureReleasesKey(t *testing.T) {
	ctx := context.Background()
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository())

	calls := 0
	handler := func(context.Context) idempotency.Response {
		calls++
		if calls == 1 {
			return idempotency.Response{Status: http.StatusConflict, Failed: true, Retryable: true}
		}
		return idempotency.Response{Status: http.StatusOK}
	}

	req := addRequest{ProductID: "p-1", Quantity: 1}
	resp, _, err := guard.Execute(ctx, "key-1", "add", req, handler)
	require.NoError(t, err)
	assert.True(t, resp.Retryable)

	resp, replayed, err := guard.Execute(ctx, "key-1", "add", req, handler)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, 2, calls)
}

func TestGuard_KeyReusedWithDifferentRequest(t *testing.T) {
	ctx := context.Background()
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository())
	handler := func(context.Context) idempotency.Response {
		return idempotency.Response{Status: http.StatusOK}
	}

	_, _, err := guard.Execute(ctx, "key-1", "add", addRequest{ProductID: "p-1", Quantity: 1}, handler)
	require.NoError(t, err)

	_, _, err = guard.Execute(ctx, "key-1", "add", addRequest{ProductID: "p-1", Quantity: 2}, handler)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestGuard_InProgress(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	guard := idempotency.NewGuard(repo)

	req := addRequest{ProductID: "p-1", Quantity: 1}
	hash, err := idempotency.RequestHash("add", req)
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "key-1", hash, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, _, err = guard.Execute(ctx, "key-1", "add", req, func(context.Context) idempotency.Response {
		t.Fatal("handler must not run while the key is processing")
		return idempotency.Response{}
	})
	require.ErrorIs(t, err, domain.ErrIdempotencyInProgress)
}

func TestGuard_WithoutKeyRunsHandler(t *testing.T) {
	calls := 0
	handler := func(context.Context) idempotency.Response {
		calls++
		return idempotency.Response{Status: http.StatusOK}
	}

	guard := idempotency.NewGuard(memory.NewIdempotencyRepository())
	for range 2 {
		_, replayed, err := guard.Execute(context.Background(), "  ", "add", nil, handler)
		require.NoError(t, err)
		assert.False(t, replayed)
	}

	var disabled *idempotency.Guard
	_, _, err := disabled.Execute(context.Background(), "key-1", "add", nil, handler)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRequestHash_DependsOnScope(t *testing.T) {
	req := addRequest{ProductID: "p-1", Quantity: 1}
	add, err := idempotency.RequestHash("add", req)
	require.NoError(t, err)
	remove, err := idempotency.RequestHash("remove", req)
	require.NoError(t, err)
	again, err := idempotency.RequestHash("add", req)
	require.NoError(t, err)

	assert.NotEqual(t, add, remove)
	assert.Equal(t, add, again)
}
