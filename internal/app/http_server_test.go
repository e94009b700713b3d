package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttejuosho/akubata/internal/domain"
	healthcheck "github.com/ttejuosho/akubata/internal/health"
	"github.com/ttejuosho/akubata/internal/metrics"
	"github.com/ttejuosho/akubata/internal/service/cart"
)

// backlogRepo отдаёт заданный размер очереди outbox; остальные методы не нужны серверу метрик.
type backlogRepo struct {
	domain.OutboxRepository
	pending  atomic.Int64
	statsErr error
}

func (r *backlogRepo) Stats(context.Context) (domain.OutboxStats, error) {
	if r.statsErr != nil {
		return domain.OutboxStats{}, r.statsErr
	}
	return domain.OutboxStats{PendingCount: int(r.pending.Load())}, nil
}

func TestMetricsServer_ExposesCartSeries(t *testing.T) {
	m := metrics.NewCartMetrics()
	m.ObserveOperation(cart.OpAdd, nil, 3*time.Millisecond)
	m.ObserveOperation(cart.OpCheckout, domain.ErrInsufficientStock, time.Millisecond)
	m.RecordStockMoved(-2)

	base := serveMetrics(t, healthcheck.NewHandler("test"))

	code, body := get(t, base+"/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `akubata_cart_operations_total{operation="add",result="ok"}`)
	assert.Contains(t, body, `akubata_cart_operations_total{operation="checkout",result="insufficient_stock"}`)
	assert.Contains(t, body, `akubata_cart_operation_duration_seconds_bucket{operation="add"`)
	assert.Contains(t, body, `akubata_stock_units_moved_total{direction="reserved"}`)
}

func TestMetricsServer_ReadyzDegradesOnOutboxBacklog(t *testing.T) {
	repo := &backlogRepo{}
	repo.pending.Store(5)

	handler := healthcheck.NewHandler("test")
	handler.RegisterChecker("outbox", outboxBacklogChecker(repo, 2))
	base := serveMetrics(t, handler)

	code, body := get(t, base+"/readyz")
	assert.Equal(t, http.StatusOK, code, "backlog must not take the service out of rotation")
	assert.Equal(t, "ready (degraded: outbox)", body)

	code, body = get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	var resp healthcheck.Response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, healthcheck.StatusDegraded, resp.Status)
	assert.Equal(t, healthcheck.StatusDegraded, resp.Checks["outbox"].Status)
	assert.Contains(t, resp.Checks["outbox"].Message, "outbox backlog 5 exceeds 2")

	// Очередь разобрана: сервис снова полностью готов.
	repo.pending.Store(2)
	code, body = get(t, base+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body)
}

func TestOutboxBacklogChecker_StatsErrorIsDegraded(t *testing.T) {
	repo := &backlogRepo{statsErr: errors.New("outbox table unavailable")}

	check := outboxBacklogChecker(repo, 10).Check()
	assert.Equal(t, healthcheck.StatusDegraded, check.Status)
	assert.Contains(t, check.Message, "outbox table unavailable")
}

func TestMetricsServer_LivezAndShutdown(t *testing.T) {
	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	srv := startMetricsServer(ctx, fmt.Sprintf("127.0.0.1:%d", port), log.WithField("test", "metrics-shutdown"), healthcheck.NewHandler("test"))
	require.NotNil(t, srv)

	url := fmt.Sprintf("http://127.0.0.1:%d/livez", port)
	waitListening(t, url)
	code, body := get(t, url)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	cancel()
	assert.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return true
		}
		resp.Body.Close()
		return false
	}, 2*time.Second, 20*time.Millisecond, "server must stop after context cancellation")
}

func TestShutdownHTTP_NilServer(_ *testing.T) {
	// Не должно паниковать
	shutdownHTTP(nil, log.WithField("test", "http-nil"))
}

// serveMetrics поднимает сервер метрик на свободном порту и возвращает его базовый URL.
func serveMetrics(t *testing.T, handler *healthcheck.Handler) string {
	t.Helper()

	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	startMetricsServer(ctx, fmt.Sprintf("127.0.0.1:%d", port), log.WithField("test", t.Name()), handler)
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitListening(t, base+"/livez")
	return base
}

func waitListening(t *testing.T, url string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond, "%s is not listening", url)
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

// findFreePort находит свободный порт для тестов
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
