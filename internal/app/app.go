// Package app собирает сервис корзины: хранилище, кэш, транспорты и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ttejuosho/akubata/internal/cache/rediscache"
	"github.com/ttejuosho/akubata/internal/domain"
	healthcheck "github.com/ttejuosho/akubata/internal/health"
	"github.com/ttejuosho/akubata/internal/messaging/kafka"
	"github.com/ttejuosho/akubata/internal/metrics"
	"github.com/ttejuosho/akubata/internal/service/cart"
	"github.com/ttejuosho/akubata/internal/service/catalog"
	grpcsvc "github.com/ttejuosho/akubata/internal/service/grpc"
	"github.com/ttejuosho/akubata/internal/service/httpapi"
	"github.com/ttejuosho/akubata/internal/service/idempotency"
	"github.com/ttejuosho/akubata/internal/service/payment"
	"github.com/ttejuosho/akubata/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает HTTP API, gRPC, метрики и воркеры и блокируется до отмены ctx.
// При отмене возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", outboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending))

	engineOpts := []cart.Option{
		cart.WithPayments(payment.NewMockService()),
		cart.WithMetrics(metrics.NewCartMetrics()),
		cart.WithLogger(logger.WithField("layer", "cart")),
	}
	rdb := initCartCache(ctx, cfg, logger)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		cache := rediscache.NewCartCache(rdb, cfg.CartCacheTTL)
		engineOpts = append(engineOpts, cart.WithCache(cache))
		healthHandler.RegisterChecker("redis", healthcheck.NewPingChecker("redis", 0, cache.Ping).Optional())
	}

	engine := cart.NewEngine(deps.txm, engineOpts...)
	catalogSvc := catalog.NewService(deps.txm, logger.WithField("layer", "catalog"))
	guard := idempotency.NewGuard(deps.idempotencyRepo,
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithGuardLogger(logger.WithField("layer", "idempotency")),
	)

	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	defer func() {
		stopWorkers()
		workers.Wait()
	}()
	startWorkers(workersCtx, &workers, cfg, deps, kafkaProducer, logger)

	grpcServer, healthServer := newGRPCServer(engine, catalogSvc, guard, logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	apiHandler := httpapi.NewHandler(engine, catalogSvc,
		httpapi.WithGuard(guard),
		httpapi.WithLogger(logger.WithField("layer", "http")),
	)
	apiSrv := &http.Server{Handler: apiHandler.Routes(), ReadHeaderTimeout: 5 * time.Second}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := apiSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		grpcServer.Stop()
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// initCartCache подключает Redis. Кэш необязателен: при недоступности сервис
// работает напрямую с хранилищем.
func initCartCache(ctx context.Context, cfg Config, logger *log.Entry) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb := rediscache.NewClient(cfg.RedisAddr)
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).WithField("redis_addr", cfg.RedisAddr).Warn("redis unavailable, continuing without cart cache")
		_ = rdb.Close()
		return nil
	}
	logger.WithField("redis_addr", cfg.RedisAddr).Info("cart cache initialized")
	return rdb
}

// startWorkers запускает outbox worker (только с Kafka) и очистку idempotency-ключей.
func startWorkers(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg Config,
	deps runtimeDependencies,
	producer *kafka.Producer,
	logger *log.Entry,
) {
	if relay := newOutboxRelay(cfg, deps.outboxRepo, producer, prometheus.DefaultRegisterer, logger); relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()
	} else {
		logger.Warn("kafka is not configured, order events stay pending in outbox")
	}

	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("worker", "idempotency-cleanup")),
		idempotency.WithCleanupMetrics(metrics.NewCleanupMetrics(prometheus.DefaultRegisterer)),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Run(ctx)
	}()
}

func newGRPCServer(
	engine *cart.Engine,
	catalogSvc *catalog.Service,
	guard *idempotency.Guard,
	logger *log.Entry,
) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterCartServiceServer(server,
		grpcsvc.NewCartService(engine, catalogSvc, guard, logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(server)
	grpcsvc.RegisterReflection(server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer
}

// outboxBacklogChecker переводит сервис в degraded, когда неотправленных событий
// больше maxPending.
func outboxBacklogChecker(repo domain.OutboxRepository, maxPending int) healthcheck.Checker {
	return healthcheck.NewPingChecker("outbox", 0, func(ctx context.Context) error {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		return nil
	}).Optional()
}

// stopGRPC ждёт завершения активных вызовов не дольше shutdownTimeout.
func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает /metrics для Prometheus и health-эндпоинты.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
