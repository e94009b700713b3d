package grpcsvc

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryConfig: параметры повтора вызовов, отклонённых из-за конфликта блокировок.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryConflictsInterceptor повторяет унарные вызовы, завершившиеся codes.Aborted.
// Сервер освобождает idempotency-key при конфликте, поэтому повтор с тем же ключом безопасен.
// Остальные коды возвращаются сразу.
func RetryConflictsInterceptor(cfg RetryConfig, logger *log.Entry) grpc.UnaryClientInterceptor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	if logger == nil {
		logger = log.WithField("component", "grpc-retry")
	}

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		delay := cfg.InitialDelay
		var err error
		for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
			err = invoker(ctx, method, req, reply, cc, opts...)
			if status.Code(err) != codes.Aborted {
				if err == nil && attempt > 1 {
					logger.WithFields(log.Fields{"method": method, "attempt": attempt}).Debug("call succeeded after retry")
				}
				return err
			}
			if attempt == cfg.MaxAttempts {
				break
			}

			logger.WithFields(log.Fields{
				"method":  method,
				"attempt": attempt,
				"delay":   delay,
			}).Debug("call aborted, retrying")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}

			// Экспоненциальная задержка с ограничением
			delay = time.Duration(float64(delay) * cfg.BackoffFactor)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
		return err
	}
}
