package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ttejuosho/akubata/internal/domain"
)

// Результаты операций корзины для label result.
const (
	ResultOK                = "ok"
	ResultProductNotFound   = "product_not_found"
	ResultInsufficientStock = "insufficient_stock"
	ResultCartNotFound      = "cart_not_found"
	ResultConflict          = "conflict"
	ResultInvalidQuantity   = "invalid_quantity"
	ResultTotalMismatch     = "total_mismatch"
	ResultPaymentDeclined   = "payment_declined"
	ResultError             = "error"
)

// CartMetrics содержит метрики движка корзины.
type CartMetrics struct {
	operations     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	totalMismatch  prometheus.Counter
	openOrderRetry prometheus.Counter
	stockUnits     *prometheus.CounterVec
}

// NewCartMetrics регистрирует метрики в DefaultRegisterer.
func NewCartMetrics() *CartMetrics {
	return NewCartMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCartMetricsWithRegisterer регистрирует метрики в указанном registerer (удобно для тестов).
func NewCartMetricsWithRegisterer(registerer prometheus.Registerer) *CartMetrics {
	return &CartMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "akubata_cart_operations_total",
			Help: "Total number of cart engine operations by operation and result",
		}, []string{"operation", "result"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "akubata_cart_operation_duration_seconds",
			Help:    "Duration of cart engine operations including the storage transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		totalMismatch: registerCounter(registerer, prometheus.CounterOpts{
			Name: "akubata_cart_total_mismatch_total",
			Help: "Number of times a stored order total disagreed with the sum of its line items",
		}),
		openOrderRetry: registerCounter(registerer, prometheus.CounterOpts{
			Name: "akubata_cart_open_order_create_retries_total",
			Help: "Number of open-order creation retries caused by concurrent creators",
		}),
		stockUnits: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "akubata_stock_units_moved_total",
			Help: "Stock units moved between products and carts, by direction",
		}, []string{"direction"}),
	}
}

// ObserveOperation записывает результат и длительность операции.
func (m *CartMetrics) ObserveOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, ResultFromError(err)).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTotalMismatch увеличивает счётчик расхождений суммы заказа.
func (m *CartMetrics) RecordTotalMismatch() {
	if m == nil {
		return
	}
	m.totalMismatch.Inc()
}

// RecordOpenOrderRetry увеличивает счётчик повторов создания открытого заказа.
func (m *CartMetrics) RecordOpenOrderRetry() {
	if m == nil {
		return
	}
	m.openOrderRetry.Inc()
}

// RecordStockMoved учитывает движение остатка: delta < 0: в корзину, delta > 0: обратно на склад.
func (m *CartMetrics) RecordStockMoved(delta int32) {
	if m == nil || delta == 0 {
		return
	}
	if delta < 0 {
		m.stockUnits.WithLabelValues("reserved").Add(float64(-delta))
		return
	}
	m.stockUnits.WithLabelValues("restocked").Add(float64(delta))
}

// ResultFromError переводит ошибку движка в значение label result.
func ResultFromError(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, domain.ErrProductNotFound):
		return ResultProductNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return ResultInsufficientStock
	case errors.Is(err, domain.ErrCartNotFound):
		return ResultCartNotFound
	case errors.Is(err, domain.ErrConflict):
		return ResultConflict
	case errors.Is(err, domain.ErrInvalidQuantity):
		return ResultInvalidQuantity
	case errors.Is(err, domain.ErrTotalMismatch):
		return ResultTotalMismatch
	case errors.Is(err, domain.ErrPaymentDeclined):
		return ResultPaymentDeclined
	default:
		return ResultError
	}
}
