// Package cart реализует движок согласования корзины с остатками товаров.
//
// Каждая операция выполняется в одной транзакции хранилища. Порядок блокировок
// фиксирован: сначала строка открытого заказа, затем строки товаров по
// возрастанию product_id. Сумма заказа меняется атомарной дельтой и
// перепроверяется по позициям перед коммитом.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ttejuosho/akubata/internal/domain"
	"github.com/ttejuosho/akubata/internal/metrics"
)

// Имена операций для логов и метрик.
const (
	OpAdd        = "add"
	OpUpdate     = "update"
	OpRemove     = "remove"
	OpClear      = "clear"
	OpGetCart    = "get_cart"
	OpCheckout   = "checkout"
	OpListOrders = "list_orders"
	OpGetOrder   = "get_order"
)

// openOrderAttempts ограничивает число попыток найти или создать открытый заказ
// при гонке параллельных создателей.
const openOrderAttempts = 3

// ViewCache: необязательный кэш представлений корзины.
type ViewCache interface {
	Get(ctx context.Context, userID string) (domain.CartView, bool, error)
	Set(ctx context.Context, userID string, view domain.CartView) error
	Invalidate(ctx context.Context, userID string) error
}

// Engine: движок корзины.
type Engine struct {
	txm      domain.TxManager
	payments domain.PaymentService
	cache    ViewCache
	metrics  *metrics.CartMetrics
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает Engine.
type Option func(*Engine)

// WithPayments задаёт платёжный сервис для Checkout.
func WithPayments(payments domain.PaymentService) Option {
	return func(e *Engine) { e.payments = payments }
}

// WithCache включает кэш представлений корзины.
func WithCache(cache ViewCache) Option {
	return func(e *Engine) { e.cache = cache }
}

// WithMetrics включает метрики операций.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine создаёт движок поверх менеджера транзакций.
func NewEngine(txm domain.TxManager, opts ...Option) *Engine {
	e := &Engine{
		txm:    txm,
		logger: log.WithField("component", "cart-engine"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetOrCreateOpenOrder возвращает заблокированный открытый заказ пользователя,
// создавая пустой при его отсутствии. Вызывается внутри транзакции tx.
func (e *Engine) GetOrCreateOpenOrder(ctx context.Context, tx domain.Tx, userID string) (domain.Order, error) {
	if userID == "" {
		return domain.Order{}, domain.ErrUserRequired
	}

	orders := tx.Orders()
	for attempt := 1; attempt <= openOrderAttempts; attempt++ {
		order, err := orders.LockOpenOrder(ctx, userID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, domain.ErrCartNotFound) {
			return domain.Order{}, err
		}

		// Вставленная строка заблокирована нашей транзакцией до коммита.
		order, err = orders.CreateOpenOrder(ctx, userID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, domain.ErrOpenOrderExists) {
			return domain.Order{}, err
		}
		e.metrics.RecordOpenOrderRetry()
	}

	return domain.Order{}, fmt.Errorf("open order for user %s after %d attempts: %w", userID, openOrderAttempts, domain.ErrConflict)
}

// stockMoves накапливает движение остатков в транзакции; в метрики попадает только после коммита.
type stockMoves struct {
	deltas []int32
}

func (m *stockMoves) record(delta int32) {
	m.deltas = append(m.deltas, delta)
}

func (e *Engine) flushStockMoves(moves *stockMoves) {
	for _, delta := range moves.deltas {
		e.metrics.RecordStockMoved(delta)
	}
}

// adjustStock блокирует товар и меняет остаток. Для уменьшения остаток проверяется заранее.
func (e *Engine) adjustStock(ctx context.Context, tx domain.Tx, productID string, delta int32, moves *stockMoves) error {
	products := tx.Products()
	product, err := products.LockAndRead(ctx, productID)
	if err != nil {
		return err
	}
	if delta < 0 && product.StockQuantity < -delta {
		return fmt.Errorf("product %s: need %d, in stock %d: %w", productID, -delta, product.StockQuantity, domain.ErrInsufficientStock)
	}
	if _, err := products.AdjustStock(ctx, productID, delta); err != nil {
		return err
	}
	moves.record(delta)
	return nil
}

// removeLine возвращает позицию на склад целиком и вычитает её стоимость из суммы.
func (e *Engine) removeLine(ctx context.Context, tx domain.Tx, item domain.LineItem, moves *stockMoves) error {
	if err := e.adjustStock(ctx, tx, item.ProductID, item.Quantity, moves); err != nil {
		return err
	}
	if err := tx.Orders().DeleteLineItem(ctx, item.ID); err != nil {
		return err
	}
	_, err := tx.Orders().AdjustTotal(ctx, item.OrderID, -item.LineTotalMinor())
	return err
}

// closeIfEmpty закрывает открытый заказ без позиций.
func (e *Engine) closeIfEmpty(ctx context.Context, tx domain.Tx, orderID string) error {
	items, err := tx.Orders().ListLineItems(ctx, orderID)
	if err != nil {
		return err
	}
	if len(items) > 0 {
		return nil
	}
	return tx.Orders().SetStatus(ctx, orderID, domain.OrderStatusClosed)
}

// finalize перечитывает заказ, проверяет инвариант суммы и собирает представление.
// Нарушение инварианта откатывает транзакцию.
func (e *Engine) finalize(ctx context.Context, tx domain.Tx, orderID string) (domain.CartView, error) {
	order, err := tx.Orders().GetOrder(ctx, orderID)
	if err != nil {
		return domain.CartView{}, err
	}
	if err := order.ValidateTotals(); err != nil {
		e.metrics.RecordTotalMismatch()
		return domain.CartView{}, err
	}
	return e.buildView(ctx, tx, order)
}

func (e *Engine) buildView(ctx context.Context, tx domain.Tx, order domain.Order) (domain.CartView, error) {
	names, err := e.productNames(ctx, tx, order.Items)
	if err != nil {
		return domain.CartView{}, err
	}
	return domain.NewCartView(order, names), nil
}

func (e *Engine) productNames(ctx context.Context, tx domain.Tx, items []domain.LineItem) (map[string]string, error) {
	if len(items) == 0 {
		return map[string]string{}, nil
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := tx.Products().GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(products))
	for id, product := range products {
		names[id] = product.Name
	}
	return names, nil
}

// observe пишет метрику и лог по итогам операции.
func (e *Engine) observe(operation, userID, productID string, start time.Time, err error) {
	e.metrics.ObserveOperation(operation, err, time.Since(start))
	if err == nil {
		return
	}

	fields := log.Fields{"operation": operation, "user_id": userID}
	if productID != "" {
		fields["product_id"] = productID
	}
	entry := e.logger.WithError(err).WithFields(fields)
	if isBusinessError(err) {
		entry.Warn("cart operation rejected")
		return
	}
	entry.Error("cart operation failed")
}

// invalidate сбрасывает кэш после коммита. Ошибка кэша не отменяет операцию.
func (e *Engine) invalidate(ctx context.Context, userID string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, userID); err != nil {
		e.logger.WithError(err).WithField("user_id", userID).Warn("cart cache invalidation failed")
	}
}

func isBusinessError(err error) bool {
	for _, target := range []error{
		domain.ErrProductNotFound,
		domain.ErrInsufficientStock,
		domain.ErrCartNotFound,
		domain.ErrConflict,
		domain.ErrInvalidQuantity,
		domain.ErrUserRequired,
		domain.ErrProductIDRequired,
		domain.ErrEmptyCart,
		domain.ErrPaymentDeclined,
		domain.ErrPaymentMethodInvalid,
		domain.ErrOrderNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func validateRequest(userID, productID string) error {
	if userID == "" {
		return domain.ErrUserRequired
	}
	if productID == "" {
		return domain.ErrProductIDRequired
	}
	return nil
}
