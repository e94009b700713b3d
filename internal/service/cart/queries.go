package cart

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ttejuosho/akubata/internal/domain"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// GetCart возвращает текущую корзину пользователя. Без открытого заказа: пустое
// представление. Возвращается хранимая сумма; расхождение с позициями
// логируется и учитывается в метриках, но на чтении не исправляется.
func (e *Engine) GetCart(ctx context.Context, userID string) (view domain.CartView, err error) {
	start := time.Now()
	defer func() { e.observe(OpGetCart, userID, "", start, err) }()

	if userID == "" {
		return domain.CartView{}, domain.ErrUserRequired
	}

	if e.cache != nil {
		cached, ok, cacheErr := e.cache.Get(ctx, userID)
		if cacheErr != nil {
			e.logger.WithError(cacheErr).WithField("user_id", userID).Warn("cart cache read failed")
		}
		if ok {
			return cached, nil
		}
	}

	err = e.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		// С кэшем заказ блокируется: запись в кэш происходит до того, как
		// конкурирующая мутация закоммитится и сбросит его.
		var order domain.Order
		var err error
		if e.cache != nil {
			order, err = tx.Orders().LockOpenOrder(ctx, userID)
		} else {
			order, err = tx.Orders().FindOpenOrder(ctx, userID)
		}
		if errors.Is(err, domain.ErrCartNotFound) {
			view = domain.EmptyCart(userID)
			return nil
		}
		if err != nil {
			return err
		}

		if mismatch := order.ValidateTotals(); mismatch != nil {
			e.metrics.RecordTotalMismatch()
			e.logger.WithError(mismatch).WithFields(log.Fields{
				"user_id":      userID,
				"order_id":     order.ID,
				"stored_total": order.TotalMinor,
				"items_total":  order.ItemsTotalMinor(),
			}).Warn("order total disagrees with line items")
		}

		view, err = e.buildView(ctx, tx, order)
		if err != nil {
			return err
		}

		if e.cache != nil {
			if cacheErr := e.cache.Set(ctx, userID, view); cacheErr != nil {
				e.logger.WithError(cacheErr).WithField("user_id", userID).Warn("cart cache write failed")
			}
		}
		return nil
	})
	if err != nil {
		return domain.CartView{}, err
	}
	return view, nil
}

// ListOrders возвращает оформленные заказы пользователя, новые первыми.
func (e *Engine) ListOrders(ctx context.Context, userID string, limit int) (views []domain.OrderView, err error) {
	start := time.Now()
	defer func() { e.observe(OpListOrders, userID, "", start, err) }()

	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	err = e.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		orders, err := tx.Orders().ListOrdersByUser(ctx, userID, domain.OrderStatusCompleted, limit)
		if err != nil {
			return err
		}

		var items []domain.LineItem
		for _, order := range orders {
			items = append(items, order.Items...)
		}
		names, err := e.productNames(ctx, tx, items)
		if err != nil {
			return err
		}

		views = make([]domain.OrderView, 0, len(orders))
		for _, order := range orders {
			views = append(views, domain.NewOrderView(order, names))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// GetOrder возвращает завершённый (оформленный или закрытый) заказ пользователя.
// Чужой или открытый заказ: ErrOrderNotFound.
func (e *Engine) GetOrder(ctx context.Context, userID, orderID string) (view domain.OrderView, err error) {
	start := time.Now()
	defer func() { e.observe(OpGetOrder, userID, "", start, err) }()

	if userID == "" {
		return domain.OrderView{}, domain.ErrUserRequired
	}
	if orderID == "" {
		return domain.OrderView{}, domain.ErrOrderNotFound
	}

	err = e.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID || !order.Status.Terminal() {
			return domain.ErrOrderNotFound
		}

		names, err := e.productNames(ctx, tx, order.Items)
		if err != nil {
			return err
		}
		view = domain.NewOrderView(order, names)
		return nil
	})
	if err != nil {
		return domain.OrderView{}, err
	}
	return view, nil
}
