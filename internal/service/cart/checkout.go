package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ttejuosho/akubata/internal/domain"
)

// Checkout оформляет открытую корзину: списывает оплату, переводит заказ
// в completed и ставит событие order.completed в outbox той же транзакцией.
// Отказ в оплате оставляет корзину нетронутой.
func (e *Engine) Checkout(ctx context.Context, userID, paymentMethod string) (view domain.OrderView, err error) {
	start := time.Now()
	defer func() { e.observe(OpCheckout, userID, "", start, err) }()

	if userID == "" {
		return domain.OrderView{}, domain.ErrUserRequired
	}
	method, err := domain.ParsePaymentMethod(paymentMethod)
	if err != nil {
		return domain.OrderView{}, err
	}
	if e.payments == nil {
		return domain.OrderView{}, errors.New("checkout: payment service is not configured")
	}

	var orderID string
	err = e.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().LockOpenOrder(ctx, userID)
		if err != nil {
			return err
		}
		orderID = order.ID
		if len(order.Items) == 0 {
			return fmt.Errorf("order %s: %w", order.ID, domain.ErrEmptyCart)
		}
		if err := order.ValidateTotals(); err != nil {
			e.metrics.RecordTotalMismatch()
			return err
		}

		status, err := e.payments.Charge(ctx, order.ID, order.TotalMinor, method)
		if err != nil {
			return fmt.Errorf("charge order %s: %w", order.ID, err)
		}
		if status != domain.PaymentStatusPaid {
			return fmt.Errorf("order %s via %s: %w", order.ID, method, domain.ErrPaymentDeclined)
		}

		orders := tx.Orders()
		if err := orders.SetPaymentMethod(ctx, order.ID, method); err != nil {
			return err
		}
		if err := orders.SetStatus(ctx, order.ID, domain.OrderStatusCompleted); err != nil {
			return err
		}

		completed, err := orders.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := completed.ValidateTotals(); err != nil {
			e.metrics.RecordTotalMismatch()
			return err
		}

		payload, err := json.Marshal(domain.NewOrderCompletedEvent(completed, e.now()))
		if err != nil {
			return fmt.Errorf("marshal order completed event: %w", err)
		}
		if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateTypeOrder,
			AggregateID:   completed.ID,
			EventType:     domain.EventTypeOrderCompleted,
			Payload:       payload,
		}); err != nil {
			return err
		}

		names, err := e.productNames(ctx, tx, completed.Items)
		if err != nil {
			return err
		}
		view = domain.NewOrderView(completed, names)
		return nil
	})
	if err != nil {
		return domain.OrderView{}, err
	}

	e.logger.WithFields(log.Fields{
		"user_id":        userID,
		"order_id":       orderID,
		"total_minor":    view.TotalMinor,
		"payment_method": method,
	}).Info("order completed")
	e.invalidate(ctx, userID)
	return view, nil
}
