package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ttejuosho/akubata/internal/domain"
)

// orderLedger: OrderLedger поверх состояния транзакции.
// Блокировки не нужны: транзакция и так владеет всем хранилищем.
type orderLedger struct {
	tx *memTx
}

func (l orderLedger) findOpen(userID string) (domain.Order, bool) {
	for _, order := range l.tx.state.orders {
		if order.UserID == userID && order.Status == domain.OrderStatusOpen {
			return order, true
		}
	}
	return domain.Order{}, false
}

func (l orderLedger) withItems(order domain.Order) domain.Order {
	order.Items = l.tx.state.sortedItems(order.ID)
	return order
}

func (l orderLedger) LockOpenOrder(_ context.Context, userID string) (domain.Order, error) {
	order, ok := l.findOpen(userID)
	if !ok {
		return domain.Order{}, domain.ErrCartNotFound
	}
	return l.withItems(order), nil
}

func (l orderLedger) FindOpenOrder(ctx context.Context, userID string) (domain.Order, error) {
	return l.LockOpenOrder(ctx, userID)
}

func (l orderLedger) CreateOpenOrder(_ context.Context, userID string) (domain.Order, error) {
	if userID == "" {
		return domain.Order{}, domain.ErrUserRequired
	}
	if _, ok := l.findOpen(userID); ok {
		return domain.Order{}, domain.ErrOpenOrderExists
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    domain.OrderStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.tx.state.orders[order.ID] = order
	order.Items = []domain.LineItem{}
	return order, nil
}

func (l orderLedger) LockLineItem(_ context.Context, orderID, productID string) (domain.LineItem, error) {
	li, ok := l.tx.state.items[orderID][productID]
	if !ok {
		return domain.LineItem{}, domain.ErrLineItemNotFound
	}
	return li, nil
}

func (l orderLedger) ListLineItems(_ context.Context, orderID string) ([]domain.LineItem, error) {
	return l.tx.state.sortedItems(orderID), nil
}

func (l orderLedger) InsertLineItem(_ context.Context, item domain.LineItem) (domain.LineItem, error) {
	if _, ok := l.tx.state.orders[item.OrderID]; !ok {
		return domain.LineItem{}, domain.ErrOrderNotFound
	}
	if item.Quantity <= 0 {
		return domain.LineItem{}, domain.ErrItemQtyInvalid
	}
	lines := l.tx.state.items[item.OrderID]
	if lines == nil {
		lines = make(map[string]domain.LineItem)
		l.tx.state.items[item.OrderID] = lines
	}
	if _, dup := lines[item.ProductID]; dup {
		return domain.LineItem{}, domain.ErrDuplicateLineItem
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	lines[item.ProductID] = item
	return item, nil
}

func (l orderLedger) lineByID(itemID string) (domain.LineItem, bool) {
	for _, lines := range l.tx.state.items {
		for _, li := range lines {
			if li.ID == itemID {
				return li, true
			}
		}
	}
	return domain.LineItem{}, false
}

func (l orderLedger) UpdateLineItemQuantity(_ context.Context, itemID string, quantity int32) error {
	if quantity <= 0 {
		return domain.ErrItemQtyInvalid
	}
	li, ok := l.lineByID(itemID)
	if !ok {
		return domain.ErrLineItemNotFound
	}
	li.Quantity = quantity
	li.UpdatedAt = time.Now().UTC()
	l.tx.state.items[li.OrderID][li.ProductID] = li
	return nil
}

func (l orderLedger) DeleteLineItem(_ context.Context, itemID string) error {
	li, ok := l.lineByID(itemID)
	if !ok {
		return domain.ErrLineItemNotFound
	}
	delete(l.tx.state.items[li.OrderID], li.ProductID)
	return nil
}

func (l orderLedger) AdjustTotal(_ context.Context, orderID string, delta int64) (int64, error) {
	order, ok := l.tx.state.orders[orderID]
	if !ok {
		return 0, domain.ErrOrderNotFound
	}
	next, err := domain.AddMinor(order.TotalMinor, delta)
	if err != nil {
		return order.TotalMinor, fmt.Errorf("order %s total: %w", orderID, err)
	}
	if next < 0 {
		return order.TotalMinor, fmt.Errorf("order %s total %d%+d: %w", orderID, order.TotalMinor, delta, domain.ErrAmountNegative)
	}
	order.TotalMinor = next
	order.UpdatedAt = time.Now().UTC()
	l.tx.state.orders[orderID] = order
	return next, nil
}

func (l orderLedger) SetStatus(_ context.Context, orderID string, to domain.OrderStatus) error {
	order, ok := l.tx.state.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if !order.Status.CanTransition(to) {
		return fmt.Errorf("order %s %s -> %s: %w", orderID, order.Status, to, domain.ErrInvalidStatusTransition)
	}
	order.Status = to
	order.UpdatedAt = time.Now().UTC()
	l.tx.state.orders[orderID] = order
	return nil
}

func (l orderLedger) SetPaymentMethod(_ context.Context, orderID string, method domain.PaymentMethod) error {
	order, ok := l.tx.state.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.PaymentMethod = method
	order.UpdatedAt = time.Now().UTC()
	l.tx.state.orders[orderID] = order
	return nil
}

func (l orderLedger) ListOrdersByUser(_ context.Context, userID string, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	result := make([]domain.Order, 0)
	for _, order := range l.tx.state.orders {
		if order.UserID != userID || order.Status != status {
			continue
		}
		result = append(result, l.withItems(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (l orderLedger) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := l.tx.state.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return l.withItems(order), nil
}

var _ domain.OrderLedger = orderLedger{}
