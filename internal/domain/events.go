package domain

import "time"

// Типы событий, которые попадают в outbox.
const (
	AggregateTypeOrder      = "order"
	EventTypeOrderCompleted = "order.completed"
)

// OrderCompletedEvent: полезная нагрузка события об оформленном заказе.
type OrderCompletedEvent struct {
	OrderID       string               `json:"order_id"`
	UserID        string               `json:"user_id"`
	TotalMinor    int64                `json:"total_minor"`
	PaymentMethod PaymentMethod        `json:"payment_method"`
	Items         []OrderCompletedItem `json:"items"`
	CompletedAt   time.Time            `json:"completed_at"`
}

// OrderCompletedItem: позиция в событии оформления.
type OrderCompletedItem struct {
	ProductID  string `json:"product_id"`
	Quantity   int32  `json:"quantity"`
	PriceMinor int64  `json:"price_minor"`
}

// NewOrderCompletedEvent собирает событие из оформленного заказа.
func NewOrderCompletedEvent(order Order, completedAt time.Time) OrderCompletedEvent {
	event := OrderCompletedEvent{
		OrderID:       order.ID,
		UserID:        order.UserID,
		TotalMinor:    order.TotalMinor,
		PaymentMethod: order.PaymentMethod,
		Items:         make([]OrderCompletedItem, 0, len(order.Items)),
		CompletedAt:   completedAt.UTC(),
	}
	for _, item := range order.Items {
		event.Items = append(event.Items, OrderCompletedItem{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			PriceMinor: item.PriceMinor,
		})
	}
	return event
}
