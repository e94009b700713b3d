package domain

import "time"

// CartLine: строка представления корзины для транспорта.
type CartLine struct {
	ProductID      string
	ProductName    string
	Quantity       int32
	UnitPriceMinor int64
	LineTotalMinor int64
}

// CartView: снимок корзины после операции.
type CartView struct {
	OrderID    string
	UserID     string
	Status     OrderStatus
	Items      []CartLine
	TotalMinor int64
	ItemCount  int64
}

// EmptyCart возвращает представление пустой корзины пользователя.
func EmptyCart(userID string) CartView {
	return CartView{UserID: userID, Items: []CartLine{}}
}

// NewCartView собирает представление из заказа и названий товаров.
func NewCartView(order Order, names map[string]string) CartView {
	view := CartView{
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		Items:      make([]CartLine, 0, len(order.Items)),
		TotalMinor: order.TotalMinor,
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, CartLine{
			ProductID:      item.ProductID,
			ProductName:    names[item.ProductID],
			Quantity:       item.Quantity,
			UnitPriceMinor: item.PriceMinor,
			LineTotalMinor: item.LineTotalMinor(),
		})
		view.ItemCount += int64(item.Quantity)
	}
	return view
}

// OrderView: заказ из истории пользователя.
type OrderView struct {
	OrderID       string
	UserID        string
	Status        OrderStatus
	PaymentMethod PaymentMethod
	Items         []CartLine
	TotalMinor    int64
	ItemCount     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrderView собирает представление заказа для истории.
func NewOrderView(order Order, names map[string]string) OrderView {
	cart := NewCartView(order, names)
	return OrderView{
		OrderID:       order.ID,
		UserID:        order.UserID,
		Status:        order.Status,
		PaymentMethod: order.PaymentMethod,
		Items:         cart.Items,
		TotalMinor:    order.TotalMinor,
		ItemCount:     cart.ItemCount,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}
