// Package api описывает JSON-представления запросов и ответов, общие для HTTP и gRPC.
// Денежные суммы передаются строками с двумя знаками после запятой.
package api

import (
	"time"

	"github.com/ttejuosho/akubata/internal/domain"
)

// CartItem: позиция корзины.
type CartItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

// Cart: снимок корзины.
type Cart struct {
	OrderID   string     `json:"order_id,omitempty"`
	UserID    string     `json:"user_id"`
	Status    string     `json:"status,omitempty"`
	Items     []CartItem `json:"items"`
	Total     string     `json:"total"`
	ItemCount int64      `json:"item_count"`
}

// Order: оформленный заказ.
type Order struct {
	OrderID       string     `json:"order_id"`
	UserID        string     `json:"user_id"`
	Status        string     `json:"status"`
	PaymentMethod string     `json:"payment_method"`
	Items         []CartItem `json:"items"`
	Total         string     `json:"total"`
	ItemCount     int64      `json:"item_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// OrderList: история заказов.
type OrderList struct {
	Orders []Order `json:"orders"`
}

// Product: товар каталога.
type Product struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
	Stock int32  `json:"stock"`
}

// ItemRequest: тело add/update/remove: товар и количество.
type ItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

// CheckoutRequest: оформление корзины. Пустой способ оплаты означает карту.
type CheckoutRequest struct {
	PaymentMethod string `json:"payment_method"`
}

// ListOrdersRequest: запрос истории; Limit <= 0 означает значение по умолчанию.
type ListOrdersRequest struct {
	Limit int `json:"limit"`
}

// GetOrderRequest: запрос одного заказа.
type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

// Empty: запрос без параметров.
type Empty struct{}

// CreateProductRequest: создание товара.
type CreateProductRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
	Stock int32  `json:"stock"`
}

// RestockRequest: пополнение остатка.
type RestockRequest struct {
	ProductID string `json:"product_id,omitempty"`
	Quantity  int32  `json:"quantity"`
}

// RepriceRequest: новая цена каталога; позиции в корзинах её не видят.
type RepriceRequest struct {
	ProductID string `json:"product_id,omitempty"`
	Price     string `json:"price"`
}

// PriceMinor разбирает цену в минорные единицы.
func (r RepriceRequest) PriceMinor() (int64, error) {
	return domain.ParseMinor(r.Price)
}

// Error: тело ответа с ошибкой.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewCart переводит снимок корзины в ответ.
func NewCart(view domain.CartView) Cart {
	return Cart{
		OrderID:   view.OrderID,
		UserID:    view.UserID,
		Status:    string(view.Status),
		Items:     newItems(view.Items),
		Total:     domain.FormatMinor(view.TotalMinor),
		ItemCount: view.ItemCount,
	}
}

// NewOrder переводит заказ из истории в ответ.
func NewOrder(view domain.OrderView) Order {
	return Order{
		OrderID:       view.OrderID,
		UserID:        view.UserID,
		Status:        string(view.Status),
		PaymentMethod: string(view.PaymentMethod),
		Items:         newItems(view.Items),
		Total:         domain.FormatMinor(view.TotalMinor),
		ItemCount:     view.ItemCount,
		CreatedAt:     view.CreatedAt,
		UpdatedAt:     view.UpdatedAt,
	}
}

// NewOrderList собирает историю заказов.
func NewOrderList(views []domain.OrderView) OrderList {
	list := OrderList{Orders: make([]Order, 0, len(views))}
	for _, view := range views {
		list.Orders = append(list.Orders, NewOrder(view))
	}
	return list
}

// NewProduct переводит товар в ответ.
func NewProduct(product domain.Product) Product {
	return Product{
		ID:    product.ID,
		Name:  product.Name,
		Price: domain.FormatMinor(product.UnitPriceMinor),
		Stock: product.StockQuantity,
	}
}

// ToDomain разбирает цену и собирает товар для каталога.
func (r CreateProductRequest) ToDomain() (domain.Product, error) {
	price, err := domain.ParseMinor(r.Price)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:             r.ID,
		Name:           r.Name,
		UnitPriceMinor: price,
		StockQuantity:  r.Stock,
	}, nil
}

func newItems(lines []domain.CartLine) []CartItem {
	items := make([]CartItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, CartItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   domain.FormatMinor(line.UnitPriceMinor),
			LineTotal:   domain.FormatMinor(line.LineTotalMinor),
		})
	}
	return items
}
