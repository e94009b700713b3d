package api

import (
	"context"

	"github.com/ttejuosho/akubata/internal/domain"
)

// CartEngine: операции движка корзины, которые открывают транспорты.
type CartEngine interface {
	AddItem(ctx context.Context, userID, productID string, qty int32) (domain.CartView, error)
	UpdateItemQuantity(ctx context.Context, userID, productID string, qty int32) (domain.CartView, error)
	RemoveItem(ctx context.Context, userID, productID string, qty int32) (domain.CartView, error)
	ClearCart(ctx context.Context, userID string) error
	GetCart(ctx context.Context, userID string) (domain.CartView, error)
	Checkout(ctx context.Context, userID, paymentMethod string) (domain.OrderView, error)
	ListOrders(ctx context.Context, userID string, limit int) ([]domain.OrderView, error)
	GetOrder(ctx context.Context, userID, orderID string) (domain.OrderView, error)
}

// Catalog: операции каталога.
type Catalog interface {
	CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	Restock(ctx context.Context, productID string, qty int32) (domain.Product, error)
	Reprice(ctx context.Context, productID string, priceMinor int64) (domain.Product, error)
}
