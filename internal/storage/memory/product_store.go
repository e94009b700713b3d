package memory

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ttejuosho/akubata/internal/domain"
)

type productStore struct {
	tx *memTx
}

func (p productStore) LockAndRead(_ context.Context, productID string) (domain.Product, error) {
	product, ok := p.tx.state.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (p productStore) AdjustStock(_ context.Context, productID string, delta int32) (int32, error) {
	product, ok := p.tx.state.products[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	next := int64(product.StockQuantity) + int64(delta)
	if next < 0 {
		return product.StockQuantity, fmt.Errorf("product %s stock %d%+d: %w", productID, product.StockQuantity, delta, domain.ErrInsufficientStock)
	}
	if next > math.MaxInt32 {
		return product.StockQuantity, fmt.Errorf("product %s stock %d%+d exceeds int32: %w", productID, product.StockQuantity, delta, domain.ErrInvalidQuantity)
	}
	product.StockQuantity = int32(next)
	product.UpdatedAt = time.Now().UTC()
	p.tx.state.products[productID] = product
	return product.StockQuantity, nil
}

func (p productStore) GetMany(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := p.tx.state.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (p productStore) Create(_ context.Context, product domain.Product) (domain.Product, error) {
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errs[0]
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if _, exists := p.tx.state.products[product.ID]; exists {
		return domain.Product{}, fmt.Errorf("product %s: %w", product.ID, domain.ErrProductExists)
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	p.tx.state.products[product.ID] = product
	return product, nil
}

func (p productStore) UpdatePrice(_ context.Context, productID string, priceMinor int64) error {
	if priceMinor < 0 {
		return domain.ErrAmountNegative
	}
	product, ok := p.tx.state.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	product.UnitPriceMinor = priceMinor
	product.UpdatedAt = time.Now().UTC()
	p.tx.state.products[productID] = product
	return nil
}

var _ domain.ProductStore = productStore{}
