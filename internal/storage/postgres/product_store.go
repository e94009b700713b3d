package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ttejuosho/akubata/internal/domain"
)

const productColumns = `id, name, unit_price_minor, stock_quantity, created_at, updated_at`

type productStore struct {
	tx *sql.Tx
}

func (p *productStore) LockAndRead(ctx context.Context, productID string) (domain.Product, error) {
	product, err := scanProduct(p.tx.QueryRowContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE
	`, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("lock product %s: %w", productID, err)
	}
	return product, nil
}

// AdjustStock меняет остаток одним UPDATE с условием, уход в минус не записывается.
func (p *productStore) AdjustStock(ctx context.Context, productID string, delta int32) (int32, error) {
	var stock int32
	err := p.tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = $3
		WHERE id = $1 AND stock_quantity + $2 >= 0
		RETURNING stock_quantity
	`, productID, delta, time.Now().UTC()).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if isCheckViolation(err) {
		return 0, fmt.Errorf("product %s stock %+d: %w", productID, delta, domain.ErrInsufficientStock)
	}
	if isOutOfRange(err) {
		return 0, fmt.Errorf("product %s stock %+d exceeds int32: %w", productID, delta, domain.ErrInvalidQuantity)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("adjust stock for %s: %w", productID, err)
	}

	var exists bool
	if err := p.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return 0, domain.ErrProductNotFound
	}
	return 0, fmt.Errorf("product %s stock %+d: %w", productID, delta, domain.ErrInsufficientStock)
}

func (p *productStore) GetMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	rows, err := p.tx.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

func (p *productStore) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errs[0]
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := p.tx.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
	`, product.ID, product.Name, product.UnitPriceMinor, product.StockQuantity, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, fmt.Errorf("product %s: %w", product.ID, domain.ErrProductExists)
		}
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return product, nil
}

func (p *productStore) UpdatePrice(ctx context.Context, productID string, priceMinor int64) error {
	if priceMinor < 0 {
		return domain.ErrAmountNegative
	}
	res, err := p.tx.ExecContext(ctx, `
		UPDATE products SET unit_price_minor = $2, updated_at = $3 WHERE id = $1
	`, productID, priceMinor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update price for %s: %w", productID, err)
	}
	return requireAffected(res, domain.ErrProductNotFound)
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var product domain.Product
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.UnitPriceMinor,
		&product.StockQuantity,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	return product, err
}

var _ domain.ProductStore = (*productStore)(nil)
