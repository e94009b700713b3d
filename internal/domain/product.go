package domain

import "time"

// Product: товар каталога в объёме, нужном корзине: цена и остаток.
type Product struct {
	ID             string
	Name           string
	UnitPriceMinor int64
	StockQuantity  int32
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate проверяет поля товара перед сохранением.
func (p *Product) Validate() []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.UnitPriceMinor < 0 {
		errs = append(errs, ErrItemPriceInvalid)
	}
	if p.StockQuantity < 0 {
		errs = append(errs, ErrStockNegative)
	}

	return errs
}
