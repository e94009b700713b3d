// Package catalog: граница каталога: создание товаров, пополнение остатков и смена цены.
// Остатки меняются теми же примитивами ProductStore, что и в движке корзины.
package catalog

import (
	"context"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/ttejuosho/akubata/internal/domain"
)

// Service управляет товарами каталога.
type Service struct {
	txm    domain.TxManager
	logger *log.Entry
}

// NewService создаёт сервис каталога.
func NewService(txm domain.TxManager, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Service{txm: txm, logger: logger}
}

// CreateProduct добавляет товар. Пустой ID генерируется хранилищем.
func (s *Service) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errs[0]
	}

	var created domain.Product
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		created, err = tx.Products().Create(ctx, product)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id":  created.ID,
		"price_minor": created.UnitPriceMinor,
		"stock":       created.StockQuantity,
	}).Info("product created")
	return created, nil
}

// Restock увеличивает остаток на qty под блокировкой строки товара.
func (s *Service) Restock(ctx context.Context, productID string, qty int32) (domain.Product, error) {
	if productID == "" {
		return domain.Product{}, domain.ErrProductIDRequired
	}
	if qty <= 0 {
		return domain.Product{}, fmt.Errorf("restock quantity %d: %w", qty, domain.ErrInvalidQuantity)
	}

	var product domain.Product
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		products := tx.Products()
		current, err := products.LockAndRead(ctx, productID)
		if err != nil {
			return err
		}
		if int64(current.StockQuantity)+int64(qty) > math.MaxInt32 {
			return fmt.Errorf("restock %s overflows stock: %w", productID, domain.ErrInvalidQuantity)
		}
		stock, err := products.AdjustStock(ctx, productID, qty)
		if err != nil {
			return err
		}
		current.StockQuantity = stock
		product = current
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{"product_id": productID, "added": qty, "stock": product.StockQuantity}).Info("product restocked")
	return product, nil
}

// Reprice меняет цену каталога. Уже добавленные в корзины позиции сохраняют свою цену.
func (s *Service) Reprice(ctx context.Context, productID string, priceMinor int64) (domain.Product, error) {
	if productID == "" {
		return domain.Product{}, domain.ErrProductIDRequired
	}
	if priceMinor < 0 {
		return domain.Product{}, domain.ErrItemPriceInvalid
	}

	var product domain.Product
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		products := tx.Products()
		current, err := products.LockAndRead(ctx, productID)
		if err != nil {
			return err
		}
		if err := products.UpdatePrice(ctx, productID, priceMinor); err != nil {
			return err
		}
		current.UnitPriceMinor = priceMinor
		product = current
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}
