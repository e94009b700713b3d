package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ttejuosho/akubata/internal/domain"
)

// AddItem кладёт qty единиц товара в открытую корзину пользователя.
// Повторное добавление увеличивает существующую позицию по зафиксированной цене.
func (e *Engine) AddItem(ctx context.Context, userID, productID string, qty int32) (view domain.CartView, err error) {
	start := time.Now()
	defer func() { e.observe(OpAdd, userID, productID, start, err) }()

	if err := validateRequest(userID, productID); err != nil {
		return domain.CartView{}, err
	}
	if qty <= 0 {
		return domain.CartView{}, fmt.Errorf("add quantity %d: %w", qty, domain.ErrInvalidQuantity)
	}

	moves := &stockMoves{}
	err = e.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := e.GetOrCreateOpenOrder(ctx, tx, userID)
		if err != nil {
			return err
		}

		product, err := tx.Products().LockAndRead(ctx, productID)
		if err != nil {
			return err
		}
		if product.StockQuantity < qty {
			return fmt.Errorf("add %d of %s, in stock %d: %w", qty, productID, product.StockQuantity, domain.ErrInsufficientStock)
		}

		orders := tx.Orders()
		price := product.UnitPriceMinor
		var amount int64
		item, err := orders.LockLineItem(ctx, order.ID, productID)
		switch {
		case err == nil:
			price = item.PriceMinor
			if int64(item.Quantity)+int64(qty) > math.MaxInt32 {
				return fmt.Errorf("line quantity overflow: %w", domain.ErrInvalidQuantity)
			}
			if amount, err = totalIncrease(order, item.Quantity+qty, qty, price); err != nil {
				return err
			}
			err = orders.UpdateLineItemQuantity(ctx, item.ID, item.Quantity+qty)
		case errors.Is(err, domain.ErrLineItemNotFound):
			if amount, err = totalIncrease(order, qty, qty, price); err != nil {
				return err
			}
			_, err = orders.InsertLineItem(ctx, domain.LineItem{
				OrderID:    order.ID,
				ProductID:  productID,
				Quantity:   qty,
				PriceMinor: price,
			})
		}
		if err != nil {
			return err
		}

		// Товар уже заблокирован выше.
		if _, err := tx.Products().AdjustStock(ctx, productID, -qty); err != nil {
			return err
		}
		moves.record(-qty)
		if _, err := orders.AdjustTotal(ctx, order.ID, amount); err != nil {
			return err
		}

		view, err = e.finalize(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		return domain.CartView{}, err
	}

	e.flushStockMoves(moves)
	e.invalidate(ctx, userID)
	return view, nil
}

// UpdateItemQuantity устанавливает количество позиции в newQty.
// newQty == 0 удаляет позицию; пустая корзина закрывается.
func (e *Engine) UpdateItemQuantity(ctx context.Context, userID, productID string, newQty int32) (view domain.CartView, err error) {
	start := time.Now()
	defer func() { e.observe(OpUpdate, userID, productID, start, err) }()

	if err := validateRequest(userID, productID); err != nil {
		return domain.CartView{}, err
	}
	if newQty < 0 {
		return domain.CartView{}, fmt.Errorf("update quantity %d: %w", newQty, domain.ErrInvalidQuantity)
	}

	moves := &stockMoves{}
	err = e.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, item, err := e.lockLine(ctx, tx, userID, productID)
		if err != nil {
			return err
		}

		orders := tx.Orders()
		delta := newQty - item.Quantity
		switch {
		case newQty == 0:
			if err := e.removeLine(ctx, tx, item, moves); err != nil {
				return err
			}
			if err := e.closeIfEmpty(ctx, tx, order.ID); err != nil {
				return err
			}
		case delta == 0:
		default:
			// delta < 0 возвращает товар на склад, delta > 0 забирает со склада.
			amount := int64(delta) * item.PriceMinor
			if delta > 0 {
				if amount, err = totalIncrease(order, newQty, delta, item.PriceMinor); err != nil {
					return err
				}
			}
			if err := e.adjustStock(ctx, tx, productID, -delta, moves); err != nil {
				return err
			}
			if err := orders.UpdateLineItemQuantity(ctx, item.ID, newQty); err != nil {
				return err
			}
			if _, err := orders.AdjustTotal(ctx, order.ID, amount); err != nil {
				return err
			}
		}

		view, err = e.finalize(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		return domain.CartView{}, err
	}

	e.flushStockMoves(moves)
	e.invalidate(ctx, userID)
	return view, nil
}

// RemoveItem убирает qty единиц товара из корзины. qty не меньше текущего
// количества удаляет позицию целиком.
func (e *Engine) RemoveItem(ctx context.Context, userID, productID string, qty int32) (view domain.CartView, err error) {
	start := time.Now()
	defer func() { e.observe(OpRemove, userID, productID, start, err) }()

	if err := validateRequest(userID, productID); err != nil {
		return domain.CartView{}, err
	}
	if qty <= 0 {
		return domain.CartView{}, fmt.Errorf("remove quantity %d: %w", qty, domain.ErrInvalidQuantity)
	}

	moves := &stockMoves{}
	err = e.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, item, err := e.lockLine(ctx, tx, userID, productID)
		if err != nil {
			return err
		}

		if qty >= item.Quantity {
			if err := e.removeLine(ctx, tx, item, moves); err != nil {
				return err
			}
			if err := e.closeIfEmpty(ctx, tx, order.ID); err != nil {
				return err
			}
		} else {
			if err := e.adjustStock(ctx, tx, productID, qty, moves); err != nil {
				return err
			}
			if err := tx.Orders().UpdateLineItemQuantity(ctx, item.ID, item.Quantity-qty); err != nil {
				return err
			}
			if _, err := tx.Orders().AdjustTotal(ctx, order.ID, -int64(qty)*item.PriceMinor); err != nil {
				return err
			}
		}

		view, err = e.finalize(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		return domain.CartView{}, err
	}

	e.flushStockMoves(moves)
	e.invalidate(ctx, userID)
	return view, nil
}

// ClearCart возвращает все позиции на склад и закрывает открытый заказ.
// Без открытого заказа ничего не делает.
func (e *Engine) ClearCart(ctx context.Context, userID string) (err error) {
	start := time.Now()
	defer func() { e.observe(OpClear, userID, "", start, err) }()

	if userID == "" {
		return domain.ErrUserRequired
	}

	moves := &stockMoves{}
	cleared := false
	err = e.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().LockOpenOrder(ctx, userID)
		if errors.Is(err, domain.ErrCartNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		// Позиции отсортированы по product_id: товары блокируются в том же порядке, что и везде.
		for _, item := range order.Items {
			if err := e.removeLine(ctx, tx, item, moves); err != nil {
				return err
			}
		}
		if err := tx.Orders().SetStatus(ctx, order.ID, domain.OrderStatusClosed); err != nil {
			return err
		}

		if _, err := e.finalize(ctx, tx, order.ID); err != nil {
			return err
		}
		cleared = true
		return nil
	})
	if err != nil {
		return err
	}

	if cleared {
		e.flushStockMoves(moves)
		e.invalidate(ctx, userID)
	}
	return nil
}

// lockLine блокирует открытый заказ и позицию товара в нём.
// Отсутствие любого из них: ErrCartNotFound.
func (e *Engine) lockLine(ctx context.Context, tx domain.Tx, userID, productID string) (domain.Order, domain.LineItem, error) {
	order, err := tx.Orders().LockOpenOrder(ctx, userID)
	if err != nil {
		return domain.Order{}, domain.LineItem{}, err
	}
	item, err := tx.Orders().LockLineItem(ctx, order.ID, productID)
	if errors.Is(err, domain.ErrLineItemNotFound) {
		return domain.Order{}, domain.LineItem{}, fmt.Errorf("product %s is not in the cart: %w", productID, domain.ErrCartNotFound)
	}
	if err != nil {
		return domain.Order{}, domain.LineItem{}, err
	}
	return order, item, nil
}

// totalIncrease возвращает прирост суммы заказа при добавлении qty единиц по цене price
// в позицию, которая станет lineQty. Переполнение суммы позиции или заказа отклоняется.
func totalIncrease(order domain.Order, lineQty, qty int32, price int64) (int64, error) {
	if _, err := domain.MulMinor(lineQty, price); err != nil {
		return 0, fmt.Errorf("line total for %d units: %w: %w", lineQty, domain.ErrInvalidQuantity, err)
	}
	amount, err := domain.MulMinor(qty, price)
	if err != nil {
		return 0, fmt.Errorf("amount for %d units: %w: %w", qty, domain.ErrInvalidQuantity, err)
	}
	if _, err := domain.AddMinor(order.TotalMinor, amount); err != nil {
		return 0, fmt.Errorf("order %s total: %w: %w", order.ID, domain.ErrInvalidQuantity, err)
	}
	return amount, nil
}
