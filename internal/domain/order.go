package domain

import (
	"errors"
	"fmt"
	"time"
)

// OrderStatus описывает жизненный цикл заказа (корзины).
type OrderStatus string

const (
	// OrderStatusOpen: корзина пользователя, единственная открытая на пользователя.
	OrderStatusOpen OrderStatus = "open"
	// OrderStatusClosed: корзина опустела или очищена; архивное состояние.
	OrderStatusClosed OrderStatus = "closed"
	// OrderStatusCompleted: заказ оформлен через checkout.
	OrderStatusCompleted OrderStatus = "completed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusOpen, OrderStatusClosed, OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusClosed || s == OrderStatusCompleted
}

// CanTransition проверяет переход статуса. Допустимы только open → closed и open → completed.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	if s != OrderStatusOpen {
		return false
	}
	return to == OrderStatusClosed || to == OrderStatusCompleted
}

// LineItem: позиция корзины: товар, количество и цена, зафиксированная при первом добавлении.
type LineItem struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int32
	// PriceMinor: цена за единицу в минимальных денежных единицах (центы).
	PriceMinor int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LineTotalMinor возвращает стоимость позиции.
func (li LineItem) LineTotalMinor() int64 {
	return int64(li.Quantity) * li.PriceMinor
}

// Order агрегирует корзину (или оформленный заказ) и её позиции.
type Order struct {
	ID            string
	UserID        string
	Status        OrderStatus
	TotalMinor    int64
	PaymentMethod PaymentMethod
	Items         []LineItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CheckedItemsTotalMinor пересчитывает сумму по позициям; переполнение даёт ErrAmountOverflow.
func (o *Order) CheckedItemsTotalMinor() (int64, error) {
	var sum int64
	for _, item := range o.Items {
		line, err := MulMinor(item.Quantity, item.PriceMinor)
		if err != nil {
			return 0, err
		}
		if sum, err = AddMinor(sum, line); err != nil {
			return 0, err
		}
	}
	return sum, nil
}

// ItemsTotalMinor пересчитывает сумму по позициям.
func (o *Order) ItemsTotalMinor() int64 {
	var sum int64
	for _, item := range o.Items {
		sum += item.LineTotalMinor()
	}
	return sum
}

// ItemCount возвращает количество единиц товара во всех позициях.
func (o *Order) ItemCount() int64 {
	var count int64
	for _, item := range o.Items {
		count += int64(item.Quantity)
	}
	return count
}

// ValidateInvariants проверяет инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusInvalid)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	seen := make(map[string]struct{}, len(o.Items))
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if _, dup := seen[item.ProductID]; dup {
			errs = append(errs, ErrDuplicateLineItem)
		}
		seen[item.ProductID] = struct{}{}
	}

	// Сумма заказа обязана совпадать с Σ qty * price.
	sum, err := o.CheckedItemsTotalMinor()
	switch {
	case errors.Is(err, ErrAmountOverflow):
		errs = append(errs, ErrAmountOverflow)
	case err != nil || sum != o.TotalMinor:
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// ValidateTotals возвращает ErrTotalMismatch, если сумма разошлась с позициями
// или позиции нарушают инварианты. Закрытый заказ обязан быть пустым.
func (o *Order) ValidateTotals() error {
	if errs := o.ValidateInvariants(); len(errs) > 0 {
		return fmt.Errorf("order %s: %w", o.ID, errors.Join(append([]error{ErrTotalMismatch}, errs...)...))
	}
	if o.Status == OrderStatusClosed && (len(o.Items) > 0 || o.TotalMinor != 0) {
		return fmt.Errorf("closed order %s is not empty: %w", o.ID, ErrTotalMismatch)
	}
	return nil
}
