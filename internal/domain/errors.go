package domain

import "errors"

// Ошибки, которые движок корзины возвращает вызывающему коду.
var (
	// ErrProductNotFound: товар не существует; изменения не применены.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock: запрошенное увеличение превышает остаток; изменения не применены.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCartNotFound: у пользователя нет открытой корзины или товара нет в корзине.
	ErrCartNotFound = errors.New("cart not found")
	// ErrConflict: блокировку не удалось получить за отведённое время; повторите операцию целиком.
	ErrConflict = errors.New("conflict: lock not acquired")
	// ErrInvalidQuantity: количество вне допустимого диапазона.
	ErrInvalidQuantity = errors.New("invalid quantity")
)

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка отсутствующего названия товара.
	ErrProductNameRequired = errors.New("product name is required")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total amount must be non-negative")
	// Ошибка отрицательного остатка.
	ErrStockNegative = errors.New("stock quantity must be non-negative")
	// Ошибка при некорректном количестве в позиции (<= 0).
	ErrItemQtyInvalid = errors.New("line item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("price must be non-negative")
	// Ошибка дублирующейся позиции для одного товара.
	ErrDuplicateLineItem = errors.New("duplicate line item for product")
	// ErrAmountOverflow: сумма позиции или заказа не помещается в int64.
	ErrAmountOverflow = errors.New("amount overflows int64 minor units")
	// ErrTotalMismatch: сумма заказа разошлась с суммой позиций.
	ErrTotalMismatch = errors.New("order total does not match line items sum")
	// ErrOrderStatusInvalid: неизвестный статус заказа.
	ErrOrderStatusInvalid = errors.New("order status is invalid")
	// ErrInvalidStatusTransition: переход статуса запрещён (закрытый заказ не открывается).
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	// ErrOrderNotFound: заказ не найден в истории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOpenOrderExists: у пользователя уже есть открытая корзина (гонка при создании).
	ErrOpenOrderExists = errors.New("open order already exists")
	// ErrProductExists: товар с таким идентификатором уже есть в каталоге.
	ErrProductExists = errors.New("product already exists")
	// ErrLineItemNotFound: позиция не найдена в хранилище.
	ErrLineItemNotFound = errors.New("line item not found")
	// ErrEmptyCart: оформление пустой корзины.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrPaymentMethodInvalid: неподдерживаемый способ оплаты.
	ErrPaymentMethodInvalid = errors.New("payment method is invalid")
	// ErrPaymentDeclined: платёж отклонён провайдером (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsConflict проверяет, является ли ошибка конфликтом блокировок.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
