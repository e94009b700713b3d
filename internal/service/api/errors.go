package api

import (
	"errors"

	"github.com/ttejuosho/akubata/internal/domain"
)

// Машинные коды ошибок в теле ответа.
const (
	CodeProductNotFound       = "product_not_found"
	CodeInsufficientStock     = "insufficient_stock"
	CodeCartNotFound          = "cart_not_found"
	CodeConflict              = "conflict"
	CodeInvalidQuantity       = "invalid_quantity"
	CodeInvalidArgument       = "invalid_argument"
	CodeOrderNotFound         = "order_not_found"
	CodeEmptyCart             = "empty_cart"
	CodePaymentDeclined       = "payment_declined"
	CodeInvalidTransition     = "invalid_status_transition"
	CodeProductExists         = "product_exists"
	CodeIdempotencyMismatch   = "idempotency_key_reused"
	CodeIdempotencyInProgress = "idempotency_in_progress"
	CodeUnauthenticated       = "unauthenticated"
	CodeInternal              = "internal"
)

var errorCodes = []struct {
	target error
	code   string
}{
	{domain.ErrProductNotFound, CodeProductNotFound},
	{domain.ErrInsufficientStock, CodeInsufficientStock},
	{domain.ErrCartNotFound, CodeCartNotFound},
	{domain.ErrConflict, CodeConflict},
	{domain.ErrInvalidQuantity, CodeInvalidQuantity},
	{domain.ErrAmountOverflow, CodeInvalidQuantity},
	{domain.ErrOrderNotFound, CodeOrderNotFound},
	{domain.ErrEmptyCart, CodeEmptyCart},
	{domain.ErrPaymentDeclined, CodePaymentDeclined},
	{domain.ErrInvalidStatusTransition, CodeInvalidTransition},
	{domain.ErrProductExists, CodeProductExists},
	{domain.ErrIdempotencyHashMismatch, CodeIdempotencyMismatch},
	{domain.ErrIdempotencyInProgress, CodeIdempotencyInProgress},
	{domain.ErrUserRequired, CodeInvalidArgument},
	{domain.ErrProductIDRequired, CodeInvalidArgument},
	{domain.ErrProductNameRequired, CodeInvalidArgument},
	{domain.ErrItemPriceInvalid, CodeInvalidArgument},
	{domain.ErrStockNegative, CodeInvalidArgument},
	{domain.ErrPaymentMethodInvalid, CodeInvalidArgument},
}

// ErrorCode классифицирует ошибку движка. Неизвестные ошибки: CodeInternal.
func ErrorCode(err error) string {
	for _, candidate := range errorCodes {
		if errors.Is(err, candidate.target) {
			return candidate.code
		}
	}
	return CodeInternal
}

// NewError собирает тело ошибки. Текст внутренних ошибок наружу не отдаётся.
func NewError(err error) Error {
	code := ErrorCode(err)
	if code == CodeInternal {
		return Error{Code: code, Message: "internal error"}
	}
	return Error{Code: code, Message: err.Error()}
}
