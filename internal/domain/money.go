package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// moneyScale: количество знаков после запятой для валюты.
const moneyScale = 2

// FormatMinor переводит минимальные единицы в строку с двумя знаками ("35.00").
func FormatMinor(minor int64) string {
	return decimal.New(minor, -moneyScale).StringFixed(moneyScale)
}

// ParseMinor разбирает денежную строку в минимальные единицы.
// Больше двух знаков после запятой не допускается, округления нет.
func ParseMinor(raw string) (int64, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("amount %q: %w", raw, ErrItemPriceInvalid)
	}
	scaled := amount.Shift(moneyScale)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", raw, moneyScale)
	}
	if scaled.GreaterThan(decimal.NewFromInt(maxMinorAmount)) {
		return 0, fmt.Errorf("amount %q is out of range", raw)
	}
	return scaled.IntPart(), nil
}

const maxMinorAmount = int64(1) << 53

// MulMinor считает qty * price без переполнения. Отрицательные аргументы не ожидаются.
func MulMinor(qty int32, price int64) (int64, error) {
	if qty < 0 || price < 0 {
		return 0, fmt.Errorf("multiply %d x %d: %w", qty, price, ErrAmountNegative)
	}
	if qty != 0 && price > math.MaxInt64/int64(qty) {
		return 0, fmt.Errorf("%d x %d: %w", qty, price, ErrAmountOverflow)
	}
	return int64(qty) * price, nil
}

// AddMinor складывает суммы, возвращая ErrAmountOverflow вместо переноса через границу int64.
func AddMinor(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("%d %+d: %w", a, b, ErrAmountOverflow)
	}
	return a + b, nil
}
