package domain

import "strings"

// PaymentMethod: способ оплаты, выбранный при оформлении.
type PaymentMethod string

const (
	PaymentMethodCreditCard   PaymentMethod = "credit card"
	PaymentMethodPayPal       PaymentMethod = "paypal"
	PaymentMethodBankTransfer PaymentMethod = "bank transfer"
	PaymentMethodCheck        PaymentMethod = "check"
	PaymentMethodCrypto       PaymentMethod = "cryptocurrency"
	PaymentMethodApplePay     PaymentMethod = "apple pay"
	PaymentMethodGooglePay    PaymentMethod = "google pay"
)

// ParsePaymentMethod нормализует строку и проверяет, что способ оплаты поддерживается.
// Пустая строка означает оплату картой.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	if method == "" {
		return PaymentMethodCreditCard, nil
	}
	switch method {
	case PaymentMethodCreditCard, PaymentMethodPayPal, PaymentMethodBankTransfer,
		PaymentMethodCheck, PaymentMethodCrypto, PaymentMethodApplePay, PaymentMethodGooglePay:
		return method, nil
	default:
		return "", ErrPaymentMethodInvalid
	}
}

// PaymentStatus описывает результат симулированного платежа.
type PaymentStatus string

const (
	// PaymentStatusPaid: оплата подтверждена.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed: провайдер отклонил платёж.
	PaymentStatusFailed PaymentStatus = "failed"
)
