package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttejuosho/akubata/internal/domain"
)

func TestMockService_DefaultPays(t *testing.T) {
	svc := NewMockService()

	status, err := svc.Charge(context.Background(), "order-1", 3500, domain.PaymentMethodCreditCard)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, status)

	charges := svc.Charges()
	require.Len(t, charges, 1)
	assert.Equal(t, Charge{OrderID: "order-1", AmountMinor: 3500, Method: domain.PaymentMethodCreditCard, Status: domain.PaymentStatusPaid}, charges[0])
}

func TestMockService_Declines(t *testing.T) {
	svc := NewMockService().Decline(domain.PaymentMethodCheck)
	svc.LimitMinor = 10_000

	status, err := svc.Charge(context.Background(), "order-1", 100, domain.PaymentMethodCheck)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, status)

	status, err = svc.Charge(context.Background(), "order-2", 10_001, domain.PaymentMethodPayPal)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, status)

	status, err = svc.Charge(context.Background(), "order-3", 10_000, domain.PaymentMethodPayPal)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, status)
}

func TestMockService_Errors(t *testing.T) {
	svc := NewMockService()
	svc.Err = errors.New("provider unavailable")

	_, err := svc.Charge(context.Background(), "order-1", 100, domain.PaymentMethodPayPal)
	require.EqualError(t, err, "provider unavailable")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewMockService().Charge(ctx, "order-1", 100, domain.PaymentMethodPayPal)
	require.ErrorIs(t, err, context.Canceled)
}
