package api_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttejuosho/akubata/internal/domain"
	"github.com/ttejuosho/akubata/internal/service/api"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("lock product: %w", domain.ErrProductNotFound), api.CodeProductNotFound},
		{fmt.Errorf("p-1: %w", domain.ErrInsufficientStock), api.CodeInsufficientStock},
		{domain.ErrCartNotFound, api.CodeCartNotFound},
		{fmt.Errorf("tx: %w", domain.ErrConflict), api.CodeConflict},
		{domain.ErrInvalidQuantity, api.CodeInvalidQuantity},
		{domain.ErrPaymentMethodInvalid, api.CodeInvalidArgument},
		{domain.ErrTotalMismatch, api.CodeInternal},
		{errors.New("connection reset"), api.CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, api.ErrorCode(tt.err), tt.err.Error())
	}
}

func TestNewError_HidesInternalDetails(t *testing.T) {
	body := api.NewError(errors.New("pq: password authentication failed"))
	assert.Equal(t, api.Error{Code: api.CodeInternal, Message: "internal error"}, body)

	body = api.NewError(domain.ErrInsufficientStock)
	assert.Equal(t, api.CodeInsufficientStock, body.Code)
	assert.Equal(t, "insufficient stock", body.Message)
}

func TestNewCart_FormatsAmounts(t *testing.T) {
	cart := api.NewCart(domain.CartView{
		OrderID: "o-1",
		UserID:  "u-1",
		Status:  domain.OrderStatusOpen,
		Items: []domain.CartLine{
			{ProductID: "p-1", ProductName: "Kettle", Quantity: 3, UnitPriceMinor: 1000, LineTotalMinor: 3000},
			{ProductID: "p-2", ProductName: "Mug", Quantity: 1, UnitPriceMinor: 5, LineTotalMinor: 5},
		},
		TotalMinor: 3005,
		ItemCount:  4,
	})

	assert.Equal(t, "30.05", cart.Total)
	require.Len(t, cart.Items, 2)
	assert.Equal(t, "10.00", cart.Items[0].UnitPrice)
	assert.Equal(t, "30.00", cart.Items[0].LineTotal)
	assert.Equal(t, "0.05", cart.Items[1].UnitPrice)
	assert.Equal(t, "open", cart.Status)
}

func TestNewCart_EmptyHasItemsSlice(t *testing.T) {
	cart := api.NewCart(domain.EmptyCart("u-1"))
	assert.NotNil(t, cart.Items)
	assert.Equal(t, "0.00", cart.Total)
}

func TestNewOrderList(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	list := api.NewOrderList([]domain.OrderView{{
		OrderID:       "o-1",
		UserID:        "u-1",
		Status:        domain.OrderStatusCompleted,
		PaymentMethod: domain.PaymentMethodPayPal,
		TotalMinor:    2599,
		CreatedAt:     now,
		UpdatedAt:     now,
	}})

	require.Len(t, list.Orders, 1)
	assert.Equal(t, "25.99", list.Orders[0].Total)
	assert.Equal(t, "paypal", list.Orders[0].PaymentMethod)
	assert.Equal(t, "completed", list.Orders[0].Status)

	assert.NotNil(t, api.NewOrderList(nil).Orders)
}

func TestRepriceRequest_PriceMinor(t *testing.T) {
	price, err := api.RepriceRequest{Price: "7.50"}.PriceMinor()
	require.NoError(t, err)
	assert.Equal(t, int64(750), price)

	_, err = api.RepriceRequest{Price: "-2"}.PriceMinor()
	require.ErrorIs(t, err, domain.ErrItemPriceInvalid)
}

func TestCreateProductRequest_ToDomain(t *testing.T) {
	product, err := api.CreateProductRequest{ID: "p-1", Name: "Kettle", Price: "25.99", Stock: 4}.ToDomain()
	require.NoError(t, err)
	assert.Equal(t, int64(2599), product.UnitPriceMinor)
	assert.Equal(t, int32(4), product.StockQuantity)

	_, err = api.CreateProductRequest{Name: "Kettle", Price: "1.999"}.ToDomain()
	require.Error(t, err)

	_, err = api.CreateProductRequest{Name: "Kettle", Price: "-1"}.ToDomain()
	require.ErrorIs(t, err, domain.ErrItemPriceInvalid)
}
