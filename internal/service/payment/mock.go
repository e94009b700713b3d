package payment

import (
	"context"
	"sync"

	"github.com/ttejuosho/akubata/internal/domain"
)

// MockService: симулированный платёжный провайдер.
// По умолчанию подтверждает любой платёж; отказ настраивается по способу оплаты
// или по лимиту суммы.
type MockService struct {
	mu sync.Mutex

	// DeclinedMethods: способы оплаты, по которым провайдер отказывает.
	DeclinedMethods map[domain.PaymentMethod]bool
	// LimitMinor: максимальная сумма платежа; 0 снимает ограничение.
	LimitMinor int64
	// Err: инфраструктурная ошибка, возвращаемая вместо ответа провайдера.
	Err error

	charges []Charge
}

// Charge: запись о попытке списания.
type Charge struct {
	OrderID     string
	AmountMinor int64
	Method      domain.PaymentMethod
	Status      domain.PaymentStatus
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService() *MockService {
	return &MockService{DeclinedMethods: make(map[domain.PaymentMethod]bool)}
}

// Decline настраивает отказ для способа оплаты.
func (m *MockService) Decline(method domain.PaymentMethod) *MockService {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeclinedMethods == nil {
		m.DeclinedMethods = make(map[domain.PaymentMethod]bool)
	}
	m.DeclinedMethods[method] = true
	return m
}

// Charge возвращает paid или failed в зависимости от настроек и запоминает попытку.
func (m *MockService) Charge(ctx context.Context, orderID string, amountMinor int64, method domain.PaymentMethod) (domain.PaymentStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.PaymentStatusFailed, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return domain.PaymentStatusFailed, m.Err
	}

	status := domain.PaymentStatusPaid
	if m.DeclinedMethods[method] || (m.LimitMinor > 0 && amountMinor > m.LimitMinor) {
		status = domain.PaymentStatusFailed
	}
	m.charges = append(m.charges, Charge{OrderID: orderID, AmountMinor: amountMinor, Method: method, Status: status})
	return status, nil
}

// Charges возвращает копию истории списаний.
func (m *MockService) Charges() []Charge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Charge(nil), m.charges...)
}

var _ domain.PaymentService = (*MockService)(nil)
