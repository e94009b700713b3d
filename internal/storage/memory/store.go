package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ttejuosho/akubata/internal/domain"
)

// DefaultLockTimeout: сколько транзакция ждёт доступа к хранилищу до ErrConflict.
const DefaultLockTimeout = 2 * time.Second

// state: снимок всех сущностей хранилища.
type state struct {
	products map[string]domain.Product
	orders   map[string]domain.Order
	// items: orderID → productID → позиция.
	items map[string]map[string]domain.LineItem
}

func newState() *state {
	return &state{
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
		items:    make(map[string]map[string]domain.LineItem),
	}
}

func (s *state) clone() *state {
	dst := &state{
		products: make(map[string]domain.Product, len(s.products)),
		orders:   make(map[string]domain.Order, len(s.orders)),
		items:    make(map[string]map[string]domain.LineItem, len(s.items)),
	}
	for id, p := range s.products {
		dst.products[id] = p
	}
	for id, o := range s.orders {
		dst.orders[id] = o
	}
	for orderID, lines := range s.items {
		copied := make(map[string]domain.LineItem, len(lines))
		for productID, li := range lines {
			copied[productID] = li
		}
		dst.items[orderID] = copied
	}
	return dst
}

// sortedItems возвращает позиции заказа по возрастанию product_id.
func (s *state) sortedItems(orderID string) []domain.LineItem {
	lines := s.items[orderID]
	result := make([]domain.LineItem, 0, len(lines))
	for _, li := range lines {
		result = append(result, li)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	return result
}

// Store: in-memory реализация TxManager для локальной разработки и тестов.
// Транзакции сериализуются целиком: одна транзакция владеет всем хранилищем,
// работает над копией состояния и подменяет его при коммите.
type Store struct {
	sem         chan struct{}
	lockTimeout time.Duration
	current     *state
	outbox      *OutboxRepository
}

// Option настраивает Store.
type Option func(*Store)

// WithLockTimeout задаёт время ожидания доступа к хранилищу.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.lockTimeout = timeout
		}
	}
}

// NewStore создаёт пустое хранилище.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sem:         make(chan struct{}, 1),
		lockTimeout: DefaultLockTimeout,
		current:     newState(),
		outbox:      NewOutboxRepository(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outbox возвращает сторону outbox для фонового воркера.
func (s *Store) Outbox() *OutboxRepository {
	return s.outbox
}

// WithinTx выполняет fn в эксклюзивной транзакции.
// Не дождались доступа за lockTimeout → ErrConflict, fn не вызывается.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case s.sem <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("memory store busy for %s: %w", s.lockTimeout, domain.ErrConflict)
	case <-ctx.Done():
		return fmt.Errorf("wait for memory store: %w: %w", domain.ErrConflict, ctx.Err())
	}
	defer func() { <-s.sem }()

	tx := &memTx{state: s.current.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.current = tx.state
	s.outbox.append(tx.pending)
	return nil
}

// memTx: транзакция над копией состояния.
type memTx struct {
	state   *state
	pending []domain.OutboxMessage
}

func (t *memTx) Orders() domain.OrderLedger    { return orderLedger{tx: t} }
func (t *memTx) Products() domain.ProductStore { return productStore{tx: t} }
func (t *memTx) Outbox() domain.OutboxWriter   { return outboxWriter{tx: t} }

var _ domain.TxManager = (*Store)(nil)
