package domain

import (
	"context"
	"encoding/json"
	"time"
)

// TxManager выполняет функцию в одной транзакции хранилища.
// Ошибка fn откатывает транзакцию, nil фиксирует её.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx: область транзакции: все репозитории привязаны к ней.
type Tx interface {
	Orders() OrderLedger
	Products() ProductStore
	Outbox() OutboxWriter
}

// OrderLedger хранит открытые заказы и их позиции.
// Бизнес-правил не содержит, только гарантии хранилища.
type OrderLedger interface {
	// LockOpenOrder блокирует открытый заказ пользователя. Нет заказа → ErrCartNotFound.
	LockOpenOrder(ctx context.Context, userID string) (Order, error)
	// FindOpenOrder читает открытый заказ без блокировки. Нет заказа → ErrCartNotFound.
	FindOpenOrder(ctx context.Context, userID string) (Order, error)
	// CreateOpenOrder создаёт пустой открытый заказ. Гонка → ErrOpenOrderExists.
	CreateOpenOrder(ctx context.Context, userID string) (Order, error)
	// LockLineItem блокирует позицию заказа по товару. Нет позиции → ErrLineItemNotFound.
	LockLineItem(ctx context.Context, orderID, productID string) (LineItem, error)
	// ListLineItems возвращает позиции заказа по возрастанию product_id.
	ListLineItems(ctx context.Context, orderID string) ([]LineItem, error)
	InsertLineItem(ctx context.Context, item LineItem) (LineItem, error)
	UpdateLineItemQuantity(ctx context.Context, itemID string, quantity int32) error
	DeleteLineItem(ctx context.Context, itemID string) error
	// AdjustTotal атомарно прибавляет delta к сумме заказа и возвращает новую сумму.
	// Отрицательный результат отклоняется с ErrAmountNegative.
	AdjustTotal(ctx context.Context, orderID string, delta int64) (int64, error)
	// SetStatus переводит заказ в новый статус; запрещённый переход → ErrInvalidStatusTransition.
	SetStatus(ctx context.Context, orderID string, to OrderStatus) error
	SetPaymentMethod(ctx context.Context, orderID string, method PaymentMethod) error
	// ListOrdersByUser возвращает заказы пользователя в статусе status, новые первыми, с позициями.
	ListOrdersByUser(ctx context.Context, userID string, status OrderStatus, limit int) ([]Order, error)
	// GetOrder возвращает заказ с позициями. Нет заказа → ErrOrderNotFound.
	GetOrder(ctx context.Context, orderID string) (Order, error)
}

// ProductStore: граница каталога: цена и остаток товара.
type ProductStore interface {
	// LockAndRead блокирует строку товара до конца транзакции. Нет товара → ErrProductNotFound.
	LockAndRead(ctx context.Context, productID string) (Product, error)
	// AdjustStock атомарно меняет остаток на delta и возвращает новый остаток.
	// Уход в минус → ErrInsufficientStock.
	AdjustStock(ctx context.Context, productID string, delta int32) (int32, error)
	// GetMany читает товары без блокировки; отсутствующие id пропускаются.
	GetMany(ctx context.Context, productIDs []string) (map[string]Product, error)
	Create(ctx context.Context, product Product) (Product, error)
	// UpdatePrice меняет цену каталога. Позиции корзин хранят свою цену и не меняются.
	UpdatePrice(ctx context.Context, productID string, priceMinor int64) error
}

// OutboxWriter ставит событие в outbox в рамках текущей транзакции.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// PaymentService описывает взаимодействие с платёжным провайдером.
type PaymentService interface {
	// Charge списывает сумму по заказу выбранным способом оплаты.
	Charge(ctx context.Context, orderID string, amountMinor int64, method PaymentMethod) (PaymentStatus, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository: сторона outbox, которую читает фоновый воркер.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release удаляет ключ в статусе processing, чтобы запрос можно было повторить.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxDeadLetter: тело сообщения в DLQ: исходное событие и причина отказа публикации.
type OutboxDeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
