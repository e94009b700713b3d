package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ttejuosho/akubata/internal/domain"
)

// Topics для Kafka.
const (
	TopicOrderEvents     = "akubata.order.events"
	TopicDeadLetterQueue = "akubata.order.events.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType    = "x-event-type"
	HeaderOutboxID     = "x-outbox-id"
	HeaderReplayedFrom = "x-replayed-from"
)

// Envelope: обёртка outbox-сообщения в топике.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   publishedAt.UTC(),
	}
}

// Key: ключ партиционирования: события одного заказа попадают в одну партицию.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// ErrNotDeadLetter: сообщение не похоже на запись DLQ outbox.
var ErrNotDeadLetter = errors.New("message is not an outbox dead letter")

// DecodeDeadLetter восстанавливает исходный конверт из сообщения DLQ.
// В DLQ лежит конверт, полезная нагрузка которого: domain.OutboxDeadLetter.
func DecodeDeadLetter(value []byte, replayedAt time.Time) (Envelope, error) {
	var outer Envelope
	if err := json.Unmarshal(value, &outer); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrNotDeadLetter, err)
	}
	if len(outer.Payload) == 0 {
		return Envelope{}, ErrNotDeadLetter
	}

	var letter domain.OutboxDeadLetter
	if err := json.Unmarshal(outer.Payload, &letter); err != nil {
		return Envelope{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(letter.Payload) == 0 {
		return Envelope{}, fmt.Errorf("dead letter %s has no original payload: %w", outer.ID, ErrNotDeadLetter)
	}

	return Envelope{
		ID:            firstNonEmpty(letter.OutboxID, outer.ID),
		AggregateType: firstNonEmpty(letter.AggregateType, outer.AggregateType),
		AggregateID:   firstNonEmpty(letter.AggregateID, outer.AggregateID),
		EventType:     firstNonEmpty(letter.EventType, outer.EventType),
		Payload:       letter.Payload,
		PublishedAt:   replayedAt.UTC(),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
