package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttejuosho/akubata/internal/domain"
)

func completedOrderMessage() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-123",
		EventType:     domain.EventTypeOrderCompleted,
		Payload:       []byte(`{"order_id":"order-123","total_minor":2000}`),
	}
}

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var envelope Envelope
		if err := json.Unmarshal(val, &envelope); err != nil {
			return err
		}
		assert.Equal(t, "outbox-1", envelope.ID)
		assert.Equal(t, "order-123", envelope.Key())
		assert.Equal(t, domain.EventTypeOrderCompleted, envelope.EventType)
		assert.JSONEq(t, `{"order_id":"order-123","total_minor":2000}`, string(envelope.Payload))
		return nil
	})

	publisher := NewOutboxPublisher(NewProducerWithSync(mockProducer, nil), "")
	require.NoError(t, publisher.Publish(context.Background(), completedOrderMessage()))
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(NewProducerWithSync(mockProducer, nil), TopicOrderEvents)
	err := publisher.Publish(context.Background(), completedOrderMessage())
	require.ErrorIs(t, err, domain.ErrOutboxPublish)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	require.Error(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}))
}

func TestDecodeDeadLetter(t *testing.T) {
	t.Parallel()

	letter, err := json.Marshal(domain.OutboxDeadLetter{
		OutboxID:      "outbox-1",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-123",
		EventType:     domain.EventTypeOrderCompleted,
		Payload:       json.RawMessage(`{"order_id":"order-123"}`),
		PublishError:  "broker unavailable",
	})
	require.NoError(t, err)

	dlq, err := json.Marshal(NewEnvelope(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-123",
		EventType:     domain.EventTypeOrderCompleted,
		Payload:       letter,
	}, time.Now()))
	require.NoError(t, err)

	replayedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	envelope, err := DecodeDeadLetter(dlq, replayedAt)
	require.NoError(t, err)
	assert.Equal(t, "outbox-1", envelope.ID)
	assert.Equal(t, "order-123", envelope.Key())
	assert.Equal(t, replayedAt, envelope.PublishedAt)
	assert.JSONEq(t, `{"order_id":"order-123"}`, string(envelope.Payload))
}

func TestDecodeDeadLetter_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string][]byte{
		"not json":      []byte(`nope`),
		"no payload":    []byte(`{"id":"x"}`),
		"empty payload": []byte(`{"id":"x","payload":{"outbox_id":"x"}}`),
	}
	for name, value := range tests {
		_, err := DecodeDeadLetter(value, time.Now())
		assert.ErrorIs(t, err, ErrNotDeadLetter, name)
	}
}
