package app

import (
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/ttejuosho/akubata/internal/domain"
	"github.com/ttejuosho/akubata/internal/messaging/kafka"
	"github.com/ttejuosho/akubata/internal/metrics"
	"github.com/ttejuosho/akubata/internal/service/outbox"
)

// initKafkaProducer подключается к брокерам для публикации событий заказов.
// Пустой список брокеров не ошибка: события копятся в outbox до настройки Kafka.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).WithField("brokers", brokerList).
			Warn("kafka unavailable, order events stay pending in outbox")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("order events producer connected")
	return producer, nil
}

// newOutboxRelay собирает воркер, который переносит события заказов из outbox в Kafka.
// Без producer возвращает nil.
func newOutboxRelay(cfg Config, repo domain.OutboxRepository, producer *kafka.Producer, registerer prometheus.Registerer, logger *log.Entry) *outbox.Worker {
	if producer == nil {
		return nil
	}
	return outbox.NewWorker(repo, kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		outbox.WithLogger(logger.WithField("worker", "outbox")),
		outbox.WithMetrics(metrics.NewOutboxMetrics(registerer)),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
}

// closeKafka закрывает producer после остановки relay.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("order events producer closed with error")
		return
	}
	logger.Info("order events producer closed")
}
