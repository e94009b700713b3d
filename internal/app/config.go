package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/currency"

	"github.com/ttejuosho/akubata/internal/messaging/kafka"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	envPrefix = "AKUBATA"
)

// Config описывает настройки запуска. Переменные окружения: AKUBATA_<SPLIT_WORDS>.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR"`
	GRPCAddr    string `envconfig:"GRPC_ADDR"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	StorageDriver       string        `envconfig:"STORAGE_DRIVER"`
	PostgresDSN         string        `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool          `envconfig:"POSTGRES_AUTO_MIGRATE"`
	LockTimeout         time.Duration `envconfig:"LOCK_TIMEOUT"`
	// Currency: валюта цен; суммы хранятся в минимальных единицах с двумя знаками.
	Currency string `envconfig:"CURRENCY"`

	RedisAddr    string        `envconfig:"REDIS_ADDR"`
	CartCacheTTL time.Duration `envconfig:"CART_CACHE_TTL"`

	KafkaBrokers  string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic    string `envconfig:"KAFKA_TOPIC"`
	KafkaDLQTopic string `envconfig:"KAFKA_DLQ_TOPIC"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS"`
	OutboxRetryDelay   time.Duration `envconfig:"OUTBOX_RETRY_DELAY"`
	// OutboxMaxPending: порог backlog, после которого /healthz отдаёт degraded.
	OutboxMaxPending int `envconfig:"OUTBOX_MAX_PENDING"`

	IdempotencyTTL              time.Duration `envconfig:"IDEMPOTENCY_TTL"`
	IdempotencyCleanupInterval  time.Duration `envconfig:"IDEMPOTENCY_CLEANUP_INTERVAL"`
	IdempotencyCleanupBatchSize int           `envconfig:"IDEMPOTENCY_CLEANUP_BATCH_SIZE"`
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		LockTimeout:         5 * time.Second,
		Currency:            "USD",

		CartCacheTTL: 5 * time.Minute,

		KafkaTopic:    kafka.TopicOrderEvents,
		KafkaDLQTopic: kafka.TopicDeadLetterQueue,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfig накладывает переменные окружения на DefaultConfig и проверяет результат.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.KafkaBrokers = strings.Join(splitBrokers(cfg.KafkaBrokers), ",")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("postgres dsn is required for postgres storage driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if err := validateCurrency(c.Currency); err != nil {
		return err
	}

	switch {
	case c.LockTimeout <= 0:
		return errors.New("lock timeout must be > 0")
	case c.OutboxPollInterval <= 0:
		return errors.New("outbox poll interval must be > 0")
	case c.OutboxBatchSize <= 0:
		return errors.New("outbox batch size must be > 0")
	case c.OutboxMaxAttempts <= 0:
		return errors.New("outbox max attempts must be > 0")
	case c.OutboxRetryDelay < 0:
		return errors.New("outbox retry delay must be >= 0")
	case c.OutboxMaxPending <= 0:
		return errors.New("outbox max pending must be > 0")
	case c.IdempotencyTTL <= 0:
		return errors.New("idempotency ttl must be > 0")
	case c.IdempotencyCleanupInterval <= 0:
		return errors.New("idempotency cleanup interval must be > 0")
	case c.IdempotencyCleanupBatchSize <= 0:
		return errors.New("idempotency cleanup batch size must be > 0")
	case c.KafkaTopic != "" && c.KafkaTopic == c.KafkaDLQTopic:
		return errors.New("kafka topic and dlq topic must differ")
	}
	return nil
}

// validateCurrency принимает только ISO-валюты с двумя знаками после запятой:
// в этом масштабе хранятся все денежные суммы.
func validateCurrency(code string) error {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Errorf("invalid currency %q: %w", code, err)
	}
	if scale, _ := currency.Standard.Rounding(unit); scale != 2 {
		return fmt.Errorf("currency %s has %d minor digits, only 2 are supported", unit, scale)
	}
	return nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
