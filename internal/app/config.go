package app

import (
	"fmt"
	"strings"
	"time"
)

// StorageDriver выбирает реализацию хранилища заказов.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска сервиса заказов.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	// Адреса внешних сервисов передаются только через конфигурацию.
	CatalogURL    string
	PaymentURL    string
	Currency      string
	ClientTimeout time.Duration

	RequestTimeout time.Duration

	RedisAddr                   string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	KafkaBrokers       []string
	KafkaGroupID       string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		Currency:       "usd",
		ClientTimeout:  5 * time.Second,
		RequestTimeout: 15 * time.Second,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		KafkaGroupID:       "orders-service",
		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   100 * time.Millisecond,

		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate проверяет обязательные параметры до старта зависимостей.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres dsn is required for storage driver %q", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	if strings.TrimSpace(c.CatalogURL) == "" {
		return fmt.Errorf("catalog url is required")
	}
	if strings.TrimSpace(c.PaymentURL) == "" {
		return fmt.Errorf("payment url is required")
	}
	if c.ClientTimeout <= 0 {
		return fmt.Errorf("client timeout must be positive, got %s", c.ClientTimeout)
	}
	return nil
}

// KafkaEnabled сообщает, настроены ли брокеры Kafka.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// ParseBrokers разбирает список брокеров через запятую, пропуская пустые элементы.
func ParseBrokers(raw string) []string {
	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// withDefaults подставляет значения по умолчанию вместо незаданных длительностей и размеров.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Currency == "" {
		c.Currency = def.Currency
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = def.IdempotencyTTL
	}
	if c.KafkaGroupID == "" {
		c.KafkaGroupID = def.KafkaGroupID
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}
