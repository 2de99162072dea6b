package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/app"
)

const (
	envHTTPAddr                    = "ORDERS_HTTP_ADDR"
	envGRPCAddr                    = "ORDERS_GRPC_ADDR"
	envMetricsAddr                 = "ORDERS_METRICS_ADDR"
	envStorageDriver               = "ORDERS_STORAGE_DRIVER"
	envPostgresDSN                 = "ORDERS_POSTGRES_DSN"
	envPostgresAutoMigrate         = "ORDERS_POSTGRES_AUTO_MIGRATE"
	envCatalogURL                  = "ORDERS_CATALOG_URL"
	envPaymentURL                  = "ORDERS_PAYMENT_URL"
	envCurrency                    = "ORDERS_CURRENCY"
	envClientTimeout               = "ORDERS_CLIENT_TIMEOUT"
	envRequestTimeout              = "ORDERS_REQUEST_TIMEOUT"
	envRedisAddr                   = "ORDERS_REDIS_ADDR"
	envIdempotencyTTL              = "ORDERS_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "ORDERS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "ORDERS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envKafkaBrokers                = "KAFKA_BROKERS"
	envKafkaGroupID                = "ORDERS_KAFKA_GROUP_ID"
	envOutboxPollInterval          = "ORDERS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "ORDERS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "ORDERS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "ORDERS_OUTBOX_RETRY_DELAY"
	envLogLevel                    = "ORDERS_LOG_LEVEL"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(parseLogLevel(lookup))
}

func parseLogLevel(lookup envLookup) log.Level {
	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return log.InfoLevel
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// readConfigFromEnv накладывает переменные окружения на app.DefaultConfig.
// Некорректные значения не применяются и возвращаются как предупреждения.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}

	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setDuration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	setInt := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}

	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }
	positiveInt := func(v int) bool { return v > 0 }

	setString(envHTTPAddr, &cfg.HTTPAddr)
	setString(envGRPCAddr, &cfg.GRPCAddr)
	setString(envMetricsAddr, &cfg.MetricsAddr)

	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = app.StorageDriver(strings.ToLower(strings.TrimSpace(v)))
	}
	setString(envPostgresDSN, &cfg.PostgresDSN)
	if v, ok := lookup(envPostgresAutoMigrate); ok && strings.TrimSpace(v) != "" {
		parsed, err := parseBool(v)
		if err != nil {
			warn(envPostgresAutoMigrate, v, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}

	setString(envCatalogURL, &cfg.CatalogURL)
	setString(envPaymentURL, &cfg.PaymentURL)
	if v, ok := lookup(envCurrency); ok && strings.TrimSpace(v) != "" {
		cfg.Currency = strings.ToLower(strings.TrimSpace(v))
	}
	setDuration(envClientTimeout, &cfg.ClientTimeout, positiveDuration, "must be > 0")
	setDuration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")

	setString(envRedisAddr, &cfg.RedisAddr)
	setDuration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	setDuration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	setInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")

	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = app.ParseBrokers(v)
	}
	setString(envKafkaGroupID, &cfg.KafkaGroupID)
	setDuration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	setInt(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	setInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	setDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func main() {
	// .env необязателен: в контейнере переменные приходят из окружения.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env")
	}

	setupLogger(os.LookupEnv)
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_enabled":  cfg.KafkaEnabled(),
	}).Info("starting orders service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("orders service exited with error")
	}

	log.Info("orders service stopped")
}
