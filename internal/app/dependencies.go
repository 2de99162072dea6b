package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/service/catalog"
	"github.com/vladislavdragonenkov/orders/internal/service/payment"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
	"github.com/vladislavdragonenkov/orders/internal/storage/postgres"
	"github.com/vladislavdragonenkov/orders/internal/storage/redis"
)

// Dependencies содержит хранилища и клиентов внешних сервисов.
type Dependencies struct {
	Orders      domain.OrderRepository
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository
	Catalog     domain.ProductCatalog
	Payments    domain.PaymentGateway

	// memoryIdempotency задан, когда ключи хранятся в памяти и их нужно чистить.
	memoryIdempotency *memory.IdempotencyRepository

	closers []func() error
}

// Close освобождает ресурсы в обратном порядке открытия.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// initDependencies открывает хранилища и создаёт клиентов по конфигурации.
// Проверки доступности регистрируются в health handler.
func initDependencies(ctx context.Context, cfg Config, checks *health.Handler, logger *log.Entry) (*Dependencies, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps := &Dependencies{}
	if err := deps.initStorage(ctx, cfg, checks, logger); err != nil {
		_ = deps.Close()
		return nil, err
	}
	deps.initIdempotency(cfg, checks, logger)

	httpClient := &http.Client{Timeout: cfg.ClientTimeout}
	deps.Catalog = catalog.NewClient(cfg.CatalogURL,
		catalog.WithHTTPClient(httpClient),
		catalog.WithLogger(logger.WithField("component", "catalog-client")),
	)
	deps.Payments = payment.NewClient(cfg.PaymentURL,
		payment.WithHTTPClient(httpClient),
		payment.WithLogger(logger.WithField("component", "payment-client")),
	)

	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg Config, checks *health.Handler, logger *log.Entry) error {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		d.Orders = memory.NewOrderRepository()
		d.Outbox = memory.NewOutboxRepository()
		d.Timeline = memory.NewTimelineRepository()
		logger.Info("using in-memory storage")
		return nil

	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("init postgres storage: %w", err)
		}
		d.closers = append(d.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		d.Orders = postgres.NewOrderRepository(store)
		d.Outbox = postgres.NewOutboxRepository(store)
		d.Timeline = postgres.NewTimelineRepository(store)
		checks.RegisterPing("postgres", store.Ping)
		logger.Info("using postgres storage")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// initIdempotency выбирает Redis, если он настроен, иначе память процесса.
// Недоступный Redis не мешает старту: создание заказа работает без защиты от повторов.
func (d *Dependencies) initIdempotency(cfg Config, checks *health.Handler, logger *log.Entry) {
	if cfg.RedisAddr == "" {
		repo := memory.NewIdempotencyRepository()
		d.Idempotency = repo
		d.memoryIdempotency = repo
		return
	}

	client := redis.NewClient(cfg.RedisAddr)
	d.closers = append(d.closers, client.Close)
	d.Idempotency = redis.NewIdempotencyRepository(client)
	checks.RegisterOptionalPing("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	logger.WithField("addr", cfg.RedisAddr).Info("using redis idempotency store")
}
