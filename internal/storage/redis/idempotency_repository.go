// Package redis хранит ключи идемпотентности создания заказа в Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	// KeyIdemOrderCreate — шаблон ключа для идемпотентного создания заказа.
	KeyIdemOrderCreate = "orders:idem:create:%s"
	// DefaultTTL — время жизни ключа, если вызывающий не задал своё.
	DefaultTTL = 24 * time.Hour

	opTimeout = 2 * time.Second
)

// NewClient создаёт клиента Redis с короткими таймаутами.
func NewClient(addr string) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  opTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})
}

type idempotencyRepository struct {
	rdb goredis.Cmdable
	now func() time.Time
}

// NewIdempotencyRepository создаёт Redis-реализацию IdempotencyRepository.
func NewIdempotencyRepository(rdb goredis.Cmdable) domain.IdempotencyRepository {
	return &idempotencyRepository{
		rdb: rdb,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttl time.Duration) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		CreatedAt:   r.now(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	// Второй круг нужен, если ключ истёк между SETNX и GET.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := r.rdb.SetNX(ctx, redisKey(key), payload, ttl).Result()
		if err != nil {
			return domain.IdempotencyRecord{}, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if created {
			return record, nil
		}

		existing, found, err := r.load(ctx, key)
		if err != nil {
			return domain.IdempotencyRecord{}, err
		}
		if !found {
			continue
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}

	return record, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record, found, err := r.load(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		// Ключ истёк или освобождён, ответ не сохраняем.
		return nil
	}
	record.Status = domain.IdempotencyStatusDone
	record.ResponseBody = responseBody
	record.HTTPStatus = httpStatus

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := r.rdb.SetXX(ctx, redisKey(key), payload, ttl).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("store idempotency response: %w", err)
	}
	return nil
}

func (r *idempotencyRepository) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := r.rdb.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (r *idempotencyRepository) load(ctx context.Context, key string) (domain.IdempotencyRecord, bool, error) {
	raw, err := r.rdb.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.IdempotencyRecord{}, false, nil
		}
		return domain.IdempotencyRecord{}, false, fmt.Errorf("load idempotency record: %w", err)
	}

	var record domain.IdempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return domain.IdempotencyRecord{}, false, fmt.Errorf("decode idempotency record: %w", err)
	}
	return record, true, nil
}

func redisKey(key string) string {
	return fmt.Sprintf(KeyIdemOrderCreate, key)
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
