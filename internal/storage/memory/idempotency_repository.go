package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

type idempotencyEntry struct {
	record    domain.IdempotencyRecord
	expiresAt time.Time
}

// IdempotencyRepository хранит ключи идемпотентности в памяти процесса.
type IdempotencyRepository struct {
	mu    sync.Mutex
	items map[string]idempotencyEntry
	now   func() time.Time
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
// Просроченный ключ перезаписывается при следующем обращении, а удаляется через DeleteExpired.
func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		items: make(map[string]idempotencyEntry),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) CreateProcessing(_ context.Context, key, requestHash string, ttl time.Duration) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.items[key]; ok && existing.expiresAt.After(now) {
		if existing.record.RequestHash != requestHash {
			return cloneIdempotencyRecord(existing.record), domain.ErrIdempotencyHashMismatch
		}
		return cloneIdempotencyRecord(existing.record), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		CreatedAt:   now,
	}
	r.items[key] = idempotencyEntry{record: cloneIdempotencyRecord(record), expiresAt: now.Add(ttl)}
	return record, nil
}

func (r *IdempotencyRepository) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.items[key]
	if !ok {
		return nil
	}
	entry.record.Status = domain.IdempotencyStatusDone
	entry.record.ResponseBody = append([]byte(nil), responseBody...)
	entry.record.HTTPStatus = httpStatus
	entry.expiresAt = r.now().Add(ttl)
	r.items[key] = entry
	return nil
}

func (r *IdempotencyRepository) Release(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, key)
	return nil
}

// DeleteExpired удаляет до limit ключей, срок жизни которых истёк к моменту before.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for key, entry := range r.items {
		if limit > 0 && deleted >= limit {
			break
		}
		if entry.expiresAt.After(before) {
			continue
		}
		delete(r.items, key)
		deleted++
	}
	return deleted, nil
}

func cloneIdempotencyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
