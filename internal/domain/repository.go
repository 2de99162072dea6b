package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create атомарно сохраняет заказ вместе с позициями и возвращает сохранённую запись.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ с позициями и чеком или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// List возвращает страницу заказов (без позиций), опционально отфильтрованных по статусу.
	List(ctx context.Context, filter ListFilter) (OrderPage, error)
	// UpdateStatus меняет статус; если статус совпадает, запись не изменяется.
	UpdateStatus(ctx context.Context, id string, status OrderStatus) (Order, error)
	// MarkPaid атомарно отмечает заказ оплаченным и сохраняет чек.
	MarkPaid(ctx context.Context, confirmation PaymentConfirmation) (Order, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит ответы на повторяемые запросы создания заказа.
type IdempotencyRepository interface {
	// CreateProcessing резервирует ключ. Если ключ уже есть, возвращает
	// существующую запись вместе с ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch.
	CreateProcessing(ctx context.Context, key, requestHash string, ttl time.Duration) (IdempotencyRecord, error)
	// MarkDone сохраняет итоговый ответ по ключу.
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int, ttl time.Duration) error
	// Release удаляет ключ, чтобы клиент мог повторить запрос после ошибки.
	Release(ctx context.Context, key string) error
}
