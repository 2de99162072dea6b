package domain

import (
	"context"
	"time"
)

// ProductCatalog описывает обращение к внешнему каталогу товаров.
type ProductCatalog interface {
	// FindProducts возвращает найденные товары; отсутствующие идентификаторы просто не попадают в ответ.
	FindProducts(ctx context.Context, ids []string) ([]Product, error)
}

// PaymentGateway описывает создание платёжной сессии во внешнем сервисе.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req PaymentSessionRequest) (PaymentSession, error)
}

// OutboxPublisher публикует события из outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// Типы событий заказа для outbox и timeline.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderPaid          = "order.paid"

	AggregateOrder = "order"
)
