package payment

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// MockGateway — конфигурируемая заглушка PaymentGateway для тестов.
type MockGateway struct {
	mu sync.Mutex

	Session domain.PaymentSession
	Err     error

	Requests []domain.PaymentSessionRequest
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Session: domain.PaymentSession(`{"url":"https://checkout.example/session","cancelUrl":"https://checkout.example/cancel"}`),
	}
}

// CreateSession возвращает заранее настроенный результат и запоминает запрос.
func (m *MockGateway) CreateSession(_ context.Context, req domain.PaymentSessionRequest) (domain.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Session, nil
}

// Calls возвращает число вызовов CreateSession.
func (m *MockGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
