package catalog

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// MockCatalog — конфигурируемая заглушка каталога для тестов и локального запуска.
type MockCatalog struct {
	mu       sync.Mutex
	products map[string]domain.Product

	// Err, если задана, возвращается из каждого вызова.
	Err   error
	Calls [][]string
}

// NewMockCatalog создаёт заглушку с заданным набором товаров.
func NewMockCatalog(products ...domain.Product) *MockCatalog {
	m := &MockCatalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

// Put добавляет или заменяет товар.
func (m *MockCatalog) Put(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// FindProducts возвращает известные товары в порядке запроса.
func (m *MockCatalog) FindProducts(_ context.Context, ids []string) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, append([]string(nil), ids...))
	if m.Err != nil {
		return nil, m.Err
	}

	result := make([]domain.Product, 0, len(ids))
	for _, id := range domain.UniqueProductIDs(ids) {
		if p, ok := m.products[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

// CallCount возвращает число обращений к каталогу.
func (m *MockCatalog) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

var _ domain.ProductCatalog = (*MockCatalog)(nil)
