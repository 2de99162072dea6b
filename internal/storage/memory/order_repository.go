package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.Order{}, domain.ErrOrderAlreadyExists
	}

	order = cloneOrder(order)
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		// Название товара не хранится, оно приходит из каталога.
		order.Items[i].Name = ""
	}

	r.items[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// List возвращает страницу заказов, отсортированных от новых к старым.
func (r *orderRepositoryInMemory) List(_ context.Context, filter domain.ListFilter) (domain.OrderPage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		matched = append(matched, order)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := filter.Offset()
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}

	page := make([]domain.Order, 0, end-start)
	for _, order := range matched[start:end] {
		// В списке позиции и чек не отдаются.
		order.Items = nil
		order.Receipt = nil
		page = append(page, cloneOrder(order))
	}

	return domain.NewOrderPage(page, total, filter), nil
}

// UpdateStatus меняет статус, не трогая запись при совпадении.
func (r *orderRepositoryInMemory) UpdateStatus(_ context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.Status == status {
		return cloneOrder(order), nil
	}

	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	r.items[id] = order
	return cloneOrder(order), nil
}

// MarkPaid отмечает заказ оплаченным; повторное подтверждение перезаписывает чек.
func (r *orderRepositoryInMemory) MarkPaid(_ context.Context, confirmation domain.PaymentConfirmation) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[confirmation.OrderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	now := time.Now().UTC()
	chargeID := confirmation.ChargeID
	order.Status = domain.OrderStatusPaid
	order.Paid = true
	order.PaidAt = &now
	order.StripeChargeID = &chargeID
	order.UpdatedAt = now

	if order.Receipt == nil {
		order.Receipt = &domain.OrderReceipt{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			CreatedAt: now,
		}
	} else {
		receipt := *order.Receipt
		order.Receipt = &receipt
	}
	order.Receipt.ReceiptURL = confirmation.ReceiptURL
	order.Receipt.UpdatedAt = now

	r.items[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

// cloneOrder копирует заказ, чтобы исключить мутации хранилища извне.
func cloneOrder(order domain.Order) domain.Order {
	if order.Items != nil {
		items := make([]domain.OrderItem, len(order.Items))
		copy(items, order.Items)
		order.Items = items
	}
	if order.Receipt != nil {
		receipt := *order.Receipt
		order.Receipt = &receipt
	}
	if order.PaidAt != nil {
		paidAt := *order.PaidAt
		order.PaidAt = &paidAt
	}
	if order.StripeChargeID != nil {
		chargeID := *order.StripeChargeID
		order.StripeChargeID = &chargeID
	}
	return order
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
