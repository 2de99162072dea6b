// Package orders реализует сценарии работы с заказами: создание, выдачу,
// смену статуса и подтверждение оплаты.
package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

const (
	// DefaultCurrency используется для платёжной сессии, если валюта не настроена.
	DefaultCurrency = "usd"

	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	// MaxOffset ограничивает (page-1)*limit.
	MaxOffset = math.MaxInt32
)

// Типы событий timeline.
const (
	TimelineOrderCreated       = "OrderCreated"
	TimelineOrderStatusChanged = "OrderStatusChanged"
	TimelineOrderPaid          = "OrderPaid"
)

// Service оркестрирует каталог, хранилище заказов и платёжный сервис.
type Service struct {
	repo     domain.OrderRepository
	catalog  domain.ProductCatalog
	payments domain.PaymentGateway

	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	currency string
}

// Option настраивает Service.
type Option func(*Service)

// WithOutbox включает публикацию событий жизненного цикла через outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) { s.outbox = outbox }
}

// WithTimeline включает запись истории заказа.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(s *Service) { s.timeline = timeline }
}

// WithMetrics задаёт метрики сервиса.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCurrency задаёт валюту платёжных сессий.
func WithCurrency(currency string) Option {
	return func(s *Service) {
		if c := strings.TrimSpace(currency); c != "" {
			s.currency = strings.ToLower(c)
		}
	}
}

// NewService конструирует сервис заказов.
func NewService(
	repo domain.OrderRepository,
	catalog domain.ProductCatalog,
	payments domain.PaymentGateway,
	opts ...Option,
) *Service {
	s := &Service{
		repo:     repo,
		catalog:  catalog,
		payments: payments,
		logger:   log.WithField("component", "order-workflow"),
		currency: DefaultCurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateResult — созданный заказ и платёжная сессия, если её удалось получить.
type CreateResult struct {
	Order          domain.Order
	PaymentSession domain.PaymentSession
}

// CreateOrderWithPayment создаёт заказ и затем платёжную сессию.
// Ошибка платёжного сервиса не отменяет заказ: он остаётся PENDING, сессия пустая.
func (s *Service) CreateOrderWithPayment(ctx context.Context, items []domain.ItemInput) (CreateResult, error) {
	order, err := s.CreateOrder(ctx, items)
	if err != nil {
		return CreateResult{}, err
	}

	session, err := s.CreatePaymentSession(ctx, order)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("payment session not created, order stays pending")
		return CreateResult{Order: order}, nil
	}

	return CreateResult{Order: order, PaymentSession: session}, nil
}

// CreateOrder проверяет товары в каталоге, считает итоги и сохраняет заказ.
func (s *Service) CreateOrder(ctx context.Context, items []domain.ItemInput) (domain.Order, error) {
	if err := validateItems(items); err != nil {
		return domain.Order{}, err
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	ids = domain.UniqueProductIDs(ids)

	products, err := s.findProducts(ctx, ids)
	if err != nil {
		s.logger.WithError(err).WithField("product_ids", ids).Error("catalog lookup failed during order creation")
		s.metrics.RecordOrderCreationFailed()
		return domain.Order{}, domain.ErrOrderCreationFailed
	}
	if len(products) == 0 {
		s.metrics.RecordOrderCreationFailed()
		return domain.Order{}, fmt.Errorf("%w: no products found", domain.ErrInvalidProducts)
	}
	if missing := domain.MissingProductIDs(ids, products); len(missing) > 0 {
		s.metrics.RecordOrderCreationFailed()
		return domain.Order{}, fmt.Errorf("%w: unknown product ids %s", domain.ErrInvalidProducts, strings.Join(missing, ", "))
	}

	order := buildOrder(items, products)
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		s.logger.WithError(errors.Join(errs...)).WithField("order_id", order.ID).Error("computed order violates invariants")
		s.metrics.RecordOrderCreationFailed()
		return domain.Order{}, domain.ErrOrderCreationFailed
	}

	created, err := s.repo.Create(ctx, order)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist order")
		s.metrics.RecordOrderCreationFailed()
		return domain.Order{}, domain.ErrOrderCreationFailed
	}
	created.EnrichNames(products)

	s.metrics.RecordOrderCreated()
	s.appendTimeline(ctx, created.ID, TimelineOrderCreated, string(created.Status))
	s.emitEvent(ctx, domain.EventOrderCreated, created, "")

	s.logger.WithFields(log.Fields{
		"order_id":    created.ID,
		"total_items": created.TotalItems,
		"total":       created.TotalAmount.String(),
	}).Info("order created")

	return created, nil
}

// GetOrder возвращает заказ с названиями товаров из каталога.
func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, _, err := s.getOrder(ctx, id)
	return order, err
}

// ListOrders возвращает страницу заказов без позиций и без обращения к каталогу.
func (s *Service) ListOrders(ctx context.Context, filter domain.ListFilter) (domain.OrderPage, error) {
	filter, err := NormalizeListFilter(filter)
	if err != nil {
		return domain.OrderPage{}, err
	}

	page, err := s.repo.List(ctx, filter)
	if err != nil {
		s.logger.WithError(err).Error("failed to list orders")
		return domain.OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	return page, nil
}

// ChangeStatus переводит заказ в новый статус, если переход разрешён.
// Совпадающий статус возвращается без записи в хранилище.
func (s *Service) ChangeStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	if _, err := domain.ParseOrderStatus(string(status)); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	order, products, err := s.getOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status == status {
		return order, nil
	}
	if !domain.CanTransition(order.Status, status) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatusTransition, order.Status, status)
	}

	updated, err := s.repo.UpdateStatus(ctx, order.ID, status)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.Order{}, err
		}
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to update order status")
		return domain.Order{}, fmt.Errorf("update order status: %w", err)
	}
	updated.EnrichNames(products)

	s.metrics.RecordStatusChange(string(status))
	reason := fmt.Sprintf("%s -> %s", order.Status, status)
	s.appendTimeline(ctx, updated.ID, TimelineOrderStatusChanged, reason)
	s.emitEvent(ctx, domain.EventOrderStatusChanged, updated, string(order.Status))

	return updated, nil
}

// ConfirmPayment отмечает заказ оплаченным и сохраняет чек.
// Повторное подтверждение перезаписывает ссылку на чек и идентификатор платежа.
func (s *Service) ConfirmPayment(ctx context.Context, confirmation domain.PaymentConfirmation) (domain.Order, error) {
	confirmation.OrderID = strings.TrimSpace(confirmation.OrderID)
	confirmation.ChargeID = strings.TrimSpace(confirmation.ChargeID)
	if confirmation.OrderID == "" || confirmation.ChargeID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id and charge id are required", domain.ErrInvalidInput)
	}

	paid, err := s.repo.MarkPaid(ctx, confirmation)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.Order{}, err
		}
		s.logger.WithError(err).WithField("order_id", confirmation.OrderID).Error("failed to mark order paid")
		return domain.Order{}, fmt.Errorf("mark order paid: %w", err)
	}

	s.metrics.RecordOrderPaid()
	s.appendTimeline(ctx, paid.ID, TimelineOrderPaid, confirmation.ChargeID)
	s.emitEvent(ctx, domain.EventOrderPaid, paid, "")

	s.logger.WithFields(log.Fields{
		"order_id":  paid.ID,
		"charge_id": confirmation.ChargeID,
	}).Info("payment confirmed")

	return paid, nil
}

// CreatePaymentSession запрашивает платёжную сессию по позициям заказа.
func (s *Service) CreatePaymentSession(ctx context.Context, order domain.Order) (domain.PaymentSession, error) {
	req := domain.PaymentSessionRequest{
		OrderID:  order.ID,
		Currency: s.currency,
		Items:    make([]domain.PaymentLineItem, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, domain.PaymentLineItem{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
	}

	started := time.Now()
	session, err := s.payments.CreateSession(ctx, req)
	s.metrics.ObservePaymentSession(err, time.Since(started))
	if err != nil {
		if !errors.Is(err, domain.ErrPaymentSessionFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrPaymentSessionFailed, err)
		}
		return nil, err
	}
	return session, nil
}

// GetTimeline возвращает историю заказа в хронологическом порядке.
func (s *Service) GetTimeline(ctx context.Context, id string) ([]domain.TimelineEvent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: order id is required", domain.ErrInvalidInput)
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		if domain.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}

	events, err := s.timeline.List(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	return events, nil
}

// NormalizeListFilter подставляет значения по умолчанию и проверяет границы пагинации.
func NormalizeListFilter(filter domain.ListFilter) (domain.ListFilter, error) {
	if filter.Page == 0 {
		filter.Page = DefaultPage
	}
	if filter.Limit == 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Page < 1 {
		return filter, fmt.Errorf("%w: page must be >= 1", domain.ErrInvalidInput)
	}
	if filter.Limit < 1 || filter.Limit > MaxLimit {
		return filter, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidInput, MaxLimit)
	}
	if filter.Page-1 > MaxOffset/filter.Limit {
		return filter, fmt.Errorf("%w: page is too large", domain.ErrInvalidInput)
	}
	if filter.Status != nil {
		if _, err := domain.ParseOrderStatus(string(*filter.Status)); err != nil {
			return filter, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
	}
	return filter, nil
}

// getOrder загружает заказ и товары каталога для обогащения.
func (s *Service) getOrder(ctx context.Context, id string) (domain.Order, []domain.Product, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Order{}, nil, fmt.Errorf("%w: order id is required", domain.ErrInvalidInput)
	}

	order, err := s.repo.Get(ctx, id)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.Order{}, nil, err
		}
		s.logger.WithError(err).WithField("order_id", id).Error("failed to load order")
		return domain.Order{}, nil, fmt.Errorf("load order: %w", err)
	}

	products, err := s.findProducts(ctx, order.ProductIDs())
	if err != nil {
		s.logger.WithError(err).WithField("order_id", id).Error("catalog lookup failed while loading order")
		if !errors.Is(err, domain.ErrLookupFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrLookupFailed, err)
		}
		return domain.Order{}, nil, err
	}
	order.EnrichNames(products)

	return order, products, nil
}

func (s *Service) findProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	started := time.Now()
	products, err := s.catalog.FindProducts(ctx, ids)
	s.metrics.ObserveCatalogLookup(err, time.Since(started))
	return products, err
}

func validateItems(items []domain.ItemInput) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, domain.ErrItemsRequired)
	}
	var total int64
	for i, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: items[%d]: %v", domain.ErrInvalidInput, i, domain.ErrProductIDRequired)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d]: %v", domain.ErrInvalidInput, i, domain.ErrItemQtyInvalid)
		}
		if item.Quantity > domain.MaxItemQuantity {
			return fmt.Errorf("%w: items[%d]: %v", domain.ErrInvalidInput, i, domain.ErrItemQtyTooLarge)
		}
		total += int64(item.Quantity)
		if total > domain.MaxTotalItems {
			return fmt.Errorf("%w: %v", domain.ErrInvalidInput, domain.ErrTotalItemsOutOfRange)
		}
	}
	return nil
}

// buildOrder собирает новый заказ по ценам каталога; все товары уже проверены.
func buildOrder(items []domain.ItemInput, products []domain.Product) domain.Order {
	byID := domain.IndexProducts(products)
	totals := domain.CalculateTotals(items, products)
	now := time.Now().UTC()

	order := domain.Order{
		ID:          uuid.NewString(),
		TotalAmount: totals.Amount,
		TotalItems:  totals.Items,
		Status:      domain.OrderStatusPending,
		Items:       make([]domain.OrderItem, 0, len(items)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, item := range items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Price:     byID[item.ProductID].Price,
			Quantity:  item.Quantity,
		})
	}
	return order
}
