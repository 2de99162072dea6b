package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Границы количества совпадают с колонками INTEGER в хранилище.
const (
	MaxItemQuantity = math.MaxInt32
	MaxTotalItems   = math.MaxInt32
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid — платёжный сервис подтвердил оплату.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusDelivered — заказ передан покупателю.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderStatuses перечисляет все известные статусы в порядке жизненного цикла.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// ParseOrderStatus проверяет, что строка является известным статусом.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	for _, status := range OrderStatuses {
		if string(status) == raw {
			return status, nil
		}
	}
	return "", ErrUnknownStatus
}

// transitions задаёт допустимые переходы через смену статуса.
// PAID выставляется только подтверждением оплаты, поэтому сюда не входит.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusDelivered, OrderStatusCancelled},
}

// CanTransition сообщает, разрешён ли переход from → to через смену статуса.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID      string
	OrderID string
	// ProductID — идентификатор товара во внешнем каталоге.
	ProductID string
	// Price — снимок цены каталога на момент создания заказа.
	Price    decimal.Decimal
	Quantity int
	// Name заполняется из каталога при выдаче заказа и не хранится.
	Name string
}

// OrderReceipt — подтверждение оплаты, не больше одного на заказ.
type OrderReceipt struct {
	ID         string
	OrderID    string
	ReceiptURL string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID             string
	TotalAmount    decimal.Decimal
	TotalItems     int
	Status         OrderStatus
	Paid           bool
	PaidAt         *time.Time
	StripeChargeID *string
	Items          []OrderItem
	Receipt        *OrderReceipt
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProductIDs возвращает уникальные идентификаторы товаров заказа в порядке позиций.
func (o *Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.ProductID)
	}
	return UniqueProductIDs(ids)
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalAmount.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем итоги заказа с позициями: qty * price.
	amount := decimal.Zero
	var count int64
	overflow := false
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Quantity > MaxItemQuantity {
			errs = append(errs, ErrItemQtyTooLarge)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		amount = amount.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		if item.Quantity > 0 && count > math.MaxInt64-int64(item.Quantity) {
			overflow = true
			continue
		}
		count += int64(item.Quantity)
	}
	if !amount.Equal(o.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}
	if o.TotalItems < 0 || o.TotalItems > MaxTotalItems || overflow || count > MaxTotalItems {
		errs = append(errs, ErrTotalItemsOutOfRange)
	}
	if overflow || count != int64(o.TotalItems) {
		errs = append(errs, ErrTotalItemsMismatch)
	}

	return errs
}

// EnrichNames проставляет позициям названия товаров из каталога.
// Позиции без совпадения остаются без названия.
func (o *Order) EnrichNames(products []Product) {
	byID := IndexProducts(products)
	for i := range o.Items {
		if p, ok := byID[o.Items[i].ProductID]; ok {
			o.Items[i].Name = p.Name
		}
	}
}

// ItemInput — позиция из запроса на создание заказа.
type ItemInput struct {
	ProductID string
	Quantity  int
}

// Totals — вычисленные итоги заказа.
type Totals struct {
	Amount decimal.Decimal
	Items  int
}

// CalculateTotals считает сумму и количество по ценам каталога.
// Позиции без цены в каталоге в сумму не попадают.
func CalculateTotals(items []ItemInput, products []Product) Totals {
	byID := IndexProducts(products)
	totals := Totals{Amount: decimal.Zero}
	for _, item := range items {
		totals.Items += item.Quantity
		if p, ok := byID[item.ProductID]; ok {
			totals.Amount = totals.Amount.Add(p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
	}
	return totals
}

// ListFilter задаёт параметры постраничной выборки заказов.
type ListFilter struct {
	Status *OrderStatus
	Page   int
	Limit  int
}

// Offset возвращает количество пропускаемых записей.
// Границы Page и Limit проверяются до вызова (см. orders.NormalizeListFilter).
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// OrderPage — страница заказов с метаданными пагинации.
type OrderPage struct {
	Orders   []Order
	Total    int
	Page     int
	LastPage int
}

// NewOrderPage собирает страницу и считает LastPage = ceil(total/limit).
func NewOrderPage(orders []Order, total int, filter ListFilter) OrderPage {
	lastPage := 0
	if filter.Limit > 0 {
		lastPage = (total + filter.Limit - 1) / filter.Limit
	}
	return OrderPage{
		Orders:   orders,
		Total:    total,
		Page:     filter.Page,
		LastPage: lastPage,
	}
}

// PaymentConfirmation — данные подтверждения оплаты от платёжного сервиса.
type PaymentConfirmation struct {
	OrderID    string
	ChargeID   string
	ReceiptURL string
}
