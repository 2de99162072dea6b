package domain_test

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:          "order-1",
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("10.50"),
		TotalItems:  3,
		Items: []domain.OrderItem{
			{ID: "item-1", ProductID: "p1", Price: decimal.RequireFromString("2.50"), Quantity: 1},
			{ID: "item-2", ProductID: "p2", Price: decimal.RequireFromString("4.00"), Quantity: 2},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
				o.TotalAmount = decimal.Zero
				o.TotalItems = 0
			},
			want: domain.ErrItemsRequired,
		},
		{
			name: "negative amount",
			mut: func(o *domain.Order) {
				o.TotalAmount = decimal.NewFromInt(-1)
			},
			want: domain.ErrAmountNegative,
		},
		{
			name: "zero quantity",
			mut: func(o *domain.Order) {
				o.Items[0].Quantity = 0
			},
			want: domain.ErrItemQtyInvalid,
		},
		{
			name: "negative price",
			mut: func(o *domain.Order) {
				o.Items[0].Price = decimal.NewFromInt(-2)
			},
			want: domain.ErrItemPriceInvalid,
		},
		{
			name: "amount mismatch",
			mut: func(o *domain.Order) {
				o.TotalAmount = decimal.NewFromInt(99)
			},
			want: domain.ErrAmountMismatch,
		},
		{
			name: "items mismatch",
			mut: func(o *domain.Order) {
				o.TotalItems = 7
			},
			want: domain.ErrTotalItemsMismatch,
		},
		{
			name: "negative total items",
			mut: func(o *domain.Order) {
				o.TotalItems = -2
			},
			want: domain.ErrTotalItemsOutOfRange,
		},
		{
			name: "quantity above limit",
			mut: func(o *domain.Order) {
				o.Items[0].Quantity = domain.MaxItemQuantity + 1
			},
			want: domain.ErrItemQtyTooLarge,
		},
		{
			name: "wrapped quantity sum",
			mut: func(o *domain.Order) {
				o.Items[0].Quantity = math.MaxInt64
				o.Items[1].Quantity = math.MaxInt64
				o.TotalItems = -2
			},
			want: domain.ErrTotalItemsOutOfRange,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			errs := order.ValidateInvariants()
			require.NotEmpty(t, errs)
			assert.Contains(t, errs, tc.want)
		})
	}
}

func TestCalculateTotals(t *testing.T) {
	products := []domain.Product{
		{ID: "p1", Name: "Widget", Price: decimal.RequireFromString("5.0")},
		{ID: "p2", Name: "Gadget", Price: decimal.RequireFromString("1.25")},
	}

	totals := domain.CalculateTotals([]domain.ItemInput{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 4},
		{ProductID: "p1", Quantity: 1},
	}, products)

	assert.True(t, totals.Amount.Equal(decimal.RequireFromString("20")), "amount %s", totals.Amount)
	assert.Equal(t, 7, totals.Items)
}

func TestCalculateTotals_UnknownProductContributesNothing(t *testing.T) {
	totals := domain.CalculateTotals([]domain.ItemInput{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "ghost", Quantity: 3},
	}, []domain.Product{{ID: "p1", Price: decimal.NewFromInt(5)}})

	assert.True(t, totals.Amount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 5, totals.Items)
}

func TestEnrichNames(t *testing.T) {
	order := makeOrder()
	order.EnrichNames([]domain.Product{{ID: "p1", Name: "Widget"}})

	assert.Equal(t, "Widget", order.Items[0].Name)
	assert.Empty(t, order.Items[1].Name)
}

func TestProductIDs_Unique(t *testing.T) {
	order := makeOrder()
	order.Items = append(order.Items, domain.OrderItem{ProductID: "p1", Quantity: 1})

	assert.Equal(t, []string{"p1", "p2"}, order.ProductIDs())
}

func TestMissingProductIDs(t *testing.T) {
	missing := domain.MissingProductIDs(
		[]string{"p1", "p2", "p2", "p3"},
		[]domain.Product{{ID: "p2"}},
	)
	assert.Equal(t, []string{"p1", "p3"}, missing)
}

func TestParseOrderStatus(t *testing.T) {
	status, err := domain.ParseOrderStatus("PAID")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, status)

	_, err = domain.ParseOrderStatus("paid")
	assert.ErrorIs(t, err, domain.ErrUnknownStatus)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.OrderStatus
		want     bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusCancelled, true},
		{domain.OrderStatusPending, domain.OrderStatusPaid, false},
		{domain.OrderStatusPending, domain.OrderStatusDelivered, false},
		{domain.OrderStatusPaid, domain.OrderStatusDelivered, true},
		{domain.OrderStatusPaid, domain.OrderStatusCancelled, true},
		{domain.OrderStatusPaid, domain.OrderStatusPending, false},
		{domain.OrderStatusCancelled, domain.OrderStatusPending, false},
		{domain.OrderStatusDelivered, domain.OrderStatusCancelled, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, domain.CanTransition(tc.from, tc.to))
		})
	}
}

func TestNewOrderPage_LastPage(t *testing.T) {
	page := domain.NewOrderPage(nil, 25, domain.ListFilter{Page: 2, Limit: 10})
	assert.Equal(t, 3, page.LastPage)
	assert.Equal(t, 25, page.Total)
	assert.Equal(t, 2, page.Page)

	empty := domain.NewOrderPage(nil, 0, domain.ListFilter{Page: 1, Limit: 10})
	assert.Equal(t, 0, empty.LastPage)
}

func TestListFilterOffset(t *testing.T) {
	assert.Equal(t, 10, domain.ListFilter{Page: 2, Limit: 10}.Offset())
	assert.Equal(t, 0, domain.ListFilter{Page: 1, Limit: 50}.Offset())
}
