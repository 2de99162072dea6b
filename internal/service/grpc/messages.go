package grpcsvc

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// OrderItemInput — позиция запроса на создание заказа.
type OrderItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	Items []OrderItemInput `json:"items"`
}

type CreateOrderResponse struct {
	Order          *Order          `json:"order"`
	PaymentSession json.RawMessage `json:"paymentSession"`
}

type GetOrderRequest struct {
	ID string `json:"id"`
}

type GetOrderResponse struct {
	Order *Order `json:"order"`
}

type ListOrdersRequest struct {
	Status string `json:"status,omitempty"`
	Page   int    `json:"page,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type ListOrdersResponse struct {
	Orders   []*Order `json:"orders"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	LastPage int      `json:"lastPage"`
}

type ChangeStatusRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type ChangeStatusResponse struct {
	Order *Order `json:"order"`
}

type ConfirmPaymentRequest struct {
	OrderID         string `json:"orderId"`
	StripePaymentID string `json:"stripePaymentId"`
	ReceiptURL      string `json:"receiptUrl"`
}

type ConfirmPaymentResponse struct {
	Order *Order `json:"order"`
}

type GetTimelineRequest struct {
	ID string `json:"id"`
}

type GetTimelineResponse struct {
	Events []*TimelineEvent `json:"events"`
}

// Order — заказ в ответах gRPC API.
type Order struct {
	ID             string          `json:"id"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	TotalItems     int             `json:"totalItems"`
	Status         string          `json:"status"`
	Paid           bool            `json:"paid"`
	PaidAt         *time.Time      `json:"paidAt,omitempty"`
	StripeChargeID string          `json:"stripeChargeId,omitempty"`
	ReceiptURL     string          `json:"receiptUrl,omitempty"`
	Items          []*OrderItem    `json:"items,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type TimelineEvent struct {
	Type     string `json:"type"`
	Reason   string `json:"reason,omitempty"`
	UnixTime int64  `json:"unixTime"`
}

func toWireOrder(order domain.Order) *Order {
	items := make([]*OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, &OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
		})
	}

	wire := &Order{
		ID:          order.ID,
		TotalAmount: order.TotalAmount,
		TotalItems:  order.TotalItems,
		Status:      string(order.Status),
		Paid:        order.Paid,
		PaidAt:      order.PaidAt,
		Items:       items,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
	if order.StripeChargeID != nil {
		wire.StripeChargeID = *order.StripeChargeID
	}
	if order.Receipt != nil {
		wire.ReceiptURL = order.Receipt.ReceiptURL
	}
	return wire
}
