package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

type createOrderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	Items []createOrderItemRequest `json:"items"`
}

type changeStatusRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type paymentSucceededRequest struct {
	OrderID         string `json:"orderId"`
	StripePaymentID string `json:"stripePaymentId"`
	ReceiptURL      string `json:"receiptUrl"`
}

// OrderItemDTO — позиция заказа в ответах HTTP API.
type OrderItemDTO struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	Name      string          `json:"name,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// ReceiptDTO — чек оплаты.
type ReceiptDTO struct {
	ID         string    `json:"id"`
	ReceiptURL string    `json:"receiptUrl"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// OrderDTO — представление заказа в HTTP API.
type OrderDTO struct {
	ID             string          `json:"id"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	TotalItems     int             `json:"totalItems"`
	Status         string          `json:"status"`
	Paid           bool            `json:"paid"`
	PaidAt         *time.Time      `json:"paidAt"`
	StripeChargeID *string         `json:"stripeChargeId"`
	Items          []OrderItemDTO  `json:"items,omitempty"`
	Receipt        *ReceiptDTO     `json:"receipt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// CreateOrderResponse — ответ на создание заказа.
type CreateOrderResponse struct {
	Order          OrderDTO              `json:"order"`
	PaymentSession domain.PaymentSession `json:"paymentSession"`
}

// PageMeta — метаданные пагинации.
type PageMeta struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	LastPage int `json:"lastPage"`
}

// ListOrdersResponse — страница заказов.
type ListOrdersResponse struct {
	Data []OrderDTO `json:"data"`
	Meta PageMeta   `json:"meta"`
}

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func toOrderDTO(order domain.Order) OrderDTO {
	dto := OrderDTO{
		ID:             order.ID,
		TotalAmount:    order.TotalAmount,
		TotalItems:     order.TotalItems,
		Status:         string(order.Status),
		Paid:           order.Paid,
		PaidAt:         order.PaidAt,
		StripeChargeID: order.StripeChargeID,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
	if len(order.Items) > 0 {
		dto.Items = make([]OrderItemDTO, 0, len(order.Items))
		for _, item := range order.Items {
			dto.Items = append(dto.Items, OrderItemDTO{
				ID:        item.ID,
				ProductID: item.ProductID,
				Name:      item.Name,
				Price:     item.Price,
				Quantity:  item.Quantity,
			})
		}
	}
	if order.Receipt != nil {
		dto.Receipt = &ReceiptDTO{
			ID:         order.Receipt.ID,
			ReceiptURL: order.Receipt.ReceiptURL,
			CreatedAt:  order.Receipt.CreatedAt,
			UpdatedAt:  order.Receipt.UpdatedAt,
		}
	}
	return dto
}

func toItemInputs(items []createOrderItemRequest) []domain.ItemInput {
	inputs := make([]domain.ItemInput, 0, len(items))
	for _, item := range items {
		inputs = append(inputs, domain.ItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return inputs
}
