// Package grpcsvc реализует gRPC API заказов с JSON-кодеком.
package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

// Workflow — сценарии заказов, которые публикует gRPC API.
type Workflow interface {
	CreateOrderWithPayment(ctx context.Context, items []domain.ItemInput) (orders.CreateResult, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListOrders(ctx context.Context, filter domain.ListFilter) (domain.OrderPage, error)
	ChangeStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error)
	ConfirmPayment(ctx context.Context, confirmation domain.PaymentConfirmation) (domain.Order, error)
	GetTimeline(ctx context.Context, id string) ([]domain.TimelineEvent, error)
}

// OrderService реализует gRPC API поверх сервиса заказов.
type OrderService struct {
	workflow Workflow
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
}

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour
)

// NewOrderService конструирует сервис с зависимостями.
// idemRepo может быть nil: тогда повтор CreateOrder не дедуплицируется.
func NewOrderService(workflow Workflow, idemRepo domain.IdempotencyRepository, logger *log.Entry) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "order-grpc")
	}
	return &OrderService{
		workflow: workflow,
		idemRepo: idemRepo,
		logger:   logger,
	}
}

// CreateOrder создаёт заказ и платёжную сессию.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if len(req.Items) == 0 {
		return nil, status.Error(codes.InvalidArgument, "order must contain at least one item")
	}
	for idx, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return nil, status.Errorf(codes.InvalidArgument, "items[%d].productId is required", idx)
		}
		if item.Quantity <= 0 {
			return nil, status.Errorf(codes.InvalidArgument, "items[%d].quantity must be > 0", idx)
		}
	}

	return withIdempotency(s, ctx, req, func(ctx context.Context) (*CreateOrderResponse, error) {
		inputs := make([]domain.ItemInput, 0, len(req.Items))
		for _, item := range req.Items {
			inputs = append(inputs, domain.ItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
		}

		result, err := s.workflow.CreateOrderWithPayment(ctx, inputs)
		if err != nil {
			return nil, s.toStatus(err, methodCreateOrder)
		}
		return &CreateOrderResponse{
			Order:          toWireOrder(result.Order),
			PaymentSession: json.RawMessage(result.PaymentSession),
		}, nil
	})
}

// GetOrder возвращает заказ с названиями товаров.
func (s *OrderService) GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if err := validateOrderID(req.ID, "id"); err != nil {
		return nil, err
	}

	order, err := s.workflow.GetOrder(ctx, req.ID)
	if err != nil {
		return nil, s.toStatus(err, methodGetOrder)
	}
	return &GetOrderResponse{Order: toWireOrder(order)}, nil
}

// ListOrders возвращает страницу заказов.
func (s *OrderService) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	if req == nil {
		req = &ListOrdersRequest{}
	}
	if req.Page < 0 || req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "page and limit must be positive")
	}

	filter := domain.ListFilter{Page: req.Page, Limit: req.Limit}
	if req.Status != "" {
		st, err := domain.ParseOrderStatus(req.Status)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", req.Status)
		}
		filter.Status = &st
	}

	page, err := s.workflow.ListOrders(ctx, filter)
	if err != nil {
		return nil, s.toStatus(err, methodListOrders)
	}

	resp := &ListOrdersResponse{
		Orders:   make([]*Order, 0, len(page.Orders)),
		Total:    page.Total,
		Page:     page.Page,
		LastPage: page.LastPage,
	}
	for _, order := range page.Orders {
		resp.Orders = append(resp.Orders, toWireOrder(order))
	}
	return resp, nil
}

// ChangeStatus меняет статус заказа.
func (s *OrderService) ChangeStatus(ctx context.Context, req *ChangeStatusRequest) (*ChangeStatusResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if err := validateOrderID(req.ID, "id"); err != nil {
		return nil, err
	}
	st, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", req.Status)
	}

	order, err := s.workflow.ChangeStatus(ctx, req.ID, st)
	if err != nil {
		return nil, s.toStatus(err, methodChangeStatus)
	}
	return &ChangeStatusResponse{Order: toWireOrder(order)}, nil
}

// ConfirmPayment отмечает заказ оплаченным.
func (s *OrderService) ConfirmPayment(ctx context.Context, req *ConfirmPaymentRequest) (*ConfirmPaymentResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if err := validateOrderID(req.OrderID, "orderId"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.StripePaymentID) == "" {
		return nil, status.Error(codes.InvalidArgument, "stripePaymentId is required")
	}
	if strings.TrimSpace(req.ReceiptURL) == "" {
		return nil, status.Error(codes.InvalidArgument, "receiptUrl is required")
	}

	order, err := s.workflow.ConfirmPayment(ctx, domain.PaymentConfirmation{
		OrderID:    req.OrderID,
		ChargeID:   req.StripePaymentID,
		ReceiptURL: req.ReceiptURL,
	})
	if err != nil {
		return nil, s.toStatus(err, methodConfirmPayment)
	}
	return &ConfirmPaymentResponse{Order: toWireOrder(order)}, nil
}

// GetTimeline возвращает историю заказа.
func (s *OrderService) GetTimeline(ctx context.Context, req *GetTimelineRequest) (*GetTimelineResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if err := validateOrderID(req.ID, "id"); err != nil {
		return nil, err
	}

	events, err := s.workflow.GetTimeline(ctx, req.ID)
	if err != nil {
		return nil, s.toStatus(err, methodGetTimeline)
	}

	resp := &GetTimelineResponse{Events: make([]*TimelineEvent, 0, len(events))}
	for _, event := range events {
		resp.Events = append(resp.Events, &TimelineEvent{
			Type:     event.Type,
			Reason:   event.Reason,
			UnixTime: event.Occurred.Unix(),
		})
	}
	return resp, nil
}

// toStatus переводит доменную ошибку в gRPC-статус без внутренних подробностей.
func (s *OrderService) toStatus(err error, method string) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidProducts):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrOrderCreationFailed):
		return status.Error(codes.InvalidArgument, domain.ErrOrderCreationFailed.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		return status.Error(codes.NotFound, domain.ErrOrderNotFound.Error())
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrLookupFailed):
		return status.Error(codes.Unavailable, domain.ErrLookupFailed.Error())
	case errors.Is(err, domain.ErrPaymentSessionFailed):
		return status.Error(codes.Unavailable, domain.ErrPaymentSessionFailed.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	default:
		s.logger.WithError(err).WithField("method", method).Error("request failed")
		return status.Error(codes.Internal, "internal error")
	}
}

func validateOrderID(id, field string) error {
	if strings.TrimSpace(id) == "" {
		return status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	if _, err := uuid.Parse(id); err != nil {
		return status.Errorf(codes.InvalidArgument, "%s must be a valid uuid", field)
	}
	return nil
}

// withIdempotency дедуплицирует CreateOrder по metadata idempotency-key.
// Без ключа или без хранилища запрос выполняется как обычно.
func withIdempotency(
	s *OrderService,
	ctx context.Context,
	req *CreateOrderRequest,
	handler func(context.Context) (*CreateOrderResponse, error),
) (*CreateOrderResponse, error) {
	idemKey := readIdempotencyKey(ctx)
	if s.idemRepo == nil || idemKey == "" {
		return handler(ctx)
	}

	reqHash, err := buildIdempotencyRequestHash(fullMethod(methodCreateOrder), req)
	if err != nil {
		s.logger.WithError(err).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.CreateProcessing(ctx, idemKey, reqHash, idempotencyTTL)
	if err != nil {
		return replayIdempotency(s, err, record)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		if err := s.idemRepo.Release(context.WithoutCancel(ctx), idemKey); err != nil {
			s.logger.WithError(err).WithField("idempotency_key", idemKey).Warn("failed to release idempotency key")
		}
		return nil, runErr
	}

	data, err := json.Marshal(resp)
	if err == nil {
		err = s.idemRepo.MarkDone(context.WithoutCancel(ctx), idemKey, data, int(codes.OK), idempotencyTTL)
	}
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", idemKey).Warn("failed to store idempotent success response")
	}
	return resp, nil
}

func replayIdempotency(s *OrderService, createErr error, record domain.IdempotencyRecord) (*CreateOrderResponse, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			if len(record.ResponseBody) == 0 {
				return nil, status.Error(codes.Internal, "idempotency cache is empty")
			}
			resp := &CreateOrderResponse{}
			if err := json.Unmarshal(record.ResponseBody, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
				return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		default:
			return nil, status.Error(codes.Internal, "unknown idempotency record status")
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

func readIdempotencyKey(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

func buildIdempotencyRequestHash(method string, req *CreateOrderRequest) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

var _ OrderServiceServer = (*OrderService)(nil)
