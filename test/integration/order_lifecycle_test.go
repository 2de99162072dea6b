package integration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/orders/internal/service/grpc"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/service/payment"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

// OrderLifecycleTestSuite проходит жизненный цикл заказа через gRPC-слой и обработчик Kafka.
type OrderLifecycleTestSuite struct {
	suite.Suite
	service  *grpcsvc.OrderService
	workflow *orders.Service
	repo     domain.OrderRepository
	outbox   *memory.OutboxRepository
	catalog  *catalog.MockCatalog
	payments *payment.MockGateway
	payEvent kafka.MessageHandler
}

func (suite *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	suite.repo = memory.NewOrderRepository()
	suite.outbox = memory.NewOutboxRepository()
	suite.catalog = catalog.NewMockCatalog(
		domain.Product{ID: "laptop-pro", Name: "Laptop Pro", Price: decimal.RequireFromString("1999.00")},
		domain.Product{ID: "mouse-wireless", Name: "Wireless Mouse", Price: decimal.RequireFromString("49.99")},
	)
	suite.payments = payment.NewMockGateway()

	suite.workflow = orders.NewService(
		suite.repo,
		suite.catalog,
		suite.payments,
		orders.WithTimeline(memory.NewTimelineRepository()),
		orders.WithOutbox(suite.outbox),
		orders.WithLogger(logger),
	)
	suite.service = grpcsvc.NewOrderService(suite.workflow, memory.NewIdempotencyRepository(), logger)
	suite.payEvent = kafka.NewPaymentSucceededHandler(suite.workflow, logger)
}

func (suite *OrderLifecycleTestSuite) TestSuccessfulOrderLifecycle() {
	ctx := context.Background()

	// 1. Создаём заказ
	createResp, err := suite.service.CreateOrder(ctx, &grpcsvc.CreateOrderRequest{
		Items: []grpcsvc.OrderItemInput{
			{ProductID: "laptop-pro", Quantity: 1},
			{ProductID: "mouse-wireless", Quantity: 2},
		},
	})
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), createResp.Order)
	require.Equal(suite.T(), "PENDING", createResp.Order.Status)
	require.True(suite.T(), decimal.RequireFromString("2098.98").Equal(createResp.Order.TotalAmount))
	require.Equal(suite.T(), 3, createResp.Order.TotalItems)
	require.NotEmpty(suite.T(), createResp.PaymentSession)
	require.Equal(suite.T(), 1, suite.payments.Calls())

	orderID := createResp.Order.ID

	// 2. Платёжный сервис сообщает об оплате
	suite.deliverPayment(ctx, orderID, "ch_123")

	getResp, err := suite.service.GetOrder(ctx, &grpcsvc.GetOrderRequest{ID: orderID})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "PAID", getResp.Order.Status)
	require.True(suite.T(), getResp.Order.Paid)
	require.Equal(suite.T(), "ch_123", getResp.Order.StripeChargeID)
	require.Equal(suite.T(), "https://pay.example/receipt/ch_123", getResp.Order.ReceiptURL)
	require.Len(suite.T(), getResp.Order.Items, 2)
	require.Equal(suite.T(), "Laptop Pro", getResp.Order.Items[0].Name)

	// 3. Доставка
	changeResp, err := suite.service.ChangeStatus(ctx, &grpcsvc.ChangeStatusRequest{ID: orderID, Status: "DELIVERED"})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "DELIVERED", changeResp.Order.Status)

	// 4. История и события
	timeline, err := suite.service.GetTimeline(ctx, &grpcsvc.GetTimelineRequest{ID: orderID})
	require.NoError(suite.T(), err)
	types := make([]string, 0, len(timeline.Events))
	for _, event := range timeline.Events {
		types = append(types, event.Type)
	}
	require.Equal(suite.T(), []string{
		orders.TimelineOrderCreated,
		orders.TimelineOrderPaid,
		orders.TimelineOrderStatusChanged,
	}, types)

	pending := suite.outbox.Pending()
	require.Len(suite.T(), pending, 3)
	byType := make(map[string]domain.OutboxMessage, len(pending))
	for _, msg := range pending {
		require.Equal(suite.T(), domain.AggregateOrder, msg.AggregateType)
		require.Equal(suite.T(), orderID, msg.AggregateID)
		byType[msg.EventType] = msg
	}
	require.Contains(suite.T(), byType, domain.EventOrderCreated)
	require.Contains(suite.T(), byType, domain.EventOrderPaid)
	require.Contains(suite.T(), byType, domain.EventOrderStatusChanged)

	var payload orders.OrderEventPayload
	require.NoError(suite.T(), json.Unmarshal(byType[domain.EventOrderStatusChanged].Payload, &payload))
	require.Equal(suite.T(), "DELIVERED", payload.Status)
	require.Equal(suite.T(), "PAID", payload.PreviousStatus)
}

func (suite *OrderLifecycleTestSuite) TestPendingOrderCancellation() {
	ctx := context.Background()
	orderID := suite.createOrder(ctx)

	resp, err := suite.service.ChangeStatus(ctx, &grpcsvc.ChangeStatusRequest{ID: orderID, Status: "CANCELLED"})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "CANCELLED", resp.Order.Status)

	// Отменённый заказ нельзя доставить
	_, err = suite.service.ChangeStatus(ctx, &grpcsvc.ChangeStatusRequest{ID: orderID, Status: "DELIVERED"})
	require.Equal(suite.T(), codes.FailedPrecondition, status.Code(err))

	list, err := suite.service.ListOrders(ctx, &grpcsvc.ListOrdersRequest{Status: "CANCELLED"})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 1, list.Total)
	require.Equal(suite.T(), orderID, list.Orders[0].ID)
}

func (suite *OrderLifecycleTestSuite) TestPaidCannotBeSetManually() {
	ctx := context.Background()
	orderID := suite.createOrder(ctx)

	_, err := suite.service.ChangeStatus(ctx, &grpcsvc.ChangeStatusRequest{ID: orderID, Status: "PAID"})
	require.Equal(suite.T(), codes.FailedPrecondition, status.Code(err))

	order, err := suite.repo.Get(ctx, orderID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPending, order.Status)
	require.False(suite.T(), order.Paid)
}

func (suite *OrderLifecycleTestSuite) TestPaymentSessionFailureKeepsOrder() {
	ctx := context.Background()
	suite.payments.Err = domain.ErrPaymentSessionFailed

	createResp, err := suite.service.CreateOrder(ctx, &grpcsvc.CreateOrderRequest{
		Items: []grpcsvc.OrderItemInput{{ProductID: "mouse-wireless", Quantity: 1}},
	})
	require.NoError(suite.T(), err)
	require.Empty(suite.T(), createResp.PaymentSession)

	order, err := suite.repo.Get(ctx, createResp.Order.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPending, order.Status)
}

func (suite *OrderLifecycleTestSuite) TestUnknownProductRejected() {
	ctx := context.Background()

	_, err := suite.service.CreateOrder(ctx, &grpcsvc.CreateOrderRequest{
		Items: []grpcsvc.OrderItemInput{{ProductID: "missing", Quantity: 1}},
	})
	require.Equal(suite.T(), codes.InvalidArgument, status.Code(err))

	page, err := suite.repo.List(ctx, domain.ListFilter{Page: 1, Limit: 10})
	require.NoError(suite.T(), err)
	require.Zero(suite.T(), page.Total)
	require.Zero(suite.T(), suite.payments.Calls())
}

func (suite *OrderLifecycleTestSuite) TestIdempotentCreateReplaysResponse() {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("idempotency-key", "create-1"))
	req := &grpcsvc.CreateOrderRequest{Items: []grpcsvc.OrderItemInput{{ProductID: "laptop-pro", Quantity: 1}}}

	first, err := suite.service.CreateOrder(ctx, req)
	require.NoError(suite.T(), err)
	second, err := suite.service.CreateOrder(ctx, req)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), first.Order.ID, second.Order.ID)
	require.Equal(suite.T(), 1, suite.catalog.CallCount())

	_, err = suite.service.CreateOrder(ctx, &grpcsvc.CreateOrderRequest{
		Items: []grpcsvc.OrderItemInput{{ProductID: "laptop-pro", Quantity: 2}},
	})
	require.Equal(suite.T(), codes.AlreadyExists, status.Code(err))
}

func (suite *OrderLifecycleTestSuite) TestPaymentEventForUnknownOrderAcked() {
	err := suite.payEvent(context.Background(), paymentMessage(suite.T(), "6f1c2a4e-0000-4000-8000-000000000000", "ch_x"))
	require.NoError(suite.T(), err)
}

// Вспомогательные методы

func (suite *OrderLifecycleTestSuite) createOrder(ctx context.Context) string {
	createResp, err := suite.service.CreateOrder(ctx, &grpcsvc.CreateOrderRequest{
		Items: []grpcsvc.OrderItemInput{{ProductID: "laptop-pro", Quantity: 1}},
	})
	require.NoError(suite.T(), err)
	return createResp.Order.ID
}

func (suite *OrderLifecycleTestSuite) deliverPayment(ctx context.Context, orderID, chargeID string) {
	require.NoError(suite.T(), suite.payEvent(ctx, paymentMessage(suite.T(), orderID, chargeID)))
}

func paymentMessage(t *testing.T, orderID, chargeID string) *sarama.ConsumerMessage {
	t.Helper()

	value, err := json.Marshal(kafka.PaymentSucceededEvent{
		OrderID:         orderID,
		StripePaymentID: chargeID,
		ReceiptURL:      "https://pay.example/receipt/" + chargeID,
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: kafka.TopicPaymentSucceeded, Key: []byte(orderID), Value: value}
}

func TestOrderLifecycle(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
