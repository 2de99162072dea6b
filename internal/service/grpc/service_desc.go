package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName — полное имя gRPC-сервиса заказов.
const ServiceName = "orders.v1.OrderService"

const (
	methodCreateOrder    = "CreateOrder"
	methodGetOrder       = "GetOrder"
	methodListOrders     = "ListOrders"
	methodChangeStatus   = "ChangeStatus"
	methodConfirmPayment = "ConfirmPayment"
	methodGetTimeline    = "GetTimeline"
)

// OrderServiceServer — серверная часть orders.v1.OrderService.
type OrderServiceServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*CreateOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	ChangeStatus(context.Context, *ChangeStatusRequest) (*ChangeStatusResponse, error)
	ConfirmPayment(context.Context, *ConfirmPaymentRequest) (*ConfirmPaymentResponse, error)
	GetTimeline(context.Context, *GetTimelineRequest) (*GetTimelineResponse, error)
}

// OrderServiceDesc описывает сервис для grpc.Server без сгенерированного кода.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodCreateOrder, Handler: unaryHandler(methodCreateOrder, OrderServiceServer.CreateOrder)},
		{MethodName: methodGetOrder, Handler: unaryHandler(methodGetOrder, OrderServiceServer.GetOrder)},
		{MethodName: methodListOrders, Handler: unaryHandler(methodListOrders, OrderServiceServer.ListOrders)},
		{MethodName: methodChangeStatus, Handler: unaryHandler(methodChangeStatus, OrderServiceServer.ChangeStatus)},
		{MethodName: methodConfirmPayment, Handler: unaryHandler(methodConfirmPayment, OrderServiceServer.ConfirmPayment)},
		{MethodName: methodGetTimeline, Handler: unaryHandler(methodGetTimeline, OrderServiceServer.GetTimeline)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orders/v1/orders.proto",
}

// RegisterOrderServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler[Req any, Resp any](
	method string,
	call func(OrderServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// OrderServiceClient — клиент orders.v1.OrderService поверх JSON-кодека.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderServiceClient создаёт клиента для соединения.
func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*CreateOrderResponse, error) {
	out := new(CreateOrderResponse)
	if err := c.invoke(ctx, methodCreateOrder, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	out := new(GetOrderResponse)
	if err := c.invoke(ctx, methodGetOrder, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	out := new(ListOrdersResponse)
	if err := c.invoke(ctx, methodListOrders, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) ChangeStatus(ctx context.Context, in *ChangeStatusRequest, opts ...grpc.CallOption) (*ChangeStatusResponse, error) {
	out := new(ChangeStatusResponse)
	if err := c.invoke(ctx, methodChangeStatus, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) ConfirmPayment(ctx context.Context, in *ConfirmPaymentRequest, opts ...grpc.CallOption) (*ConfirmPaymentResponse, error) {
	out := new(ConfirmPaymentResponse)
	if err := c.invoke(ctx, methodConfirmPayment, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) GetTimeline(ctx context.Context, in *GetTimelineRequest, opts ...grpc.CallOption) (*GetTimelineResponse, error) {
	out := new(GetTimelineResponse)
	if err := c.invoke(ctx, methodGetTimeline, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, fullMethod(method), in, out, opts...)
}
