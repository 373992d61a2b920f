package handler

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const (
	ordersServiceName = "storefront.v1.Orders"

	metadataCustomerID   = "customer-id"
	metadataCustomerRole = "customer-role"
)

// JSONCodec carries gRPC messages as JSON under the "json" content subtype.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

type CreateOrderRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

type OrderReply struct {
	Order   orderResponse `json:"order"`
	Created bool          `json:"created"`
}

type GetOrderRequest struct {
	OrderID int64 `json:"order_id"`
}

type CreatePaymentIntentRequest struct {
	OrderID int64 `json:"order_id"`
}

type PaymentIntentReply struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
}

type RefundRequest struct {
	OrderID int64  `json:"order_id"`
	Amount  string `json:"amount,omitempty"`
}

type RefundReply struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// OrdersServer is the storefront.v1.Orders service.
type OrdersServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*OrderReply, error)
	GetOrder(context.Context, *GetOrderRequest) (*OrderReply, error)
	CreatePaymentIntent(context.Context, *CreatePaymentIntentRequest) (*PaymentIntentReply, error)
	Refund(context.Context, *RefundRequest) (*RefundReply, error)
}

var OrdersServiceDesc = grpc.ServiceDesc{
	ServiceName: ordersServiceName,
	HandlerType: (*OrdersServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: unaryHandler("CreateOrder", OrdersServer.CreateOrder)},
		{MethodName: "GetOrder", Handler: unaryHandler("GetOrder", OrdersServer.GetOrder)},
		{MethodName: "CreatePaymentIntent", Handler: unaryHandler("CreatePaymentIntent", OrdersServer.CreatePaymentIntent)},
		{MethodName: "Refund", Handler: unaryHandler("Refund", OrdersServer.Refund)},
	},
	Streams: []grpc.StreamDesc{},
}

func unaryHandler[Req, Resp any](method string, call func(OrdersServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + ordersServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrdersServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrdersServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type GRPCHandler struct {
	orders   *service.OrderService
	payments *service.PaymentService
	refunds  *service.RefundService
}

func NewGRPCHandler(orders *service.OrderService, payments *service.PaymentService, refunds *service.RefundService) *GRPCHandler {
	return &GRPCHandler{orders: orders, payments: payments, refunds: refunds}
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderReply, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}

	order, created, err := h.orders.CreateOrder(ctx, actor.CustomerID, req.IdempotencyKey)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderReply{Order: toOrder(order), Created: created}, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderReply, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}

	order, err := h.orders.GetOrder(ctx, actor, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderReply{Order: toOrder(order)}, nil
}

func (h *GRPCHandler) CreatePaymentIntent(ctx context.Context, req *CreatePaymentIntentRequest) (*PaymentIntentReply, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}

	intent, err := h.payments.GetOrCreateIntent(ctx, actor, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PaymentIntentReply{PaymentIntentID: intent.HandleID, ClientSecret: intent.ClientSecret}, nil
}

func (h *GRPCHandler) Refund(ctx context.Context, req *RefundRequest) (*RefundReply, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}

	var amount *decimal.Decimal
	if req.Amount != "" {
		d, err := decimal.NewFromString(req.Amount)
		if err != nil {
			return nil, toStatus(domain.ErrInvalidAmount)
		}
		amount = &d
	}

	refund, err := h.refunds.Refund(ctx, actor, req.OrderID, amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RefundReply{RefundID: refund.ID, Status: refund.Status}, nil
}

func actorFromMetadata(ctx context.Context) (domain.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	ids := md.Get(metadataCustomerID)
	if len(ids) == 0 {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "missing "+metadataCustomerID)
	}
	id, err := strconv.ParseInt(ids[0], 10, 64)
	if err != nil || id <= 0 {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "invalid "+metadataCustomerID)
	}

	roles := md.Get(metadataCustomerRole)
	return domain.Actor{CustomerID: id, Admin: len(roles) > 0 && roles[0] == roleAdmin}, nil
}

func toStatus(err error) error {
	var code codes.Code
	switch domain.KindOf(err) {
	case domain.KindValidation:
		code = codes.InvalidArgument
	case domain.KindNotFound:
		code = codes.NotFound
	case domain.KindForbidden:
		code = codes.PermissionDenied
	case domain.KindConflict:
		code = codes.FailedPrecondition
	case domain.KindProvider:
		code = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}
