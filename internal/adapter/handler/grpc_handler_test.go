package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func dialOrders(t *testing.T, s *testServer) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&OrdersServiceDesc, s.grpc)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(JSONCodec{}.Name())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func asCustomer(id string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), metadataCustomerID, id)
}

func TestGRPC_OrderFlow(t *testing.T) {
	s := newTestServer(t)
	conn := dialOrders(t, s)

	w := s.do(t, "POST", "/api/cart/items", 42, map[string]any{"product_id": 1, "qty": 2})
	require.Equal(t, 201, w.Code)

	ctx := asCustomer("42")

	var created OrderReply
	err := conn.Invoke(ctx, "/storefront.v1.Orders/CreateOrder", &CreateOrderRequest{IdempotencyKey: "g-1"}, &created)
	require.NoError(t, err)
	assert.True(t, created.Created)
	assert.Equal(t, "1598.00", created.Order.Total)

	var replayed OrderReply
	err = conn.Invoke(ctx, "/storefront.v1.Orders/CreateOrder", &CreateOrderRequest{IdempotencyKey: "g-1"}, &replayed)
	require.NoError(t, err)
	assert.False(t, replayed.Created)
	assert.Equal(t, created.Order.ID, replayed.Order.ID)

	var got OrderReply
	err = conn.Invoke(ctx, "/storefront.v1.Orders/GetOrder", &GetOrderRequest{OrderID: created.Order.ID}, &got)
	require.NoError(t, err)
	assert.Equal(t, "pending", got.Order.Status)

	var intent PaymentIntentReply
	err = conn.Invoke(ctx, "/storefront.v1.Orders/CreatePaymentIntent", &CreatePaymentIntentRequest{OrderID: created.Order.ID}, &intent)
	require.NoError(t, err)
	assert.NotEmpty(t, intent.PaymentIntentID)

	var refund RefundReply
	err = conn.Invoke(ctx, "/storefront.v1.Orders/Refund", &RefundRequest{OrderID: created.Order.ID}, &refund)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestGRPC_Errors(t *testing.T) {
	s := newTestServer(t)
	conn := dialOrders(t, s)

	var reply OrderReply
	err := conn.Invoke(context.Background(), "/storefront.v1.Orders/GetOrder", &GetOrderRequest{OrderID: 1}, &reply)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = conn.Invoke(asCustomer("zero"), "/storefront.v1.Orders/GetOrder", &GetOrderRequest{OrderID: 1}, &reply)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = conn.Invoke(asCustomer("42"), "/storefront.v1.Orders/GetOrder", &GetOrderRequest{OrderID: 999}, &reply)
	assert.Equal(t, codes.NotFound, status.Code(err))

	err = conn.Invoke(asCustomer("42"), "/storefront.v1.Orders/CreateOrder", &CreateOrderRequest{}, &reply)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	var refund RefundReply
	err = conn.Invoke(asCustomer("42"), "/storefront.v1.Orders/Refund", &RefundRequest{OrderID: 1, Amount: "ten"}, &refund)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
