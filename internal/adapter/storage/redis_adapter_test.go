package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisAdapter(client, 10*time.Minute, time.Hour)
}

func TestRedisCart_RoundTrip(t *testing.T) {
	mr, adapter := newTestRedis(t)
	ctx := context.Background()

	_, err := adapter.GetCart(ctx, 42)
	assert.ErrorIs(t, err, port.ErrCacheMiss)

	cart := &domain.Cart{
		ID:         7,
		CustomerID: 42,
		Status:     domain.CartStatusOpen,
		Lines: []domain.CartLine{
			{ID: 1, CartID: 7, ProductID: 3, Qty: 2, UnitPrice: decimal.RequireFromString("19.99")},
		},
	}
	require.NoError(t, adapter.SetCart(ctx, cart, 0))

	ttl := mr.TTL("cart:42")
	assert.GreaterOrEqual(t, ttl, 10*time.Minute)
	assert.LessOrEqual(t, ttl, 12*time.Minute)

	got, err := adapter.GetCart(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	require.Len(t, got.Lines, 1)
	assert.True(t, got.Lines[0].UnitPrice.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, 2, got.Lines[0].Qty)

	require.NoError(t, adapter.InvalidateCart(ctx, 42))
	_, err = adapter.GetCart(ctx, 42)
	assert.ErrorIs(t, err, port.ErrCacheMiss)
}

func TestRedisCart_ExpiresAfterTTL(t *testing.T) {
	mr, adapter := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, adapter.SetCart(ctx, &domain.Cart{ID: 1, CustomerID: 5}, 0))
	mr.FastForward(13 * time.Minute)

	_, err := adapter.GetCart(ctx, 5)
	assert.ErrorIs(t, err, port.ErrCacheMiss)
}

func TestRedisCart_StaleVersionNotWritten(t *testing.T) {
	mr, adapter := newTestRedis(t)
	ctx := context.Background()

	version, err := adapter.CartVersion(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)

	// a mutation commits after the view was read
	require.NoError(t, adapter.InvalidateCart(ctx, 42))

	require.NoError(t, adapter.SetCart(ctx, &domain.Cart{ID: 7, CustomerID: 42}, version))
	assert.False(t, mr.Exists("cart:42"))

	current, err := adapter.CartVersion(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
	assert.Greater(t, mr.TTL("cart_version:42"), 10*time.Minute)

	require.NoError(t, adapter.SetCart(ctx, &domain.Cart{ID: 7, CustomerID: 42}, current))
	assert.True(t, mr.Exists("cart:42"))
}

func TestRedisCart_CorruptValue(t *testing.T) {
	mr, adapter := newTestRedis(t)
	require.NoError(t, mr.Set("cart:9", "{not json"))

	_, err := adapter.GetCart(context.Background(), 9)
	require.Error(t, err)
	assert.NotErrorIs(t, err, port.ErrCacheMiss)
}

func TestRedisEvents(t *testing.T) {
	mr, adapter := newTestRedis(t)
	ctx := context.Background()

	seen, err := adapter.EventSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, adapter.MarkEventSeen(ctx, "evt_1"))
	require.NoError(t, adapter.MarkEventSeen(ctx, "evt_1"))

	seen, err = adapter.EventSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, time.Hour, mr.TTL("event:evt_1"))

	mr.FastForward(2 * time.Hour)
	seen, err = adapter.EventSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisUnavailable(t *testing.T) {
	mr, adapter := newTestRedis(t)
	mr.Close()

	_, err := adapter.EventSeen(context.Background(), "evt_1")
	assert.Error(t, err)

	_, err = adapter.GetCart(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, port.ErrCacheMiss)
}
