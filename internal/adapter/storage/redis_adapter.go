package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	cartKeyPrefix        = "cart:"
	cartVersionKeyPrefix = "cart_version:"
	eventKeyPrefix       = "event:"
)

type RedisAdapter struct {
	client   *redis.Client
	cartTTL  time.Duration
	eventTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, cartTTL, eventTTL time.Duration) *RedisAdapter {
	return &RedisAdapter{client: client, cartTTL: cartTTL, eventTTL: eventTTL}
}

func (r *RedisAdapter) GetCart(ctx context.Context, customerID int64) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cartKey(customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, port.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return &cart, nil
}

func (r *RedisAdapter) CartVersion(ctx context.Context, customerID int64) (int64, error) {
	v, err := r.client.Get(ctx, cartVersionKey(customerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get cart version: %w", err)
	}
	return v, nil
}

// SetCart writes the view only while the version key still reads version.
// WATCH aborts the write if an invalidation lands between the check and EXEC.
func (r *RedisAdapter) SetCart(ctx context.Context, cart *domain.Cart, version int64) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	// jitter spreads expiry of carts cached at the same moment
	ttl := r.cartTTL + time.Duration(rand.Int63n(int64(r.cartTTL)/5+1))
	versionKey := cartVersionKey(cart.CustomerID)

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cartKey(cart.CustomerID), data, ttl)
			return nil
		})
		return err
	}, versionKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}
	return nil
}

func (r *RedisAdapter) InvalidateCart(ctx context.Context, customerID int64) error {
	versionKey := cartVersionKey(customerID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cartKey(customerID))
		pipe.Incr(ctx, versionKey)
		pipe.Expire(ctx, versionKey, r.versionTTL())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate cart: %w", err)
	}
	return nil
}

// versionTTL outlives any cached view so an expired version cannot match a stale read.
func (r *RedisAdapter) versionTTL() time.Duration {
	return 4*r.cartTTL + time.Hour
}

func (r *RedisAdapter) EventSeen(ctx context.Context, eventID string) (bool, error) {
	n, err := r.client.Exists(ctx, eventKeyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists event: %w", err)
	}
	return n > 0, nil
}

func (r *RedisAdapter) MarkEventSeen(ctx context.Context, eventID string) error {
	if err := r.client.SetNX(ctx, eventKeyPrefix+eventID, 1, r.eventTTL).Err(); err != nil {
		return fmt.Errorf("redis mark event: %w", err)
	}
	return nil
}

func cartKey(customerID int64) string {
	return cartKeyPrefix + strconv.FormatInt(customerID, 10)
}

func cartVersionKey(customerID int64) string {
	return cartVersionKeyPrefix + strconv.FormatInt(customerID, 10)
}

// NopCache satisfies port.CacheRepository when Redis is not configured.
type NopCache struct{}

func (NopCache) GetCart(context.Context, int64) (*domain.Cart, error) { return nil, port.ErrCacheMiss }
func (NopCache) CartVersion(context.Context, int64) (int64, error) { return 0, nil }
func (NopCache) SetCart(context.Context, *domain.Cart, int64) error { return nil }
func (NopCache) InvalidateCart(context.Context, int64) error { return nil }
func (NopCache) EventSeen(context.Context, string) (bool, error) { return false, nil }
func (NopCache) MarkEventSeen(context.Context, string) error { return nil }
