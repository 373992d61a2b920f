package port

import (
	"context"
	"errors"

	"github.com/rl1809/storefront/internal/core/domain"
)

var ErrCacheMiss = errors.New("cache miss")

type CacheRepository interface {
	// GetCart returns a cached cart view or ErrCacheMiss
	GetCart(ctx context.Context, customerID int64) (*domain.Cart, error)

	// CartVersion returns the customer's cart version, bumped by every InvalidateCart
	CartVersion(ctx context.Context, customerID int64) (int64, error)

	// SetCart caches a cart view read at version. The write is skipped when the
	// version moved since, so a view read before an invalidation never lands
	SetCart(ctx context.Context, cart *domain.Cart, version int64) error

	// InvalidateCart drops the customer's cached cart view and bumps its version
	InvalidateCart(ctx context.Context, customerID int64) error

	// EventSeen reports whether an event id is known to be processed. A false answer is not authoritative
	EventSeen(ctx context.Context, eventID string) (bool, error)

	// MarkEventSeen remembers a committed event id
	MarkEventSeen(ctx context.Context, eventID string) error
}
