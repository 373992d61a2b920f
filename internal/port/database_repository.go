package port

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate key")

// Store is the relational store. Writes go through WithTx.
type Store interface {
	// WithTx runs fn in a transaction, committing when fn returns nil and rolling back otherwise
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// OpenCart returns the customer's open cart with lines, or nil when none exists
	OpenCart(ctx context.Context, customerID int64) (*domain.Cart, error)

	// GetOrder returns the order with lines, or nil when absent
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)

	// ListOrders returns orders newest first; customerID 0 lists every customer
	ListOrders(ctx context.Context, customerID int64) ([]domain.Order, error)

	// GetProduct returns a product, or nil when absent
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)
}

// Tx is a unit of work holding pessimistic row locks until it ends.
// Lock methods must be called with ids in ascending order when more than one row of a table is locked.
type Tx interface {
	// LockProducts locks the existing products among ids in ascending id order
	LockProducts(ctx context.Context, ids []int64) ([]domain.Product, error)

	// GetProducts reads products without locking them
	GetProducts(ctx context.Context, ids []int64) ([]domain.Product, error)

	// DecrementStock subtracts qty, failing with domain.ErrInsufficientStock if stock would go negative
	DecrementStock(ctx context.Context, productID int64, qty int) error

	// LockOpenCart locks the customer's open cart and loads its lines, or returns nil
	LockOpenCart(ctx context.Context, customerID int64) (*domain.Cart, error)

	// CreateCart inserts an open cart, returning ErrDuplicate when one already exists
	CreateCart(ctx context.Context, customerID int64) (*domain.Cart, error)

	InsertCartLine(ctx context.Context, line *domain.CartLine) error
	UpdateCartLine(ctx context.Context, lineID int64, qty int, unitPrice decimal.Decimal) error
	DeleteCartLine(ctx context.Context, cartID, lineID int64) (bool, error)
	ClearCart(ctx context.Context, cartID int64) error
	SetCartStatus(ctx context.Context, cartID int64, status domain.CartStatus) error

	// FindOrderByIdempotencyKey returns the order created for (customerID, key), or nil
	FindOrderByIdempotencyKey(ctx context.Context, customerID int64, key string) (*domain.Order, error)

	// LatestOrder returns the customer's most recent order, or nil
	LatestOrder(ctx context.Context, customerID int64) (*domain.Order, error)

	// InsertOrder persists order and its lines, assigning ids. ErrDuplicate on an idempotency key race
	InsertOrder(ctx context.Context, order *domain.Order) error

	// LockOrder locks an order row and loads its lines, or returns nil
	LockOrder(ctx context.Context, orderID int64) (*domain.Order, error)

	// LockOrderByPublicID is LockOrder keyed by the public id
	LockOrderByPublicID(ctx context.Context, publicID string) (*domain.Order, error)

	SetPaymentHandle(ctx context.Context, orderID int64, handleID string) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus, paidAt *time.Time) error

	// InsertProcessedEvent records an event id, returning ErrDuplicate if it was already recorded
	InsertProcessedEvent(ctx context.Context, ev domain.ProcessedEvent) error
}
