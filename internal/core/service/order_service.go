package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/pkg/logging"
	"github.com/rl1809/storefront/internal/port"
)

var tracer = otel.Tracer("github.com/rl1809/storefront/internal/core/service")

type OrderService struct {
	store      port.Store
	cache      port.CacheRepository
	metrics    port.Metrics
	requireKey bool
	now        func() time.Time
}

// NewOrderService builds the checkout engine. With requireKey set, checkout
// without an idempotency key is rejected instead of replaying the latest order.
func NewOrderService(store port.Store, cache port.CacheRepository, metrics port.Metrics, requireKey bool) *OrderService {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	return &OrderService{
		store:      store,
		cache:      cache,
		metrics:    metrics,
		requireKey: requireKey,
		now:        time.Now,
	}
}

// CreateOrder converts the customer's open cart into a pending order. The
// boolean result is false when an earlier order was replayed instead.
func (s *OrderService) CreateOrder(ctx context.Context, customerID int64, idempotencyKey string) (*domain.Order, bool, error) {
	ctx, span := tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("customer.id", customerID))

	if idempotencyKey == "" && s.requireKey {
		return nil, false, domain.ErrIdempotencyKeyRequired
	}

	var (
		order   *domain.Order
		created bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		order, created = nil, false

		prior, err := s.replay(ctx, tx, customerID, idempotencyKey)
		if err != nil || prior != nil {
			order = prior
			return err
		}

		cart, err := tx.LockOpenCart(ctx, customerID)
		if err != nil {
			return err
		}
		if cart == nil || len(cart.Lines) == 0 {
			// a concurrent checkout may have converted the cart while we waited for its lock
			if prior, err = s.replay(ctx, tx, customerID, idempotencyKey); err != nil || prior != nil {
				order = prior
				return err
			}
			return domain.ErrEmptyCart
		}

		ids := make([]int64, len(cart.Lines))
		for i, l := range cart.Lines {
			ids[i] = l.ProductID
		}
		products, err := tx.GetProducts(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[int64]*domain.Product, len(products))
		for i := range products {
			byID[products[i].ID] = &products[i]
		}

		o, err := domain.NewOrderFromCart(cart, byID, idempotencyKey, s.now())
		if err != nil {
			return err
		}

		if err := tx.InsertOrder(ctx, o); err != nil {
			if errors.Is(err, port.ErrDuplicate) {
				if prior, err = s.replay(ctx, tx, customerID, idempotencyKey); err == nil && prior != nil {
					order = prior
					return nil
				}
			}
			return err
		}
		if err := tx.ClearCart(ctx, cart.ID); err != nil {
			return err
		}
		if err := tx.SetCartStatus(ctx, cart.ID, domain.CartStatusConverted); err != nil {
			return err
		}

		order, created = o, true
		return nil
	})

	logger := logging.FromContext(ctx).With(zap.Int64("customer_id", customerID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.CheckoutCompleted(domain.CodeOf(err))
		logger.Info("checkout rejected", zap.Error(err))
		return nil, false, err
	}

	span.SetAttributes(attribute.Int64("order.id", order.ID), attribute.Bool("order.created", created))
	if !created {
		s.metrics.CheckoutCompleted("replayed")
		logger.Info("checkout replayed", zap.Int64("order_id", order.ID))
		return order, false, nil
	}

	if err := s.cache.InvalidateCart(ctx, customerID); err != nil {
		logger.Warn("cart cache invalidate failed", zap.Error(err))
	}
	s.metrics.CheckoutCompleted("created")
	logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.String("public_id", order.PublicID.String()),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Int("lines", len(order.Lines)),
	)
	return order, true, nil
}

// replay finds the order an earlier checkout produced for this request.
func (s *OrderService) replay(ctx context.Context, tx port.Tx, customerID int64, key string) (*domain.Order, error) {
	if key != "" {
		return tx.FindOrderByIdempotencyKey(ctx, customerID, key)
	}
	if s.requireKey {
		return nil, nil
	}
	return tx.LatestOrder(ctx, customerID)
}

// GetOrder returns an order visible to actor.
func (s *OrderService) GetOrder(ctx context.Context, actor domain.Actor, orderID int64) (*domain.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	// other customers' orders are reported absent rather than forbidden
	if order == nil || !actor.CanAccess(order) {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListOrders returns the actor's orders newest first; administrators see every order.
func (s *OrderService) ListOrders(ctx context.Context, actor domain.Actor) ([]domain.Order, error) {
	customerID := actor.CustomerID
	if actor.Admin {
		customerID = 0
	}
	orders, err := s.store.ListOrders(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}
