package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/pkg/logging"
	"github.com/rl1809/storefront/internal/port"
)

type CartService struct {
	store port.Store
	cache port.CacheRepository
}

func NewCartService(store port.Store, cache port.CacheRepository) *CartService {
	return &CartService{store: store, cache: cache}
}

// GetOrCreateOpenCart returns the customer's open cart, creating it if needed.
func (s *CartService) GetOrCreateOpenCart(ctx context.Context, customerID int64) (*domain.Cart, error) {
	var cart *domain.Cart
	err := s.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		c, err := lockOrCreateCart(ctx, tx, customerID)
		cart = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// GetCart returns the open cart with its lines, served from cache when possible.
func (s *CartService) GetCart(ctx context.Context, customerID int64) (*domain.Cart, error) {
	cart, err := s.cache.GetCart(ctx, customerID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, port.ErrCacheMiss) {
		logging.FromContext(ctx).Warn("cart cache read failed", zap.Int64("customer_id", customerID), zap.Error(err))
	}

	// read the version before the store so a concurrent invalidation rejects the fill
	version, verr := s.cache.CartVersion(ctx, customerID)
	if verr != nil {
		logging.FromContext(ctx).Warn("cart cache version read failed", zap.Int64("customer_id", customerID), zap.Error(verr))
	}

	cart, err = s.store.OpenCart(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart == nil {
		if cart, err = s.GetOrCreateOpenCart(ctx, customerID); err != nil {
			return nil, err
		}
	}

	if verr == nil {
		if err := s.cache.SetCart(ctx, cart, version); err != nil {
			logging.FromContext(ctx).Warn("cart cache write failed", zap.Int64("customer_id", customerID), zap.Error(err))
		}
	}
	return cart, nil
}

// AddOrMergeLine adds qty of a product, merging into an existing line and
// refreshing its price snapshot.
func (s *CartService) AddOrMergeLine(ctx context.Context, customerID, productID int64, qty int) (*domain.CartLine, error) {
	var line domain.CartLine
	err := s.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		cart, err := lockOrCreateCart(ctx, tx, customerID)
		if err != nil {
			return err
		}

		p, err := getProduct(ctx, tx, productID)
		if err != nil {
			return err
		}

		existing, merge := cart.LineForProduct(productID)
		newQty := qty
		if merge {
			newQty += existing.Qty
		}
		if err := domain.CheckPurchasable(p, newQty); err != nil {
			return &domain.ProductError{ProductID: productID, Err: err}
		}

		if merge {
			if err := tx.UpdateCartLine(ctx, existing.ID, newQty, p.Price); err != nil {
				return err
			}
			existing.Qty = newQty
			existing.UnitPrice = p.Price
			line = existing
			return nil
		}

		line = domain.CartLine{CartID: cart.ID, ProductID: productID, Qty: newQty, UnitPrice: p.Price}
		return tx.InsertCartLine(ctx, &line)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, customerID)
	return &line, nil
}

// SetLineQuantity sets a line's quantity. qty <= 0 deletes the line and returns nil.
func (s *CartService) SetLineQuantity(ctx context.Context, customerID, lineID int64, qty int) (*domain.CartLine, error) {
	var line *domain.CartLine
	err := s.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		cart, err := tx.LockOpenCart(ctx, customerID)
		if err != nil {
			return err
		}
		if cart == nil {
			return domain.ErrCartLineNotFound
		}
		existing, ok := cart.Line(lineID)
		if !ok {
			return domain.ErrCartLineNotFound
		}

		if qty <= 0 {
			_, err := tx.DeleteCartLine(ctx, cart.ID, lineID)
			return err
		}

		p, err := getProduct(ctx, tx, existing.ProductID)
		if err != nil {
			return err
		}
		if err := domain.CheckPurchasable(p, qty); err != nil {
			return &domain.ProductError{ProductID: p.ID, Err: err}
		}
		if err := tx.UpdateCartLine(ctx, lineID, qty, p.Price); err != nil {
			return err
		}

		existing.Qty = qty
		existing.UnitPrice = p.Price
		line = &existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, customerID)
	return line, nil
}

// RemoveLine deletes a line. Removing an absent line is not an error; the
// result reports whether anything was deleted.
func (s *CartService) RemoveLine(ctx context.Context, customerID, lineID int64) (bool, error) {
	var removed bool
	err := s.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		cart, err := tx.LockOpenCart(ctx, customerID)
		if err != nil || cart == nil {
			return err
		}
		removed, err = tx.DeleteCartLine(ctx, cart.ID, lineID)
		return err
	})
	if err != nil {
		return false, err
	}

	if removed {
		s.invalidate(ctx, customerID)
	}
	return removed, nil
}

func (s *CartService) invalidate(ctx context.Context, customerID int64) {
	if err := s.cache.InvalidateCart(ctx, customerID); err != nil {
		logging.FromContext(ctx).Warn("cart cache invalidate failed", zap.Int64("customer_id", customerID), zap.Error(err))
	}
}

func lockOrCreateCart(ctx context.Context, tx port.Tx, customerID int64) (*domain.Cart, error) {
	cart, err := tx.LockOpenCart(ctx, customerID)
	if err != nil || cart != nil {
		return cart, err
	}

	cart, err = tx.CreateCart(ctx, customerID)
	if errors.Is(err, port.ErrDuplicate) {
		// lost the race to a concurrent request; its cart is committed now
		cart, err = tx.LockOpenCart(ctx, customerID)
		if err == nil && cart == nil {
			err = fmt.Errorf("open cart for customer %d vanished", customerID)
		}
	}
	return cart, err
}

func getProduct(ctx context.Context, tx port.Tx, productID int64) (*domain.Product, error) {
	products, err := tx.GetProducts(ctx, []int64{productID})
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, &domain.ProductError{ProductID: productID, Err: domain.ErrProductNotFound}
	}
	return &products[0], nil
}
