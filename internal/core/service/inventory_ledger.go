package service

import (
	"context"
	"fmt"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// InventoryLedger is the only writer of product stock.
type InventoryLedger struct {
	metrics port.Metrics
}

func NewInventoryLedger(metrics port.Metrics) *InventoryLedger {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	return &InventoryLedger{metrics: metrics}
}

// ReserveAndDecrement takes every requested quantity or none. It locks the
// products in ascending id order and must run inside tx for the locks to hold
// across the check and the write.
func (l *InventoryLedger) ReserveAndDecrement(ctx context.Context, tx port.Tx, reqs []domain.StockRequest) error {
	reqs = domain.NormalizeStockRequests(reqs)
	if len(reqs) == 0 {
		return nil
	}
	for _, r := range reqs {
		if r.Qty <= 0 {
			return &domain.ProductError{ProductID: r.ProductID, Err: domain.ErrInvalidQuantity}
		}
	}

	products, err := tx.LockProducts(ctx, domain.ProductIDs(reqs))
	if err != nil {
		return fmt.Errorf("lock stock: %w", err)
	}
	byID := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	for _, r := range reqs {
		p, ok := byID[r.ProductID]
		if !ok {
			return &domain.ProductError{ProductID: r.ProductID, Err: domain.ErrProductNotFound}
		}
		if p.StockQty < r.Qty {
			return &domain.ProductError{
				ProductID: r.ProductID,
				Requested: r.Qty,
				Available: p.StockQty,
				Err:       domain.ErrInsufficientStock,
			}
		}
	}

	units := 0
	for _, r := range reqs {
		if err := tx.DecrementStock(ctx, r.ProductID, r.Qty); err != nil {
			return err
		}
		units += r.Qty
	}

	l.metrics.StockDecremented(units)
	return nil
}
