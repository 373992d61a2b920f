package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

func TestMemoryStore_RollbackDiscardsWrites(t *testing.T) {
	store := NewMemoryStore()
	store.PutProduct(domain.Product{ID: 1, SKU: "A", Price: decimal.NewFromInt(1), StockQty: 5, Active: true})
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		require.NoError(t, tx.DecrementStock(ctx, 1, 3))
		require.NoError(t, tx.InsertProcessedEvent(ctx, domain.ProcessedEvent{EventID: "evt_1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, p.StockQty)
	assert.Zero(t, store.ProcessedEvents())
}

func TestMemoryStore_Uniqueness(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		require.NoError(t, tx.InsertProcessedEvent(ctx, domain.ProcessedEvent{EventID: "evt_1"}))
		assert.ErrorIs(t, tx.InsertProcessedEvent(ctx, domain.ProcessedEvent{EventID: "evt_1"}), port.ErrDuplicate)

		_, err := tx.CreateCart(ctx, 42)
		require.NoError(t, err)
		_, err = tx.CreateCart(ctx, 42)
		assert.ErrorIs(t, err, port.ErrDuplicate)

		first := &domain.Order{PublicID: uuid.New(), CustomerID: 42, IdempotencyKey: "k"}
		require.NoError(t, tx.InsertOrder(ctx, first))
		second := &domain.Order{PublicID: uuid.New(), CustomerID: 42, IdempotencyKey: "k"}
		assert.ErrorIs(t, tx.InsertOrder(ctx, second), port.ErrDuplicate)

		// the same key for another customer is a different request
		other := &domain.Order{PublicID: uuid.New(), CustomerID: 7, IdempotencyKey: "k"}
		assert.NoError(t, tx.InsertOrder(ctx, other))
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_DecrementNeverNegative(t *testing.T) {
	store := NewMemoryStore()
	store.PutProduct(domain.Product{ID: 1, StockQty: 1})

	err := store.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		return tx.DecrementStock(ctx, 1, 2)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestMemoryStore_LockProductsSorted(t *testing.T) {
	store := NewMemoryStore()
	store.PutProduct(domain.Product{ID: 3})
	store.PutProduct(domain.Product{ID: 1})

	err := store.WithTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		products, err := tx.LockProducts(ctx, []int64{3, 2, 1})
		require.NoError(t, err)
		require.Len(t, products, 2)
		assert.Equal(t, int64(1), products[0].ID)
		assert.Equal(t, int64(3), products[1].ID)
		return nil
	})
	require.NoError(t, err)
}
