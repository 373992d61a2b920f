package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
)

func TestCreateOrder_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddOrMergeLine(ctx, customerID, phoneID, 2)
	require.NoError(t, err)

	order, created, err := f.orders.CreateOrder(ctx, customerID, "checkout-1")
	require.NoError(t, err)
	assert.True(t, created)

	assert.NotZero(t, order.ID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "USD", order.Currency)
	assert.Equal(t, "1598.00", order.Subtotal.StringFixed(2))
	assert.Equal(t, "0.00", order.Tax.StringFixed(2))
	assert.Equal(t, "0.00", order.Shipping.StringFixed(2))
	assert.Equal(t, "1598.00", order.Total.StringFixed(2))
	require.Len(t, order.Lines, 1)
	assert.Equal(t, "IPHN13", order.Lines[0].SKU)
	assert.Equal(t, 2, order.Lines[0].Qty)

	// checkout never touches stock
	assert.Equal(t, 25, f.stock(t, phoneID))

	cart, err := f.store.OpenCart(ctx, customerID)
	require.NoError(t, err)
	assert.Nil(t, cart, "converted cart must no longer be open")
	assert.Equal(t, 1, f.metrics.checkouts["created"])
}

func TestCreateOrder_ReplaysSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.checkout(t, 1, "key-a")

	again, created, err := f.orders.CreateOrder(ctx, customerID, "key-a")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.PublicID, again.PublicID)

	// a new key against the converted cart has nothing to buy
	_, _, err = f.orders.CreateOrder(ctx, customerID, "key-b")
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestCreateOrder_WithoutKeyReplaysLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.checkout(t, 1, "")

	again, created, err := f.orders.CreateOrder(ctx, customerID, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestCreateOrder_RequireKey(t *testing.T) {
	f := newFixture(t)
	orders := NewOrderService(f.store, storage.NopCache{}, nil, true)

	_, _, err := orders.CreateOrder(context.Background(), customerID, "")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.orders.CreateOrder(context.Background(), customerID, "k")
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Equal(t, "empty_cart", domain.CodeOf(err))
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddOrMergeLine(ctx, customerID, phoneID, 2)
	require.NoError(t, err)
	f.setStock(t, phoneID, 1)

	_, _, err = f.orders.CreateOrder(ctx, customerID, "k")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var pe *domain.ProductError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, phoneID, pe.ProductID)

	cart, err := f.store.OpenCart(ctx, customerID)
	require.NoError(t, err)
	require.NotNil(t, cart)
	assert.Len(t, cart.Lines, 1, "rejected checkout must leave the cart alone")
	assert.Equal(t, 1, f.metrics.checkouts["insufficient_stock"])
}

func TestCreateOrder_InactiveProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddOrMergeLine(ctx, customerID, phoneID, 1)
	require.NoError(t, err)

	p, err := f.store.GetProduct(ctx, phoneID)
	require.NoError(t, err)
	p.Active = false
	f.store.PutProduct(*p)

	_, _, err = f.orders.CreateOrder(ctx, customerID, "k")
	assert.ErrorIs(t, err, domain.ErrInactiveProduct)
}

func TestCreateOrder_MixedCurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.PutProduct(domain.Product{
		ID: 10, SKU: "EU-PLUG", Title: "EU plug",
		Price: decimal.RequireFromString("9.00"), Currency: "EUR", StockQty: 10, Active: true,
	})
	_, err := f.carts.AddOrMergeLine(ctx, customerID, phoneID, 1)
	require.NoError(t, err)
	_, err = f.carts.AddOrMergeLine(ctx, customerID, 10, 1)
	require.NoError(t, err)

	_, _, err = f.orders.CreateOrder(ctx, customerID, "k")
	assert.ErrorIs(t, err, domain.ErrMixedCurrency)
}

func TestCreateOrder_PricesAgainstLiveCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddOrMergeLine(ctx, customerID, caseID, 3)
	require.NoError(t, err)

	p, err := f.store.GetProduct(ctx, caseID)
	require.NoError(t, err)
	p.Price = decimal.RequireFromString("17.50")
	f.store.PutProduct(*p)

	order, _, err := f.orders.CreateOrder(ctx, customerID, "k")
	require.NoError(t, err)
	assert.Equal(t, "52.50", order.Total.StringFixed(2))
}

func TestCreateOrder_SnapshotSurvivesCatalogChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddOrMergeLine(ctx, customerID, phoneID, 2)
	require.NoError(t, err)
	_, err = f.carts.AddOrMergeLine(ctx, customerID, caseID, 1)
	require.NoError(t, err)

	order, _, err := f.orders.CreateOrder(ctx, customerID, "k")
	require.NoError(t, err)

	for _, id := range []int64{phoneID, caseID} {
		p, err := f.store.GetProduct(ctx, id)
		require.NoError(t, err)
		p.Price = p.Price.Mul(decimal.NewFromInt(3))
		p.StockQty = 0
		p.Title = "renamed"
		f.store.PutProduct(*p)
	}

	stored := f.order(t, order.ID)
	fetched, err := f.orders.GetOrder(ctx, domain.Actor{CustomerID: customerID}, order.ID)
	require.NoError(t, err)

	for _, got := range []*domain.Order{stored, fetched} {
		require.Len(t, got.Lines, 2)
		byProduct := map[int64]domain.OrderLine{}
		for _, l := range got.Lines {
			byProduct[l.ProductID] = l
		}

		phone := byProduct[phoneID]
		assert.Equal(t, "799.00", phone.UnitPrice.StringFixed(2))
		assert.Equal(t, 2, phone.Qty)
		assert.Equal(t, "1598.00", phone.LineTotal.StringFixed(2))
		assert.Equal(t, "Phone 13", phone.Title)

		cover := byProduct[caseID]
		assert.Equal(t, "19.99", cover.UnitPrice.StringFixed(2))
		assert.Equal(t, 1, cover.Qty)
		assert.Equal(t, "19.99", cover.LineTotal.StringFixed(2))

		assert.Equal(t, "1617.99", got.Total.StringFixed(2))
	}
}

func TestCreateOrder_ConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.carts.AddOrMergeLine(ctx, customerID, phoneID, 1)
	require.NoError(t, err)

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[int64]int)
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, c, err := f.orders.CreateOrder(ctx, customerID, "same-key")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[order.ID]++
			if c {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
}

func TestGetOrder_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.checkout(t, 1, "k")

	got, err := f.orders.GetOrder(ctx, domain.Actor{CustomerID: customerID}, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = f.orders.GetOrder(ctx, domain.Actor{CustomerID: 7}, order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	got, err = f.orders.GetOrder(ctx, domain.Actor{CustomerID: 7, Admin: true}, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = f.orders.GetOrder(ctx, domain.Actor{CustomerID: customerID}, 9999)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.checkout(t, 1, "k1")
	second := f.checkout(t, 1, "k2")

	_, err := f.carts.AddOrMergeLine(ctx, 77, caseID, 1)
	require.NoError(t, err)
	_, _, err = f.orders.CreateOrder(ctx, 77, "other")
	require.NoError(t, err)

	mine, err := f.orders.ListOrders(ctx, domain.Actor{CustomerID: customerID})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID, "newest first")
	assert.Equal(t, first.ID, mine[1].ID)

	all, err := f.orders.ListOrders(ctx, domain.Actor{CustomerID: 1, Admin: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
