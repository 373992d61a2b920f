package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/adapter/payment"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	phoneID    int64 = 1
	caseID     int64 = 2
	customerID int64 = 42
)

type fixture struct {
	store      *storage.MemoryStore
	processor  *payment.MemoryProcessor
	metrics    *recordingMetrics
	ledger     *InventoryLedger
	carts      *CartService
	orders     *OrderService
	payments   *PaymentService
	settlement *SettlementService
	refunds    *RefundService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithCache(t, storage.NopCache{})
}

func newFixtureWithCache(t *testing.T, cache port.CacheRepository) *fixture {
	t.Helper()

	store := storage.NewMemoryStore()
	store.PutProduct(domain.Product{
		ID: phoneID, SKU: "IPHN13", Title: "Phone 13",
		Price: decimal.RequireFromString("799.00"), Currency: "USD", StockQty: 25, Active: true,
	})
	store.PutProduct(domain.Product{
		ID: caseID, SKU: "CASE13", Title: "Phone 13 Case",
		Price: decimal.RequireFromString("19.99"), Currency: "USD", StockQty: 100, Active: true,
	})

	processor := payment.NewMemoryProcessor()
	metrics := &recordingMetrics{}
	ledger := NewInventoryLedger(metrics)

	return &fixture{
		store:      store,
		processor:  processor,
		metrics:    metrics,
		ledger:     ledger,
		carts:      NewCartService(store, cache),
		orders:     NewOrderService(store, cache, metrics, false),
		payments:   NewPaymentService(store, processor),
		settlement: NewSettlementService(store, cache, ledger, metrics),
		refunds:    NewRefundService(store, processor),
	}
}

func (f *fixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.StockQty
}

func (f *fixture) setStock(t *testing.T, productID int64, qty int) {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	p.StockQty = qty
	f.store.PutProduct(*p)
}

func (f *fixture) order(t *testing.T, orderID int64) *domain.Order {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

// checkout fills the customer's cart with qty phones and creates the order.
func (f *fixture) checkout(t *testing.T, qty int, key string) *domain.Order {
	t.Helper()
	ctx := context.Background()

	_, err := f.carts.AddOrMergeLine(ctx, customerID, phoneID, qty)
	require.NoError(t, err)

	order, created, err := f.orders.CreateOrder(ctx, customerID, key)
	require.NoError(t, err)
	require.True(t, created)
	return order
}

func successEvent(id string, order *domain.Order, handleID string) domain.PaymentEvent {
	return domain.PaymentEvent{
		ID:       id,
		Type:     domain.EventTypeIntentSucceeded,
		Kind:     domain.EventPaymentSucceeded,
		HandleID: handleID,
		Order:    domain.OrderRef{OrderID: order.ID, PublicID: order.PublicID.String()},
		Amount:   domain.MinorUnits(order.Total),
		Currency: "usd",
	}
}

func failureEvent(id string, order *domain.Order, handleID string) domain.PaymentEvent {
	ev := successEvent(id, order, handleID)
	ev.Type = domain.EventTypeIntentFailed
	ev.Kind = domain.EventPaymentFailed
	return ev
}

type recordingMetrics struct {
	port.NopMetrics

	mu          sync.Mutex
	checkouts   map[string]int
	settlements map[domain.SettlementOutcome]int
	units       int
}

func (m *recordingMetrics) CheckoutCompleted(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkouts == nil {
		m.checkouts = make(map[string]int)
	}
	m.checkouts[outcome]++
}

func (m *recordingMetrics) SettlementHandled(_ domain.EventKind, outcome domain.SettlementOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settlements == nil {
		m.settlements = make(map[domain.SettlementOutcome]int)
	}
	m.settlements[outcome]++
}

func (m *recordingMetrics) StockDecremented(units int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units += units
}
