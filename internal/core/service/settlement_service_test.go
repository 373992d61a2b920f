package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

func TestSettlement_SuccessDecrementsStockOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.checkout(t, 2, "k")
	intent, err := f.payments.GetOrCreateIntent(ctx, domain.Actor{CustomerID: customerID}, order.ID)
	require.NoError(t, err)

	ev := successEvent("evt_test_1", order, intent.HandleID)

	outcome, err := f.settlement.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	paid := f.order(t, order.ID)
	assert.Equal(t, domain.OrderStatusPaid, paid.Status)
	assert.NotNil(t, paid.PaidAt)
	assert.Equal(t, 23, f.stock(t, phoneID))

	outcome, err = f.settlement.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	assert.Equal(t, 23, f.stock(t, phoneID))
	assert.Equal(t, 1, f.store.ProcessedEvents())
	assert.Equal(t, 2, f.metrics.units)
}

func TestSettlement_SameEventIDDifferentPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.checkout(t, 2, "k")

	outcome, err := f.settlement.Handle(ctx, failureEvent("evt_reused", order, "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	outcome, err = f.settlement.Handle(ctx, successEvent("evt_reused", order, "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)

	assert.Equal(t, domain.OrderStatusFailed, f.order(t, order.ID).Status)
	assert.Equal(t, 25, f.stock(t, phoneID))
}

func TestSettlement_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.checkout(t, 2, "k")
	ev := successEvent("evt_storm", order, "pi_storm")

	const deliveries = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make(map[domain.SettlementOutcome]int)
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.settlement.Handle(ctx, ev)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[domain.OutcomeApplied])
	assert.Equal(t, deliveries-1, outcomes[domain.OutcomeDuplicate])
	assert.Equal(t, 23, f.stock(t, phoneID))
}

func TestSettlement_AdoptsHandleFromEvent(t *testing.T) {
	f := newFixture(t)
	order := f.checkout(t, 1, "k")

	_, err := f.settlement.Handle(context.Background(), successEvent("evt_1", order, "pi_from_event"))
	require.NoError(t, err)
	assert.Equal(t, "pi_from_event", f.order(t, order.ID).PaymentHandleID)
}

func TestSettlement_ResolvesOrderByPublicID(t *testing.T) {
	f := newFixture(t)
	order := f.checkout(t, 1, "k")

	ev := successEvent("evt_1", order, "pi_1")
	ev.Order.OrderID = 0

	outcome, err := f.settlement.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
	assert.Equal(t, domain.OrderStatusPaid, f.order(t, order.ID).Status)
}

func TestSettlement_StockShortfallRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.checkout(t, 2, "k")
	f.setStock(t, phoneID, 1)

	ev := successEvent("evt_short", order, "pi_1")
	_, err := f.settlement.Handle(ctx, ev)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStockConsistency)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, domain.KindConsistency, domain.KindOf(err))

	assert.Equal(t, 0, f.store.ProcessedEvents(), "failed event must stay retryable")
	assert.Equal(t, domain.OrderStatusPending, f.order(t, order.ID).Status)
	assert.Equal(t, 1, f.stock(t, phoneID))

	// restocked, the redelivery goes through
	f.setStock(t, phoneID, 5)
	outcome, err := f.settlement.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
	assert.Equal(t, 3, f.stock(t, phoneID))
}

func TestSettlement_SuccessForUnknownOrder(t *testing.T) {
	f := newFixture(t)
	ev := successEvent("evt_x", &domain.Order{ID: 999}, "pi_x")
	ev.Order.PublicID = ""

	_, err := f.settlement.Handle(context.Background(), ev)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Equal(t, 0, f.store.ProcessedEvents())
}

func TestSettlement_SuccessWithoutOrderReference(t *testing.T) {
	f := newFixture(t)
	ev := domain.PaymentEvent{ID: "evt_x", Type: domain.EventTypeIntentSucceeded, Kind: domain.EventPaymentSucceeded, HandleID: "pi_x"}

	_, err := f.settlement.Handle(context.Background(), ev)
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)
}

func TestSettlement_FailureForUnknownOrderIsAcked(t *testing.T) {
	f := newFixture(t)
	ev := failureEvent("evt_x", &domain.Order{ID: 999}, "pi_x")
	ev.Order.PublicID = ""

	outcome, err := f.settlement.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, outcome)
	assert.Equal(t, 1, f.store.ProcessedEvents())
}

func TestSettlement_LateFailureKeepsPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.checkout(t, 1, "k")

	_, err := f.settlement.Handle(ctx, successEvent("evt_ok", order, "pi_1"))
	require.NoError(t, err)

	outcome, err := f.settlement.Handle(ctx, failureEvent("evt_fail", order, "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, outcome)
	assert.Equal(t, domain.OrderStatusPaid, f.order(t, order.ID).Status)
}

func TestSettlement_SuccessAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.checkout(t, 1, "k")

	_, err := f.settlement.Handle(ctx, failureEvent("evt_fail", order, "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, f.order(t, order.ID).Status)

	outcome, err := f.settlement.Handle(ctx, successEvent("evt_ok", order, "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
	assert.Equal(t, domain.OrderStatusPaid, f.order(t, order.ID).Status)
	assert.Equal(t, 24, f.stock(t, phoneID))
}

func TestSettlement_SecondSuccessEventIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.checkout(t, 1, "k")

	_, err := f.settlement.Handle(ctx, successEvent("evt_1", order, "pi_1"))
	require.NoError(t, err)

	outcome, err := f.settlement.Handle(ctx, successEvent("evt_2", order, "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, outcome)
	assert.Equal(t, 24, f.stock(t, phoneID))
}

func TestSettlement_CanceledOrderNotPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.checkout(t, 1, "k")

	err := f.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCanceled, nil)
	})
	require.NoError(t, err)

	outcome, err := f.settlement.Handle(ctx, successEvent("evt_1", order, "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, outcome)
	assert.Equal(t, domain.OrderStatusCanceled, f.order(t, order.ID).Status)
	assert.Equal(t, 25, f.stock(t, phoneID))
}

func TestSettlement_UnhandledEventRecorded(t *testing.T) {
	f := newFixture(t)
	ev := domain.PaymentEvent{ID: "evt_charge", Type: "charge.refunded", Kind: domain.EventUnhandled}

	outcome, err := f.settlement.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnhandled, outcome)
	assert.Equal(t, 1, f.store.ProcessedEvents())

	outcome, err = f.settlement.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
}

func TestSettlement_MissingEventID(t *testing.T) {
	f := newFixture(t)

	_, err := f.settlement.Handle(context.Background(), domain.PaymentEvent{Kind: domain.EventPaymentSucceeded})
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)
}

func TestSettlement_EventCacheShortCircuits(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := storage.NewRedisAdapter(client, time.Minute, time.Hour)
	f := newFixtureWithCache(t, cache)
	ctx := context.Background()
	order := f.checkout(t, 1, "k")
	ev := successEvent("evt_cached", order, "pi_1")

	_, err := f.settlement.Handle(ctx, ev)
	require.NoError(t, err)

	seen, err := cache.EventSeen(ctx, "evt_cached")
	require.NoError(t, err)
	assert.True(t, seen)

	outcome, err := f.settlement.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)

	// an evicted hint falls back to the processed-event table
	mr.FlushAll()
	outcome, err = f.settlement.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	assert.Equal(t, 24, f.stock(t, phoneID))
}
