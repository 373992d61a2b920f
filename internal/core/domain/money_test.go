package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRoundMoney(t *testing.T) {
	tests := map[string]string{
		"0.125":  "0.13",
		"-0.125": "-0.13",
		"1.004":  "1.00",
		"19.99":  "19.99",
		"2":      "2.00",
	}
	for in, want := range tests {
		assert.Equal(t, want, RoundMoney(decimal.RequireFromString(in)).StringFixed(2), in)
	}
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(79900), MinorUnits(decimal.RequireFromString("799.00")))
	assert.Equal(t, int64(1999), MinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1), MinorUnits(decimal.RequireFromString("0.005")))
	assert.Equal(t, "19.99", FromMinorUnits(1999).StringFixed(2))
	assert.Equal(t, "usd", ProcessorCurrency("USD"))
}

func TestCartSubtotal(t *testing.T) {
	c := &Cart{Lines: []CartLine{
		{Qty: 2, UnitPrice: decimal.RequireFromString("799.00")},
		{Qty: 3, UnitPrice: decimal.RequireFromString("0.335")},
	}}
	assert.Equal(t, "1599.005", c.Subtotal().String())
}

func TestNormalizeStockRequests(t *testing.T) {
	got := NormalizeStockRequests([]StockRequest{
		{ProductID: 9, Qty: 1},
		{ProductID: 3, Qty: 2},
		{ProductID: 9, Qty: 4},
	})
	assert.Equal(t, []StockRequest{{ProductID: 3, Qty: 2}, {ProductID: 9, Qty: 5}}, got)
	assert.Equal(t, []int64{3, 9}, ProductIDs(got))
	assert.Empty(t, NormalizeStockRequests(nil))
}

func TestEventKinds(t *testing.T) {
	assert.Equal(t, EventPaymentSucceeded, KindForType("payment_intent.succeeded"))
	assert.Equal(t, EventPaymentFailed, KindForType("payment_intent.payment_failed"))
	assert.Equal(t, EventUnhandled, KindForType("charge.refunded"))
	assert.Equal(t, "succeeded", EventPaymentSucceeded.String())

	assert.True(t, OrderRef{}.Empty())
	assert.False(t, OrderRef{PublicID: "x"}.Empty())
}

func TestPaymentIntentMatches(t *testing.T) {
	pi := &PaymentIntent{Amount: 1999, Currency: "usd", Status: "requires_payment_method"}
	assert.True(t, pi.Matches(1999, "USD"))
	assert.False(t, pi.Matches(2000, "usd"))
	assert.False(t, pi.Matches(1999, "eur"))
	assert.False(t, pi.Canceled())
}
