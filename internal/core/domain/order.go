package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusFailed   OrderStatus = "failed"
	OrderStatusCanceled OrderStatus = "canceled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusFailed, OrderStatusCanceled},
	// a success for an intent whose earlier attempt failed still captured money
	OrderStatusFailed: {OrderStatusPaid},
	OrderStatusPaid:   {OrderStatusPaid},
}

// CanTransition reports whether an order in status from may move to to.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID              int64
	PublicID        uuid.UUID
	CustomerID      int64
	IdempotencyKey  string
	Status          OrderStatus
	Currency        string
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	Total           decimal.Decimal
	PaymentHandleID string
	PaidAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Lines           []OrderLine
}

// OrderLine is written once at checkout and never recomputed.
type OrderLine struct {
	ID        int64
	OrderID   int64
	ProductID int64
	SKU       string
	Title     string
	UnitPrice decimal.Decimal
	Qty       int
	LineTotal decimal.Decimal
}

// Payable reports whether a payment intent may be issued for the order.
func (o *Order) Payable() bool {
	return o.Status == OrderStatusPending && o.Total.IsPositive()
}

// StockRequests lists what the ledger must take to fulfil the order.
func (o *Order) StockRequests() []StockRequest {
	reqs := make([]StockRequest, len(o.Lines))
	for i, l := range o.Lines {
		reqs[i] = StockRequest{ProductID: l.ProductID, Qty: l.Qty}
	}
	return NormalizeStockRequests(reqs)
}

// NewOrderFromCart builds a pending order snapshot from cart lines priced against
// the live products. products must contain every product referenced by cart.
func NewOrderFromCart(cart *Cart, products map[int64]*Product, idempotencyKey string, now time.Time) (*Order, error) {
	if len(cart.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	order := &Order{
		PublicID:       uuid.New(),
		CustomerID:     cart.CustomerID,
		IdempotencyKey: idempotencyKey,
		Status:         OrderStatusPending,
		Tax:            decimal.Zero,
		Shipping:       decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	subtotal := decimal.Zero
	for _, line := range cart.Lines {
		p, ok := products[line.ProductID]
		if !ok {
			return nil, &ProductError{ProductID: line.ProductID, Err: ErrProductNotFound}
		}
		if err := CheckPurchasable(p, line.Qty); err != nil {
			return nil, &ProductError{ProductID: p.ID, Err: err}
		}

		currency := p.Currency
		if currency == "" {
			currency = DefaultCurrency
		}
		if order.Currency == "" {
			order.Currency = currency
		} else if order.Currency != currency {
			return nil, ErrMixedCurrency
		}

		lineTotal := RoundMoney(p.Price.Mul(decimal.NewFromInt(int64(line.Qty))))
		subtotal = subtotal.Add(lineTotal)
		order.Lines = append(order.Lines, OrderLine{
			ProductID: p.ID,
			SKU:       p.SKU,
			Title:     p.Title,
			UnitPrice: p.Price,
			Qty:       line.Qty,
			LineTotal: lineTotal,
		})
	}

	order.Subtotal = subtotal
	order.Total = subtotal.Add(order.Tax).Add(order.Shipping)
	return order, nil
}
