package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartStatus string

const (
	CartStatusOpen      CartStatus = "open"
	CartStatusConverted CartStatus = "converted"
	CartStatusCanceled  CartStatus = "canceled"
)

type Cart struct {
	ID         int64
	CustomerID int64
	Status     CartStatus
	Lines      []CartLine
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CartLine holds the unit price captured when the line was last mutated.
type CartLine struct {
	ID        int64
	CartID    int64
	ProductID int64
	Qty       int
	UnitPrice decimal.Decimal
}

// Subtotal is the exact sum of unit price times quantity; no rounding is applied.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty))))
	}
	return total
}

// Line returns the line with the given id.
func (c *Cart) Line(id int64) (CartLine, bool) {
	for _, l := range c.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return CartLine{}, false
}

// LineForProduct returns the line holding productID.
func (c *Cart) LineForProduct(productID int64) (CartLine, bool) {
	for _, l := range c.Lines {
		if l.ProductID == productID {
			return l, true
		}
	}
	return CartLine{}, false
}

// CheckPurchasable validates that qty units of p may be placed in a cart.
func CheckPurchasable(p *Product, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if !p.Active {
		return ErrInactiveProduct
	}
	if qty > p.StockQty {
		return ErrInsufficientStock
	}
	return nil
}
