package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error for transport mapping.
type Kind string

const (
	KindValidation  Kind = "validation_error"
	KindNotFound    Kind = "not_found"
	KindForbidden   Kind = "forbidden"
	KindConflict    Kind = "conflict"
	KindProvider    Kind = "external_provider_error"
	KindConsistency Kind = "consistency_error"
	KindInternal    Kind = "internal_error"
)

// Error is a classified sentinel. Compare with errors.Is.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

var (
	ErrInvalidQuantity        = newError(KindValidation, "invalid_quantity", "invalid quantity")
	ErrInvalidAmount          = newError(KindValidation, "invalid_amount", "invalid amount")
	ErrIdempotencyKeyRequired = newError(KindValidation, "idempotency_key_required", "idempotency key required")
	ErrEmptyCart              = newError(KindValidation, "empty_cart", "cart is empty")
	ErrInvalidEvent           = newError(KindValidation, "invalid_event", "invalid payment event")

	ErrProductNotFound  = newError(KindNotFound, "not_found", "product not found")
	ErrOrderNotFound    = newError(KindNotFound, "not_found", "order not found")
	ErrCartLineNotFound = newError(KindNotFound, "not_found", "cart line not found")

	ErrForbidden = newError(KindForbidden, "forbidden", "forbidden")

	ErrInsufficientStock = newError(KindConflict, "insufficient_stock", "insufficient stock")
	ErrInactiveProduct   = newError(KindConflict, "inactive_product", "product is not active")
	ErrMixedCurrency     = newError(KindConflict, "mixed_currency", "cart contains mixed currencies")
	ErrNotPayable        = newError(KindConflict, "not_payable", "order is not payable")
	ErrNotPaid           = newError(KindConflict, "not_paid", "order is not paid")
	ErrNoPaymentHandle   = newError(KindConflict, "no_payment_handle", "order has no payment intent")

	ErrPaymentProvider = newError(KindProvider, "payment_provider_error", "payment provider error")
	ErrRefund          = newError(KindProvider, "refund_error", "refund failed")

	ErrStockConsistency = newError(KindConsistency, "stock_consistency", "stock vanished before settlement")
)

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// CodeOf returns the wire code of err, or "internal_error".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return string(KindInternal)
}

// ProductError attaches the offending product to a domain error.
// Requested and Available are set for stock shortfalls.
type ProductError struct {
	ProductID int64
	Requested int
	Available int
	Err       error
}

func (e *ProductError) Error() string {
	if e.Requested > 0 {
		return fmt.Sprintf("product %d: %v (requested %d, available %d)", e.ProductID, e.Err, e.Requested, e.Available)
	}
	return fmt.Sprintf("product %d: %v", e.ProductID, e.Err)
}

func (e *ProductError) Unwrap() error { return e.Err }
