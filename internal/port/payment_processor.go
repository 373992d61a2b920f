package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type IntentRequest struct {
	Amount         int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentProcessor is the external payment provider.
type PaymentProcessor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*domain.PaymentIntent, error)
	RetrieveIntent(ctx context.Context, handleID string) (*domain.PaymentIntent, error)
	CancelIntent(ctx context.Context, handleID string) error
	Refund(ctx context.Context, handleID string, amount int64) (*domain.Refund, error)
}
