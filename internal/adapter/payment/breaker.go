package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// BreakerProcessor guards a processor with a circuit breaker and records call metrics.
type BreakerProcessor struct {
	next    port.PaymentProcessor
	cb      *gobreaker.CircuitBreaker[any]
	metrics port.Metrics
}

func NewBreakerProcessor(next port.PaymentProcessor, maxFailures uint32, openTimeout time.Duration, metrics port.Metrics, logger *zap.Logger) *BreakerProcessor {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	if maxFailures == 0 {
		maxFailures = 5
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "payment-processor",
		Timeout: openTimeout,
		IsSuccessful: func(err error) bool {
			return !providerFault(err)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &BreakerProcessor{next: next, cb: cb, metrics: metrics}
}

func (b *BreakerProcessor) CreateIntent(ctx context.Context, req port.IntentRequest) (*domain.PaymentIntent, error) {
	res, err := b.call("create_intent", func() (any, error) { return b.next.CreateIntent(ctx, req) })
	if err != nil {
		return nil, err
	}
	return res.(*domain.PaymentIntent), nil
}

func (b *BreakerProcessor) RetrieveIntent(ctx context.Context, handleID string) (*domain.PaymentIntent, error) {
	res, err := b.call("retrieve_intent", func() (any, error) { return b.next.RetrieveIntent(ctx, handleID) })
	if err != nil {
		return nil, err
	}
	return res.(*domain.PaymentIntent), nil
}

func (b *BreakerProcessor) CancelIntent(ctx context.Context, handleID string) error {
	_, err := b.call("cancel_intent", func() (any, error) { return nil, b.next.CancelIntent(ctx, handleID) })
	return err
}

func (b *BreakerProcessor) Refund(ctx context.Context, handleID string, amount int64) (*domain.Refund, error) {
	res, err := b.call("refund", func() (any, error) { return b.next.Refund(ctx, handleID, amount) })
	if err != nil {
		return nil, err
	}
	return res.(*domain.Refund), nil
}

func (b *BreakerProcessor) call(op string, fn func() (any, error)) (any, error) {
	start := time.Now()
	res, err := b.cb.Execute(fn)
	b.metrics.ProviderCall(op, err, time.Since(start))

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrPaymentProvider, op, err)
	}
	return res, err
}

// providerFault reports whether err says the processor itself is unhealthy.
// Rejections of one bad request (4xx other than 429, unknown intents) and
// caller cancellations do not count toward tripping the breaker.
func providerFault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrUnknownIntent) {
		return false
	}
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 {
		return se.HTTPStatusCode == 429
	}
	return true
}
