package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/pkg/logging"
	"github.com/rl1809/storefront/internal/port"
)

type PaymentService struct {
	store     port.Store
	processor port.PaymentProcessor
}

func NewPaymentService(store port.Store, processor port.PaymentProcessor) *PaymentService {
	return &PaymentService{store: store, processor: processor}
}

// GetOrCreateIntent returns a processor handle charging the order's current
// total. A stored handle whose amount or currency drifted is canceled at the
// processor before its replacement is created. The order row stays locked for
// the whole exchange so concurrent callers see one handle.
func (s *PaymentService) GetOrCreateIntent(ctx context.Context, actor domain.Actor, orderID int64) (*domain.PaymentIntent, error) {
	ctx, span := tracer.Start(ctx, "PaymentService.GetOrCreateIntent")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	logger := logging.FromContext(ctx).With(zap.Int64("order_id", orderID))

	var intent *domain.PaymentIntent
	err := s.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrOrderNotFound
		}
		if !actor.CanAccess(order) {
			return domain.ErrForbidden
		}
		if !order.Payable() {
			return domain.ErrNotPayable
		}

		amount := domain.MinorUnits(order.Total)
		currency := domain.ProcessorCurrency(order.Currency)

		if order.PaymentHandleID != "" {
			existing, err := s.processor.RetrieveIntent(ctx, order.PaymentHandleID)
			if err != nil {
				return providerError("retrieve intent", err)
			}
			if existing.Matches(amount, currency) && !existing.Canceled() {
				intent = existing
				return nil
			}

			logger.Info("replacing stale payment intent",
				zap.String("payment_intent_id", existing.HandleID),
				zap.Int64("intent_amount", existing.Amount),
				zap.Int64("order_amount", amount),
				zap.String("intent_status", existing.Status),
			)
			if !existing.Canceled() {
				if err := s.processor.CancelIntent(ctx, existing.HandleID); err != nil {
					return providerError("cancel intent", err)
				}
			}
		}

		created, err := s.processor.CreateIntent(ctx, port.IntentRequest{
			Amount:   amount,
			Currency: currency,
			Metadata: map[string]string{
				"order_id":  strconv.FormatInt(order.ID, 10),
				"public_id": order.PublicID.String(),
			},
			IdempotencyKey: intentIdempotencyKey(order, amount, currency),
		})
		if err != nil {
			return providerError("create intent", err)
		}

		if err := tx.SetPaymentHandle(ctx, order.ID, created.HandleID); err != nil {
			return err
		}
		intent = created
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if domain.KindOf(err) == domain.KindProvider {
			logger.Error("payment intent failed", zap.Error(err))
		}
		return nil, err
	}

	logger.Info("payment intent ready", zap.String("payment_intent_id", intent.HandleID))
	return intent, nil
}

// intentIdempotencyKey makes a retried create after a failed commit return the
// same processor handle, while a replacement for another handle gets a new one.
func intentIdempotencyKey(o *domain.Order, amount int64, currency string) string {
	prev := o.PaymentHandleID
	if prev == "" {
		prev = "none"
	}
	return fmt.Sprintf("order-%s-%s-%d%s", o.PublicID, prev, amount, currency)
}

func providerError(op string, err error) error {
	if errors.Is(err, domain.ErrPaymentProvider) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrPaymentProvider, op, err)
}
