package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/pkg/logging"
	"github.com/rl1809/storefront/internal/port"
)

// SettlementService applies processor payment events to orders and stock.
// Each event id takes effect at most once: the processed-event row and the
// resulting state change commit together or not at all.
type SettlementService struct {
	store   port.Store
	cache   port.CacheRepository
	ledger  *InventoryLedger
	metrics port.Metrics
	now     func() time.Time
}

func NewSettlementService(store port.Store, cache port.CacheRepository, ledger *InventoryLedger, metrics port.Metrics) *SettlementService {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	return &SettlementService{
		store:   store,
		cache:   cache,
		ledger:  ledger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Handle applies ev. Redelivery of a recorded event returns OutcomeDuplicate
// with no error. On error nothing is recorded, so a redelivery retries in full.
func (s *SettlementService) Handle(ctx context.Context, ev domain.PaymentEvent) (domain.SettlementOutcome, error) {
	ctx, span := tracer.Start(ctx, "SettlementService.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", ev.Type),
	)

	logger := logging.FromContext(ctx).With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
		zap.String("payment_intent_id", ev.HandleID),
	)

	if ev.ID == "" {
		return "", fmt.Errorf("%w: missing event id", domain.ErrInvalidEvent)
	}

	if seen, err := s.cache.EventSeen(ctx, ev.ID); err != nil {
		logger.Warn("event cache read failed", zap.Error(err))
	} else if seen {
		s.metrics.SettlementHandled(ev.Kind, domain.OutcomeDuplicate)
		logger.Info("duplicate payment event ignored")
		return domain.OutcomeDuplicate, nil
	}

	var outcome domain.SettlementOutcome
	err := s.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		err := tx.InsertProcessedEvent(ctx, domain.ProcessedEvent{
			EventID:     ev.ID,
			EventType:   ev.Type,
			ProcessedAt: s.now(),
		})
		if errors.Is(err, port.ErrDuplicate) {
			outcome = domain.OutcomeDuplicate
			return nil
		}
		if err != nil {
			return err
		}

		switch ev.Kind {
		case domain.EventPaymentSucceeded:
			outcome, err = s.applySuccess(ctx, tx, ev, logger)
		case domain.EventPaymentFailed:
			outcome, err = s.applyFailure(ctx, tx, ev, logger)
		default:
			outcome = domain.OutcomeUnhandled
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if domain.KindOf(err) == domain.KindConsistency {
			fields := []zap.Field{zap.Error(err), zap.Int64("order_id", ev.Order.OrderID)}
			var pe *domain.ProductError
			if errors.As(err, &pe) {
				fields = append(fields,
					zap.Int64("product_id", pe.ProductID),
					zap.Int("requested", pe.Requested),
					zap.Int("available", pe.Available),
				)
			}
			logger.Error("settlement aborted: stock no longer covers paid order", fields...)
		} else {
			logger.Error("settlement failed", zap.Error(err))
		}
		return "", err
	}

	if outcome != domain.OutcomeDuplicate {
		if err := s.cache.MarkEventSeen(ctx, ev.ID); err != nil {
			logger.Warn("event cache write failed", zap.Error(err))
		}
	}

	span.SetAttributes(attribute.String("settlement.outcome", string(outcome)))
	s.metrics.SettlementHandled(ev.Kind, outcome)
	logger.Info("payment event handled", zap.String("outcome", string(outcome)))
	return outcome, nil
}

func (s *SettlementService) applySuccess(ctx context.Context, tx port.Tx, ev domain.PaymentEvent, logger *zap.Logger) (domain.SettlementOutcome, error) {
	if ev.Order.Empty() {
		return "", fmt.Errorf("%w: missing order reference in intent metadata", domain.ErrInvalidEvent)
	}

	order, err := lockEventOrder(ctx, tx, ev.Order)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrOrderNotFound, describeRef(ev.Order))
	}
	logger = logger.With(zap.Int64("order_id", order.ID))

	if order.PaymentHandleID != "" && order.PaymentHandleID != ev.HandleID {
		logger.Warn("payment intent mismatch", zap.String("stored_payment_intent_id", order.PaymentHandleID))
	}

	switch {
	case order.Status == domain.OrderStatusPaid:
		logger.Info("order already paid")
		return domain.OutcomeIgnored, nil
	case !domain.CanTransition(order.Status, domain.OrderStatusPaid):
		logger.Error("payment succeeded for order that cannot be paid", zap.String("status", string(order.Status)))
		return domain.OutcomeIgnored, nil
	}

	if order.PaymentHandleID == "" && ev.HandleID != "" {
		if err := tx.SetPaymentHandle(ctx, order.ID, ev.HandleID); err != nil {
			return "", err
		}
	}

	if err := s.ledger.ReserveAndDecrement(ctx, tx, order.StockRequests()); err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrProductNotFound) {
			return "", fmt.Errorf("order %d: %w: %w", order.ID, domain.ErrStockConsistency, err)
		}
		return "", err
	}

	paidAt := s.now()
	if err := tx.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusPaid, &paidAt); err != nil {
		return "", err
	}
	logger.Info("order paid and stock decremented")
	return domain.OutcomeApplied, nil
}

func (s *SettlementService) applyFailure(ctx context.Context, tx port.Tx, ev domain.PaymentEvent, logger *zap.Logger) (domain.SettlementOutcome, error) {
	if ev.Order.Empty() {
		logger.Info("payment failure without order reference")
		return domain.OutcomeIgnored, nil
	}

	order, err := lockEventOrder(ctx, tx, ev.Order)
	if err != nil {
		return "", err
	}
	if order == nil {
		logger.Info("payment failure for unknown order", zap.String("order_ref", describeRef(ev.Order)))
		return domain.OutcomeIgnored, nil
	}
	logger = logger.With(zap.Int64("order_id", order.ID))

	if !domain.CanTransition(order.Status, domain.OrderStatusFailed) {
		// paid is sticky; a late failure for an earlier attempt must not undo it
		logger.Warn("ignoring payment failure", zap.String("status", string(order.Status)))
		return domain.OutcomeIgnored, nil
	}

	if err := tx.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusFailed, nil); err != nil {
		return "", err
	}
	logger.Info("order marked failed")
	return domain.OutcomeApplied, nil
}

func lockEventOrder(ctx context.Context, tx port.Tx, ref domain.OrderRef) (*domain.Order, error) {
	if ref.OrderID != 0 {
		return tx.LockOrder(ctx, ref.OrderID)
	}
	return tx.LockOrderByPublicID(ctx, ref.PublicID)
}

func describeRef(ref domain.OrderRef) string {
	if ref.OrderID != 0 {
		return fmt.Sprintf("order %d", ref.OrderID)
	}
	return "order " + ref.PublicID
}
