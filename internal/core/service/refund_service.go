package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/pkg/logging"
	"github.com/rl1809/storefront/internal/port"
)

type RefundService struct {
	store     port.Store
	processor port.PaymentProcessor
}

func NewRefundService(store port.Store, processor port.PaymentProcessor) *RefundService {
	return &RefundService{store: store, processor: processor}
}

// Refund asks the processor to return amount, or the order total when amount
// is nil. Order status is left unchanged.
func (s *RefundService) Refund(ctx context.Context, actor domain.Actor, orderID int64, amount *decimal.Decimal) (*domain.Refund, error) {
	ctx, span := tracer.Start(ctx, "RefundService.Refund")
	defer span.End()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	if !actor.CanAccess(order) {
		return nil, domain.ErrForbidden
	}
	if order.Status != domain.OrderStatusPaid {
		return nil, domain.ErrNotPaid
	}
	if order.PaymentHandleID == "" {
		return nil, domain.ErrNoPaymentHandle
	}

	refundAmount := order.Total
	if amount != nil {
		if !amount.IsPositive() || amount.GreaterThan(order.Total) || !amount.Equal(domain.RoundMoney(*amount)) {
			return nil, domain.ErrInvalidAmount
		}
		refundAmount = *amount
	}

	logger := logging.FromContext(ctx).With(
		zap.Int64("order_id", order.ID),
		zap.String("payment_intent_id", order.PaymentHandleID),
		zap.String("amount", refundAmount.StringFixed(2)),
	)

	refund, err := s.processor.Refund(ctx, order.PaymentHandleID, domain.MinorUnits(refundAmount))
	if err != nil {
		span.RecordError(err)
		logger.Error("refund failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrRefund, err)
	}

	logger.Info("refund requested", zap.String("refund_id", refund.ID), zap.String("refund_status", refund.Status))
	return refund, nil
}
