package port

import (
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
)

type Metrics interface {
	CheckoutCompleted(outcome string)
	SettlementHandled(kind domain.EventKind, outcome domain.SettlementOutcome)
	StockDecremented(units int)
	ProviderCall(op string, err error, elapsed time.Duration)
}

type NopMetrics struct{}

func (NopMetrics) CheckoutCompleted(string) {}
func (NopMetrics) SettlementHandled(domain.EventKind, domain.SettlementOutcome) {}
func (NopMetrics) StockDecremented(int) {}
func (NopMetrics) ProviderCall(string, error, time.Duration) {}
