package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/storefront/internal/core/domain"
)

// Prometheus implements port.Metrics.
type Prometheus struct {
	registry        *prometheus.Registry
	checkouts       *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	stockUnits      prometheus.Counter
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkouts_total",
			Help: "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_payment_events_total",
			Help: "Payment events handled by kind and outcome.",
		}, []string{"kind", "outcome"}),
		stockUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_stock_units_decremented_total",
			Help: "Units of stock taken by settled orders.",
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_payment_provider_calls_total",
			Help: "Payment processor calls by operation and result.",
		}, []string{"op", "result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_payment_provider_call_duration_seconds",
			Help:    "Payment processor call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}

	p.registry.MustRegister(
		p.checkouts,
		p.settlements,
		p.stockUnits,
		p.providerCalls,
		p.providerLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) CheckoutCompleted(outcome string) {
	p.checkouts.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) SettlementHandled(kind domain.EventKind, outcome domain.SettlementOutcome) {
	p.settlements.WithLabelValues(kind.String(), string(outcome)).Inc()
}

func (p *Prometheus) StockDecremented(units int) {
	p.stockUnits.Add(float64(units))
}

func (p *Prometheus) ProviderCall(op string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.providerCalls.WithLabelValues(op, result).Inc()
	p.providerLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}
