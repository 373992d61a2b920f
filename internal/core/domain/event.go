package domain

import "time"

// EventKind is the resolved variant of an inbound payment event.
type EventKind int

const (
	EventUnhandled EventKind = iota
	EventPaymentSucceeded
	EventPaymentFailed
)

func (k EventKind) String() string {
	switch k {
	case EventPaymentSucceeded:
		return "succeeded"
	case EventPaymentFailed:
		return "failed"
	default:
		return "unhandled"
	}
}

// Processor event types this service acts on.
const (
	EventTypeIntentSucceeded = "payment_intent.succeeded"
	EventTypeIntentFailed    = "payment_intent.payment_failed"
)

// KindForType maps a processor event type to its variant.
func KindForType(t string) EventKind {
	switch t {
	case EventTypeIntentSucceeded:
		return EventPaymentSucceeded
	case EventTypeIntentFailed:
		return EventPaymentFailed
	default:
		return EventUnhandled
	}
}

// OrderRef is the order reference carried in the intent metadata.
type OrderRef struct {
	OrderID  int64
	PublicID string
}

func (r OrderRef) Empty() bool { return r.OrderID == 0 && r.PublicID == "" }

// PaymentEvent is a verified processor event resolved at the boundary.
type PaymentEvent struct {
	ID       string
	Type     string
	Kind     EventKind
	HandleID string
	Order    OrderRef
	Amount   int64
	Currency string
}

type ProcessedEvent struct {
	EventID     string
	EventType   string
	ProcessedAt time.Time
}

// SettlementOutcome reports what the state machine did with an event.
type SettlementOutcome string

const (
	OutcomeApplied   SettlementOutcome = "applied"
	OutcomeDuplicate SettlementOutcome = "duplicate"
	OutcomeIgnored   SettlementOutcome = "ignored"
	OutcomeUnhandled SettlementOutcome = "unhandled"
)

// PaymentIntent is the client-facing view of a processor handle.
type PaymentIntent struct {
	HandleID     string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       string
}

// Canceled reports whether the handle can no longer collect funds.
func (p *PaymentIntent) Canceled() bool { return p.Status == "canceled" }

// Matches reports whether the handle still charges the given amount and currency.
func (p *PaymentIntent) Matches(amount int64, currency string) bool {
	return p.Amount == amount && p.Currency == ProcessorCurrency(currency)
}

type Refund struct {
	ID     string
	Status string
}
