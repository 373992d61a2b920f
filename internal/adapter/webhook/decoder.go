// Package webhook turns raw processor callbacks into domain payment events.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/rl1809/storefront/internal/core/domain"
)

const SignatureHeader = "Stripe-Signature"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

type intentObject struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

// Decoder verifies and decodes processor events. Without a secret, payloads
// are rejected unless allowUnverified was set explicitly.
type Decoder struct {
	secret          string
	allowUnverified bool
}

func NewDecoder(secret string, allowUnverified bool) *Decoder {
	return &Decoder{secret: secret, allowUnverified: allowUnverified}
}

func (d *Decoder) Decode(payload []byte, signature string) (domain.PaymentEvent, error) {
	var (
		event stripe.Event
		err   error
	)

	switch {
	case d.secret != "" && !d.allowUnverified:
		event, err = webhook.ConstructEventWithOptions(payload, signature, d.secret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			return domain.PaymentEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	case d.allowUnverified:
		if err := json.Unmarshal(payload, &event); err != nil {
			return domain.PaymentEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	default:
		return domain.PaymentEvent{}, fmt.Errorf("%w: no webhook secret configured", ErrInvalidSignature)
	}

	return toPaymentEvent(event)
}

func toPaymentEvent(event stripe.Event) (domain.PaymentEvent, error) {
	if event.ID == "" || event.Type == "" {
		return domain.PaymentEvent{}, fmt.Errorf("%w: missing id or type", ErrMalformedPayload)
	}

	ev := domain.PaymentEvent{
		ID:   event.ID,
		Type: string(event.Type),
		Kind: domain.KindForType(string(event.Type)),
	}
	if ev.Kind == domain.EventUnhandled {
		return ev, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return domain.PaymentEvent{}, fmt.Errorf("%w: missing data object", ErrMalformedPayload)
	}
	var obj intentObject
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ev.HandleID = obj.ID
	ev.Amount = obj.Amount
	ev.Currency = obj.Currency
	ev.Order.PublicID = obj.Metadata["public_id"]
	if raw := obj.Metadata["order_id"]; raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return domain.PaymentEvent{}, fmt.Errorf("%w: bad order_id %q", ErrMalformedPayload, raw)
		}
		ev.Order.OrderID = id
	}
	return ev, nil
}
