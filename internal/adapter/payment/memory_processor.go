package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

var ErrUnknownIntent = errors.New("no such payment intent")

// MemoryProcessor is an in-process payment processor for development and tests.
type MemoryProcessor struct {
	mu        sync.Mutex
	intents   map[string]*domain.PaymentIntent
	metadata  map[string]map[string]string
	byKey     map[string]string
	refunds   []domain.Refund
	failures  map[string]error
	created   int
	cancelled []string
}

func NewMemoryProcessor() *MemoryProcessor {
	return &MemoryProcessor{
		intents:  make(map[string]*domain.PaymentIntent),
		metadata: make(map[string]map[string]string),
		byKey:    make(map[string]string),
		failures: make(map[string]error),
	}
}

// FailNext makes the next call of op ("create", "retrieve", "cancel", "refund") return err.
func (m *MemoryProcessor) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

func (m *MemoryProcessor) takeFailure(op string) error {
	err := m.failures[op]
	delete(m.failures, op)
	return err
}

func (m *MemoryProcessor) CreateIntent(ctx context.Context, req port.IntentRequest) (*domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("create"); err != nil {
		return nil, err
	}
	if id, ok := m.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		pi := *m.intents[id]
		return &pi, nil
	}

	id := "pi_" + uuid.NewString()
	pi := &domain.PaymentIntent{
		HandleID:     id,
		ClientSecret: id + "_secret_" + uuid.NewString()[:8],
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       "requires_payment_method",
	}
	m.intents[id] = pi
	m.metadata[id] = req.Metadata
	if req.IdempotencyKey != "" {
		m.byKey[req.IdempotencyKey] = id
	}
	m.created++

	out := *pi
	return &out, nil
}

func (m *MemoryProcessor) RetrieveIntent(ctx context.Context, handleID string) (*domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("retrieve"); err != nil {
		return nil, err
	}
	pi, ok := m.intents[handleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIntent, handleID)
	}
	out := *pi
	return &out, nil
}

func (m *MemoryProcessor) CancelIntent(ctx context.Context, handleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("cancel"); err != nil {
		return err
	}
	pi, ok := m.intents[handleID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownIntent, handleID)
	}
	pi.Status = "canceled"
	m.cancelled = append(m.cancelled, handleID)
	return nil
}

func (m *MemoryProcessor) Refund(ctx context.Context, handleID string, amount int64) (*domain.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("refund"); err != nil {
		return nil, err
	}
	pi, ok := m.intents[handleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIntent, handleID)
	}
	if amount > pi.Amount {
		return nil, fmt.Errorf("refund amount %d exceeds charge %d", amount, pi.Amount)
	}

	r := domain.Refund{ID: "re_" + uuid.NewString(), Status: "succeeded"}
	m.refunds = append(m.refunds, r)
	return &r, nil
}

// SetAmount changes an intent's amount as if it were edited at the processor.
func (m *MemoryProcessor) SetAmount(handleID string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pi, ok := m.intents[handleID]; ok {
		pi.Amount = amount
	}
}

// Metadata returns the metadata an intent was created with.
func (m *MemoryProcessor) Metadata(handleID string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metadata[handleID]
}

func (m *MemoryProcessor) Created() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

func (m *MemoryProcessor) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

func (m *MemoryProcessor) Refunds() []domain.Refund {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Refund(nil), m.refunds...)
}
