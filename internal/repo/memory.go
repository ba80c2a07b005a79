// Package repo provides the persistence backends. Memory is the default and
// keeps everything in process; Postgres is opt-in for durable deployments.
// Both satisfy the payment, vault and notify store contracts.
package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/noah-isme/acquiremock/internal/notify"
	"github.com/noah-isme/acquiremock/internal/payment"
	"github.com/noah-isme/acquiremock/internal/vault"
)

// Memory is the in-process store. UpdatePayment serializes writers per
// payment id with a dedicated mutex, mirroring the row lock the Postgres
// backend takes.
type Memory struct {
	mu        sync.RWMutex
	payments  map[string]payment.Payment
	idLocks   map[string]*sync.Mutex
	cards     []vault.SavedCard
	ops       []vault.SuccessfulOperation
	logs      map[string][]notify.WebhookLog
	nextLogID int64
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		payments: make(map[string]payment.Payment),
		idLocks:  make(map[string]*sync.Mutex),
		logs:     make(map[string][]notify.WebhookLog),
	}
}

func (m *Memory) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.idLocks[id] = l
	}
	return l
}

// CreatePayment stores a new payment record.
func (m *Memory) CreatePayment(_ context.Context, p payment.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return nil
}

// GetPayment returns a copy of the payment or payment.ErrNotFound.
func (m *Memory) GetPayment(_ context.Context, id string) (payment.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return payment.Payment{}, payment.ErrNotFound
	}
	return p, nil
}

// UpdatePayment runs fn with exclusive access to the record. The mutation is
// persisted only when fn returns nil.
func (m *Memory) UpdatePayment(_ context.Context, id string, fn func(*payment.Payment) error) (payment.Payment, error) {
	idLock := m.lockFor(id)
	idLock.Lock()
	defer idLock.Unlock()

	m.mu.RLock()
	p, ok := m.payments[id]
	m.mu.RUnlock()
	if !ok {
		return payment.Payment{}, payment.ErrNotFound
	}

	if err := fn(&p); err != nil {
		return payment.Payment{}, err
	}

	m.mu.Lock()
	m.payments[id] = p
	m.mu.Unlock()
	return p, nil
}

// FindPaymentsByReference returns payments sharing a merchant reference,
// newest first.
func (m *Memory) FindPaymentsByReference(_ context.Context, reference string) ([]payment.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payment.Payment
	for _, p := range m.payments {
		if p.Reference == reference {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// InsertSavedCard appends a tokenized card.
func (m *Memory) InsertSavedCard(_ context.Context, card vault.SavedCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards = append(m.cards, card)
	return nil
}

// ListSavedCardsByEmail returns the cards saved for the email.
func (m *Memory) ListSavedCardsByEmail(_ context.Context, email string) ([]vault.SavedCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []vault.SavedCard
	for _, c := range m.cards {
		if c.Email == email {
			out = append(out, c)
		}
	}
	return out, nil
}

// InsertOperation appends a settlement receipt.
func (m *Memory) InsertOperation(_ context.Context, op vault.SuccessfulOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
	return nil
}

// ListOperationsByEmail returns the receipts recorded for the email.
func (m *Memory) ListOperationsByEmail(_ context.Context, email string) ([]vault.SuccessfulOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []vault.SuccessfulOperation
	for _, o := range m.ops {
		if o.Email == email {
			out = append(out, o)
		}
	}
	return out, nil
}

// InsertWebhookLog appends a delivery attempt record.
func (m *Memory) InsertWebhookLog(_ context.Context, entry notify.WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLogID++
	entry.ID = m.nextLogID
	m.logs[entry.PaymentID] = append(m.logs[entry.PaymentID], entry)
	return nil
}

// ListWebhookLogs returns the delivery attempts for a payment in order.
func (m *Memory) ListWebhookLogs(_ context.Context, paymentID string) ([]notify.WebhookLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]notify.WebhookLog, len(m.logs[paymentID]))
	copy(out, m.logs[paymentID])
	return out, nil
}
