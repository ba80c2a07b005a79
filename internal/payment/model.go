package payment

import (
	"context"
	"errors"
	"time"
)

// TestPAN is the only card number the mock acquirer accepts.
const TestPAN = "4444444444444444"

// Status enumerates the payment lifecycle states.
type Status string

const (
	StatusPending       Status = "pending"
	StatusWaitingForOTP Status = "waiting_for_otp"
	StatusPaid          Status = "paid"
	StatusFailed        Status = "failed"
	StatusExpired       Status = "expired"
	StatusRefunded      Status = "refunded"
)

// Terminal reports whether no checkout-driven transition may leave the state.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusFailed, StatusExpired, StatusRefunded:
		return true
	default:
		return false
	}
}

// Payment is the aggregate root of the acquirer.
type Payment struct {
	ID              string     `json:"payment_id"`
	Amount          int64      `json:"amount"`
	Reference       string     `json:"reference"`
	WebhookURL      string     `json:"webhook_url"`
	RedirectURL     string     `json:"redirect_url"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	OTPCode         string     `json:"-"`
	OTPEmail        string     `json:"-"`
	CardMask        string     `json:"card_mask,omitempty"`
	WebhookAttempts int        `json:"webhook_attempts"`
}

// ErrNotFound is returned by stores when no payment exists for an id.
var ErrNotFound = errors.New("payment not found")

// Store is the repository contract the lifecycle depends on. UpdatePayment
// must provide single-writer semantics per id: the callback runs with
// exclusive access to the record and its mutations are persisted atomically,
// or discarded entirely when it returns an error.
type Store interface {
	CreatePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id string) (Payment, error)
	UpdatePayment(ctx context.Context, id string, fn func(*Payment) error) (Payment, error)
	FindPaymentsByReference(ctx context.Context, reference string) ([]Payment, error)
}

// Dispatcher schedules the background work a transition triggers. Both calls
// are fire and forget: they must not block or fail the transition.
type Dispatcher interface {
	PaymentSettled(ctx context.Context, p Payment)
	OTPIssued(ctx context.Context, p Payment)
}

// NopDispatcher discards all notifications.
type NopDispatcher struct{}

func (NopDispatcher) PaymentSettled(context.Context, Payment) {}
func (NopDispatcher) OTPIssued(context.Context, Payment)      {}
