package notify

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/noah-isme/acquiremock/internal/payment"
	"github.com/noah-isme/acquiremock/internal/queue"
)

// Task kinds consumed by the notification workers.
const (
	KindWebhookDeliver = "webhook-deliver"
	KindOTPEmail       = "email-otp"
	KindReceiptEmail   = "email-receipt"
)

// webhookTask and emailTask are the queue payloads. Workers re-read the
// payment for anything not carried here, so payloads stay small and stale
// data cannot leak into deliveries.
type webhookTask struct {
	PaymentID string `json:"payment_id"`
}

type emailTask struct {
	PaymentID string `json:"payment_id"`
	Email     string `json:"email"`
	Code      string `json:"code,omitempty"`
}

// Dispatcher fans payment events out to the task queue. It implements
// payment.Dispatcher: enqueue failures are logged, never propagated, so a
// broken queue cannot roll back a settled payment.
type Dispatcher struct {
	Queue              queue.Enqueuer
	WebhookMaxAttempts int
	EmailMaxAttempts   int
	Logger             zerolog.Logger
}

// PaymentSettled schedules the signed webhook callback and, when the payer
// left an email, a receipt. The payment id doubles as the idempotency key so
// a settlement is announced at most once.
func (d Dispatcher) PaymentSettled(ctx context.Context, p payment.Payment) {
	if p.WebhookURL != "" {
		d.enqueue(ctx, queue.Task{
			Kind:           KindWebhookDeliver,
			Payload:        mustJSON(webhookTask{PaymentID: p.ID}),
			IdempotencyKey: p.ID,
			MaxAttempts:    d.WebhookMaxAttempts,
		})
	}
	if p.OTPEmail != "" {
		d.enqueue(ctx, queue.Task{
			Kind:           KindReceiptEmail,
			Payload:        mustJSON(emailTask{PaymentID: p.ID, Email: p.OTPEmail}),
			IdempotencyKey: p.ID,
			MaxAttempts:    d.EmailMaxAttempts,
		})
	}
}

// OTPIssued schedules the confirmation code email. No idempotency key: a new
// code may be issued for the same payment after a fresh checkout submission.
func (d Dispatcher) OTPIssued(ctx context.Context, p payment.Payment) {
	if p.OTPEmail == "" {
		return
	}
	d.enqueue(ctx, queue.Task{
		Kind:        KindOTPEmail,
		Payload:     mustJSON(emailTask{PaymentID: p.ID, Email: p.OTPEmail, Code: p.OTPCode}),
		MaxAttempts: d.EmailMaxAttempts,
	})
}

func (d Dispatcher) enqueue(ctx context.Context, t queue.Task) {
	if err := d.Queue.Enqueue(ctx, t); err != nil {
		d.Logger.Error().Err(err).Str("kind", t.Kind).Str("key", t.IdempotencyKey).Msg("enqueue task")
	}
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
