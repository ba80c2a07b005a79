package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/acquiremock/internal/common"
	"github.com/noah-isme/acquiremock/internal/lock"
	"github.com/noah-isme/acquiremock/internal/obs"
	"github.com/noah-isme/acquiremock/internal/payment"
	"github.com/noah-isme/acquiremock/internal/queue"
)

// DeliveryWorker is the queue handler for webhook tasks. A per-payment lock
// keeps delivery single-flight when multiple worker replicas run against the
// same Redis.
type DeliveryWorker struct {
	Notifier Notifier
	Locker   lock.Locker
	LockTTL  time.Duration
}

// Handle processes one webhook delivery task.
func (w DeliveryWorker) Handle(ctx context.Context, t queue.Task) error {
	var task webhookTask
	if err := json.Unmarshal(t.Payload, &task); err != nil {
		return fmt.Errorf("decode webhook task: %w", err)
	}
	if w.Locker.R == nil {
		return w.Notifier.Deliver(ctx, task.PaymentID, t.Attempt)
	}
	return w.Locker.WithLock(ctx, "webhook:"+task.PaymentID, w.LockTTL, func(ctx context.Context) error {
		return w.Notifier.Deliver(ctx, task.PaymentID, t.Attempt)
	})
}

// EmailWorker sends the OTP challenge and receipt emails.
type EmailWorker struct {
	Mail           common.EmailSender
	Payments       payment.Store
	CurrencySymbol string
	Logger         zerolog.Logger
}

// HandleOTP sends the confirmation code to the payer.
func (w EmailWorker) HandleOTP(ctx context.Context, t queue.Task) error {
	var task emailTask
	if err := json.Unmarshal(t.Payload, &task); err != nil {
		return fmt.Errorf("decode otp email task: %w", err)
	}
	if task.Email == "" || task.Code == "" {
		return nil
	}
	body := fmt.Sprintf(
		"<p>Your confirmation code is <strong>%s</strong>.</p><p>Enter it on the payment page to complete your purchase.</p>",
		html.EscapeString(task.Code),
	)
	return w.send("otp", task.Email, "Payment confirmation code", body)
}

// HandleReceipt sends the settlement receipt. The payment is re-read so the
// receipt reflects the final settled record.
func (w EmailWorker) HandleReceipt(ctx context.Context, t queue.Task) error {
	var task emailTask
	if err := json.Unmarshal(t.Payload, &task); err != nil {
		return fmt.Errorf("decode receipt email task: %w", err)
	}
	p, err := w.Payments.GetPayment(ctx, task.PaymentID)
	if err != nil {
		return fmt.Errorf("load payment %s: %w", task.PaymentID, err)
	}
	body := fmt.Sprintf(
		"<p>Your payment of <strong>%d%s</strong> for order %s was successful.</p><p>Card: %s</p>",
		p.Amount,
		html.EscapeString(w.CurrencySymbol),
		html.EscapeString(p.Reference),
		html.EscapeString(p.CardMask),
	)
	return w.send("receipt", task.Email, "Payment receipt", body)
}

func (w EmailWorker) send(kind, to, subject, body string) error {
	if err := w.Mail.Send(to, subject, body); err != nil {
		obs.EmailSendsTotal.WithLabelValues(kind, "failure").Inc()
		w.Logger.Warn().Err(err).Str("kind", kind).Msg("email send failed")
		return err
	}
	obs.EmailSendsTotal.WithLabelValues(kind, "success").Inc()
	return nil
}
