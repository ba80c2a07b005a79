// Package notify delivers signed webhook callbacks and transactional email
// for settled payments. Delivery runs on the task queue so merchant outages
// never block a checkout response.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/acquiremock/internal/obs"
	"github.com/noah-isme/acquiremock/internal/payment"
	"github.com/noah-isme/acquiremock/internal/resilience"
	"github.com/noah-isme/acquiremock/internal/signature"
)

// SignatureHeader carries the hex HMAC-SHA256 of the payload.
const SignatureHeader = "X-Signature"

// webhookPayload is the callback body merchants verify against the shared
// secret. Field order does not matter: the signature is computed over the
// canonical (sorted-key) JSON form.
type webhookPayload struct {
	PaymentID string `json:"payment_id"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	PaidAt    string `json:"paid_at"`
}

// Notifier performs one webhook delivery attempt per call. Retries across
// calls are owned by the queue.
type Notifier struct {
	Payments payment.Store
	Logs     LogStore
	HTTP     resilience.HTTPClient
	Secret   string
	Logger   zerolog.Logger
}

// Deliver posts the settlement callback for the payment and records the
// attempt. The attempt number comes from the queue so the audit trail lines
// up with the retry schedule. A non-2xx response or transport error is
// returned to the caller for rescheduling.
func (n Notifier) Deliver(ctx context.Context, paymentID string, attempt int) error {
	p, err := n.Payments.GetPayment(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("load payment %s: %w", paymentID, err)
	}
	if p.WebhookURL == "" {
		return nil
	}
	if p.Status != payment.StatusPaid {
		// settled-then-refunded before delivery; nothing to announce
		n.Logger.Warn().Str("payment_id", p.ID).Str("status", string(p.Status)).Msg("skip webhook for non-paid payment")
		return nil
	}

	paidAt := p.UpdatedAt
	if p.PaidAt != nil {
		paidAt = *p.PaidAt
	}
	body := webhookPayload{
		PaymentID: p.ID,
		Reference: p.Reference,
		Amount:    p.Amount,
		Status:    "success",
		PaidAt:    paidAt.UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	sig, err := signature.Sign(body, n.Secret)
	if err != nil {
		return fmt.Errorf("sign webhook payload: %w", err)
	}

	entry := WebhookLog{
		PaymentID:     p.ID,
		WebhookURL:    p.WebhookURL,
		Payload:       string(raw),
		Signature:     sig,
		AttemptNumber: attempt,
		CreatedAt:     time.Now().UTC(),
	}

	start := time.Now()
	deliverErr := n.post(ctx, p.WebhookURL, raw, sig)
	elapsed := obs.DurationMillis(time.Since(start))

	if deliverErr != nil {
		entry.Error = deliverErr.Error()
		obs.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
		obs.WebhookAttemptLatency.WithLabelValues("failure").Observe(elapsed)
		n.Logger.Warn().Err(deliverErr).Str("payment_id", p.ID).Int("attempt", attempt).Msg("webhook delivery failed")
	} else {
		entry.Success = true
		obs.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
		obs.WebhookAttemptLatency.WithLabelValues("success").Observe(elapsed)
		n.Logger.Info().Str("payment_id", p.ID).Int("attempt", attempt).Msg("webhook delivered")
	}

	if err := n.Logs.InsertWebhookLog(ctx, entry); err != nil {
		n.Logger.Error().Err(err).Str("payment_id", p.ID).Msg("record webhook log")
	}
	if _, err := n.Payments.UpdatePayment(ctx, p.ID, func(p *payment.Payment) error {
		p.WebhookAttempts++
		return nil
	}); err != nil {
		n.Logger.Error().Err(err).Str("payment_id", p.ID).Msg("bump webhook attempts")
	}
	return deliverErr
}

func (n Notifier) post(ctx context.Context, url string, body []byte, sig string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sig)

	resp, err := n.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %s", resp.Status)
	}
	return nil
}
