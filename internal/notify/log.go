package notify

import (
	"context"
	"time"
)

// WebhookLog records one delivery attempt against a merchant webhook.
type WebhookLog struct {
	ID            int64     `json:"id"`
	PaymentID     string    `json:"payment_id"`
	WebhookURL    string    `json:"webhook_url"`
	Payload       string    `json:"payload"`
	Signature     string    `json:"signature"`
	AttemptNumber int       `json:"attempt_number"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// LogStore persists the delivery audit trail.
type LogStore interface {
	InsertWebhookLog(ctx context.Context, log WebhookLog) error
	ListWebhookLogs(ctx context.Context, paymentID string) ([]WebhookLog, error)
}
