package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/acquiremock/internal/notify"
	"github.com/noah-isme/acquiremock/internal/obs"
	"github.com/noah-isme/acquiremock/internal/payment"
	"github.com/noah-isme/acquiremock/internal/repo"
	"github.com/noah-isme/acquiremock/internal/resilience"
	"github.com/noah-isme/acquiremock/internal/signature"
)

func TestMain(m *testing.M) {
	obs.MustRegisterDomainMetrics("test", prometheus.NewRegistry())
	m.Run()
}

const testSecret = "test-webhook-secret"

func paidPayment(t *testing.T, store *repo.Memory, webhookURL string) payment.Payment {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	p := payment.Payment{
		ID:         "pay-1",
		Amount:     5000,
		Reference:  "ORDER-1",
		WebhookURL: webhookURL,
		Status:     payment.StatusPaid,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(15 * time.Minute),
		PaidAt:     &now,
	}
	require.NoError(t, store.CreatePayment(context.Background(), p))
	return p
}

func newNotifier(store *repo.Memory) notify.Notifier {
	return notify.Notifier{
		Payments: store,
		Logs:     store,
		HTTP:     resilience.HTTPClient{Client: &http.Client{}, MaxAttempts: 1, Timeout: 2 * time.Second},
		Secret:   testSecret,
		Logger:   zerolog.Nop(),
	}
}

func TestDeliverSignsAndLogs(t *testing.T) {
	var gotSig atomic.Value
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(body)
		gotSig.Store(r.Header.Get(notify.SignatureHeader))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := repo.NewMemory()
	p := paidPayment(t, store, srv.URL)

	require.NoError(t, newNotifier(store).Deliver(context.Background(), p.ID, 1))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody.Load().([]byte), &payload))
	require.Equal(t, p.ID, payload["payment_id"])
	require.Equal(t, "ORDER-1", payload["reference"])
	require.EqualValues(t, 5000, payload["amount"])
	require.Equal(t, "success", payload["status"])
	require.Equal(t, p.PaidAt.Format(time.RFC3339), payload["paid_at"])

	sig := gotSig.Load().(string)
	require.Len(t, sig, 64)
	require.True(t, signature.Verify(payload, sig, testSecret), "merchant-side verification must pass")

	logs, err := store.ListWebhookLogs(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.True(t, logs[0].Success)
	require.Equal(t, 1, logs[0].AttemptNumber)
	require.Equal(t, sig, logs[0].Signature)

	stored, err := store.GetPayment(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.WebhookAttempts)
}

func TestDeliverRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := repo.NewMemory()
	p := paidPayment(t, store, srv.URL)

	err := newNotifier(store).Deliver(context.Background(), p.ID, 2)
	require.Error(t, err)

	logs, lerr := store.ListWebhookLogs(context.Background(), p.ID)
	require.NoError(t, lerr)
	require.Len(t, logs, 1)
	require.False(t, logs[0].Success)
	require.Equal(t, 2, logs[0].AttemptNumber)
	require.NotEmpty(t, logs[0].Error)
}

func TestDeliverSkipsWithoutWebhookURL(t *testing.T) {
	store := repo.NewMemory()
	p := paidPayment(t, store, "")

	require.NoError(t, newNotifier(store).Deliver(context.Background(), p.ID, 1))

	logs, err := store.ListWebhookLogs(context.Background(), p.ID)
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestDeliverSkipsNonPaidPayment(t *testing.T) {
	store := repo.NewMemory()
	now := time.Now().UTC()
	require.NoError(t, store.CreatePayment(context.Background(), payment.Payment{
		ID: "pay-2", Status: payment.StatusRefunded, WebhookURL: "https://merchant.test/hook",
		CreatedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, newNotifier(store).Deliver(context.Background(), "pay-2", 1))
	logs, err := store.ListWebhookLogs(context.Background(), "pay-2")
	require.NoError(t, err)
	require.Empty(t, logs)
}
