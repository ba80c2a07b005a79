package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/acquiremock/internal/notify"
	"github.com/noah-isme/acquiremock/internal/repo"
)

func TestWebhookLogsEndpoint(t *testing.T) {
	store := repo.NewMemory()
	p := paidPayment(t, store, "https://merchant.test/hook")
	require.NoError(t, store.InsertWebhookLog(context.Background(), notify.WebhookLog{
		PaymentID: p.ID, AttemptNumber: 1, Success: false, Error: "connection refused",
	}))
	require.NoError(t, store.InsertWebhookLog(context.Background(), notify.WebhookLog{
		PaymentID: p.ID, AttemptNumber: 2, Success: true,
	}))

	r := chi.NewRouter()
	notify.LogsHandler{Logs: store, Payments: store, Logger: zerolog.Nop()}.Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/webhook-logs/"+p.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		PaymentID string              `json:"payment_id"`
		Logs      []notify.WebhookLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, p.ID, body.PaymentID)
	require.Len(t, body.Logs, 2)
	require.False(t, body.Logs[0].Success)
	require.True(t, body.Logs[1].Success)
}

func TestWebhookLogsUnknownPayment(t *testing.T) {
	store := repo.NewMemory()
	r := chi.NewRouter()
	notify.LogsHandler{Logs: store, Payments: store, Logger: zerolog.Nop()}.Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/webhook-logs/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "PAYMENT_NOT_FOUND", body["error"])
}
