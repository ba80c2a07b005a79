package notify_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/acquiremock/internal/common"
	"github.com/noah-isme/acquiremock/internal/notify"
	"github.com/noah-isme/acquiremock/internal/payment"
	"github.com/noah-isme/acquiremock/internal/queue"
	"github.com/noah-isme/acquiremock/internal/repo"
)

func newDispatcher(t *testing.T) (notify.Dispatcher, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return notify.Dispatcher{
		Queue:              queue.Enqueuer{R: client, Prefix: "test"},
		WebhookMaxAttempts: 3,
		EmailMaxAttempts:   3,
		Logger:             zerolog.Nop(),
	}, client
}

func TestPaymentSettledEnqueuesWebhookAndReceipt(t *testing.T) {
	d, client := newDispatcher(t)
	ctx := context.Background()

	d.PaymentSettled(ctx, payment.Payment{
		ID:         "pay-1",
		WebhookURL: "https://merchant.test/hook",
		OTPEmail:   "payer@test.com",
	})

	require.EqualValues(t, 1, client.ZCard(ctx, "test:queue:"+notify.KindWebhookDeliver).Val())
	require.EqualValues(t, 1, client.ZCard(ctx, "test:queue:"+notify.KindReceiptEmail).Val())
}

func TestPaymentSettledIsIdempotentPerPayment(t *testing.T) {
	d, client := newDispatcher(t)
	ctx := context.Background()

	p := payment.Payment{ID: "pay-1", WebhookURL: "https://merchant.test/hook"}
	d.PaymentSettled(ctx, p)
	d.PaymentSettled(ctx, p)

	require.EqualValues(t, 1, client.ZCard(ctx, "test:queue:"+notify.KindWebhookDeliver).Val())
}

func TestPaymentSettledSkipsEmptyTargets(t *testing.T) {
	d, client := newDispatcher(t)
	ctx := context.Background()

	d.PaymentSettled(ctx, payment.Payment{ID: "pay-1"})

	require.Zero(t, client.ZCard(ctx, "test:queue:"+notify.KindWebhookDeliver).Val())
	require.Zero(t, client.ZCard(ctx, "test:queue:"+notify.KindReceiptEmail).Val())
}

func TestOTPIssuedEnqueuesEmail(t *testing.T) {
	d, client := newDispatcher(t)
	ctx := context.Background()

	d.OTPIssued(ctx, payment.Payment{ID: "pay-1", OTPEmail: "payer@test.com", OTPCode: "1234"})
	d.OTPIssued(ctx, payment.Payment{ID: "pay-2"})

	require.EqualValues(t, 1, client.ZCard(ctx, "test:queue:"+notify.KindOTPEmail).Val())
}

func TestEmailWorkerSendsOTPAndReceipt(t *testing.T) {
	store := repo.NewMemory()
	p := paidPayment(t, store, "")
	mail := &common.InMemoryEmail{}
	w := notify.EmailWorker{Mail: mail, Payments: store, CurrencySymbol: "₴", Logger: zerolog.Nop()}

	require.NoError(t, w.HandleOTP(context.Background(), queue.Task{
		Payload: []byte(`{"payment_id":"pay-1","email":"payer@test.com","code":"1234"}`),
	}))
	require.NoError(t, w.HandleReceipt(context.Background(), queue.Task{
		Payload: []byte(`{"payment_id":"` + p.ID + `","email":"payer@test.com"}`),
	}))

	require.Len(t, mail.Outbox, 2)
	require.Contains(t, mail.Outbox[0].HTML, "1234")
	require.Contains(t, mail.Outbox[1].HTML, "5000")
}
