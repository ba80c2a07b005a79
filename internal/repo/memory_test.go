package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/acquiremock/internal/notify"
	"github.com/noah-isme/acquiremock/internal/payment"
)

func TestMemoryGetUnknownPayment(t *testing.T) {
	m := NewMemory()
	_, err := m.GetPayment(context.Background(), "nope")
	require.ErrorIs(t, err, payment.ErrNotFound)
}

func TestMemoryUpdatePaymentPersistsMutation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreatePayment(ctx, payment.Payment{ID: "p1", Status: payment.StatusPending}))

	updated, err := m.UpdatePayment(ctx, "p1", func(p *payment.Payment) error {
		p.Status = payment.StatusPaid
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, payment.StatusPaid, updated.Status)

	got, err := m.GetPayment(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, payment.StatusPaid, got.Status)
}

func TestMemoryUpdatePaymentDiscardsOnError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreatePayment(ctx, payment.Payment{ID: "p1", Status: payment.StatusPending}))

	sentinel := errors.New("boom")
	_, err := m.UpdatePayment(ctx, "p1", func(p *payment.Payment) error {
		p.Status = payment.StatusPaid
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := m.GetPayment(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, payment.StatusPending, got.Status)
}

func TestMemoryUpdatePaymentSerializesWriters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreatePayment(ctx, payment.Payment{ID: "p1", Status: payment.StatusPending}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.UpdatePayment(ctx, "p1", func(p *payment.Payment) error {
				p.WebhookAttempts++
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.GetPayment(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 50, got.WebhookAttempts)
}

func TestMemoryFindPaymentsByReferenceNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now().UTC()
	require.NoError(t, m.CreatePayment(ctx, payment.Payment{ID: "old", Reference: "ORDER-1", CreatedAt: base}))
	require.NoError(t, m.CreatePayment(ctx, payment.Payment{ID: "new", Reference: "ORDER-1", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, m.CreatePayment(ctx, payment.Payment{ID: "other", Reference: "ORDER-2", CreatedAt: base}))

	got, err := m.FindPaymentsByReference(ctx, "ORDER-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "new", got[0].ID)
	require.Equal(t, "old", got[1].ID)
}

func TestMemoryWebhookLogsKeepOrderAndIDs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, m.InsertWebhookLog(ctx, notify.WebhookLog{PaymentID: "p1", AttemptNumber: i}))
	}
	logs, err := m.ListWebhookLogs(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	require.EqualValues(t, 1, logs[0].ID)
	require.Equal(t, 3, logs[2].AttemptNumber)
}
