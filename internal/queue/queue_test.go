package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func runWorker(t *testing.T, w Worker, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, w.Run(ctx))
}

func TestEnqueueAndProcess(t *testing.T) {
	r := newTestRedis(t)
	e := Enqueuer{R: r, Prefix: "test"}

	var got atomic.Value
	require.NoError(t, e.Enqueue(context.Background(), Task{Kind: "webhook-deliver", Payload: []byte(`{"payment_id":"p1"}`)}))

	w := Worker{
		R: r, Prefix: "test", Kind: "webhook-deliver", Logger: zerolog.Nop(),
		Handler: func(_ context.Context, task Task) error {
			got.Store(string(task.Payload))
			return nil
		},
	}
	runWorker(t, w, 500*time.Millisecond)

	require.Equal(t, `{"payment_id":"p1"}`, got.Load())
	require.Zero(t, r.ZCard(context.Background(), "test:queue:webhook-deliver").Val())
	require.Zero(t, r.ZCard(context.Background(), "test:queue:webhook-deliver:processing").Val())
}

func TestEnqueueDedupByIdempotencyKey(t *testing.T) {
	r := newTestRedis(t)
	e := Enqueuer{R: r, Prefix: "test"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Enqueue(ctx, Task{Kind: "webhook-deliver", Payload: []byte(`{}`), IdempotencyKey: "pay-1"}))
	}
	require.EqualValues(t, 1, r.ZCard(ctx, "test:queue:webhook-deliver").Val())
}

func TestFailedTaskRetriesThenBuries(t *testing.T) {
	r := newTestRedis(t)
	e := Enqueuer{R: r, Prefix: "test"}
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, e.Enqueue(ctx, Task{Kind: "webhook-deliver", Payload: []byte(`{}`), IdempotencyKey: "pay-1", MaxAttempts: 2}))

	w := Worker{
		R: r, Prefix: "test", Kind: "webhook-deliver", RetryBase: time.Millisecond, Logger: zerolog.Nop(),
		Handler: func(context.Context, Task) error {
			calls.Add(1)
			return context.DeadlineExceeded
		},
	}
	runWorker(t, w, 700*time.Millisecond)

	require.EqualValues(t, 2, calls.Load())
	require.EqualValues(t, 1, r.LLen(ctx, "test:queue:webhook-deliver:dlq").Val())
	// dedup key released so a later outcome can enqueue again
	require.Zero(t, r.Exists(ctx, "test:queue:dedup:webhook-deliver:pay-1").Val())
}

func TestHandlerSeesAttemptNumber(t *testing.T) {
	r := newTestRedis(t)
	e := Enqueuer{R: r, Prefix: "test"}
	ctx := context.Background()

	var attempts []int
	require.NoError(t, e.Enqueue(ctx, Task{Kind: "email-otp", Payload: []byte(`{}`), MaxAttempts: 3}))

	w := Worker{
		R: r, Prefix: "test", Kind: "email-otp", RetryBase: time.Millisecond, Logger: zerolog.Nop(),
		Handler: func(_ context.Context, task Task) error {
			attempts = append(attempts, task.Attempt)
			if task.Attempt < 2 {
				return context.DeadlineExceeded
			}
			return nil
		},
	}
	runWorker(t, w, 700*time.Millisecond)

	require.Equal(t, []int{1, 2}, attempts)
}
