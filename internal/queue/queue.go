// Package queue implements a small Redis-backed task queue used for webhook
// delivery and transactional email. Tasks are scheduled in a sorted set keyed
// by availability time; in-flight tasks are tracked in a processing set with a
// visibility timeout so a crashed worker's tasks get redelivered; tasks that
// exhaust their attempts land in a dead-letter list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/acquiremock/internal/resilience"
)

// Task is a unit of background work.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	// Attempt is the 1-based delivery attempt, set when a worker hands the
	// task to its handler. Ignored on enqueue.
	Attempt int
}

type envelope struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}

// keyspace builds the Redis key names shared by enqueuers and workers.
type keyspace struct {
	prefix string
}

func (k keyspace) queue(kind string) string {
	return k.join("queue:" + kind)
}

func (k keyspace) processing(kind string) string {
	return k.join("queue:" + kind + ":processing")
}

func (k keyspace) dlq(kind string) string {
	return k.join("queue:" + kind + ":dlq")
}

func (k keyspace) dedup(kind, key string) string {
	return k.join("queue:dedup:" + kind + ":" + key)
}

func (k keyspace) join(s string) string {
	if k.prefix == "" {
		return s
	}
	return k.prefix + ":" + s
}

func validKind(kind string) bool {
	if kind == "" {
		return false
	}
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// Enqueuer publishes tasks.
type Enqueuer struct {
	R        *redis.Client
	Prefix   string
	DedupTTL time.Duration
}

// Enqueue schedules the task. When an idempotency key is supplied the task is
// enqueued at most once within the deduplication window.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	if !validKind(t.Kind) {
		return fmt.Errorf("queue: invalid task kind %q", t.Kind)
	}
	ks := keyspace{prefix: e.Prefix}
	msg := envelope{
		Kind:        t.Kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: t.MaxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 10
	}

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, ks.dedup(t.Kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return e.R.ZAdd(ctx, ks.queue(t.Kind), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err()
}

// Worker consumes tasks of a single kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	Handler           func(context.Context, Task) error
	RetryBase         time.Duration
	RetryJitter       float64
	Logger            zerolog.Logger
}

// Run processes tasks until the context is cancelled.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	if !validKind(w.Kind) {
		return fmt.Errorf("queue: invalid worker kind %q", w.Kind)
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	retryBase := w.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}

	ks := keyspace{prefix: w.Prefix}
	queueKey := ks.queue(w.Kind)
	processingKey := ks.processing(w.Kind)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	reaper := time.NewTicker(time.Second)
	defer reaper.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-reaper.C:
			if err := w.requeueExpired(ctx, processingKey, queueKey); err != nil {
				wg.Wait()
				return err
			}
		default:
		}

		res, err := w.R.ZPopMin(ctx, queueKey, 1).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				wg.Wait()
				return nil
			}
			if errors.Is(err, redis.Nil) {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			wg.Wait()
			return err
		}
		if len(res) == 0 {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		member, ok := res[0].Member.(string)
		if !ok {
			continue
		}
		var msg envelope
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			w.Logger.Error().Err(err).Str("kind", w.Kind).Msg("drop undecodable task")
			continue
		}
		now := time.Now().UnixNano()
		if msg.AvailableAt > now {
			// not due yet, push back and wait
			w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: member})
			sleep := time.Duration(msg.AvailableAt - now)
			if sleep > time.Second {
				sleep = time.Second
			}
			time.Sleep(sleep)
			continue
		}

		msg.Attempt++
		raw, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		deadline := time.Now().Add(visibility).UnixNano()
		if err := w.R.ZAdd(ctx, processingKey, redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
			wg.Wait()
			return err
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(raw string, m envelope) {
			defer func() { <-sem }()
			defer wg.Done()
			task := Task{
				Kind:           w.Kind,
				Payload:        m.Payload,
				IdempotencyKey: m.Key,
				MaxAttempts:    m.MaxAttempts,
				Attempt:        m.Attempt,
			}
			if err := w.Handler(ctx, task); err != nil {
				w.Logger.Warn().Err(err).
					Str("kind", w.Kind).
					Int("attempt", m.Attempt).
					Int("max_attempts", m.MaxAttempts).
					Msg("task failed")
				w.retryOrBury(ctx, ks, queueKey, processingKey, raw, m, retryBase)
				return
			}
			w.ack(ctx, ks, processingKey, raw, m)
		}(string(raw), msg)
	}
}

func (w Worker) retryOrBury(ctx context.Context, ks keyspace, queueKey, processingKey, raw string, msg envelope, base time.Duration) {
	_ = w.R.ZRem(ctx, processingKey, raw)
	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		buried, err := json.Marshal(msg)
		if err != nil {
			return
		}
		_ = w.R.LPush(ctx, ks.dlq(msg.Kind), buried).Err()
		if msg.Key != "" {
			_ = w.R.Del(ctx, ks.dedup(msg.Kind, msg.Key)).Err()
		}
		w.Logger.Error().Str("kind", msg.Kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Msg("task moved to dlq")
		return
	}
	msg.AvailableAt = time.Now().Add(resilience.Backoff(base, msg.Attempt, w.RetryJitter)).UnixNano()
	rescheduled, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: rescheduled}).Err()
}

func (w Worker) ack(ctx context.Context, ks keyspace, processingKey, raw string, msg envelope) {
	_ = w.R.ZRem(ctx, processingKey, raw)
	if msg.Key != "" {
		_ = w.R.Del(ctx, ks.dedup(msg.Kind, msg.Key)).Err()
	}
}

// requeueExpired moves tasks whose visibility deadline passed back onto the
// queue for redelivery.
func (w Worker) requeueExpired(ctx context.Context, processingKey, queueKey string) error {
	now := float64(time.Now().UnixNano())
	due, err := w.R.ZRangeByScore(ctx, processingKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range due {
		var msg envelope
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			_ = w.R.ZRem(ctx, processingKey, raw).Err()
			continue
		}
		_ = w.R.ZRem(ctx, processingKey, raw).Err()
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
	}
	return nil
}
