package csrf

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps issued tokens in Redis with a TTL matching the checkout window.
type RedisStore struct {
	R      *redis.Client
	Prefix string
}

func (s RedisStore) key(paymentID string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "csrf"
	}
	return prefix + ":" + paymentID
}

// Put stores the token, replacing any previous one for the payment.
func (s RedisStore) Put(ctx context.Context, paymentID, token string, ttl time.Duration) error {
	if s.R == nil {
		return errors.New("csrf: redis client not configured")
	}
	return s.R.Set(ctx, s.key(paymentID), token, ttl).Err()
}

// Get returns the issued token or "" when none is stored.
func (s RedisStore) Get(ctx context.Context, paymentID string) (string, error) {
	if s.R == nil {
		return "", errors.New("csrf: redis client not configured")
	}
	val, err := s.R.Get(ctx, s.key(paymentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// Delete removes the issued token.
func (s RedisStore) Delete(ctx context.Context, paymentID string) error {
	if s.R == nil {
		return errors.New("csrf: redis client not configured")
	}
	return s.R.Del(ctx, s.key(paymentID)).Err()
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryStore is an in-process TokenStore used in tests and single-node runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Put stores the token with its expiry.
func (s *MemoryStore) Put(_ context.Context, paymentID, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[paymentID] = memoryEntry{token: token, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Get returns the stored token unless it has expired.
func (s *MemoryStore) Get(_ context.Context, paymentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[paymentID]
	if !ok {
		return "", nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.entries, paymentID)
		return "", nil
	}
	return entry.token, nil
}

// Delete removes the stored token.
func (s *MemoryStore) Delete(_ context.Context, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, paymentID)
	return nil
}
