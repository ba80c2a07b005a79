package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := Limiter{Client: client, Prefix: "test"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, _, err := l.Allow(ctx, "otp:pay-1", time.Minute, 3)
		require.NoError(t, err)
		require.True(t, allowed, "attempt %d should pass", i+1)
	}
	allowed, remaining, _, err := l.Allow(ctx, "otp:pay-1", time.Minute, 3)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Zero(t, remaining)
}

func TestAllowIsolatesKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := Limiter{Client: client, Prefix: "test"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, _, err := l.Allow(ctx, "otp:pay-1", time.Minute, 3)
		require.NoError(t, err)
	}
	allowed, _, _, err := l.Allow(ctx, "otp:pay-2", time.Minute, 3)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestAllowDisabledWithoutClient(t *testing.T) {
	allowed, _, _, err := Limiter{}.Allow(context.Background(), "k", time.Minute, 5)
	require.NoError(t, err)
	require.True(t, allowed)
}
