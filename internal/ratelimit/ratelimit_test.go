package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/auditflow/internal/config"
)

func TestNoOpRateLimiter(t *testing.T) {
	limiter := &NoOpRateLimiter{}
	ctx := context.Background()

	tests := []struct {
		name string
		key  string
	}{
		{
			name: "Any key should be allowed",
			key:  "10.0.0.1",
		},
		{
			name: "Empty key",
			key:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				allowed, err := limiter.Allow(ctx, tt.key)
				if err != nil {
					t.Errorf("Allow() error = %v, want nil", err)
				}
				if !allowed {
					t.Errorf("Allow() = false, want true")
				}
			}
		})
	}

	if err := limiter.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestNewRedisRateLimiter_InvalidURL(t *testing.T) {
	_, err := NewRedisRateLimiter("not-a-valid-url", 100, time.Minute)
	if err == nil {
		t.Error("NewRedisRateLimiter() with invalid URL should return error")
	}
}

func TestNewRedisRateLimiter_ConnectionFailed(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisRateLimiter("redis://"+addr, 100, time.Minute)
	if err == nil {
		t.Error("NewRedisRateLimiter() with unreachable Redis should return error")
	}
}

func newRedisLimiter(t *testing.T, limit int, window time.Duration) (*RedisRateLimiter, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)

	limiter, err := NewRedisRateLimiter("redis://"+mr.Addr(), limit, window)
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })

	clock := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return clock }
	return limiter, &clock
}

func TestRedisRateLimiter_SlidingWindow(t *testing.T) {
	limiter, clock := newRedisLimiter(t, 5, time.Second)
	ctx := context.Background()

	// Same instant for all calls: members must still be distinct.
	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, allowed, "request 6 should be rate limited")

	allowed, err = limiter.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, allowed, "keys are limited independently")

	*clock = clock.Add(1100 * time.Millisecond)
	allowed, err = limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, allowed, "window expired")
}

func TestRedisRateLimiter_ServerGone(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := NewRedisRateLimiter("redis://"+mr.Addr(), 5, time.Second)
	require.NoError(t, err)
	defer limiter.Close()

	mr.Close()
	_, err = limiter.Allow(context.Background(), "client")
	assert.Error(t, err)
}

func TestLocalRateLimiter(t *testing.T) {
	limiter := NewLocalRateLimiter(3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, _ := limiter.Allow(ctx, "client-a")
	assert.False(t, allowed)

	allowed, _ = limiter.Allow(ctx, "client-b")
	assert.True(t, allowed)
	assert.NoError(t, limiter.Close())
}

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name  string
		rl    config.RateLimitConfig
		redis config.RedisConfig
		want  any
	}{
		{
			name: "disabled",
			rl:   config.RateLimitConfig{Enabled: false, Requests: 1, Window: time.Second},
			want: &NoOpRateLimiter{},
		},
		{
			name: "local",
			rl:   config.RateLimitConfig{Enabled: true, Requests: 1, Window: time.Second},
			want: &LocalRateLimiter{},
		},
		{
			name:  "redis",
			rl:    config.RateLimitConfig{Enabled: true, Requests: 1, Window: time.Second},
			redis: config.RedisConfig{Enabled: true, URL: "redis://" + mr.Addr()},
			want:  &RedisRateLimiter{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, err := New(tt.rl, tt.redis)
			require.NoError(t, err)
			defer limiter.Close()
			assert.IsType(t, tt.want, limiter)
		})
	}
}
