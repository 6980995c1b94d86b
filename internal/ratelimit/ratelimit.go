// Package ratelimit limits how many events a client may publish per window.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/telhawk-systems/auditflow/internal/config"
	"github.com/telhawk-systems/auditflow/internal/metrics"
	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// New builds the limiter selected by configuration: a no-op when rate
// limiting is disabled, Redis when it is enabled, otherwise in-process.
func New(rl config.RateLimitConfig, rd config.RedisConfig) (RateLimiter, error) {
	if !rl.Enabled {
		return &NoOpRateLimiter{}, nil
	}
	if rd.Enabled {
		limiter, err := NewRedisRateLimiter(rd.URL, rl.Requests, rl.Window)
		if err != nil {
			return nil, err
		}
		return limiter, nil
	}
	return NewLocalRateLimiter(rl.Requests, rl.Window), nil
}

// slidingWindow trims the window, then admits the request when the count is
// below the limit. The key expires one window after its last admission.
// Nanosecond scores stay strings so Lua never rounds them.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = ARGV[1]
	local window_start = ARGV[2]
	local limit = tonumber(ARGV[3])
	local ttl = ARGV[4]
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, 0, window_start)

	local current = redis.call('ZCARD', key)
	if current < limit then
		redis.call('ZADD', key, now, member)
		redis.call('EXPIRE', key, ttl)
		return 1
	end
	return 0
`)

// RedisRateLimiter is a sliding-window limiter shared by every ingress replica.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewRedisRateLimiter(redisURL string, limit int, window time.Duration) (*RedisRateLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisRateLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}, nil
}

// Allow implements sliding window rate limiting using Redis
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := r.now().UnixNano()
	windowStart := now - r.window.Nanoseconds()
	ttl := int64((r.window + time.Second - 1) / time.Second)
	// Requests landing on the same nanosecond still need distinct members.
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	result, err := slidingWindow.Run(ctx, r.client, []string{"ratelimit:" + key},
		now, windowStart, r.limit, ttl, member).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed := result == 1
	if !allowed {
		metrics.RateLimitHits.WithLabelValues("redis").Inc()
	}

	return allowed, nil
}

func (r *RedisRateLimiter) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// LocalRateLimiter keeps one token bucket per key in process memory.
// Buckets refill at limit/window and burst up to limit.
type LocalRateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalRateLimiter(limit int, window time.Duration) *LocalRateLimiter {
	return &LocalRateLimiter{
		limit:    rate.Limit(float64(limit) / window.Seconds()),
		burst:    limit,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	if !limiter.Allow() {
		metrics.RateLimitHits.WithLabelValues("local").Inc()
		return false, nil
	}
	return true, nil
}

func (l *LocalRateLimiter) Close() error {
	return nil
}

// NoOpRateLimiter always allows requests (for testing or disabled rate limiting)
type NoOpRateLimiter struct{}

func (n *NoOpRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (n *NoOpRateLimiter) Close() error {
	return nil
}
