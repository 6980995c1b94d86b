package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/telhawk-systems/auditflow/internal/metrics"
)

// Cached keeps the last successful resolution of a Resolver for ttl.
// Failures are returned to the caller and never stored.
type Cached struct {
	next Resolver
	ttl  time.Duration
	now  func() time.Time

	mu        sync.RWMutex
	url       string
	expiresAt time.Time
}

// NewCached wraps r. A non-positive ttl disables caching and returns r itself.
func NewCached(r Resolver, ttl time.Duration) Resolver {
	if ttl <= 0 {
		return r
	}
	return &Cached{next: r, ttl: ttl, now: time.Now}
}

// ResolveEndpoint returns the cached URL while fresh, otherwise re-resolves.
func (c *Cached) ResolveEndpoint(ctx context.Context) (string, error) {
	if url, ok := c.get(); ok {
		metrics.DiscoveryLookups.WithLabelValues("cache", "hit").Inc()
		return url, nil
	}

	url, err := c.next.ResolveEndpoint(ctx)
	if err != nil {
		c.invalidate()
		return "", err
	}

	c.mu.Lock()
	c.url = url
	c.expiresAt = c.now().Add(c.ttl)
	c.mu.Unlock()
	return url, nil
}

func (c *Cached) get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.url == "" || !c.now().Before(c.expiresAt) {
		return "", false
	}
	return c.url, true
}

func (c *Cached) invalidate() {
	c.mu.Lock()
	c.url = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
