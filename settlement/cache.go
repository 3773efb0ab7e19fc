package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/warp/trip-settlements/ledger"
	"github.com/warp/trip-settlements/observability"
)

// Cache memoizes the last aggregation for TTL. Invalidate must be called on
// every booking, catalog or payout mutation.
type Cache struct {
	Source Source
	TTL    time.Duration
	Clock  ledger.Clock

	mu         sync.Mutex
	result     *Result
	computedAt time.Time
	generation uint64
}

func NewCache(src Source, ttl time.Duration) *Cache {
	return &Cache{Source: src, TTL: ttl}
}

var _ Source = (*Cache)(nil)

// Compute returns the cached result while fresh, otherwise recomputes.
func (c *Cache) Compute(ctx context.Context) (Result, error) {
	c.mu.Lock()
	now := c.Clock.Now()
	if c.result != nil && c.TTL > 0 && now.Sub(c.computedAt) < c.TTL {
		r := *c.result
		c.mu.Unlock()
		observability.RecordCacheLookup(true)
		return r, nil
	}
	gen := c.generation
	c.mu.Unlock()
	observability.RecordCacheLookup(false)

	r, err := c.Source.Compute(ctx)
	if err != nil {
		return Result{}, err
	}

	c.mu.Lock()
	// An invalidation during the computation makes r stale; return it but
	// don't keep it.
	if c.generation == gen {
		c.result = &r
		c.computedAt = now
	}
	c.mu.Unlock()
	return r, nil
}

// Invalidate drops the cached result.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = nil
	c.generation++
}
