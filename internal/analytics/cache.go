package analytics

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/statement-analytics/internal/logger"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the report for a range.
type ComputeFunc func(ctx context.Context, r DateRange) (*Report, error)

// Cache memoizes reports by date range and ledger version. Invalidate bumps
// the version so no report computed before an upload is served after it.
type Cache struct {
	mu      sync.RWMutex
	version uint64
	reports map[string]*Report
	group   singleflight.Group
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{reports: make(map[string]*Report)}
}

// Version returns the current ledger version.
func (c *Cache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Invalidate drops every cached report.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.version++
	c.reports = make(map[string]*Report)
	c.mu.Unlock()
}

// Get returns the cached report for r or computes it. Concurrent requests for
// the same key share one computation.
func (c *Cache) Get(ctx context.Context, r DateRange, compute ComputeFunc) (*Report, error) {
	c.mu.RLock()
	version := c.version
	key := fmt.Sprintf("%s@%d", r.Key(), version)
	if rep, ok := c.reports[key]; ok {
		c.mu.RUnlock()
		log := logger.FromContext(ctx)
		log.Debug().Str("key", key).Msg("Analytics cache hit")
		return rep, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		rep, err := compute(ctx, r)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.version == version {
			c.reports[key] = rep
		}
		c.mu.Unlock()
		return rep, nil
	})
	if err != nil {
		return nil, fmt.Errorf("Cache.Get: %w", err)
	}
	return v.(*Report), nil
}
