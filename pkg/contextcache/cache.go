// Package contextcache provides the bounded in-memory cache of execution
// contexts with TTL eviction. It is a memory-bound cache only; persisted
// executions remain the system of record.
package contextcache

import (
	"log/slog"
	"maps"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an untouched context stays visible.
	DefaultTTL = 24 * time.Hour

	// DefaultSweepInterval is how often the background sweep purges expired
	// entries.
	DefaultSweepInterval = 10 * time.Minute
)

// Stats is a diagnostic snapshot of the cache.
type Stats struct {
	Total   int           `json:"total_contexts"`
	Expired int           `json:"expired_contexts"`
	Active  int           `json:"active_contexts"`
	TTL     time.Duration `json:"ttl"`
}

type entry struct {
	values      map[string]any
	lastTouched time.Time
}

// Cache maps execution IDs to their in-flight context values. Entries expire
// a TTL after their last touch; a background sweep purges them off the
// execution critical path.
type Cache struct {
	logger *slog.Logger
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewCache creates a context cache and starts its sweep goroutine. A
// non-positive ttl or sweep interval falls back to the defaults. Close must
// be called to stop the sweep.
func NewCache(logger *slog.Logger, ttl, sweepInterval time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	cache := &Cache{
		logger:  logger.With("module", "contextcache"),
		ttl:     ttl,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}

	go cache.sweepLoop(sweepInterval)

	return cache
}

// Put stores the context values for an execution, replacing any previous
// entry.
func (c *Cache) Put(executionID string, values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	copied := make(map[string]any, len(values))
	maps.Copy(copied, values)

	c.entries[executionID] = &entry{values: copied, lastTouched: time.Now()}
}

// Get returns a copy of the context values for an execution. Expired entries
// are invisible.
func (c *Cache) Get(executionID string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[executionID]
	if !ok || c.expired(ent, time.Now()) {
		return nil, false
	}

	copied := make(map[string]any, len(ent.values))
	maps.Copy(copied, ent.values)

	return copied, true
}

// Merge atomically applies a result fragment to an execution's context under
// the given key and refreshes the entry's TTL. Merging into an absent or
// expired entry is a no-op and returns false.
func (c *Cache) Merge(executionID, key string, fragment any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[executionID]
	if !ok || c.expired(ent, time.Now()) {
		return false
	}

	ent.values[key] = fragment
	ent.lastTouched = time.Now()

	return true
}

// Touch refreshes an entry's TTL without modifying its values.
func (c *Cache) Touch(executionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[executionID]
	if ok {
		ent.lastTouched = time.Now()
	}
}

// Remove deletes an execution's entry. Removing an absent entry is a no-op.
func (c *Cache) Remove(executionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, executionID)
}

// Stats returns a snapshot of total, expired and active entry counts.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	stats := Stats{Total: len(c.entries), TTL: c.ttl}

	for _, ent := range c.entries {
		if c.expired(ent, now) {
			stats.Expired++
		} else {
			stats.Active++
		}
	}

	return stats
}

// Close stops the background sweep. It is safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Cache) expired(ent *entry, now time.Time) bool {
	return now.Sub(ent.lastTouched) > c.ttl
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			removed := c.sweep()
			if removed > 0 {
				c.logger.Info("Swept expired execution contexts", "removed", removed)
			}
		}
	}
}

func (c *Cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0

	for executionID, ent := range c.entries {
		if c.expired(ent, now) {
			delete(c.entries, executionID)

			removed++
		}
	}

	return removed
}
