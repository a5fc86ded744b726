package cache

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/theoremus-urban-solutions/departures/model"
)

// DefaultTTLs returns the per-priority freshness windows.
func DefaultTTLs() map[model.Priority]time.Duration {
	return map[model.Priority]time.Duration{
		model.PriorityCritical: 30 * time.Minute,
		model.PriorityHigh:     10 * time.Minute,
		model.PriorityNormal:   5 * time.Minute,
		model.PriorityLow:      time.Minute,
	}
}

// Capacity per device memory class.
var memoryClassCapacity = map[string]int{
	"low":    50,
	"normal": 200,
	"high":   500,
}

// CapacityForMemoryClass maps low|normal|high to a maximum entry count.
// Unknown classes get the normal capacity.
func CapacityForMemoryClass(class string) int {
	if n, ok := memoryClassCapacity[class]; ok {
		return n
	}
	return memoryClassCapacity["normal"]
}

// Options configures a Cache. Zero values select defaults.
type Options struct {
	MaxEntries     int
	TTLs           map[model.Priority]time.Duration
	StaleRetention time.Duration
	SweepInterval  time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// StoreOptions carries per-entry metadata from a response.
type StoreOptions struct {
	Validator string
	// TTL overrides the priority tier's TTL when positive.
	TTL time.Duration
}

// Cache is safe for concurrent use. Reads go straight to the underlying
// store; writes that may trigger eviction are serialised by mu.
type Cache struct {
	mu    sync.Mutex
	items *gocache.Cache

	maxEntries     int
	ttls           map[model.Priority]time.Duration
	staleRetention time.Duration
	now            func() time.Time
	log            *slog.Logger

	hits          atomic.Int64
	misses        atomic.Int64
	evictions     atomic.Int64
	revalidations atomic.Int64
}

// New builds a cache. A positive SweepInterval starts go-cache's janitor.
func New(opts Options) *Cache {
	ttls := DefaultTTLs()
	for p, d := range opts.TTLs {
		if d > 0 {
			ttls[p] = d
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	retention := opts.StaleRetention
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	sweep := opts.SweepInterval
	if sweep < 0 {
		sweep = 0
	}
	return &Cache{
		items:          gocache.New(gocache.NoExpiration, sweep),
		maxEntries:     opts.MaxEntries,
		ttls:           ttls,
		staleRetention: retention,
		now:            now,
		log:            log.With("component", "cache"),
	}
}

// TTLFor returns the freshness window for a priority tier.
func (c *Cache) TTLFor(p model.Priority) time.Duration {
	if d, ok := c.ttls[p]; ok {
		return d
	}
	return c.ttls[model.PriorityNormal]
}

// Store saves payload under key using the priority tier's TTL.
func (c *Cache) Store(key string, payload []byte, p model.Priority) {
	c.StoreWithOptions(key, payload, p, StoreOptions{})
}

// StoreWithOptions saves payload with a validator and an optional TTL override.
func (c *Cache) StoreWithOptions(key string, payload []byte, p model.Priority, opts StoreOptions) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.TTLFor(p)
	}
	e := newEntry(key, payload, opts.Validator, p, ttl, c.now())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Set(key, e, ttl+c.staleRetention)
	c.enforceCapacity()
}

// Retrieve returns the payload for key if a fresh entry exists.
func (c *Cache) Retrieve(key string) ([]byte, bool) {
	if payload, ok := c.Peek(key); ok {
		return payload, true
	}
	c.misses.Add(1)
	return nil, false
}

// Peek is Retrieve for callers that fall through to Retrieve on a miss. Only
// hits are counted.
func (c *Cache) Peek(key string) ([]byte, bool) {
	e, ok := c.get(key)
	now := c.now()
	if !ok || !e.Fresh(now) {
		return nil, false
	}
	e.touch(now)
	c.hits.Add(1)
	return e.Payload, true
}

// Lookup returns the entry for key whether fresh or stale. It does not count
// as a hit or miss.
func (c *Cache) Lookup(key string) (*Entry, bool) {
	return c.get(key)
}

// Revalidate restarts the freshness window of an existing entry after the
// upstream confirmed it unchanged. A positive ttl replaces the entry's TTL.
func (c *Cache) Revalidate(key string, ttl time.Duration) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.get(key)
	if !ok {
		return nil, false
	}
	if ttl <= 0 {
		ttl = old.TTL
	}
	e := newEntry(key, old.Payload, old.Validator, old.Priority, ttl, c.now())
	c.items.Set(key, e, ttl+c.staleRetention)
	c.revalidations.Add(1)
	return e, true
}

// Remove deletes key.
func (c *Cache) Remove(key string) {
	c.items.Delete(key)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Flush()
}

// OnMemoryPressure is called by the host when the process must shed memory.
func (c *Cache) OnMemoryPressure() {
	n := c.items.ItemCount()
	c.Clear()
	c.log.Warn("cache cleared on memory pressure", "entries", n)
}

// DeleteExpired removes entries whose retention window has passed according
// to the cache clock. It returns the number of entries removed.
func (c *Cache) DeleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.DeleteExpired()
	now := c.now()
	removed := 0
	for key, it := range c.items.Items() {
		e, ok := it.Object.(*Entry)
		if !ok {
			continue
		}
		if !now.Before(e.ExpiresAt().Add(c.staleRetention)) {
			c.items.Delete(key)
			removed++
		}
	}
	return removed
}

// Len is the number of stored entries, fresh or stale.
func (c *Cache) Len() int { return c.items.ItemCount() }

// MaxEntries is the configured capacity. Zero means unbounded.
func (c *Cache) MaxEntries() int { return c.maxEntries }

func (c *Cache) get(key string) (*Entry, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	e, ok := v.(*Entry)
	return e, ok
}

// enforceCapacity must be called with mu held.
func (c *Cache) enforceCapacity() {
	if c.maxEntries <= 0 {
		return
	}
	all := c.items.Items()
	over := len(all) - c.maxEntries
	if over <= 0 {
		return
	}
	now := c.now()
	victims := make([]*Entry, 0, len(all))
	for _, it := range all {
		if e, ok := it.Object.(*Entry); ok {
			victims = append(victims, e)
		}
	}
	sort.Slice(victims, func(i, j int) bool {
		a, b := victims[i], victims[j]
		af, bf := a.Fresh(now), b.Fresh(now)
		if af != bf {
			return !af
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.LastAccess().Before(b.LastAccess())
	})
	for _, e := range victims[:min(over, len(victims))] {
		c.items.Delete(e.Key)
		c.evictions.Add(1)
		c.log.Debug("evicted", "key", e.Key, "priority", e.Priority.String(), "fresh", e.Fresh(now))
	}
}
