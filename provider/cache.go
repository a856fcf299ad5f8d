package provider

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Stats are cache hit statistics.
type Stats struct {
	Entries int     `json:"entries"`
	Hits    int     `json:"hits"`
	Misses  int     `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// CacheOptions configures a Cache.
type CacheOptions struct {
	// MaxEntries triggers pruning when exceeded.
	MaxEntries int
	// TTL is the lifetime of a cached response.
	TTL time.Duration
	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

// Cache is an in-memory response cache keyed by the full request shape
// (prompt, model, temperature, system prompt). Entries expire after a TTL;
// pruning drops expired entries first, then the least-used ones. Safe for
// concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       int
	misses     int
}

type cacheEntry struct {
	response Response
	created  time.Time
	hits     int
}

// NewCache creates a Cache holding up to 1000 entries for one hour each
// unless overridden.
func NewCache(optFns ...func(o *CacheOptions)) *Cache {
	opts := CacheOptions{
		MaxEntries: 1000,
		TTL:        time.Hour,
		Clock:      time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Cache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: opts.MaxEntries,
		ttl:        opts.TTL,
		now:        opts.Clock,
	}
}

// WithMaxEntries sets the pruning threshold.
func WithMaxEntries(n int) func(o *CacheOptions) {
	return func(o *CacheOptions) { o.MaxEntries = n }
}

// WithTTL sets the entry lifetime.
func WithTTL(d time.Duration) func(o *CacheOptions) {
	return func(o *CacheOptions) { o.TTL = d }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) func(o *CacheOptions) {
	return func(o *CacheOptions) { o.Clock = clock }
}

func cacheKey(prompt, model string, temperature float64, system string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%g|%s", prompt, model, temperature, system)))
	return fmt.Sprintf("%x", sum)[:32]
}

// Get returns the cached response for the request shape, or nil on a miss or
// expired entry. Returned responses are marked Cached.
func (c *Cache) Get(prompt, model string, temperature float64, system string) *Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(prompt, model, temperature, system)
	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil
	}
	if c.now().After(entry.created.Add(c.ttl)) {
		delete(c.entries, key)
		c.misses++
		return nil
	}

	entry.hits++
	c.hits++
	resp := entry.response
	resp.Cached = true
	return &resp
}

// Put caches a response under the request shape, pruning when over capacity.
func (c *Cache) Put(prompt, model string, temperature float64, system string, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(prompt, model, temperature, system)
	c.entries[key] = &cacheEntry{response: *resp, created: c.now()}
	if len(c.entries) > c.maxEntries {
		c.pruneLocked()
	}
}

// pruneLocked drops expired entries, then the least-used entries down to half
// capacity.
func (c *Cache) pruneLocked() {
	for key, entry := range c.entries {
		if c.now().After(entry.created.Add(c.ttl)) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type keyed struct {
		key  string
		hits int
	}
	ranked := make([]keyed, 0, len(c.entries))
	for key, entry := range c.entries {
		ranked = append(ranked, keyed{key: key, hits: entry.hits})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].hits < ranked[j].hits })

	toRemove := len(c.entries) - c.maxEntries/2
	for i := 0; i < toRemove && i < len(ranked); i++ {
		delete(c.entries, ranked[i].key)
	}
}

// Clear drops all entries and resets the statistics.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.hits = 0
	c.misses = 0
}

// Stats returns entry count and hit statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses, HitRate: rate}
}
