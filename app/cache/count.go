package cache

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/spaolacci/murmur3"
)

// CountCache memoizes filtered row counts keyed by a compiled predicate and
// its bound arguments. Counts for a predicate can only change when an
// annotation (bookmark or tag) changes, so Invalidate is called on every
// annotation mutation.
type CountCache struct {
	mu            sync.Mutex
	counts        map[string]int64
	lru           *LRUList
	maxEntries    int
	hits          int64
	misses        int64
	invalidations int64
	logger        Logger
}

// NewCountCache creates a cache holding at most maxEntries counts.
func NewCountCache(maxEntries int, logger Logger) *CountCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &CountCache{
		counts:     make(map[string]int64),
		lru:        NewLRUList(),
		maxEntries: maxEntries,
		logger:     logger,
	}
}

// Key derives the cache key for a predicate and its arguments.
func Key(predicate string, args []any) string {
	h := murmur3.New128()
	h.Write([]byte(predicate))
	for _, a := range args {
		h.Write([]byte{0})
		fmt.Fprintf(h, "%T:%v", a, a)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached count for key.
func (c *CountCache) Get(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[key]
	if !ok {
		c.misses++
		return 0, false
	}
	c.hits++
	c.lru.Touch(key)
	return n, true
}

// Put stores a count, evicting the least recently used entry when full.
func (c *CountCache) Put(key string, count int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.counts[key]; !exists {
		for len(c.counts) >= c.maxEntries {
			oldest := c.lru.RemoveOldest()
			if oldest == "" {
				break
			}
			delete(c.counts, oldest)
		}
	}
	c.counts[key] = count
	c.lru.Touch(key)
}

// Invalidate drops every cached count.
func (c *CountCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.counts) == 0 {
		return
	}
	if c.logger != nil {
		c.logger.Log("debug", fmt.Sprintf("[COUNT_CACHE] Invalidating %d cached counts", len(c.counts)))
	}
	c.counts = make(map[string]int64)
	c.lru.Clear()
	c.invalidations++
}

// Stats returns a snapshot of cache activity.
func (c *CountCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:       len(c.counts),
		Hits:          c.hits,
		Misses:        c.misses,
		Invalidations: c.invalidations,
	}
}
