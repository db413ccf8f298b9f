package judge

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long an escalated verdict is reused.
const DefaultCacheTTL = 15 * time.Minute

// CacheKey derives a stable key from candidate text, category, and guard
// level. The same triple always produces the same key.
func CacheKey(text, category string, guard GuardLevel) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	_, _ = h.Write([]byte{0x1f})
	_, _ = h.Write([]byte(category))
	_, _ = h.Write([]byte{0x1f})
	_, _ = h.Write([]byte(guard))
	return fmt.Sprintf("%016x", h.Sum64())
}

type cacheEntry struct {
	accepted bool
	expires  time.Time
}

// VerdictCache holds escalated verdicts for a fixed TTL. Expired entries
// are never returned.
type VerdictCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewVerdictCache creates a cache with the given TTL; zero means
// DefaultCacheTTL.
func NewVerdictCache(ttl time.Duration) *VerdictCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &VerdictCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached verdict for a key, or false if absent or expired.
func (c *VerdictCache) Get(key string) (accepted, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[key]
	if !found || c.now().After(e.expires) {
		return false, false
	}
	return e.accepted, true
}

// Put stores a verdict with a fresh TTL.
func (c *VerdictCache) Put(key string, accepted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{accepted: accepted, expires: c.now().Add(c.ttl)}
}

// Sweep removes expired entries and reports how many were dropped.
func (c *VerdictCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	dropped := 0
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of entries, expired included.
func (c *VerdictCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
