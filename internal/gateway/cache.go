package gateway

import (
	"sync"
	"time"

	"github.com/propyield/platform/internal/clock"
)

// ResponseCache is a short-TTL, in-process cache of composed JSON bodies
// keyed by a canonicalized request fingerprint (spec.md §4.8 "Cache
// composed responses behind short TTLs keyed by a canonicalized request
// fingerprint"). Grounded on eventbus.Gate's keyed-timestamp shape,
// extended to hold a value rather than a bare admit/deny decision, since
// the gateway needs to return the cached body itself on a hit.
type ResponseCache struct {
	mu    sync.Mutex
	items map[string]cacheItem
	ttl   time.Duration
	clock clock.Clock
}

type cacheItem struct {
	body      []byte
	expiresAt time.Time
}

// NewResponseCache builds a cache with the given TTL.
func NewResponseCache(ttl time.Duration, c clock.Clock) *ResponseCache {
	if c == nil {
		c = clock.Real{}
	}
	return &ResponseCache{items: make(map[string]cacheItem), ttl: ttl, clock: c}
}

// Get returns the cached body for key, if present and unexpired.
func (c *ResponseCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok || c.clock.Now().After(item.expiresAt) {
		return nil, false
	}
	return item.body, true
}

// Set stores body under key with the cache's configured TTL.
func (c *ResponseCache) Set(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem{body: body, expiresAt: c.clock.Now().Add(c.ttl)}
}
