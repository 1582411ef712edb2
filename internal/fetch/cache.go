package fetch

import (
	"sync"
	"time"
)

type cacheEntry struct {
	markdown  string
	createdAt time.Time
	expiresAt time.Time
}

// PageCache is a TTL-bounded in-memory cache of fetched pages, keyed by
// URL. A stage retry reuses pages downloaded moments earlier instead of
// hitting the sources again.
type PageCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
}

// NewPageCache creates a cache with the given size limit and TTL.
func NewPageCache(maxSize int, ttl time.Duration) *PageCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &PageCache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves cached markdown for a URL.
func (c *PageCache) Get(url string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[url]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.markdown, true
}

// Set stores markdown for a URL.
func (c *PageCache) Set(url, markdown string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := time.Now()
	c.entries[url] = &cacheEntry{
		markdown:  markdown,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
}

// Size returns the number of entries in the cache.
func (c *PageCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldest removes the oldest entry (by creation time).
func (c *PageCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
