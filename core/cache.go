package core

import (
	"sync"
	"time"
)

// ResultCache avoids repeat pipeline runs for previously processed inputs.
// Keyed by the content identity of the source video.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	ticker  *time.Ticker
	done    chan struct{}

	metrics CacheMetrics
}

type cacheEntry struct {
	Key       string
	Report    *Report
	CreatedAt time.Time
}

type CacheMetrics struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

func NewResultCache(ttl time.Duration) *ResultCache {
	c := &ResultCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		c.ticker = time.NewTicker(10 * time.Minute)
		go c.cleanupLoop()
	}
	return c
}

func (c *ResultCache) Get(key string) (*Report, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		c.metrics.Misses++
		c.mu.Unlock()
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.CreatedAt) > c.ttl {
		c.Invalidate(key)
		c.mu.Lock()
		c.metrics.Misses++
		c.mu.Unlock()
		return nil, false
	}
	c.mu.Lock()
	c.metrics.Hits++
	c.mu.Unlock()
	return entry.Report, true
}

// Put stores the report for a key. A later completion for the same key
// overwrites the earlier one; the write is idempotent.
func (c *ResultCache) Put(key string, report *Report) {
	c.mu.Lock()
	c.entries[key] = &cacheEntry{Key: key, Report: report, CreatedAt: time.Now()}
	c.mu.Unlock()
}

func (c *ResultCache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.metrics.Evictions++
	return true
}

func (c *ResultCache) Stats() CacheMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.metrics
	m.Entries = len(c.entries)
	return m
}

func (c *ResultCache) Close() {
	if c.ticker != nil {
		c.ticker.Stop()
	}
	close(c.done)
}

func (c *ResultCache) cleanupLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.ticker.C:
			c.evictExpired(time.Now())
		}
	}
}

func (c *ResultCache) evictExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.Sub(entry.CreatedAt) > c.ttl {
			delete(c.entries, key)
			c.metrics.Evictions++
		}
	}
}
