package core

import (
	"testing"
	"time"
)

func TestCacheHitAndMiss(t *testing.T) {
	c := NewResultCache(time.Minute)
	defer c.Close()

	if _, ok := c.Get("missing"); ok {
		t.Fatalf("unexpected hit")
	}

	c.Put("k", &Report{Grade: "A"})
	report, ok := c.Get("k")
	if !ok || report.Grade != "A" {
		t.Fatalf("expected hit, got %v %v", report, ok)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Fatalf("unexpected metrics: %+v", stats)
	}
}

func TestCachePutIdempotent(t *testing.T) {
	c := NewResultCache(time.Minute)
	defer c.Close()

	c.Put("k", &Report{Grade: "C"})
	c.Put("k", &Report{Grade: "A"})

	report, ok := c.Get("k")
	if !ok || report.Grade != "A" {
		t.Fatalf("later put should win, got %v", report)
	}
	if c.Stats().Entries != 1 {
		t.Fatalf("duplicate entries for the same key")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewResultCache(10 * time.Millisecond)
	defer c.Close()

	c.Put("k", &Report{Grade: "B"})
	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatalf("expired entry served")
	}
	if c.Stats().Evictions != 1 {
		t.Fatalf("expiry not counted as eviction: %+v", c.Stats())
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := NewResultCache(time.Minute)
	defer c.Close()

	c.Put("k", &Report{})
	if !c.Invalidate("k") {
		t.Fatalf("invalidate should report removal")
	}
	if c.Invalidate("k") {
		t.Fatalf("second invalidate should be a no-op")
	}
	if _, ok := c.Get("k"); ok {
		t.Fatalf("invalidated entry served")
	}
}

func TestCacheEvictExpired(t *testing.T) {
	c := NewResultCache(time.Minute)
	defer c.Close()

	c.Put("old", &Report{})
	c.Put("new", &Report{})
	c.evictExpired(time.Now().Add(2 * time.Minute))

	if c.Stats().Entries != 0 {
		t.Fatalf("cleanup left entries: %+v", c.Stats())
	}
}
