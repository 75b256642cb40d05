package growthmodel

import (
	"context"
	"crypto/md5"
	"fmt"
	"sync"
	"time"

	"ropacal-forecast/internal/forecast"
)

// ResponseCache keeps model answers per bin cycle so a pass re-run after a
// failed write does not call the model again for the same inputs.
type ResponseCache struct {
	entries    map[string]*cacheEntry
	mutex      sync.RWMutex
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	statsMu sync.Mutex
	stats   CacheStats
}

type cacheEntry struct {
	prediction   forecast.GrowthPrediction
	createdAt    time.Time
	lastAccessed time.Time
	hitCount     int
}

// CacheStats tracks cache performance.
type CacheStats struct {
	Size       int     `json:"cache_size"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	Evictions  int64   `json:"evictions"`
	TTLSeconds int64   `json:"ttl_seconds"`
}

// NewResponseCache creates a cache holding at most maxEntries answers for ttl.
func NewResponseCache(maxEntries int, ttl time.Duration) *ResponseCache {
	if maxEntries <= 0 {
		maxEntries = 5000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResponseCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// CacheKey identifies one model input. A new collection changes
// CollectedAt and therefore the key.
func CacheKey(f forecast.CycleFeatures) string {
	signature := fmt.Sprintf("%s_%d_%d_%d_%d",
		f.BinID, f.CollectedAt, f.CycleDurationDays, f.CycleStartMonth, f.FillAtLastCollection)
	hash := md5.Sum([]byte(signature))
	return fmt.Sprintf("%x", hash[:8])
}

func (c *ResponseCache) Get(key string) (forecast.GrowthPrediction, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, found := c.entries[key]
	if !found {
		c.recordMiss()
		return forecast.GrowthPrediction{}, false
	}

	now := c.now()
	if now.Sub(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.recordMiss()
		c.recordEviction()
		return forecast.GrowthPrediction{}, false
	}

	entry.lastAccessed = now
	entry.hitCount++
	c.recordHit()
	return entry.prediction, true
}

func (c *ResponseCache) Set(key string, p forecast.GrowthPrediction) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	now := c.now()
	c.entries[key] = &cacheEntry{prediction: p, createdAt: now, lastAccessed: now}
}

// evictOldest removes the least recently used entry. Caller holds the lock.
func (c *ResponseCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.lastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccessed
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.recordEviction()
	}
}

// RemoveExpired drops entries older than the TTL and returns how many went.
func (c *ResponseCache) RemoveExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) > c.ttl {
			delete(c.entries, key)
			c.recordEviction()
			removed++
		}
	}
	return removed
}

// RunCleanup removes expired entries every interval until ctx is done.
func (c *ResponseCache) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RemoveExpired()
		}
	}
}

func (c *ResponseCache) recordHit() {
	c.statsMu.Lock()
	c.stats.Hits++
	c.statsMu.Unlock()
}

func (c *ResponseCache) recordMiss() {
	c.statsMu.Lock()
	c.stats.Misses++
	c.statsMu.Unlock()
}

func (c *ResponseCache) recordEviction() {
	c.statsMu.Lock()
	c.stats.Evictions++
	c.statsMu.Unlock()
}

// Stats returns a snapshot of cache statistics.
func (c *ResponseCache) Stats() CacheStats {
	c.mutex.RLock()
	size := len(c.entries)
	c.mutex.RUnlock()

	c.statsMu.Lock()
	s := c.stats
	c.statsMu.Unlock()

	s.Size = size
	s.MaxEntries = c.maxEntries
	s.TTLSeconds = int64(c.ttl.Seconds())
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total) * 100
	}
	return s
}
