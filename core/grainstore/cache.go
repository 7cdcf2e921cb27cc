package grainstore

import (
	"sync/atomic"

	"github.com/dgraph-io/ristretto"

	"github.com/voxfield/kitbash/core/grain"
)

const (
	cacheNumCounters = 1e5
	cacheMaxCost     = 32 << 20
	cacheBufferItems = 64

	// cacheBaseCost covers the fixed struct fields beyond the bit planes.
	cacheBaseCost = 256
)

// CacheStats tracks read-through cache performance.
type CacheStats struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// Hits returns the number of cache hits.
func (s *CacheStats) Hits() int64 { return s.hits.Load() }

// Misses returns the number of cache misses.
func (s *CacheStats) Misses() int64 { return s.misses.Load() }

// HitRate returns hits/(hits+misses), 0 before any lookups.
func (s *CacheStats) HitRate() float64 {
	total := s.Hits() + s.Misses()
	if total == 0 {
		return 0
	}
	return float64(s.Hits()) / float64(total)
}

// grainCache is a ristretto cache keyed by grain ID. Grains are immutable,
// so entries never expire and cached pointers are returned directly.
type grainCache struct {
	cache *ristretto.Cache
	stats *CacheStats
}

func newGrainCache() (*grainCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheNumCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: cacheBufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &grainCache{cache: cache, stats: &CacheStats{}}, nil
}

func (c *grainCache) get(grainID string) (*grain.Grain, bool) {
	value, found := c.cache.Get(grainID)
	if !found {
		c.stats.misses.Add(1)
		return nil, false
	}

	g, ok := value.(*grain.Grain)
	if !ok {
		c.stats.misses.Add(1)
		return nil, false
	}

	c.stats.hits.Add(1)
	return g, true
}

func (c *grainCache) set(g *grain.Grain) {
	cost := int64(cacheBaseCost + len(g.BitArrayPlus) + len(g.BitArrayMinus))
	c.cache.Set(g.GrainID, g, cost)
}

// wait blocks until pending sets are applied.
func (c *grainCache) wait() {
	c.cache.Wait()
}

func (c *grainCache) close() {
	c.cache.Close()
}
