// Package cache holds the engine's hot-path lookup caches: recall results
// keyed by query, entities keyed by name, and the active config, each
// sized and expired independently so a burst of queries can't evict
// the entity cache a recall depends on.
package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/projectmemory/memcore/config"
	"github.com/projectmemory/memcore/internal/store"
)

// Stats reports hit/miss counts for one cache, tracked with atomics so
// Diagnostics can read them without taking a lock shared with lookups.
type Stats struct {
	Hits   uint64
	Misses uint64
}

func (s *Stats) hit()  { atomic.AddUint64(&s.Hits, 1) }
func (s *Stats) miss() { atomic.AddUint64(&s.Misses, 1) }

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	return Stats{Hits: atomic.LoadUint64(&s.Hits), Misses: atomic.LoadUint64(&s.Misses)}
}

// Caches bundles the engine's three independent lookup caches.
type Caches struct {
	Recall *RecallCache
	Entity *EntityCache
	Config *ConfigCache
}

// New builds all three caches from the engine's configuration.
func New(cfg config.Config) *Caches {
	return &Caches{
		Recall: newRecallCache(cfg.RecallCacheSize, cfg.RecallCacheTTL),
		Entity: newEntityCache(cfg.EntityCacheSize, cfg.EntityCacheTTL),
		Config: newConfigCache(),
	}
}

// RecallCache memoizes recall results for a short TTL: repeated recalls
// for the same query within one conversational turn shouldn't re-run the
// whole candidate/decay/rank pipeline.
type RecallCache struct {
	lru   *expirable.LRU[string, []*store.RecallCandidate]
	stats Stats
}

func newRecallCache(size int, ttl time.Duration) *RecallCache {
	if size <= 0 {
		size = 1
	}
	return &RecallCache{lru: expirable.NewLRU[string, []*store.RecallCandidate](size, nil, ttl)}
}

// Get returns the cached candidates for key, if present and unexpired.
func (c *RecallCache) Get(key string) ([]*store.RecallCandidate, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.stats.hit()
	} else {
		c.stats.miss()
	}
	return v, ok
}

// Put caches candidates for key.
func (c *RecallCache) Put(key string, candidates []*store.RecallCandidate) {
	c.lru.Add(key, candidates)
}

// Invalidate drops one cached query. After a write the engine clears the
// whole cache with Purge instead, since a stale recall result is worse
// than a cache miss.
func (c *RecallCache) Invalidate(key string) { c.lru.Remove(key) }

// Purge clears every cached query.
func (c *RecallCache) Purge() { c.lru.Purge() }

// Stats returns the cache's hit/miss counters.
func (c *RecallCache) Stats() Stats { return c.stats.Snapshot() }

// EntityCache memoizes entity lookups by name, since entity extraction
// re-resolves the same handful of recurring entities constantly.
type EntityCache struct {
	lru   *expirable.LRU[string, *store.Entity]
	stats Stats
}

func newEntityCache(size int, ttl time.Duration) *EntityCache {
	if size <= 0 {
		size = 1
	}
	return &EntityCache{lru: expirable.NewLRU[string, *store.Entity](size, nil, ttl)}
}

// Get returns the cached entity for name, if present and unexpired.
func (c *EntityCache) Get(name string) (*store.Entity, bool) {
	v, ok := c.lru.Get(name)
	if ok {
		c.stats.hit()
	} else {
		c.stats.miss()
	}
	return v, ok
}

// Put caches e under its own name.
func (c *EntityCache) Put(e *store.Entity) {
	if e == nil {
		return
	}
	c.lru.Add(e.Name, e)
}

// Invalidate drops one cached entity. The engine does not call it: after
// an UpsertEntity it replaces the entry with Put.
func (c *EntityCache) Invalidate(name string) { c.lru.Remove(name) }

// Stats returns the cache's hit/miss counters.
func (c *EntityCache) Stats() Stats { return c.stats.Snapshot() }

// ConfigCache holds the single active Config, sized at one entry. It uses
// a plain LRU rather than the expirable variant: config doesn't expire on
// its own, only on an explicit reload.
type ConfigCache struct {
	lru   *lru.Cache[string, config.Config]
	stats Stats
}

const configCacheKey = "active"

func newConfigCache() *ConfigCache {
	l, _ := lru.New[string, config.Config](1)
	return &ConfigCache{lru: l}
}

// Get returns the active config, if one has been set.
func (c *ConfigCache) Get() (config.Config, bool) {
	v, ok := c.lru.Get(configCacheKey)
	if ok {
		c.stats.hit()
	} else {
		c.stats.miss()
	}
	return v, ok
}

// Set replaces the active config.
func (c *ConfigCache) Set(cfg config.Config) {
	c.lru.Add(configCacheKey, cfg)
}

// Stats returns the cache's hit/miss counters.
func (c *ConfigCache) Stats() Stats { return c.stats.Snapshot() }
