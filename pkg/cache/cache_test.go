package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/projectmemory/memcore/config"
	"github.com/projectmemory/memcore/internal/store"
)

func TestRecallCacheMissThenHit(t *testing.T) {
	cfg := config.Default()
	c := New(cfg)

	_, ok := c.Recall.Get("q1")
	require.False(t, ok)

	c.Recall.Put("q1", []*store.RecallCandidate{{Memory: &store.Memory{ID: "m1"}}})
	got, ok := c.Recall.Get("q1")
	require.True(t, ok)
	require.Len(t, got, 1)

	stats := c.Recall.Stats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
}

func TestRecallCacheExpiresAfterTTL(t *testing.T) {
	cfg := config.Default()
	cfg.RecallCacheTTL = 10 * time.Millisecond
	c := New(cfg)

	c.Recall.Put("q1", []*store.RecallCandidate{{}})
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Recall.Get("q1")
	require.False(t, ok)
}

func TestEntityCacheInvalidate(t *testing.T) {
	c := New(config.Default())
	c.Entity.Put(&store.Entity{Name: "postgres"})

	_, ok := c.Entity.Get("postgres")
	require.True(t, ok)

	c.Entity.Invalidate("postgres")
	_, ok = c.Entity.Get("postgres")
	require.False(t, ok)
}

func TestConfigCacheHoldsOneActiveConfig(t *testing.T) {
	c := New(config.Default())
	_, ok := c.Config.Get()
	require.False(t, ok)

	cfg := config.Default()
	cfg.StorePath = "custom.db"
	c.Config.Set(cfg)

	got, ok := c.Config.Get()
	require.True(t, ok)
	require.Equal(t, "custom.db", got.StorePath)
}
