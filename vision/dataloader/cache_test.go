package dataloader

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-detdata/vision/dataset"
)

func TestNewCacheManager(t *testing.T) {
	cm, err := NewCacheManager(10)
	require.NoError(t, err)
	assert.Equal(t, CacheStats{MaxSize: 10}, cm.Stats())

	_, err = NewCacheManager(0)
	assert.Error(t, err)
}

func TestCacheManagerBasicOperations(t *testing.T) {
	cm, err := NewCacheManager(5)
	require.NoError(t, err)

	_, ok := cm.Get(1)
	assert.False(t, ok)

	cm.Put(dataset.Sample{ID: 1})
	sample, ok := cm.Get(1)
	assert.True(t, ok)
	assert.Equal(t, int64(1), sample.ID)

	stats := cm.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 50.0, stats.HitRate, 1e-9)
}

func TestCacheManagerLRUEviction(t *testing.T) {
	cm, err := NewCacheManager(3)
	require.NoError(t, err)

	for id := int64(1); id <= 3; id++ {
		cm.Put(dataset.Sample{ID: id})
	}
	// Touch 1 so that 2 becomes the least recently used entry
	_, ok := cm.Get(1)
	require.True(t, ok)

	cm.Put(dataset.Sample{ID: 4})

	_, ok = cm.Get(2)
	assert.False(t, ok, "least recently used sample is evicted")
	for _, id := range []int64{1, 3, 4} {
		_, ok = cm.Get(id)
		assert.True(t, ok, "sample %d is cached", id)
	}
	assert.Equal(t, 3, cm.Stats().Size)
}

func TestCacheManagerClearAndResetStats(t *testing.T) {
	cm, err := NewCacheManager(3)
	require.NoError(t, err)

	cm.Put(dataset.Sample{ID: 1})
	cm.Get(1)
	cm.Clear()

	stats := cm.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(1), stats.Hits, "statistics survive Clear")

	cm.ResetStats()
	assert.Equal(t, CacheStats{MaxSize: 3}, cm.Stats())
}

func TestCacheManagerConcurrency(t *testing.T) {
	cm, err := NewCacheManager(50)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := int64(g*100 + i)
				cm.Put(dataset.Sample{ID: id})
				cm.Get(id)
			}
		}(g)
	}
	wg.Wait()

	stats := cm.Stats()
	assert.Equal(t, 50, stats.Size)
	assert.Equal(t, int64(800), stats.Hits+stats.Misses)
}

func TestCacheStatsString(t *testing.T) {
	stats := CacheStats{Size: 2, MaxSize: 4, Hits: 3, Misses: 1, HitRate: 75}
	assert.Equal(t, "Cache: 2/4 items, Hits: 3, Misses: 1, Hit Rate: 75.0%", stats.String())
}
