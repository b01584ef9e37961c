package dataloader

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/tsawler/go-detdata/vision/dataset"
)

// CacheManager is an LRU cache of loaded samples keyed by sample id.
// It can be shared between DataLoaders over the same source.
type CacheManager struct {
	cache   *lru.Cache
	maxSize int

	mu     sync.Mutex
	hits   int64
	misses int64
}

// NewCacheManager creates a cache holding at most maxSize samples
func NewCacheManager(maxSize int) (*CacheManager, error) {
	cache, err := lru.New(maxSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create cache of size %d", maxSize)
	}
	return &CacheManager{cache: cache, maxSize: maxSize}, nil
}

// Get retrieves a sample from the cache
func (cm *CacheManager) Get(id int64) (dataset.Sample, bool) {
	v, ok := cm.cache.Get(id)

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if !ok {
		cm.misses++
		return dataset.Sample{}, false
	}
	cm.hits++
	return v.(dataset.Sample), true
}

// Put adds a sample to the cache, evicting the least recently used one if full
func (cm *CacheManager) Put(sample dataset.Sample) {
	cm.cache.Add(sample.ID, sample)
}

// Clear drops every cached sample. Statistics are kept.
func (cm *CacheManager) Clear() {
	cm.cache.Purge()
}

// ResetStats resets the hit and miss counters
func (cm *CacheManager) ResetStats() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.hits = 0
	cm.misses = 0
}

// Stats returns cache statistics
func (cm *CacheManager) Stats() CacheStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	stats := CacheStats{
		Size:    cm.cache.Len(),
		MaxSize: cm.maxSize,
		Hits:    cm.hits,
		Misses:  cm.misses,
	}
	if total := cm.hits + cm.misses; total > 0 {
		stats.HitRate = float64(cm.hits) / float64(total) * 100
	}
	return stats
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
