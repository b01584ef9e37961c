package dataloader

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tsawler/go-detdata/vision/dataset"
	"github.com/tsawler/go-detdata/vision/transforms"
)

// Dataset is the contract for datasets a DataLoader iterates
type Dataset interface {
	Len() int
	SampleID(i int) (int64, error)
	Get(i int) (dataset.Sample, error)
}

// ConvertingDataset is implemented by datasets that can return samples with
// a converted detection target, such as *dataset.ResampledDataset
type ConvertingDataset interface {
	GetConverted(i int) (dataset.Sample, error)
}

// Resampler is implemented by datasets whose contents change between
// epochs, such as *dataset.ResampledDataset
type Resampler interface {
	ResampleNegatives() error
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize    int
	Shuffle      bool
	MaxCacheSize int           // Samples to cache, 0 disables caching
	CacheManager *CacheManager // Optional shared cache, overrides MaxCacheSize
	Rand         *rand.Rand    // Shuffle source, seeded from the clock when nil

	// Convert loads samples through ConvertingDataset.GetConverted and adds
	// the CHW tensor of the transformed image
	Convert bool
}

// DataLoader iterates a dataset in batches. Reset starts a new epoch and
// resamples the dataset first when it is a Resampler.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	epoch     int
	mu        sync.Mutex

	cacheManager *CacheManager
	ownedCache   bool

	converting ConvertingDataset
	converter  *transforms.CHWConverter
}

// NewDataLoader creates a new data loader positioned at the start of epoch 0
func NewDataLoader(ds Dataset, config Config) (*DataLoader, error) {
	if config.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", config.BatchSize)
	}

	rng := config.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	cacheManager := config.CacheManager
	ownedCache := false
	if cacheManager == nil && config.MaxCacheSize > 0 {
		var err error
		if cacheManager, err = NewCacheManager(config.MaxCacheSize); err != nil {
			return nil, err
		}
		ownedCache = true
	}

	dl := &DataLoader{
		dataset:      ds,
		batchSize:    config.BatchSize,
		shuffle:      config.Shuffle,
		rng:          rng,
		cacheManager: cacheManager,
		ownedCache:   ownedCache,
	}
	if config.Convert {
		conv, ok := ds.(ConvertingDataset)
		if !ok {
			return nil, errors.Errorf("dataset %T does not support conversion", ds)
		}
		dl.converting = conv
		dl.converter = transforms.NewCHWConverter()
	}
	dl.resetIndices()
	return dl, nil
}

// Len returns the number of batches in the current epoch
func (dl *DataLoader) Len() int {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// Reset starts the next epoch. Datasets implementing Resampler draw a new
// index before the visit order is rebuilt.
func (dl *DataLoader) Reset() error {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	if r, ok := dl.dataset.(Resampler); ok {
		if err := r.ResampleNegatives(); err != nil {
			return errors.Wrap(err, "failed to resample dataset")
		}
	}
	dl.epoch++
	dl.resetIndices()

	log.Debug("[DataLoader] Epoch ", dl.epoch, ": ", len(dl.indices), " samples")
	return nil
}

func (dl *DataLoader) resetIndices() {
	n := dl.dataset.Len()
	if cap(dl.indices) < n {
		dl.indices = make([]int, n)
	}
	dl.indices = dl.indices[:n]
	for i := range dl.indices {
		dl.indices[i] = i
	}
	if dl.shuffle {
		dl.rng.Shuffle(n, func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
	dl.position = 0
}

// NextBatch returns the next batch of samples, or nil when the epoch is done.
// The position only advances once the whole batch has loaded, so a failed
// call can be retried.
func (dl *DataLoader) NextBatch() ([]dataset.Sample, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 {
		return nil, nil
	}

	batchSize := dl.batchSize
	if remaining < batchSize {
		batchSize = remaining
	}

	batch := make([]dataset.Sample, 0, batchSize)
	for _, idx := range dl.indices[dl.position : dl.position+batchSize] {
		sample, err := dl.load(idx)
		if err != nil {
			return nil, err
		}
		batch = append(batch, sample)
	}
	dl.position += batchSize
	return batch, nil
}

// load fetches a sample, going through the cache when one is configured
func (dl *DataLoader) load(idx int) (dataset.Sample, error) {
	if dl.cacheManager == nil {
		return dl.get(idx)
	}

	id, err := dl.dataset.SampleID(idx)
	if err != nil {
		return dataset.Sample{}, err
	}
	if sample, ok := dl.cacheManager.Get(id); ok {
		return sample, nil
	}

	sample, err := dl.get(idx)
	if err != nil {
		return dataset.Sample{}, err
	}
	dl.cacheManager.Put(sample)
	return sample, nil
}

func (dl *DataLoader) get(idx int) (dataset.Sample, error) {
	if dl.converting == nil {
		return dl.dataset.Get(idx)
	}

	sample, err := dl.converting.GetConverted(idx)
	if err != nil {
		return dataset.Sample{}, err
	}
	sample.Tensor = dl.converter.Convert(sample.Image)
	return sample, nil
}

// Progress returns the current position in the epoch
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position, len(dl.indices)
}

// Epoch returns the number of completed Reset calls
func (dl *DataLoader) Epoch() int {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.epoch
}

// Stats returns cache statistics, or an empty value without a cache
func (dl *DataLoader) Stats() CacheStats {
	if dl.cacheManager == nil {
		return CacheStats{}
	}
	return dl.cacheManager.Stats()
}

// ClearCache clears the sample cache unless it is shared
func (dl *DataLoader) ClearCache() {
	if dl.ownedCache {
		dl.cacheManager.Clear()
	}
}

// GetCacheManager returns the cache manager for sharing between DataLoaders
func (dl *DataLoader) GetCacheManager() *CacheManager {
	return dl.cacheManager
}
