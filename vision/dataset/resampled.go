package dataset

import (
	"fmt"
	"image"
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tsawler/go-detdata/vision/coco"
	"github.com/tsawler/go-detdata/vision/transforms"
)

// ErrIndexOutOfRange is returned by Get for indices outside [0, Len())
var ErrIndexOutOfRange = errors.New("index out of range")

// Source is the random-access annotated image collection that a
// ResampledDataset indexes. *coco.Dataset implements it.
type Source interface {
	Len() int
	SampleID(pos int) (int64, error)
	Annotations(id int64) ([]coco.Annotation, error)
	Image(id int64) (image.Image, error)
}

// Converter is implemented by sources that can turn a sample into a
// transformed image and detection target. *coco.Dataset implements it.
type Converter interface {
	Item(id int64) (image.Image, *coco.Target, error)
}

// Sample is one resolved entry of a ResampledDataset. Target is only set by
// GetConverted, in which case Image is the transformed image. Tensor is
// filled by a converting DataLoader.
type Sample struct {
	ID          int64
	Image       image.Image
	Annotations []coco.Annotation
	Target      *coco.Target
	Tensor      *transforms.ProcessedImage
}

// Config holds everything needed to build a ResampledDataset over a COCO
// annotation file
type Config struct {
	ImgFolder           string
	AnnFile             string
	Transforms          coco.Transform
	ReturnMasks         bool
	RemapMSCOCOCategory bool
	NegRatio            float64    // Fraction of negative samples to keep, 0 keeps none
	Rand                *rand.Rand // Optional, seeded from the clock when nil
}

// Stats describes the partition computed by the last rebuild
type Stats struct {
	Positives        int
	Negatives        int
	SampledNegatives int
}

// ResampledDataset exposes every sample of its source that has at least one
// annotation, followed by a random subset of the samples without any.
//
// The index table is rebuilt from scratch by ResampleNegatives. A
// ResampledDataset is not safe for concurrent use.
type ResampledDataset struct {
	source   Source
	negRatio float64
	rng      *rand.Rand
	ids      []int64
	stats    Stats
}

// NewResampledDataset loads the COCO dataset described by cfg and builds
// the initial index
func NewResampledDataset(cfg Config) (*ResampledDataset, error) {
	src, err := coco.Load(cfg.ImgFolder, cfg.AnnFile, coco.Options{
		Transforms:          cfg.Transforms,
		ReturnMasks:         cfg.ReturnMasks,
		RemapMSCOCOCategory: cfg.RemapMSCOCOCategory,
	})
	if err != nil {
		return nil, err
	}
	return NewResampledDatasetFromSource(src, cfg.NegRatio, cfg.Rand)
}

// NewResampledDatasetFromSource wraps an existing source and builds the
// initial index. A nil rng is replaced by a clock-seeded generator.
func NewResampledDatasetFromSource(src Source, negRatio float64, rng *rand.Rand) (*ResampledDataset, error) {
	if math.IsNaN(negRatio) {
		return nil, errors.New("negative ratio must be a number")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	d := &ResampledDataset{
		source:   src,
		negRatio: negRatio,
		rng:      rng,
	}
	if err := d.buildIDs(); err != nil {
		return nil, err
	}
	return d, nil
}

// Len returns the size of the current index table
func (d *ResampledDataset) Len() int {
	return len(d.ids)
}

// SampleID resolves index i of the table to a source sample id
func (d *ResampledDataset) SampleID(i int) (int64, error) {
	if i < 0 || i >= len(d.ids) {
		return 0, errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, len(d.ids))
	}
	return d.ids[i], nil
}

// Get returns the image and raw annotations of the sample at index i
func (d *ResampledDataset) Get(i int) (Sample, error) {
	id, err := d.SampleID(i)
	if err != nil {
		return Sample{}, err
	}

	anns, err := d.source.Annotations(id)
	if err != nil {
		return Sample{}, errors.Wrapf(err, "failed to load annotations of sample %d", id)
	}
	img, err := d.source.Image(id)
	if err != nil {
		return Sample{}, errors.Wrapf(err, "failed to load image of sample %d", id)
	}

	return Sample{ID: id, Image: img, Annotations: anns}, nil
}

// GetConverted returns the sample at index i with its converted target. The
// source must implement Converter.
func (d *ResampledDataset) GetConverted(i int) (Sample, error) {
	conv, ok := d.source.(Converter)
	if !ok {
		return Sample{}, errors.Errorf("source %T cannot convert samples", d.source)
	}

	id, err := d.SampleID(i)
	if err != nil {
		return Sample{}, err
	}
	anns, err := d.source.Annotations(id)
	if err != nil {
		return Sample{}, errors.Wrapf(err, "failed to load annotations of sample %d", id)
	}
	img, target, err := conv.Item(id)
	if err != nil {
		return Sample{}, errors.Wrapf(err, "failed to convert sample %d", id)
	}

	return Sample{ID: id, Image: img, Annotations: anns, Target: target}, nil
}

// ResampleNegatives discards the index table and rebuilds it with a fresh
// random subset of negatives. On error the previous table is kept.
func (d *ResampledDataset) ResampleNegatives() error {
	return d.buildIDs()
}

// NegRatio returns the configured negative ratio
func (d *ResampledDataset) NegRatio() float64 {
	return d.negRatio
}

// Stats returns the partition sizes of the last rebuild
func (d *ResampledDataset) Stats() Stats {
	return d.stats
}

// IndexTable returns a copy of the current index table
func (d *ResampledDataset) IndexTable() []int64 {
	ids := make([]int64, len(d.ids))
	copy(ids, d.ids)
	return ids
}

// RestoreIndexTable replaces the index table with ids, for example one read
// back from a checkpoint. Every id must exist in the source.
func (d *ResampledDataset) RestoreIndexTable(ids []int64) error {
	known := make(map[int64]bool, d.source.Len())
	for i := 0; i < d.source.Len(); i++ {
		id, err := d.source.SampleID(i)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve position %d", i)
		}
		known[id] = true
	}
	for _, id := range ids {
		if !known[id] {
			return errors.Errorf("sample id %d is not part of the dataset", id)
		}
	}

	d.ids = make([]int64, len(ids))
	copy(d.ids, ids)
	return nil
}

// String returns a short description of the current index
func (d *ResampledDataset) String() string {
	return fmt.Sprintf("ResampledDataset: %d samples (%d positives, %d/%d negatives, ratio %g)",
		len(d.ids), d.stats.Positives, d.stats.SampledNegatives, d.stats.Negatives, d.negRatio)
}

func (d *ResampledDataset) buildIDs() error {
	var posIDs, negIDs []int64

	for i := 0; i < d.source.Len(); i++ {
		id, err := d.source.SampleID(i)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve position %d", i)
		}
		anns, err := d.source.Annotations(id)
		if err != nil {
			return errors.Wrapf(err, "failed to load annotations of sample %d", id)
		}

		if len(anns) > 0 {
			posIDs = append(posIDs, id)
		} else {
			negIDs = append(negIDs, id)
		}
	}

	nNeg := numNegatives(len(negIDs), d.negRatio)

	ids := make([]int64, 0, len(posIDs)+nNeg)
	ids = append(ids, posIDs...)
	ids = append(ids, sampleWithoutReplacement(d.rng, negIDs, nNeg)...)

	d.ids = ids
	d.stats = Stats{
		Positives:        len(posIDs),
		Negatives:        len(negIDs),
		SampledNegatives: nNeg,
	}

	log.Debug("[Dataset] Built index: ", len(posIDs), " positives, ",
		nNeg, "/", len(negIDs), " negatives")
	return nil
}

// numNegatives returns floor(n*ratio) capped to [0, n]
func numNegatives(n int, ratio float64) int {
	if n == 0 || ratio <= 0 {
		return 0
	}
	if ratio >= 1 {
		return n
	}
	return int(math.Floor(float64(n) * ratio))
}

// sampleWithoutReplacement picks k distinct elements of ids in random order
func sampleWithoutReplacement(rng *rand.Rand, ids []int64, k int) []int64 {
	pool := make([]int64, len(ids))
	copy(pool, ids)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}
