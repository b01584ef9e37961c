package dataset

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-detdata/vision/coco"
	"github.com/tsawler/go-detdata/vision/transforms"
)

// fakeSource is an in-memory Source. Sample ids are 100+position and the
// image of a sample is a 1x1 image whose red channel encodes its position.
type fakeSource struct {
	positive []bool
	failAnns bool
}

func newFakeSource(positive ...bool) *fakeSource {
	return &fakeSource{positive: positive}
}

// newPatternSource creates n samples where every third sample is positive
func newPatternSource(n int) *fakeSource {
	positive := make([]bool, n)
	for i := range positive {
		positive[i] = i%3 == 0
	}
	return &fakeSource{positive: positive}
}

func (s *fakeSource) Len() int { return len(s.positive) }

func (s *fakeSource) SampleID(pos int) (int64, error) {
	if pos < 0 || pos >= len(s.positive) {
		return 0, errors.Errorf("position %d out of range", pos)
	}
	return int64(100 + pos), nil
}

func (s *fakeSource) pos(id int64) (int, error) {
	pos := int(id - 100)
	if pos < 0 || pos >= len(s.positive) {
		return 0, errors.Errorf("unknown id %d", id)
	}
	return pos, nil
}

func (s *fakeSource) Annotations(id int64) ([]coco.Annotation, error) {
	if s.failAnns {
		return nil, errors.New("annotations unavailable")
	}
	pos, err := s.pos(id)
	if err != nil {
		return nil, err
	}
	if !s.positive[pos] {
		return nil, nil
	}
	return []coco.Annotation{{ID: id, ImageID: id, CategoryID: 1, BBox: []float64{0, 0, 1, 1}}}, nil
}

func (s *fakeSource) Image(id int64) (image.Image, error) {
	pos, err := s.pos(id)
	if err != nil {
		return nil, err
	}
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: uint8(pos), A: 255})
	return img, nil
}

func (s *fakeSource) counts() (positives, negatives int) {
	for _, p := range s.positive {
		if p {
			positives++
		} else {
			negatives++
		}
	}
	return positives, negatives
}

func (s *fakeSource) positiveIDs() []int64 {
	var ids []int64
	for i, p := range s.positive {
		if p {
			ids = append(ids, int64(100+i))
		}
	}
	return ids
}

func newRand() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func TestIndexSize(t *testing.T) {
	ratios := []float64{0, 0.1, 0.25, 1.0 / 3, 0.5, 0.75, 0.99, 1}
	sizes := []int{0, 1, 2, 7, 30, 101}

	for _, n := range sizes {
		src := newPatternSource(n)
		p, neg := src.counts()

		for _, ratio := range ratios {
			d, err := NewResampledDatasetFromSource(src, ratio, newRand())
			require.NoError(t, err)

			expectedNeg := int(math.Floor(float64(neg) * ratio))
			if expectedNeg > neg {
				expectedNeg = neg
			}
			assert.Equal(t, p+expectedNeg, d.Len(), "n=%d ratio=%g", n, ratio)

			table := d.IndexTable()
			assert.Equal(t, src.positiveIDs(), nilIfEmpty(table[:p]), "positives come first in source order")

			seen := make(map[int64]int)
			for _, id := range table {
				seen[id]++
			}
			for _, id := range src.positiveIDs() {
				assert.Equal(t, 1, seen[id], "positive %d appears exactly once", id)
			}
			for _, id := range table[p:] {
				assert.Equal(t, 1, seen[id], "negative %d is sampled without replacement", id)
				pos, err := src.pos(id)
				require.NoError(t, err)
				assert.False(t, src.positive[pos])
			}

			stats := d.Stats()
			assert.Equal(t, Stats{Positives: p, Negatives: neg, SampledNegatives: expectedNeg}, stats)
		}
	}
}

func nilIfEmpty(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	return ids
}

func TestResampleWithZeroRatio(t *testing.T) {
	src := newPatternSource(20)
	p, _ := src.counts()

	d, err := NewResampledDatasetFromSource(src, 0, newRand())
	require.NoError(t, err)
	first := d.IndexTable()

	for i := 0; i < 5; i++ {
		require.NoError(t, d.ResampleNegatives())
		assert.Equal(t, p, d.Len())
		assert.Equal(t, first, d.IndexTable())
	}
}

func TestResampleWithFullRatio(t *testing.T) {
	src := newPatternSource(20)
	p, _ := src.counts()

	d, err := NewResampledDatasetFromSource(src, 1, newRand())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.ResampleNegatives())
		require.Equal(t, 20, d.Len())

		table := d.IndexTable()
		assert.Equal(t, src.positiveIDs(), table[:p])

		sorted := append([]int64(nil), table...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		for i, id := range sorted {
			assert.Equal(t, int64(100+i), id, "every sample is present")
		}
	}
}

func TestRatioAboveOneIsCapped(t *testing.T) {
	src := newFakeSource(true, false, false)

	d, err := NewResampledDatasetFromSource(src, 5, newRand())
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())

	d, err = NewResampledDatasetFromSource(src, -1, newRand())
	require.NoError(t, err)
	assert.Equal(t, 1, d.Len())
}

func TestNaNRatio(t *testing.T) {
	_, err := NewResampledDatasetFromSource(newFakeSource(true), math.NaN(), newRand())
	assert.Error(t, err)
}

func TestResampleChangesSubset(t *testing.T) {
	src := newFakeSource(make([]bool, 200)...)

	d, err := NewResampledDatasetFromSource(src, 0.5, newRand())
	require.NoError(t, err)
	first := d.IndexTable()

	changed := false
	for i := 0; i < 10 && !changed; i++ {
		require.NoError(t, d.ResampleNegatives())
		assert.Equal(t, 100, d.Len())
		changed = !assert.ObjectsAreEqual(first, d.IndexTable())
	}
	assert.True(t, changed, "resampling draws fresh negatives")
}

func TestDeterministicWithSeed(t *testing.T) {
	src := newPatternSource(50)

	a, err := NewResampledDatasetFromSource(src, 0.3, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	b, err := NewResampledDatasetFromSource(src, 0.3, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	assert.Equal(t, a.IndexTable(), b.IndexTable())
	require.NoError(t, a.ResampleNegatives())
	require.NoError(t, b.ResampleNegatives())
	assert.Equal(t, a.IndexTable(), b.IndexTable())
}

func TestNilRandIsSeeded(t *testing.T) {
	d, err := NewResampledDatasetFromSource(newPatternSource(9), 0.5, nil)
	require.NoError(t, err)
	assert.Equal(t, 3+3, d.Len())
}

func TestEmptySource(t *testing.T) {
	d, err := NewResampledDatasetFromSource(newFakeSource(), 0.5, newRand())
	require.NoError(t, err)
	assert.Equal(t, 0, d.Len())

	_, err = d.Get(0)
	assert.Equal(t, ErrIndexOutOfRange, errors.Cause(err))
}

func TestGet(t *testing.T) {
	src := newPatternSource(12)
	d, err := NewResampledDatasetFromSource(src, 0.5, newRand())
	require.NoError(t, err)

	for i := 0; i < d.Len(); i++ {
		sample, err := d.Get(i)
		require.NoError(t, err)

		id, err := d.SampleID(i)
		require.NoError(t, err)
		assert.Equal(t, id, sample.ID)

		wantAnns, err := src.Annotations(id)
		require.NoError(t, err)
		wantImg, err := src.Image(id)
		require.NoError(t, err)

		assert.Equal(t, wantAnns, sample.Annotations)
		assert.Equal(t, wantImg, sample.Image)
	}

	for _, i := range []int{-1, d.Len(), d.Len() + 10} {
		_, err := d.Get(i)
		require.Error(t, err)
		assert.Equal(t, ErrIndexOutOfRange, errors.Cause(err))
	}
}

func TestFailedRebuildKeepsTable(t *testing.T) {
	src := newPatternSource(10)
	d, err := NewResampledDatasetFromSource(src, 1, newRand())
	require.NoError(t, err)
	before := d.IndexTable()

	src.failAnns = true
	assert.Error(t, d.ResampleNegatives())
	assert.Equal(t, before, d.IndexTable())

	_, err = NewResampledDatasetFromSource(src, 1, newRand())
	assert.Error(t, err)
}

func TestRestoreIndexTable(t *testing.T) {
	src := newPatternSource(10)
	d, err := NewResampledDatasetFromSource(src, 0, newRand())
	require.NoError(t, err)

	require.NoError(t, d.RestoreIndexTable([]int64{101, 100, 109}))
	assert.Equal(t, 3, d.Len())
	sample, err := d.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(101), sample.ID)

	assert.Error(t, d.RestoreIndexTable([]int64{100, 555}))
	assert.Equal(t, []int64{101, 100, 109}, d.IndexTable(), "failed restore leaves the table untouched")
}

func TestString(t *testing.T) {
	d, err := NewResampledDatasetFromSource(newFakeSource(true, false, false, false), 0.5, newRand())
	require.NoError(t, err)
	assert.Equal(t, "ResampledDataset: 2 samples (1 positives, 1/3 negatives, ratio 0.5)", d.String())
	assert.Equal(t, 0.5, d.NegRatio())
}

func TestNewResampledDataset(t *testing.T) {
	dir := t.TempDir()
	annFile := filepath.Join(dir, "ann.json")
	ann := `{
	  "images": [
	    {"id": 1, "file_name": "1.png", "width": 4, "height": 4},
	    {"id": 2, "file_name": "2.png", "width": 4, "height": 4},
	    {"id": 3, "file_name": "3.png", "width": 4, "height": 4}
	  ],
	  "annotations": [
	    {"id": 10, "image_id": 3, "category_id": 1, "bbox": [0, 0, 2, 2], "area": 4, "iscrowd": 0}
	  ],
	  "categories": [{"id": 1, "name": "polyp"}]
	}`
	require.NoError(t, os.WriteFile(annFile, []byte(ann), 0644))
	for _, name := range []string{"1.png", "2.png", "3.png"} {
		require.NoError(t, imaging.Save(imaging.New(4, 4, color.NRGBA{A: 255}), filepath.Join(dir, name)))
	}

	d, err := NewResampledDataset(Config{
		ImgFolder: dir,
		AnnFile:   annFile,
		NegRatio:  0.5,
		Rand:      newRand(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	sample, err := d.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sample.ID)
	assert.Len(t, sample.Annotations, 1)
	assert.Equal(t, image.Pt(4, 4), sample.Image.Bounds().Size())

	_, err = NewResampledDataset(Config{ImgFolder: dir, AnnFile: filepath.Join(dir, "missing.json")})
	assert.Error(t, err)

	t.Run("GetConverted", func(t *testing.T) {
		d, err := NewResampledDataset(Config{
			ImgFolder:           dir,
			AnnFile:             annFile,
			Transforms:          transforms.NewResize(8, 8),
			ReturnMasks:         true,
			RemapMSCOCOCategory: true,
			NegRatio:            1,
			Rand:                newRand(),
		})
		require.NoError(t, err)
		require.Equal(t, 3, d.Len())

		sample, err := d.GetConverted(0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), sample.ID)
		assert.Equal(t, image.Pt(8, 8), sample.Image.Bounds().Size())
		require.NotNil(t, sample.Target)
		assert.Equal(t, []coco.Box{{0, 0, 4, 4}}, sample.Target.Boxes)
		assert.Equal(t, []int64{0}, sample.Target.Labels, "category 1 is remapped to label 0")
		assert.Len(t, sample.Target.Masks, 1)
		assert.Equal(t, image.Pt(4, 4), sample.Target.OrigSize)

		negative, err := d.GetConverted(1)
		require.NoError(t, err)
		assert.Equal(t, 0, negative.Target.Len())

		_, err = d.GetConverted(3)
		assert.Equal(t, ErrIndexOutOfRange, errors.Cause(err))
	})
}

func TestGetConvertedRequiresConverter(t *testing.T) {
	d, err := NewResampledDatasetFromSource(newFakeSource(true), 0, newRand())
	require.NoError(t, err)

	_, err = d.GetConverted(0)
	assert.Error(t, err)
}
