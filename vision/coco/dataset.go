package coco

import (
	"fmt"
	"image"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Transform is applied to an image and its converted target by Get.
// Implementations live in the transforms package.
type Transform interface {
	Apply(img image.Image, target *Target) (image.Image, *Target, error)
}

// Options controls how a Dataset converts samples
type Options struct {
	Transforms          Transform // Optional, applied by Get
	ReturnMasks         bool      // Rasterize polygon segmentations into Target.Masks
	RemapMSCOCOCategory bool      // Map MSCOCO category ids to contiguous labels
}

// Dataset is a random-access COCO detection dataset. Samples are ordered by
// ascending image id and addressed either by position or by image id.
type Dataset struct {
	imgFolder  string
	opts       Options
	ids        []int64
	images     map[int64]ImageInfo
	anns       map[int64][]Annotation
	categories []Category
}

// Load reads annFile and builds a dataset whose images are resolved
// relative to imgFolder
func Load(imgFolder, annFile string, opts Options) (*Dataset, error) {
	f, err := ReadAnnotationFile(annFile)
	if err != nil {
		return nil, err
	}
	return New(imgFolder, f, opts)
}

// New builds a dataset from already decoded annotations
func New(imgFolder string, f *File, opts Options) (*Dataset, error) {
	d := &Dataset{
		imgFolder:  imgFolder,
		opts:       opts,
		ids:        make([]int64, 0, len(f.Images)),
		images:     make(map[int64]ImageInfo, len(f.Images)),
		anns:       make(map[int64][]Annotation),
		categories: f.Categories,
	}

	for _, img := range f.Images {
		if _, exists := d.images[img.ID]; exists {
			return nil, errors.Errorf("duplicate image id %d", img.ID)
		}
		d.images[img.ID] = img
		d.ids = append(d.ids, img.ID)
	}
	sort.Slice(d.ids, func(i, j int) bool { return d.ids[i] < d.ids[j] })

	orphans := 0
	for _, ann := range f.Annotations {
		if _, exists := d.images[ann.ImageID]; !exists {
			orphans++
			continue
		}
		d.anns[ann.ImageID] = append(d.anns[ann.ImageID], ann)
	}
	if orphans > 0 {
		log.Debug("[COCO] Skipped ", orphans, " annotations referencing unknown images")
	}

	return d, nil
}

// Len returns the number of images in the dataset
func (d *Dataset) Len() int {
	return len(d.ids)
}

// SampleID returns the image id at position pos
func (d *Dataset) SampleID(pos int) (int64, error) {
	if pos < 0 || pos >= len(d.ids) {
		return 0, errors.Errorf("position %d out of range [0, %d)", pos, len(d.ids))
	}
	return d.ids[pos], nil
}

// Annotations returns the raw annotations of an image. The returned slice
// is shared with the dataset and must not be modified.
func (d *Dataset) Annotations(id int64) ([]Annotation, error) {
	if _, exists := d.images[id]; !exists {
		return nil, errors.Errorf("unknown image id %d", id)
	}
	return d.anns[id], nil
}

// ImageInfo returns the image entry for id
func (d *Dataset) ImageInfo(id int64) (ImageInfo, error) {
	info, exists := d.images[id]
	if !exists {
		return ImageInfo{}, errors.Errorf("unknown image id %d", id)
	}
	return info, nil
}

// Image decodes the image file for id as RGB
func (d *Dataset) Image(id int64) (image.Image, error) {
	info, err := d.ImageInfo(id)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(d.imgFolder, info.FileName)
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load image %d", id)
	}
	return imaging.Clone(img), nil
}

// Get returns the decoded image at position pos together with its
// converted target, after applying the configured transforms
func (d *Dataset) Get(pos int) (image.Image, *Target, error) {
	id, err := d.SampleID(pos)
	if err != nil {
		return nil, nil, err
	}
	return d.Item(id)
}

// Item is Get addressed by image id
func (d *Dataset) Item(id int64) (image.Image, *Target, error) {
	img, err := d.Image(id)
	if err != nil {
		return nil, nil, err
	}
	target, err := d.Target(id, img.Bounds().Size())
	if err != nil {
		return nil, nil, err
	}

	if d.opts.Transforms != nil {
		img, target, err = d.opts.Transforms.Apply(img, target)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to transform image %d", id)
		}
	}
	return img, target, nil
}

// Categories returns the category table of the annotation file
func (d *Dataset) Categories() []Category {
	return d.categories
}

// String returns a short description of the dataset
func (d *Dataset) String() string {
	annotated := 0
	for _, id := range d.ids {
		if len(d.anns[id]) > 0 {
			annotated++
		}
	}
	return fmt.Sprintf("COCO dataset: %d images (%d annotated), %d categories",
		len(d.ids), annotated, len(d.categories))
}
