package coco

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// File is the decoded content of a COCO-format annotation file
type File struct {
	Images      []ImageInfo  `json:"images"`
	Annotations []Annotation `json:"annotations"`
	Categories  []Category   `json:"categories"`
}

// ImageInfo describes one image entry of an annotation file
type ImageInfo struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Annotation is a single object instance as stored in the annotation file.
// BBox is [x, y, width, height] in pixels.
type Annotation struct {
	ID           int64           `json:"id"`
	ImageID      int64           `json:"image_id"`
	CategoryID   int64           `json:"category_id"`
	BBox         []float64       `json:"bbox"`
	Area         float64         `json:"area"`
	IsCrowd      int             `json:"iscrowd"`
	Segmentation json.RawMessage `json:"segmentation,omitempty"`
}

// Category is one entry of the categories table
type Category struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory"`
}

// Polygons returns the polygon segmentation of the annotation. The second
// return value is false when the segmentation is absent or RLE encoded.
func (a Annotation) Polygons() ([][]float64, bool) {
	if len(a.Segmentation) == 0 {
		return nil, false
	}
	var polys [][]float64
	if err := json.Unmarshal(a.Segmentation, &polys); err != nil {
		return nil, false
	}
	return polys, true
}

// ReadAnnotations decodes a COCO annotation document
func ReadAnnotations(r io.Reader) (*File, error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Wrap(err, "failed to decode annotation file")
	}
	return &f, nil
}

// ReadAnnotationFile opens and decodes the annotation file at path
func ReadAnnotationFile(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open annotation file %s", path)
	}
	defer file.Close()

	return ReadAnnotations(file)
}
