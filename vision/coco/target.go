package coco

import (
	"image"
	"math"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/vector"
)

// Box is an axis-aligned box. Its layout (xyxy or normalized cxcywh)
// depends on the transforms that have been applied.
type Box [4]float64

// Target is the training target of one image
type Target struct {
	ImageID  int64
	Boxes    []Box // xyxy pixels unless converted by a transform
	Labels   []int64
	Areas    []float64
	IsCrowd  []bool
	Masks    []*image.Alpha // Only set when masks are requested
	OrigSize image.Point
	Size     image.Point
}

// Len returns the number of objects in the target
func (t *Target) Len() int {
	return len(t.Boxes)
}

// Keep retains only the objects whose index is set in keep
func (t *Target) Keep(keep []bool) {
	n := 0
	for i := range t.Boxes {
		if !keep[i] {
			continue
		}
		t.Boxes[n] = t.Boxes[i]
		t.Labels[n] = t.Labels[i]
		t.Areas[n] = t.Areas[i]
		t.IsCrowd[n] = t.IsCrowd[i]
		if t.Masks != nil {
			t.Masks[n] = t.Masks[i]
		}
		n++
	}
	t.Boxes = t.Boxes[:n]
	t.Labels = t.Labels[:n]
	t.Areas = t.Areas[:n]
	t.IsCrowd = t.IsCrowd[:n]
	if t.Masks != nil {
		t.Masks = t.Masks[:n]
	}
}

// Target converts the raw annotations of an image of the given size.
// Crowd annotations are dropped, boxes are converted to xyxy and clamped to
// the image, and objects whose box has no extent are removed.
func (d *Dataset) Target(id int64, size image.Point) (*Target, error) {
	anns, err := d.Annotations(id)
	if err != nil {
		return nil, err
	}

	t := &Target{
		ImageID:  id,
		OrigSize: size,
		Size:     size,
	}
	if d.opts.ReturnMasks {
		t.Masks = []*image.Alpha{}
	}

	w, h := float64(size.X), float64(size.Y)
	for _, ann := range anns {
		if ann.IsCrowd != 0 {
			continue
		}
		if len(ann.BBox) != 4 {
			return nil, errors.Errorf("annotation %d has a malformed bbox", ann.ID)
		}

		label := ann.CategoryID
		if d.opts.RemapMSCOCOCategory {
			if label, err = CategoryToLabel(ann.CategoryID); err != nil {
				return nil, errors.Wrapf(err, "annotation %d", ann.ID)
			}
		}

		x, y, bw, bh := ann.BBox[0], ann.BBox[1], ann.BBox[2], ann.BBox[3]
		box := Box{
			clamp(x, 0, w),
			clamp(y, 0, h),
			clamp(x+bw, 0, w),
			clamp(y+bh, 0, h),
		}

		t.Boxes = append(t.Boxes, box)
		t.Labels = append(t.Labels, label)
		t.Areas = append(t.Areas, ann.Area)
		t.IsCrowd = append(t.IsCrowd, false)
		if d.opts.ReturnMasks {
			t.Masks = append(t.Masks, polygonMask(ann, size))
		}
	}

	keep := make([]bool, len(t.Boxes))
	for i, b := range t.Boxes {
		keep[i] = b[3] > b[1] && b[2] > b[0]
	}
	t.Keep(keep)

	return t, nil
}

// polygonMask rasterizes the polygon segmentation of ann into a binary mask
func polygonMask(ann Annotation, size image.Point) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, size.X, size.Y))
	polys, ok := ann.Polygons()
	if !ok {
		log.Warn("[COCO] Annotation ", ann.ID, " has no polygon segmentation, using an empty mask")
		return mask
	}
	if size.X == 0 || size.Y == 0 {
		return mask
	}

	r := vector.NewRasterizer(size.X, size.Y)
	for _, poly := range polys {
		if len(poly) < 6 {
			continue
		}
		r.MoveTo(float32(poly[0]), float32(poly[1]))
		for i := 2; i+1 < len(poly); i += 2 {
			r.LineTo(float32(poly[i]), float32(poly[i+1]))
		}
		r.ClosePath()
	}
	r.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})

	for i, a := range mask.Pix {
		if a >= 0x80 {
			mask.Pix[i] = 0xff
		} else {
			mask.Pix[i] = 0
		}
	}
	return mask
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
