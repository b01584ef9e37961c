package transforms

import (
	"image"
	"math/rand"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/tsawler/go-detdata/vision/coco"
)

// Compose applies a sequence of transforms in order
type Compose []coco.Transform

// Apply runs every transform, stopping at the first error
func (c Compose) Apply(img image.Image, target *coco.Target) (image.Image, *coco.Target, error) {
	var err error
	for i, tf := range c {
		img, target, err = tf.Apply(img, target)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "transform %d", i)
		}
	}
	return img, target, nil
}

// Resize scales the image to a fixed size and rescales boxes, areas and
// masks accordingly. Boxes must be in xyxy pixel layout.
type Resize struct {
	Width, Height int
	Filter        imaging.ResampleFilter
}

// NewResize creates a Resize transform using linear resampling
func NewResize(width, height int) *Resize {
	return &Resize{Width: width, Height: height, Filter: imaging.Linear}
}

// Apply implements coco.Transform
func (r *Resize) Apply(img image.Image, target *coco.Target) (image.Image, *coco.Target, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return nil, nil, errors.Errorf("invalid resize target %dx%d", r.Width, r.Height)
	}

	size := img.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return nil, nil, errors.New("cannot resize an empty image")
	}
	sx := float64(r.Width) / float64(size.X)
	sy := float64(r.Height) / float64(size.Y)

	resized := imaging.Resize(img, r.Width, r.Height, r.Filter)
	if target == nil {
		return resized, nil, nil
	}

	for i, b := range target.Boxes {
		target.Boxes[i] = coco.Box{b[0] * sx, b[1] * sy, b[2] * sx, b[3] * sy}
	}
	for i := range target.Areas {
		target.Areas[i] *= sx * sy
	}
	for i, m := range target.Masks {
		target.Masks[i] = resizeMask(m, r.Width, r.Height)
	}
	target.Size = image.Pt(r.Width, r.Height)

	return resized, target, nil
}

// resizeMask rescales a binary mask with nearest-neighbour sampling
func resizeMask(m *image.Alpha, width, height int) *image.Alpha {
	scaled := imaging.Resize(m, width, height, imaging.NearestNeighbor)
	out := image.NewAlpha(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if scaled.NRGBAAt(x, y).A >= 0x80 {
				out.Pix[y*out.Stride+x] = 0xff
			}
		}
	}
	return out
}

// RandomHorizontalFlip mirrors the image and its boxes with probability P
type RandomHorizontalFlip struct {
	P   float64
	rng *rand.Rand
}

// NewRandomHorizontalFlip creates a flip transform drawing from rng. A nil
// rng is replaced by a clock-seeded generator.
func NewRandomHorizontalFlip(p float64, rng *rand.Rand) *RandomHorizontalFlip {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RandomHorizontalFlip{P: p, rng: rng}
}

// Apply implements coco.Transform
func (f *RandomHorizontalFlip) Apply(img image.Image, target *coco.Target) (image.Image, *coco.Target, error) {
	if f.rng.Float64() >= f.P {
		return img, target, nil
	}

	flipped := imaging.FlipH(img)
	if target == nil {
		return flipped, nil, nil
	}

	w := float64(img.Bounds().Dx())
	for i, b := range target.Boxes {
		target.Boxes[i] = coco.Box{w - b[2], b[1], w - b[0], b[3]}
	}
	for i, m := range target.Masks {
		target.Masks[i] = flipMask(m)
	}
	return flipped, target, nil
}

func flipMask(m *image.Alpha) *image.Alpha {
	b := m.Bounds()
	out := image.NewAlpha(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetAlpha(b.Max.X-1-(x-b.Min.X), y, m.AlphaAt(x, y))
		}
	}
	return out
}

// ConvertBoxes converts xyxy pixel boxes to cxcywh normalized by the
// current image size. It should be the last box-aware transform.
type ConvertBoxes struct{}

// Apply implements coco.Transform
func (ConvertBoxes) Apply(img image.Image, target *coco.Target) (image.Image, *coco.Target, error) {
	if target == nil {
		return img, nil, nil
	}
	size := img.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return nil, nil, errors.New("cannot normalize boxes of an empty image")
	}
	w, h := float64(size.X), float64(size.Y)
	for i, b := range target.Boxes {
		target.Boxes[i] = coco.Box{
			(b[0] + b[2]) / 2 / w,
			(b[1] + b[3]) / 2 / h,
			(b[2] - b[0]) / w,
			(b[3] - b[1]) / h,
		}
	}
	return img, target, nil
}
