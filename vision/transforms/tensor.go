package transforms

import (
	"image"
	"sync"
)

// ProcessedImage represents an image converted for network input
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// CHWConverter converts images to float32 RGB data in CHW layout,
// normalized to [0, 1]. The scratch buffer is reused between calls.
type CHWConverter struct {
	mu     sync.Mutex
	buffer []float32
}

// NewCHWConverter creates a converter
func NewCHWConverter() *CHWConverter {
	return &CHWConverter{}
}

// Convert returns a copy of the image data in CHW format
func (c *CHWConverter) Convert(img image.Image) *ProcessedImage {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buffer) < 3*plane {
		c.buffer = make([]float32, 3*plane)
	}
	data := c.buffer[:3*plane]

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			idx := y*width + x
			data[0*plane+idx] = float32(r) / 65535.0
			data[1*plane+idx] = float32(g) / 65535.0
			data[2*plane+idx] = float32(b) / 65535.0
		}
	}

	// Copy out of the reusable buffer
	result := make([]float32, len(data))
	copy(result, data)

	return &ProcessedImage{
		Data:     result,
		Width:    width,
		Height:   height,
		Channels: 3,
	}
}
