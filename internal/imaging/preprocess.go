package imaging

import (
	"image"
	"image/draw"

	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"
)

// MaxScale is the largest accepted resize factor.
const MaxScale = 16.0

// Adjustments are optional per-snippet transforms applied after cropping.
type Adjustments struct {
	// Scale resizes the snippet by this factor with Lanczos resampling.
	// 0 and 1 leave the size unchanged. Factors above MaxScale are clamped.
	Scale float64
	// Grayscale converts the snippet to 8-bit luminance.
	Grayscale bool
	// Threshold binarises the snippet: luminance >= Threshold becomes white,
	// everything else black. 0 disables it. Implies Grayscale.
	Threshold int
}

// IsZero reports whether no adjustment is configured.
func (a Adjustments) IsZero() bool {
	return (a.Scale == 0 || a.Scale == 1) && !a.Grayscale && a.Threshold <= 0
}

// Adjust applies a to img and returns the result. img is not modified.
func Adjust(img image.Image, a Adjustments) image.Image {
	out := img

	if a.Scale > 0 && a.Scale != 1.0 {
		scale := min(a.Scale, MaxScale)
		w := int(float64(out.Bounds().Dx()) * scale)
		h := int(float64(out.Bounds().Dy()) * scale)
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		out = imaging.Resize(out, w, h, imaging.Lanczos)
	}

	switch {
	case a.Threshold > 0:
		level := a.Threshold
		if level > 255 {
			level = 255
		}
		out = segment.Threshold(out, uint8(level))
	case a.Grayscale:
		out = toGray(effect.Grayscale(out))
	}

	return out
}

// toGray repacks an image whose channels are already equal into one byte per
// pixel.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
