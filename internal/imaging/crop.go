package imaging

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// padColor fills the part of a crop region that lies outside the page.
var padColor = color.NRGBA{0, 0, 0, 255}

// Crop extracts a rectangular region from an image.
//
// rect is in the image's coordinate space with Min inclusive and Max exclusive.
// The result always measures rect.Dx() x rect.Dy(); any part of rect outside the
// image bounds is filled with opaque black, so a region drawn slightly past the
// page edge keeps its requested size.
func Crop(img image.Image, rect image.Rectangle) (*image.NRGBA, error) {
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return nil, fmt.Errorf("invalid crop region (%d,%d)-(%d,%d): width and height must be positive",
			rect.Min.X, rect.Min.Y, rect.Max.X, rect.Max.Y)
	}

	bounds := img.Bounds()
	if rect.In(bounds) {
		return imaging.Crop(img, rect), nil
	}

	canvas := imaging.New(rect.Dx(), rect.Dy(), padColor)
	inside := rect.Intersect(bounds)
	if inside.Empty() {
		return canvas, nil
	}
	part := imaging.Crop(img, inside)
	return imaging.Paste(canvas, part, inside.Min.Sub(rect.Min)), nil
}
