package imaging

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"strconv"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// LabeledRect is a region outline to draw on a proof image.
type LabeledRect struct {
	Label string
	Rect  image.Rectangle
}

// OverlayOptions controls how region outlines are drawn.
type OverlayOptions struct {
	// Thickness is the outline width in pixels. Values < 1 use 2.
	Thickness int
	// Color overrides the per-label colour with a fixed "#RRGGBB" or
	// "#RRGGBBAA" value. Empty picks a stable colour per label.
	Color string
	// HideLabels suppresses the label text.
	HideLabels bool
}

// Overlay draws every rectangle onto a copy of img and returns it.
//
// Each distinct label gets a stable colour derived from its name, so the same
// field is drawn the same way on every page. Labels are drawn with a 7x13
// bitmap font just inside the top-left corner of their rectangle.
func Overlay(img image.Image, rects []LabeledRect, opts OverlayOptions) (*image.RGBA, error) {
	bounds := img.Bounds()
	result := image.NewRGBA(bounds)
	draw.Draw(result, bounds, img, bounds.Min, draw.Src)

	thickness := opts.Thickness
	if thickness < 1 {
		thickness = 2
	}

	var fixedColor *color.RGBA
	if opts.Color != "" {
		c, err := parseHexColor(opts.Color)
		if err != nil {
			return nil, fmt.Errorf("invalid overlay color %q: %w", opts.Color, err)
		}
		fixedColor = &c
	}

	for _, r := range rects {
		c := labelColor(r.Label)
		if fixedColor != nil {
			c = *fixedColor
		}
		drawOutline(result, r.Rect, thickness, c)
		if !opts.HideLabels && r.Label != "" {
			drawLabel(result, r.Rect.Min.X+thickness+1, r.Rect.Min.Y+thickness+1, r.Label,
				color.RGBA{255, 255, 255, 255}, color.RGBA{c.R, c.G, c.B, 200})
		}
	}

	return result, nil
}

// labelColor maps a label to a saturated colour with a hue chosen by hashing
// the label.
func labelColor(label string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(label))
	hue := float64(h.Sum32() % 360)
	r, g, b := colorful.Hcl(hue, 0.8, 0.55).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func drawOutline(img *image.RGBA, rect image.Rectangle, thickness int, c color.RGBA) {
	bounds := img.Bounds()
	fill := func(r image.Rectangle) {
		r = r.Intersect(bounds)
		if !r.Empty() {
			draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Over)
		}
	}
	fill(image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+thickness))
	fill(image.Rect(rect.Min.X, rect.Max.Y-thickness, rect.Max.X, rect.Max.Y))
	fill(image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+thickness, rect.Max.Y))
	fill(image.Rect(rect.Max.X-thickness, rect.Min.Y, rect.Max.X, rect.Max.Y))
}

// parseHexColor parses a hex color string like "#FF0000" or "#FF000080"
func parseHexColor(hex string) (color.RGBA, error) {
	if len(hex) == 0 {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}

	var r, g, b, a uint8 = 0, 0, 0, 255

	switch len(hex) {
	case 6:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 16)
		g = uint8(val >> 8)
		b = uint8(val)
	case 8:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 24)
		g = uint8(val >> 16)
		b = uint8(val >> 8)
		a = uint8(val)
	default:
		return color.RGBA{}, fmt.Errorf("invalid hex color length")
	}

	return color.RGBA{R: r, G: g, B: b, A: a}, nil
}

// drawLabel draws text on a filled background with its top-left corner at (x, y).
func drawLabel(img *image.RGBA, x, y int, text string, fg, bg color.RGBA) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()

	box := image.Rect(x-1, y-1, x+width+1, y+height).Intersect(img.Bounds())
	if !box.Empty() {
		draw.Draw(img, box, image.NewUniform(bg), image.Point{}, draw.Over)
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.P(x, y+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}
