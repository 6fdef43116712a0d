package regions

import (
	"image"
	"math"
	"path"
	"strings"
)

// Point is a corner of a region quadrilateral in page pixel coordinates.
type Point struct {
	X float64
	Y float64
}

// Record is one validated row of the coordinate table.
type Record struct {
	Archive string
	Image   string
	Region  string
	Corners [4]Point
}

// BoundingBox returns the axis-aligned box enclosing the record's four corners.
func (r Record) BoundingBox() BoundingBox {
	b := BoundingBox{
		Left:   r.Corners[0].X,
		Top:    r.Corners[0].Y,
		Right:  r.Corners[0].X,
		Bottom: r.Corners[0].Y,
	}
	for _, p := range r.Corners[1:] {
		b.Left = math.Min(b.Left, p.X)
		b.Top = math.Min(b.Top, p.Y)
		b.Right = math.Max(b.Right, p.X)
		b.Bottom = math.Max(b.Bottom, p.Y)
	}
	return b
}

// BoundingBox is an axis-aligned box as (left, top, right, bottom).
//
// Boxes are not validated when indexed; zero-area and inverted boxes are
// rejected when cropped.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Width returns Right - Left.
func (b BoundingBox) Width() float64 { return b.Right - b.Left }

// Height returns Bottom - Top.
func (b BoundingBox) Height() float64 { return b.Bottom - b.Top }

// Empty reports whether the box has no positive area.
func (b BoundingBox) Empty() bool {
	return !(b.Width() > 0) || !(b.Height() > 0)
}

// Grow returns the box expanded by n on every side.
func (b BoundingBox) Grow(n float64) BoundingBox {
	return BoundingBox{Left: b.Left - n, Top: b.Top - n, Right: b.Right + n, Bottom: b.Bottom + n}
}

// Rect rounds the box to the nearest pixel edges.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b.Left)), int(math.Round(b.Top)),
		int(math.Round(b.Right)), int(math.Round(b.Bottom)),
	)
}

// Region is a named box on one page image.
type Region struct {
	Name string      `json:"name"`
	Box  BoundingBox `json:"box"`
	// Row is the 1-based table row the region came from.
	Row int `json:"row"`
}

// ArchiveStem strips a trailing .tar, .tar.gz or .tgz (any case) from name.
// Other extensions are stripped like a plain file extension.
func ArchiveStem(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar.gz", ".tgz", ".tar"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return Stem(name)
}

// Stem strips the final extension from name, keeping any directory part.
func Stem(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}
