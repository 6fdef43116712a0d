package snippets

import (
	"fmt"
	"image"
	"log/slog"
	"path"

	"github.com/ironsheep/snippet-tools/internal/archive"
	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/imaging"
	"github.com/ironsheep/snippet-tools/internal/regions"
)

// Snippet is one cropped region of one page.
type Snippet struct {
	ArchiveID string
	ImageID   string
	Region    regions.Region
	// Name is the output file name, including the extension.
	Name  string
	Image image.Image
}

// Path is the slash-separated output path relative to a sink root.
func (s Snippet) Path() string {
	return path.Join(Dir(s.ArchiveID, s.ImageID), s.Name)
}

// Ext returns the output extension without the dot.
func (s Snippet) Ext() string {
	e := path.Ext(s.Name)
	if e == "" {
		return ""
	}
	return e[1:]
}

// ExtractorOptions configures an Extractor.
type ExtractorOptions struct {
	// Format selects the output extension used in snippet names. Empty means PNG.
	Format imaging.Format
	// Pad grows every region by this many pixels on each side before cropping.
	Pad float64
	// Adjust is applied to every cropped snippet.
	Adjust imaging.Adjustments
	// OnError receives *errs.RegionError for regions that cannot be cropped.
	OnError errs.Handler
	Logger  *slog.Logger
}

// Extractor crops the indexed regions out of decoded pages.
type Extractor struct {
	ext     string
	pad     float64
	adjust  imaging.Adjustments
	onError errs.Handler
	logger  *slog.Logger
}

// NewExtractor validates opts and returns an Extractor.
func NewExtractor(opts ExtractorOptions) (*Extractor, error) {
	format, err := imaging.ParseFormat(string(opts.Format))
	if err != nil {
		return nil, &errs.ConfigurationError{Field: "format", Reason: err.Error()}
	}
	if opts.Pad < 0 {
		return nil, &errs.ConfigurationError{Field: "pad", Reason: fmt.Sprintf("must not be negative, got %g", opts.Pad)}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	onError := opts.OnError
	if onError == nil {
		onError = errs.LogHandler(logger)
	}
	return &Extractor{
		ext:     format.Ext(),
		pad:     opts.Pad,
		adjust:  opts.Adjust,
		onError: onError,
		logger:  logger,
	}, nil
}

// Ext returns the extension used in snippet names.
func (x *Extractor) Ext() string {
	return x.ext
}

// Extract returns an iterator over the snippets of page, one per region in
// index order. Nothing is cropped until Next is called.
func (x *Extractor) Extract(page *archive.Page) *Iterator {
	return &Iterator{x: x, page: page}
}

// Iterator yields the snippets of one page lazily.
type Iterator struct {
	x    *Extractor
	page *archive.Page
	next int
}

// Next returns the next snippet. Regions that cannot be cropped are reported
// and skipped. The second result is false once every region has been visited.
func (it *Iterator) Next() (Snippet, bool) {
	for it.page != nil && it.next < len(it.page.Regions) {
		region := it.page.Regions[it.next]
		it.next++

		img, err := it.x.crop(it.page, region)
		if err != nil {
			it.x.onError(err)
			continue
		}
		return Snippet{
			ArchiveID: it.page.ArchiveID,
			ImageID:   it.page.ImageID,
			Region:    region,
			Name:      Name(it.page.ArchiveID, it.page.ImageID, region.Name, it.x.ext),
			Image:     img,
		}, true
	}
	// release the page once all regions are done
	it.page = nil
	return Snippet{}, false
}

func (x *Extractor) crop(page *archive.Page, region regions.Region) (image.Image, error) {
	box := region.Box
	regionErr := func(reason string) error {
		return &errs.RegionError{
			Archive: page.ArchiveID,
			Image:   page.ImageID,
			Region:  region.Name,
			Left:    box.Left,
			Top:     box.Top,
			Right:   box.Right,
			Bottom:  box.Bottom,
			Reason:  reason,
		}
	}

	if box.Empty() {
		return nil, regionErr(fmt.Sprintf("non-positive size %gx%g", box.Width(), box.Height()))
	}
	if x.pad > 0 {
		box = box.Grow(x.pad)
	}
	rect := box.Rect()
	if rect.Empty() {
		return nil, regionErr("box rounds to an empty pixel rectangle")
	}

	cropped, err := imaging.Crop(page.Image, rect)
	if err != nil {
		return nil, regionErr(err.Error())
	}
	if !rect.Overlaps(page.Image.Bounds()) {
		x.logger.Debug("region outside page", "archive", page.ArchiveID, "image", page.ImageID, "region", region.Name)
	}
	if x.adjust.IsZero() {
		return cropped, nil
	}
	return imaging.Adjust(cropped, x.adjust), nil
}
