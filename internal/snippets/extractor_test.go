package snippets

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/ironsheep/snippet-tools/internal/archive"
	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/imaging"
	"github.com/ironsheep/snippet-tools/internal/regions"
	"github.com/ironsheep/snippet-tools/internal/testutil"
)

func box(l, t, r, b float64) regions.BoundingBox {
	return regions.BoundingBox{Left: l, Top: t, Right: r, Bottom: b}
}

func testPage(regs ...regions.Region) *archive.Page {
	return &archive.Page{
		ArchiveID: "reel_01.tar.gz",
		ImageID:   "0001.tif",
		Entry:     "0001.tif",
		Format:    "tiff",
		Image:     testutil.Page(40, 20),
		Regions:   regs,
	}
}

func drain(it *Iterator) []Snippet {
	var out []Snippet
	for {
		sn, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, sn)
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		archive, image, region, ext string
		wantName, wantDir           string
	}{
		{"reel_01.tar", "0001.png", "surname", "png", "reel_01_0001_surname.png", "reel_01/0001"},
		{"Reel.TAR.GZ", "0001.tif", "age", "jpg", "Reel_0001_age.jpg", "Reel/0001"},
		{"reel.tgz", "scans/0002.jp2", "a/b", "png", "reel_scans_0002_a_b.png", "reel/scans_0002"},
		{"reel", "page", "x", "png", "reel_page_x.png", "reel/page"},
	}
	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			if got := Name(tt.archive, tt.image, tt.region, tt.ext); got != tt.wantName {
				t.Errorf("Name: got %q, want %q", got, tt.wantName)
			}
			if got := Dir(tt.archive, tt.image); got != tt.wantDir {
				t.Errorf("Dir: got %q, want %q", got, tt.wantDir)
			}
		})
	}
}

func TestExtractor_RegionsInOrder(t *testing.T) {
	x, err := NewExtractor(ExtractorOptions{})
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	got := drain(x.Extract(testPage(
		regions.Region{Name: "surname", Box: box(0, 0, 10, 5)},
		regions.Region{Name: "age", Box: box(20.4, 2.6, 30.5, 10)},
	)))
	if len(got) != 2 {
		t.Fatalf("snippets: got %d, want 2", len(got))
	}

	first := got[0]
	if first.Name != "reel_01_0001_surname.png" || first.Path() != "reel_01/0001/reel_01_0001_surname.png" {
		t.Errorf("naming: got %q at %q", first.Name, first.Path())
	}
	if first.Ext() != "png" {
		t.Errorf("Ext: got %q", first.Ext())
	}
	if b := first.Image.Bounds(); b.Dx() != 10 || b.Dy() != 5 {
		t.Errorf("surname size: got %v", b)
	}

	// 20.4 -> 20, 2.6 -> 3, 30.5 -> 31 (round half away from zero)
	if b := got[1].Image.Bounds(); b.Dx() != 11 || b.Dy() != 7 {
		t.Errorf("age size: got %v, want 11x7", b)
	}
	r, g, _, _ := got[1].Image.At(got[1].Image.Bounds().Min.X, got[1].Image.Bounds().Min.Y).RGBA()
	if r>>8 != 20 || g>>8 != 3 {
		t.Errorf("age origin pixel: got (%d,%d), want (20,3)", r>>8, g>>8)
	}
}

func TestExtractor_SkipsDegenerateRegions(t *testing.T) {
	var reported []error
	x, err := NewExtractor(ExtractorOptions{OnError: func(err error) { reported = append(reported, err) }})
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	got := drain(x.Extract(testPage(
		regions.Region{Name: "before", Box: box(0, 0, 5, 5)},
		regions.Region{Name: "zero-width", Box: box(7, 0, 7, 5)},
		regions.Region{Name: "inverted", Box: box(9, 9, 3, 3)},
		regions.Region{Name: "sliver", Box: box(1.1, 1, 1.3, 5)},
		regions.Region{Name: "after", Box: box(5, 5, 15, 15)},
	)))

	if len(got) != 2 || got[0].Region.Name != "before" || got[1].Region.Name != "after" {
		names := make([]string, len(got))
		for i, sn := range got {
			names[i] = sn.Region.Name
		}
		t.Fatalf("expected [before after], got %v", names)
	}
	if len(reported) != 3 {
		t.Fatalf("expected 3 region errors, got %d: %v", len(reported), reported)
	}
	var regionErr *errs.RegionError
	if !errors.As(reported[0], &regionErr) {
		t.Fatalf("expected RegionError, got %T", reported[0])
	}
	if regionErr.Region != "zero-width" || regionErr.Left != 7 || regionErr.Right != 7 {
		t.Errorf("error should name the region and coordinates: %+v", regionErr)
	}
	if !errs.IsRecoverable(reported[1]) {
		t.Error("region errors should be recoverable")
	}
}

func TestExtractor_PadsOutsidePage(t *testing.T) {
	x, err := NewExtractor(ExtractorOptions{Pad: 2})
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	got := drain(x.Extract(testPage(regions.Region{Name: "corner", Box: box(0, 0, 4, 4)})))
	if len(got) != 1 {
		t.Fatalf("snippets: got %d, want 1", len(got))
	}
	img := got[0].Image
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
		t.Fatalf("padded size: got %v, want 8x8", b)
	}
	origin := img.Bounds().Min
	if c := color.RGBAModel.Convert(img.At(origin.X, origin.Y)).(color.RGBA); c != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("area outside the page should be black, got %v", c)
	}
}

func TestExtractor_Adjustments(t *testing.T) {
	x, err := NewExtractor(ExtractorOptions{
		Format: "jpg",
		Adjust: imaging.Adjustments{Grayscale: true, Scale: 2},
	})
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	got := drain(x.Extract(testPage(regions.Region{Name: "f", Box: box(0, 0, 10, 10)})))
	if len(got) != 1 {
		t.Fatalf("snippets: got %d, want 1", len(got))
	}
	if got[0].Name != "reel_01_0001_f.jpg" {
		t.Errorf("Name: got %q", got[0].Name)
	}
	if b := got[0].Image.Bounds(); b.Dx() != 20 || b.Dy() != 20 {
		t.Errorf("scaled size: got %v", b)
	}
	if _, ok := got[0].Image.(*image.Gray); !ok {
		t.Errorf("expected a grayscale image, got %T", got[0].Image)
	}
}

func TestNewExtractor_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts ExtractorOptions
	}{
		{"unknown format", ExtractorOptions{Format: "jp2"}},
		{"negative pad", ExtractorOptions{Pad: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExtractor(tt.opts)
			var cfgErr *errs.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Errorf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestIterator_Exhausted(t *testing.T) {
	x, err := NewExtractor(ExtractorOptions{})
	if err != nil {
		t.Fatal(err)
	}
	it := x.Extract(testPage())
	if _, ok := it.Next(); ok {
		t.Error("a page without regions yields nothing")
	}
	if _, ok := it.Next(); ok {
		t.Error("Next after exhaustion yields nothing")
	}
}
