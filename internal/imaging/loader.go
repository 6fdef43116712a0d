package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"io"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// DecodeOptions limits what Decode accepts.
type DecodeOptions struct {
	// MaxPixels rejects rasters with more than this many pixels before the
	// pixel data is decoded. Zero means no limit.
	MaxPixels int
}

// Decoded is a raster decoded from one archive member.
type Decoded struct {
	Image image.Image
	// Format is the detected encoding: "png", "jpeg", "gif", "tiff", "bmp",
	// "webp", "heic", "jp2" or "pdf".
	Format string
}

// Decode reads all of r and decodes it as an image.
//
// Format detection uses content, not file names:
//   - HEIC/HEIF is detected by its ftyp brand and decoded with the pure Go
//     HEIC decoder.
//   - PDF is detected by its %PDF- header; the first page is rendered.
//   - JPEG 2000 (JP2 container or raw codestream) is rendered through MuPDF,
//     like PDF.
//   - Everything else goes through the registered image decoders, with EXIF
//     orientation applied to JPEG.
func Decode(r io.Reader, opts DecodeOptions) (*Decoded, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return DecodeBytes(data, opts)
}

// DecodeBytes is Decode for data already in memory.
func DecodeBytes(data []byte, opts DecodeOptions) (*Decoded, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}

	switch {
	case isHEIC(data):
		cfg, err := heic.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode HEIC header: %w", err)
		}
		if err := checkPixels(cfg.Width, cfg.Height, opts.MaxPixels); err != nil {
			return nil, err
		}
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode HEIC image: %w", err)
		}
		return &Decoded{Image: img, Format: "heic"}, nil
	case isPDF(data):
		return renderFirstPage(data, "pdf", opts)
	case isJPEG2000(data):
		return renderFirstPage(data, "jp2", opts)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}
	if err := checkPixels(cfg.Width, cfg.Height, opts.MaxPixels); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &Decoded{Image: img, Format: format}, nil
}

func checkPixels(width, height, limit int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}
	if limit > 0 && width*height > limit {
		return fmt.Errorf("image %dx%d exceeds the %d pixel limit", width, height, limit)
	}
	return nil
}

// renderFirstPage renders page 0 of a document MuPDF can open. A JP2 file
// opens as a one-page document.
func renderFirstPage(data []byte, format string, opts DecodeOptions) (*Decoded, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", format, err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s page: %w", format, err)
	}
	b := img.Bounds()
	if err := checkPixels(b.Dx(), b.Dy(), opts.MaxPixels); err != nil {
		return nil, err
	}
	return &Decoded{Image: img, Format: format}, nil
}

// isHEIC checks for an ftyp box with a HEIC/HEIF brand at offset 4.
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

func isJPEG2000(data []byte) bool {
	jp2 := []byte{0x00, 0x00, 0x00, 0x0c, 'j', 'P', ' ', ' ', 0x0d, 0x0a, 0x87, 0x0a}
	codestream := []byte{0xff, 0x4f, 0xff, 0x51}
	return bytes.HasPrefix(data, jp2) || bytes.HasPrefix(data, codestream)
}
