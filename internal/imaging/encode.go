package imaging

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
)

// DefaultJPEGQuality is used when no quality is configured.
const DefaultJPEGQuality = 95

// Format is a snippet output encoding named by its file extension, without
// the dot: "png", "jpg", "jpeg", "tif", "tiff", "bmp" or "gif".
type Format string

// PNG is the default output format.
const PNG Format = "png"

// ParseFormat validates an output format name. A leading dot and letter case
// are ignored.
func ParseFormat(s string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
	if ext == "" {
		return PNG, nil
	}
	if _, err := imaging.FormatFromExtension(ext); err != nil {
		return "", fmt.Errorf("unsupported output format %q: %w", s, err)
	}
	return Format(ext), nil
}

// Ext returns the file extension for the format, without the dot.
func (f Format) Ext() string {
	if f == "" {
		return string(PNG)
	}
	return string(f)
}

// Encoder writes snippets in one output format.
type Encoder struct {
	format  imaging.Format
	ext     string
	quality int
}

// NewEncoder creates an encoder for f. quality applies to JPEG only; values
// outside 1-100 use DefaultJPEGQuality.
func NewEncoder(f Format, quality int) (*Encoder, error) {
	imf, err := imaging.FormatFromExtension(f.Ext())
	if err != nil {
		return nil, fmt.Errorf("unsupported output format %q: %w", f, err)
	}
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Encoder{format: imf, ext: f.Ext(), quality: quality}, nil
}

// Ext returns the file extension the encoder produces, without the dot.
func (e *Encoder) Ext() string {
	return e.ext
}

// Encode writes img to w.
func (e *Encoder) Encode(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, e.format, imaging.JPEGQuality(e.quality)); err != nil {
		return fmt.Errorf("failed to encode %s image: %w", e.ext, err)
	}
	return nil
}

// EncodeBytes encodes img into memory.
func (e *Encoder) EncodeBytes(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
