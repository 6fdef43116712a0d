//go:build !cgo

package ocr

import "image"

// Tesseract is a placeholder in builds without cgo; NewTesseract always fails.
type Tesseract struct{}

var _ Transcriber = (*Tesseract)(nil)

// NewTesseract returns ErrUnavailable.
func NewTesseract(lang string) (*Tesseract, error) {
	return nil, ErrUnavailable
}

// Language returns "".
func (t *Tesseract) Language() string { return "" }

// Version returns "".
func (t *Tesseract) Version() string { return "" }

// Transcribe returns ErrUnavailable.
func (t *Tesseract) Transcribe(img image.Image) (*Transcription, error) {
	return nil, ErrUnavailable
}

// Close does nothing.
func (t *Tesseract) Close() error { return nil }
