//go:build cgo

package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract transcribes snippets with one reusable gosseract client. Calls
// are serialised, so a Tesseract may be shared.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
	lang   string
}

var _ Transcriber = (*Tesseract)(nil)

// NewTesseract creates a client for lang ("eng" when empty). Training data is
// located through TESSDATA_PREFIX or the system default.
func NewTesseract(lang string) (*Tesseract, error) {
	if lang == "" {
		lang = DefaultLanguage
	}
	client := gosseract.NewClient()
	if err := client.SetLanguage(lang); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	// snippets are single fields, usually one line
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	return &Tesseract{client: client, lang: lang}, nil
}

// Language returns the configured language.
func (t *Tesseract) Language() string {
	return t.lang
}

// Version returns the linked Tesseract version.
func (t *Tesseract) Version() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Version()
}

// Transcribe recognises the text in img.
func (t *Tesseract) Transcribe(img image.Image) (*Transcription, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode snippet: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	text, err := t.client.Text()
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	// Return just text if boxes fail
	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return newTranscription(text, nil), nil
	}
	words := make([]Word, 0, len(boxes))
	for _, box := range boxes {
		words = append(words, Word{
			Text:       box.Word,
			Confidence: box.Confidence / 100.0,
			Bounds:     box.Box,
		})
	}
	return newTranscription(text, words), nil
}

// Close releases the client.
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}
