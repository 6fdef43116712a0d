package ocr

import (
	"errors"
	"image"
	"strings"
)

// DefaultLanguage is the Tesseract language used when none is given.
const DefaultLanguage = "eng"

// ErrUnavailable is returned when the binary was built without Tesseract support.
var ErrUnavailable = errors.New("ocr: tesseract support not built in (requires cgo)")

// Word is one recognised word of a snippet.
type Word struct {
	Text string `json:"text"`
	// Confidence is Tesseract's word confidence scaled to 0.0-1.0.
	Confidence float64         `json:"confidence"`
	Bounds     image.Rectangle `json:"bounds"`
}

// Transcription is the text recognised in one snippet.
type Transcription struct {
	// Text is the recognised text with surrounding whitespace trimmed.
	Text string `json:"text"`
	// Confidence is the mean confidence of Words, or 0 when nothing was found.
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
}

// Transcriber turns snippet images into text.
type Transcriber interface {
	Transcribe(img image.Image) (*Transcription, error)
	Close() error
}

func newTranscription(text string, words []Word) *Transcription {
	kept := words[:0]
	var sum float64
	for _, w := range words {
		if strings.TrimSpace(w.Text) == "" {
			continue
		}
		kept = append(kept, w)
		sum += w.Confidence
	}
	t := &Transcription{Text: strings.TrimSpace(text), Words: kept}
	if len(kept) > 0 {
		t.Confidence = sum / float64(len(kept))
	}
	return t
}
