// Package ocr transcribes snippets with Tesseract.
//
// Transcription is optional: the pipeline records the recognised text and its
// mean word confidence next to each written snippet in the manifest.
//
// # Prerequisites
//
// Tesseract and its language data must be installed on the system and the
// binary built with cgo:
//   - Ubuntu/Debian: apt-get install libtesseract-dev tesseract-ocr-eng
//   - macOS: brew install tesseract
//
// Builds without cgo compile a stub whose NewTesseract returns ErrUnavailable.
// Such a snippet-tools binary still loads libmupdf at startup for PDF and
// JPEG 2000 decoding (see package imaging), so libmupdf must be installed for
// the binary to reach that stub at all.
//
// # Languages
//
// The default language is English ("eng"). Any installed Tesseract language
// code, or a "+"-joined list such as "eng+deu", can be given instead.
package ocr
