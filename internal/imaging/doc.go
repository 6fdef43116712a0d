// Package imaging provides the raster operations used to cut snippets out of
// scanned pages.
//
// This package decodes archive members into images, crops pixel rectangles,
// applies optional snippet adjustments, encodes snippets into an output format
// and draws region proof overlays. All operations work with standard Go
// image.Image types and use a coordinate system where (0,0) is at the top-left
// corner, X increases rightward, and Y increases downward.
//
// # Coordinate System
//
// For regions, (x1,y1) is inclusive (top-left) and (x2,y2) is exclusive
// (bottom-right), matching image.Rectangle.
//
// # Decoding
//
// Decode sniffs content rather than trusting file names. PNG, JPEG, GIF, TIFF,
// BMP and WebP use the registered decoders. HEIC/HEIF uses a dedicated decoder.
// PDF (first page) and JPEG 2000 are rendered by MuPDF through go-fitz.
//
// go-fitz links MuPDF with cgo. Builds with CGO_ENABLED=0 load libmupdf at
// process start instead, and panic when it is missing, so a non-cgo binary
// needs libmupdf installed even if no PDF or JP2 member is ever read.
//
// # Cropping
//
// Crop never fails for a region that overlaps or misses the page: the area
// outside the page is filled with opaque black so the snippet keeps the
// requested size. Regions with zero or negative width or height are errors.
//
// # Thread Safety
//
// All functions are stateless and an Encoder is immutable after creation, so
// they can be called concurrently on different images.
package imaging
