// Package errs defines the error taxonomy shared by the snippet pipeline.
//
// Errors fall into two classes:
//
//   - Fatal: ConfigurationError and InvalidArchiveError. These are returned to the
//     caller and stop the run (or, for InvalidArchiveError in multi-archive runs,
//     the affected archive).
//   - Recoverable: RowError, RegionError, DecodeError and WriteError. These are
//     delivered to a Handler and processing continues with the next row, region
//     or item.
package errs

import (
	"errors"
	"fmt"
	"log/slog"
)

// ConfigurationError reports invalid input configuration detected before work begins:
// missing table columns, a non-positive batch size, an unsupported output extension.
type ConfigurationError struct {
	// Field names the offending setting, column list or path.
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// InvalidArchiveError reports an archive that cannot be read: bad extension,
// missing file, corrupt header or a broken entry stream.
type InvalidArchiveError struct {
	Path string
	Err  error
}

func (e *InvalidArchiveError) Error() string {
	return fmt.Sprintf("invalid archive %s: %v", e.Path, e.Err)
}

func (e *InvalidArchiveError) Unwrap() error { return e.Err }

// RowError reports a table row that was skipped or flagged while indexing.
type RowError struct {
	// Row is the 1-based data row number (header excluded).
	Row     int
	Archive string
	Image   string
	Region  string
	Reason  string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d (%s, %s, %s): %s", e.Row, e.Archive, e.Image, e.Region, e.Reason)
}

// RegionError reports a region that could not be cropped.
type RegionError struct {
	Archive string
	Image   string
	Region  string
	Left    float64
	Top     float64
	Right   float64
	Bottom  float64
	Reason  string
}

func (e *RegionError) Error() string {
	return fmt.Sprintf("region %q on %s/%s (%g,%g)-(%g,%g): %s",
		e.Region, e.Archive, e.Image, e.Left, e.Top, e.Right, e.Bottom, e.Reason)
}

// DecodeError reports an archive entry whose bytes could not be decoded as an image.
type DecodeError struct {
	Archive string
	Entry   string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s in %s: %v", e.Entry, e.Archive, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// WriteError reports a snippet that could not be encoded or written by a sink.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err belongs to the per-row/region/item class.
func IsRecoverable(err error) bool {
	var (
		rowErr    *RowError
		regionErr *RegionError
		decodeErr *DecodeError
		writeErr  *WriteError
	)
	return errors.As(err, &rowErr) || errors.As(err, &regionErr) ||
		errors.As(err, &decodeErr) || errors.As(err, &writeErr)
}

// Handler receives recoverable errors. Implementations must not panic.
type Handler func(err error)

// LogHandler returns a Handler that logs each error at WARN level with its
// identifying attributes. A nil logger uses slog.Default().
func LogHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(err error) {
		logger.Warn("skipped", append([]any{"error", err}, Attrs(err)...)...)
	}
}

// Or returns h, or a LogHandler on the default logger when h is nil.
func Or(h Handler) Handler {
	if h != nil {
		return h
	}
	return LogHandler(nil)
}

// Attrs extracts slog key/value pairs identifying the subject of err.
func Attrs(err error) []any {
	var (
		rowErr     *RowError
		regionErr  *RegionError
		decodeErr  *DecodeError
		writeErr   *WriteError
		archiveErr *InvalidArchiveError
	)
	switch {
	case errors.As(err, &rowErr):
		return []any{"kind", "row", "row", rowErr.Row, "archive", rowErr.Archive, "image", rowErr.Image, "region", rowErr.Region}
	case errors.As(err, &regionErr):
		return []any{"kind", "region", "archive", regionErr.Archive, "image", regionErr.Image, "region", regionErr.Region}
	case errors.As(err, &decodeErr):
		return []any{"kind", "decode", "archive", decodeErr.Archive, "entry", decodeErr.Entry}
	case errors.As(err, &writeErr):
		return []any{"kind", "write", "path", writeErr.Path}
	case errors.As(err, &archiveErr):
		return []any{"kind", "archive", "path", archiveErr.Path}
	}
	return nil
}
