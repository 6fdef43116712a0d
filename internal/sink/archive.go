package sink

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/ironsheep/snippet-tools/internal/archive"
	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/regions"
	"github.com/ironsheep/snippet-tools/internal/snippets"
)

const writeBufferSize = 1 << 20

// DefaultArchiveName returns {input-without-extension}_snippets.tar, or
// .tar.gz when gz is set, next to the input archive.
func DefaultArchiveName(input string, gz bool) string {
	dir, base := filepath.Split(input)
	name := regions.ArchiveStem(base) + "_snippets.tar"
	if gz {
		name += ".gz"
	}
	return filepath.Join(dir, name)
}

// Archive packages snippets into one tar (or tar.gz) file for the whole run.
// Entries are named {archive}/{image}/{archive}_{image}_{region}.{ext}.
type Archive struct {
	path    string
	enc     *encoders
	onError errs.Handler
	logger  *slog.Logger

	file    *os.File
	buf     *bufio.Writer
	gz      *gzip.Writer
	tw      *tar.Writer
	modTime time.Time
	closed  bool
}

var _ Sink = (*Archive)(nil)

// NewArchive creates the output archive at path. The extension picks the
// compression; anything but .tar, .tar.gz or .tgz fails with
// *errs.ConfigurationError before the file is created.
func NewArchive(dest string, opts Options) (*Archive, error) {
	compression, err := archive.DetectCompression(dest)
	if err != nil {
		return nil, &errs.ConfigurationError{Field: "output archive", Reason: err.Error()}
	}

	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to create output archive: %w", err)
	}

	a := &Archive{
		path:    dest,
		enc:     newEncoders(opts.Quality),
		onError: opts.onError(),
		logger:  opts.logger(),
		file:    f,
		buf:     bufio.NewWriterSize(f, writeBufferSize),
		modTime: time.Now().Truncate(time.Second),
	}
	var w io.Writer = a.buf
	if compression == archive.Gzip {
		a.gz = gzip.NewWriter(a.buf)
		w = a.gz
	}
	a.tw = tar.NewWriter(w)
	return a, nil
}

// Path returns the output archive path.
func (a *Archive) Path() string {
	return a.path
}

// WriteBatch appends every snippet of b as a new entry and flushes the archive.
// A snippet that cannot be encoded, or whose entry header is rejected before
// anything is written, is reported and skipped. A failure writing the archive
// stream itself is returned because later entries cannot follow.
func (a *Archive) WriteBatch(ctx context.Context, b *snippets.Batch) ([]Written, error) {
	if a.closed {
		return nil, errors.New("archive sink is closed")
	}
	written := make([]Written, 0, b.Len())
	for _, sn := range b.Items {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		name := sn.Path()
		data, err := a.enc.encode(sn)
		if err != nil {
			a.onError(&errs.WriteError{Path: name, Err: err})
			continue
		}
		if err := a.append(name, data); err != nil {
			var rejected *headerRejectedError
			if errors.As(err, &rejected) {
				a.onError(&errs.WriteError{Path: name, Err: rejected.err})
				continue
			}
			return written, &errs.WriteError{Path: a.path, Err: fmt.Errorf("entry %s: %w", name, err)}
		}
		written = append(written, Written{Path: name, Snippet: sn, Bytes: int64(len(data))})
	}

	if err := a.flush(); err != nil {
		return written, &errs.WriteError{Path: a.path, Err: err}
	}
	a.logger.Debug("batch archived", "seq", b.Seq, "written", len(written), "items", b.Len())
	return written, nil
}

func (a *Archive) append(name string, data []byte) error {
	hdr := &tar.Header{
		Name:     path.Clean(name),
		Mode:     int64(filePerm),
		Size:     int64(len(data)),
		ModTime:  a.modTime,
		Typeflag: tar.TypeReg,
	}
	if err := a.tw.WriteHeader(hdr); err != nil {
		// a header the tar format cannot represent is refused before any
		// bytes are written and leaves the writer usable
		if a.tw.Flush() == nil {
			return &headerRejectedError{err: err}
		}
		return err
	}
	_, err := a.tw.Write(data)
	return err
}

type headerRejectedError struct {
	err error
}

func (e *headerRejectedError) Error() string { return e.err.Error() }

func (e *headerRejectedError) Unwrap() error { return e.err }

func (a *Archive) flush() error {
	if err := a.tw.Flush(); err != nil {
		return err
	}
	if a.gz != nil {
		if err := a.gz.Flush(); err != nil {
			return err
		}
	}
	return a.buf.Flush()
}

// Close writes the tar trailer, finishes the gzip stream and closes the file.
// It is safe to call more than once.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	var errList []error
	errList = append(errList, a.tw.Close())
	if a.gz != nil {
		errList = append(errList, a.gz.Close())
	}
	errList = append(errList, a.buf.Flush(), a.file.Close())
	if err := errors.Join(errList...); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", a.path, err)
	}
	a.logger.Info("archive written", "path", a.path)
	return nil
}
