package archive

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/imaging"
	"github.com/ironsheep/snippet-tools/internal/regions"
)

// readBufferSize is the read-ahead used between the file and the tar stream.
const readBufferSize = 1 << 20

// Compression identifies how a tar archive is wrapped.
type Compression int

const (
	// None is a plain .tar archive.
	None Compression = iota
	// Gzip is a .tar.gz or .tgz archive.
	Gzip
)

func (c Compression) String() string {
	if c == Gzip {
		return "gzip"
	}
	return "none"
}

// DetectCompression picks the compression from the path's extension, ignoring
// case. Only .tar, .tar.gz and .tgz are accepted.
func DetectCompression(path string) (Compression, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return Gzip, nil
	case strings.HasSuffix(lower, ".tar"):
		return None, nil
	}
	return None, fmt.Errorf("unsupported archive extension %q (want .tar, .tar.gz or .tgz)", filepath.Ext(path))
}

// IsArchivePath reports whether path has a supported archive extension.
func IsArchivePath(path string) bool {
	_, err := DetectCompression(path)
	return err == nil
}

// ID returns the archive identifier used for index lookups: the file's base name.
func ID(path string) string {
	return filepath.Base(path)
}

// Page is one decoded page image together with the regions indexed for it.
type Page struct {
	// ArchiveID is the base name of the archive the page came from.
	ArchiveID string
	// ImageID is the image identifier as written in the coordinate table.
	ImageID string
	// Entry is the member path inside the archive.
	Entry string
	// Format is the detected encoding of the member.
	Format string
	Image  image.Image
	// Regions are the page's regions in table order.
	Regions []regions.Region
}

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	// OnError receives recoverable *errs.DecodeError values. Nil logs them.
	OnError errs.Handler
	// Logger is used for debug output. Nil uses slog.Default().
	Logger *slog.Logger
	// Decode limits what member images are accepted.
	Decode imaging.DecodeOptions
}

// Stats counts what a Reader saw.
type Stats struct {
	Entries    int `json:"entries"`
	NonRegular int `json:"non_regular"`
	Unmatched  int `json:"unmatched"`
	// Shadowed counts members that resolved to an image already read from an
	// earlier member.
	Shadowed int `json:"shadowed"`
	Decoded  int `json:"decoded"`
	Failed     int `json:"failed"`
}

// Reader streams the pages of one tar archive in a single forward pass.
//
// Members that are not regular files, or that have no regions in the index,
// are skipped without decoding. Members that fail to decode are reported and
// skipped. Each indexed image is read from the first member that resolves to
// it; later members resolving to the same image (a thumbnail under another
// directory, say) are skipped. A Reader is not safe for concurrent use.
type Reader struct {
	path    string
	id      string
	index   *regions.Index
	onError errs.Handler
	logger  *slog.Logger
	decode  imaging.DecodeOptions

	file    *os.File
	gz      *gzip.Reader
	tr      *tar.Reader
	pending *tar.Header
	// served maps image identifiers already resolved to the member that
	// supplied them.
	served map[string]string
	stats  Stats
	closed bool
}

// Open opens the archive at path for streaming. It fails with
// *errs.InvalidArchiveError when the extension is unsupported, the file cannot
// be opened, or the first header cannot be read.
func Open(path string, ix *regions.Index, opts ReaderOptions) (*Reader, error) {
	compression, err := DetectCompression(path)
	if err != nil {
		return nil, &errs.InvalidArchiveError{Path: path, Err: err}
	}
	if ix == nil {
		return nil, errors.New("archive: nil region index")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.InvalidArchiveError{Path: path, Err: err}
	}

	r := &Reader{
		path:    path,
		id:      ID(path),
		index:   ix,
		onError: opts.OnError,
		logger:  opts.Logger,
		decode:  opts.Decode,
		file:    f,
		served:  make(map[string]string),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.onError == nil {
		r.onError = errs.LogHandler(r.logger)
	}

	var src io.Reader = bufio.NewReaderSize(f, readBufferSize)
	if compression == Gzip {
		r.gz, err = gzip.NewReader(src)
		if err != nil {
			f.Close()
			return nil, &errs.InvalidArchiveError{Path: path, Err: fmt.Errorf("gzip header: %w", err)}
		}
		src = r.gz
	}
	r.tr = tar.NewReader(src)

	hdr, err := r.tr.Next()
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		r.Close()
		return nil, &errs.InvalidArchiveError{Path: path, Err: fmt.Errorf("tar header: %w", err)}
	default:
		r.pending = hdr
	}

	r.logger.Debug("archive opened", "path", path, "compression", compression, "indexed", ix.HasArchive(r.id))
	return r, nil
}

// ID returns the archive identifier.
func (r *Reader) ID() string {
	return r.id
}

// Path returns the path the archive was opened from.
func (r *Reader) Path() string {
	return r.path
}

// Stats returns counters for the entries read so far.
func (r *Reader) Stats() Stats {
	return r.stats
}

// Next returns the next page that has indexed regions. It returns io.EOF after
// the last entry, and *errs.InvalidArchiveError if the entry stream is corrupt.
func (r *Reader) Next() (*Page, error) {
	if r.closed {
		return nil, io.EOF
	}

	for {
		hdr, err := r.nextHeader()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, &errs.InvalidArchiveError{Path: r.path, Err: fmt.Errorf("reading entry: %w", err)}
		}
		r.stats.Entries++

		if !hdr.FileInfo().Mode().IsRegular() {
			r.stats.NonRegular++
			continue
		}

		entry := strings.TrimPrefix(hdr.Name, "./")
		imageID, regs, ok := r.index.Resolve(r.id, entry)
		if !ok {
			r.stats.Unmatched++
			r.logger.Debug("no regions for entry", "archive", r.id, "entry", entry)
			continue
		}
		if first, dup := r.served[imageID]; dup {
			r.stats.Shadowed++
			r.logger.Warn("skipping entry for an image already read",
				"archive", r.id, "entry", entry, "image", imageID, "first", first)
			continue
		}
		r.served[imageID] = entry

		decoded, err := imaging.Decode(r.tr, r.decode)
		if err != nil {
			r.stats.Failed++
			r.onError(&errs.DecodeError{Archive: r.id, Entry: entry, Err: err})
			continue
		}
		r.stats.Decoded++

		return &Page{
			ArchiveID: r.id,
			ImageID:   imageID,
			Entry:     entry,
			Format:    decoded.Format,
			Image:     decoded.Image,
			Regions:   regs,
		}, nil
	}
}

func (r *Reader) nextHeader() (*tar.Header, error) {
	if r.pending != nil {
		hdr := r.pending
		r.pending = nil
		return hdr, nil
	}
	return r.tr.Next()
}

// Close releases the archive. It is safe to call more than once.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var gzErr error
	if r.gz != nil {
		gzErr = r.gz.Close()
	}
	return errors.Join(gzErr, r.file.Close())
}
