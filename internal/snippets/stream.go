package snippets

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ironsheep/snippet-tools/internal/archive"
	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/imaging"
	"github.com/ironsheep/snippet-tools/internal/regions"
)

// DefaultBatchSize is the number of snippets per batch when none is configured.
const DefaultBatchSize = 10000

// Batch is a bounded, ordered group of snippets. Ownership passes to whoever
// receives it from Stream.Next; the stream keeps no reference.
type Batch struct {
	// Seq numbers batches from 0 in production order.
	Seq   int
	Items []Snippet
}

// Len returns the number of snippets in the batch.
func (b *Batch) Len() int {
	return len(b.Items)
}

// StreamOptions configures a Stream.
type StreamOptions struct {
	Extract ExtractorOptions
	Decode  imaging.DecodeOptions
	// OnError receives every recoverable error, and archive errors when the
	// stream covers more than one archive. Nil logs them.
	OnError errs.Handler
	Logger  *slog.Logger
}

// StreamStats counts what a Stream has produced so far.
type StreamStats struct {
	Archives       int `json:"archives"`
	ArchivesFailed int `json:"archives_failed"`
	Pages          int `json:"pages"`
	Snippets       int `json:"snippets"`
	Batches        int `json:"batches"`
	DecodeFailed   int `json:"decode_failed"`
	RegionsSkipped int `json:"regions_skipped"`
}

// Stream turns a list of archives into fixed-size batches of snippets.
//
// Archives are read one after another, pages one at a time, and snippets
// are cropped only as the current batch is filled, so at most one batch of
// snippets and one decoded page are held at once. A Stream is single-pass and
// not safe for concurrent use.
type Stream struct {
	paths     []string
	index     *regions.Index
	size      int
	extractor *Extractor
	readOpts  archive.ReaderOptions
	onError   errs.Handler
	logger    *slog.Logger

	next   int
	reader *archive.Reader
	iter   *Iterator
	seq    int
	stats  StreamStats
	done   bool
}

// NewStream validates its arguments and returns a stream over paths. A
// batchSize below 1 fails with *errs.ConfigurationError. No archive is opened
// until the first call to Next.
func NewStream(paths []string, ix *regions.Index, batchSize int, opts StreamOptions) (*Stream, error) {
	if batchSize < 1 {
		return nil, &errs.ConfigurationError{Field: "batch size", Reason: fmt.Sprintf("must be a positive integer, got %d", batchSize)}
	}
	if ix == nil {
		return nil, &errs.ConfigurationError{Field: "index", Reason: "no region index"}
	}
	if len(paths) == 0 {
		return nil, &errs.ConfigurationError{Field: "archives", Reason: "no input archives"}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stream{
		paths:  append([]string(nil), paths...),
		index:  ix,
		size:   batchSize,
		logger: logger,
	}
	h := opts.OnError
	if h == nil {
		h = errs.LogHandler(logger)
	}
	s.onError = s.counting(h)

	extractOpts := opts.Extract
	extractOpts.OnError = s.onError
	if extractOpts.Logger == nil {
		extractOpts.Logger = logger
	}
	x, err := NewExtractor(extractOpts)
	if err != nil {
		return nil, err
	}
	s.extractor = x
	s.readOpts = archive.ReaderOptions{OnError: s.onError, Logger: logger, Decode: opts.Decode}
	return s, nil
}

func (s *Stream) counting(h errs.Handler) errs.Handler {
	return func(err error) {
		var (
			regionErr *errs.RegionError
			decodeErr *errs.DecodeError
			archErr   *errs.InvalidArchiveError
		)
		switch {
		case errors.As(err, &regionErr):
			s.stats.RegionsSkipped++
		case errors.As(err, &decodeErr):
			s.stats.DecodeFailed++
		case errors.As(err, &archErr):
			s.stats.ArchivesFailed++
		}
		h(err)
	}
}

// Stats returns the counters accumulated so far.
func (s *Stream) Stats() StreamStats {
	return s.stats
}

// Next returns the next batch. Every batch holds exactly the configured
// number of snippets except possibly the last. It returns io.EOF when all
// archives are exhausted.
//
// With a single input archive an unreadable archive is returned as
// *errs.InvalidArchiveError. With several, the archive is reported through
// the error handler and the stream moves on to the next one.
func (s *Stream) Next() (*Batch, error) {
	if s.done {
		return nil, io.EOF
	}

	items := make([]Snippet, 0, min(s.size, 1024))
	for len(items) < s.size {
		sn, ok, err := s.nextSnippet()
		if err != nil {
			s.Close()
			return nil, err
		}
		if !ok {
			break
		}
		items = append(items, sn)
	}
	if len(items) == 0 {
		s.Close()
		return nil, io.EOF
	}

	b := &Batch{Seq: s.seq, Items: items}
	s.seq++
	s.stats.Batches++
	s.stats.Snippets += len(items)
	s.logger.Debug("batch ready", "seq", b.Seq, "items", len(items))
	return b, nil
}

func (s *Stream) nextSnippet() (Snippet, bool, error) {
	for {
		if s.iter != nil {
			if sn, ok := s.iter.Next(); ok {
				return sn, true, nil
			}
			s.iter = nil
		}

		if s.reader == nil {
			if s.next >= len(s.paths) {
				return Snippet{}, false, nil
			}
			p := s.paths[s.next]
			s.next++
			r, err := archive.Open(p, s.index, s.readOpts)
			if err != nil {
				if err := s.archiveFailed(err); err != nil {
					return Snippet{}, false, err
				}
				continue
			}
			s.stats.Archives++
			if !s.index.HasArchive(r.ID()) {
				s.logger.Warn("archive has no regions in the table", "archive", r.ID())
			}
			s.reader = r
		}

		page, err := s.reader.Next()
		if errors.Is(err, io.EOF) {
			s.closeReader()
			continue
		}
		if err != nil {
			s.closeReader()
			if err := s.archiveFailed(err); err != nil {
				return Snippet{}, false, err
			}
			continue
		}
		s.stats.Pages++
		s.iter = s.extractor.Extract(page)
	}
}

func (s *Stream) archiveFailed(err error) error {
	if len(s.paths) == 1 {
		return err
	}
	s.onError(err)
	return nil
}

func (s *Stream) closeReader() {
	if s.reader == nil {
		return
	}
	st := s.reader.Stats()
	if err := s.reader.Close(); err != nil {
		s.logger.Warn("closing archive", "archive", s.reader.ID(), "error", err)
	}
	s.logger.Info("archive done", "archive", s.reader.ID(),
		"entries", st.Entries, "pages", st.Decoded, "unmatched", st.Unmatched, "shadowed", st.Shadowed, "failed", st.Failed)
	s.reader = nil
}

// Close releases the archive currently open, if any. Further calls to Next
// return io.EOF.
func (s *Stream) Close() error {
	s.done = true
	s.iter = nil
	s.closeReader()
	return nil
}
