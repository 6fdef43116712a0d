package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/imaging"
	"github.com/ironsheep/snippet-tools/internal/snippets"
)

// Sink consumes batches of snippets.
type Sink interface {
	// WriteBatch writes every item of b. Per-item failures are reported through
	// the error handler and do not stop the batch; the returned error is set
	// only when the sink itself can no longer be written.
	WriteBatch(ctx context.Context, b *snippets.Batch) ([]Written, error)
	Close() error
}

// Written describes one snippet a sink stored.
type Written struct {
	// Path is where the snippet was stored: a file path for Directory, an
	// entry name for Archive.
	Path    string
	Snippet snippets.Snippet
	Bytes   int64
}

// Options configures a sink.
type Options struct {
	// Quality is the JPEG quality (1-100); 0 uses imaging.DefaultJPEGQuality.
	Quality int
	// OnError receives *errs.WriteError for items that could not be stored.
	OnError errs.Handler
	Logger  *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o Options) onError() errs.Handler {
	if o.OnError == nil {
		return errs.LogHandler(o.logger())
	}
	return o.OnError
}

// encoders caches one imaging.Encoder per snippet extension.
type encoders struct {
	quality int
	mu      sync.Mutex
	byExt   map[string]*imaging.Encoder
}

func newEncoders(quality int) *encoders {
	return &encoders{quality: quality, byExt: make(map[string]*imaging.Encoder)}
}

func (e *encoders) encode(sn snippets.Snippet) ([]byte, error) {
	ext := strings.ToLower(sn.Ext())
	e.mu.Lock()
	enc, ok := e.byExt[ext]
	if !ok {
		format, err := imaging.ParseFormat(ext)
		if err == nil {
			enc, err = imaging.NewEncoder(format, e.quality)
		}
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("snippet %s: %w", sn.Name, err)
		}
		e.byExt[ext] = enc
	}
	e.mu.Unlock()
	return enc.EncodeBytes(sn.Image)
}
