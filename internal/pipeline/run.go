package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/manifest"
	"github.com/ironsheep/snippet-tools/internal/ocr"
	"github.com/ironsheep/snippet-tools/internal/regions"
	"github.com/ironsheep/snippet-tools/internal/sink"
	"github.com/ironsheep/snippet-tools/internal/snippets"
)

// Summary counts what a run did.
type Summary struct {
	RunID string `json:"run_id"`
	// Output is the output directory or archive path.
	Output      string               `json:"output"`
	Index       regions.Stats        `json:"index"`
	Stream      snippets.StreamStats `json:"stream"`
	Written     int                  `json:"written"`
	WriteFailed int                  `json:"write_failed"`
	Transcribed int                  `json:"transcribed"`
	Duration    time.Duration        `json:"duration"`
}

// newTranscriber is replaced in tests.
var newTranscriber = func(lang string) (ocr.Transcriber, error) {
	return ocr.NewTesseract(lang)
}

// Run reads the coordinate table, streams every archive through the
// extractor in batches and writes each batch to the configured sink.
//
// Configuration problems, an unreadable table and (for a single input) an
// unreadable archive are returned before or instead of output. Everything
// recoverable goes to cfg.OnError and is counted in the Summary. The Summary
// is returned with whatever was done even when err is non-nil.
func Run(ctx context.Context, cfg Config) (*Summary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	started := time.Now()
	runID := uuid.NewString()
	logger := cfg.logger().With("run", runID)
	summary := &Summary{RunID: runID, Output: cfg.OutputPath()}

	handler := cfg.OnError
	if handler == nil {
		handler = errs.LogHandler(logger)
	}
	onError := func(err error) {
		var writeErr *errs.WriteError
		if errors.As(err, &writeErr) {
			summary.WriteFailed++
		}
		handler(err)
	}

	table, err := regions.ReadTableFile(cfg.Table)
	if err != nil {
		return nil, err
	}
	ix, err := regions.BuildIndex(table, regions.WithErrorHandler(onError), regions.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	summary.Index = ix.Stats()

	stream, err := snippets.NewStream(cfg.Archives, ix, cfg.BatchSize, cfg.streamOptions(onError, logger))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var (
		store       *manifest.Store
		transcriber ocr.Transcriber
	)
	if cfg.Manifest != "" {
		store, err = manifest.Open(cfg.Manifest)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		if cfg.OCRLanguage != "" {
			transcriber, err = newTranscriber(cfg.OCRLanguage)
			if err != nil {
				return nil, fmt.Errorf("starting OCR: %w", err)
			}
			defer transcriber.Close()
		}
	}

	out, err := openSink(&cfg, onError, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("run started", "mode", cfg.Mode, "archives", len(cfg.Archives),
		"regions", ix.Len(), "batch_size", cfg.BatchSize, "output", summary.Output)

	runErr := drain(ctx, stream, out, func(written []sink.Written) error {
		summary.Written += len(written)
		if store == nil {
			return nil
		}
		entries := make([]*manifest.Entry, 0, len(written))
		for _, w := range written {
			e := newEntry(runID, w)
			if transcriber != nil {
				if t, err := transcriber.Transcribe(w.Snippet.Image); err != nil {
					logger.Warn("transcription failed", "path", w.Path, "error", err)
				} else {
					e.Text, e.Confidence = t.Text, t.Confidence
					summary.Transcribed++
				}
			}
			entries = append(entries, e)
		}
		return store.Record(entries...)
	})
	if err := out.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("closing sink: %w", err))
	}

	summary.Stream = stream.Stats()
	summary.Duration = time.Since(started)

	if store != nil {
		run := newRun(&cfg, summary, started)
		if runErr != nil {
			run.Error = runErr.Error()
		}
		if err := store.SaveRun(run); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("saving run: %w", err))
		}
	}

	attrs := []any{
		"pages", summary.Stream.Pages, "batches", summary.Stream.Batches,
		"written", summary.Written, "write_failed", summary.WriteFailed,
		"regions_skipped", summary.Stream.RegionsSkipped, "rows_skipped", summary.Index.Skipped,
		"duration", summary.Duration,
	}
	if runErr != nil {
		logger.Error("run failed", append(attrs, "error", runErr)...)
		return summary, runErr
	}
	logger.Info("run complete", attrs...)
	return summary, nil
}

func openSink(cfg *Config, h errs.Handler, logger *slog.Logger) (sink.Sink, error) {
	opts := cfg.sinkOptions(h, logger)
	if cfg.Mode == ModeArchive {
		return sink.NewArchive(cfg.OutputPath(), opts)
	}
	return sink.NewDirectory(cfg.Out, opts)
}

// drain moves batches from stream to out until the stream ends, ctx is done
// or a fatal error occurs. record is called with what each batch wrote.
func drain(ctx context.Context, stream *snippets.Stream, out sink.Sink, record func([]sink.Written) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		written, err := out.WriteBatch(ctx, batch)
		if len(written) > 0 {
			if recErr := record(written); recErr != nil {
				return errors.Join(err, fmt.Errorf("recording batch %d: %w", batch.Seq, recErr))
			}
		}
		if err != nil {
			return err
		}
	}
}

func newEntry(runID string, w sink.Written) *manifest.Entry {
	b := w.Snippet.Image.Bounds()
	return &manifest.Entry{
		Path:      w.Path,
		RunID:     runID,
		Archive:   w.Snippet.ArchiveID,
		Image:     w.Snippet.ImageID,
		Region:    w.Snippet.Region.Name,
		Box:       w.Snippet.Region.Box,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Bytes:     w.Bytes,
		WrittenAt: time.Now().UTC(),
	}
}

func newRun(cfg *Config, s *Summary, started time.Time) *manifest.Run {
	return &manifest.Run{
		ID:             s.RunID,
		Mode:           string(cfg.Mode),
		Inputs:         append([]string(nil), cfg.Archives...),
		Output:         s.Output,
		StartedAt:      started.UTC(),
		FinishedAt:     started.Add(s.Duration).UTC(),
		RowsSkipped:    s.Index.Skipped,
		Archives:       s.Stream.Archives,
		ArchivesFailed: s.Stream.ArchivesFailed,
		Pages:          s.Stream.Pages,
		DecodeFailed:   s.Stream.DecodeFailed,
		RegionsSkipped: s.Stream.RegionsSkipped,
		Batches:        s.Stream.Batches,
		Snippets:       s.Stream.Snippets,
		Written:        s.Written,
		WriteFailed:    s.WriteFailed,
	}
}
