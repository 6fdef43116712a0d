package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/ironsheep/snippet-tools/internal/archive"
	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/imaging"
	"github.com/ironsheep/snippet-tools/internal/regions"
	"github.com/ironsheep/snippet-tools/internal/sink"
	"github.com/ironsheep/snippet-tools/internal/snippets"
)

// PreviewName returns the proof image path for one page, relative to the
// output directory: {archive-stem}/{image-stem}_regions.png.
func PreviewName(archiveID, imageID string) string {
	return filepath.Join(snippets.ArchiveStem(archiveID), snippets.ImageStem(imageID)+"_regions.png")
}

// Preview writes one PNG per indexed page with every region outlined and
// labelled, for checking a coordinate table against its scans. It uses
// cfg.Table, cfg.Archives, cfg.Out, cfg.Pad and cfg.MaxPixels, and returns the
// number of proof images written.
func Preview(ctx context.Context, cfg Config) (int, error) {
	cfg.Mode = ModeDirectory
	if cfg.BatchSize == 0 {
		cfg.BatchSize = snippets.DefaultBatchSize
	}
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	logger := cfg.logger()
	onError := cfg.OnError
	if onError == nil {
		onError = errs.LogHandler(logger)
	}

	table, err := regions.ReadTableFile(cfg.Table)
	if err != nil {
		return 0, err
	}
	ix, err := regions.BuildIndex(table, regions.WithErrorHandler(onError), regions.WithLogger(logger))
	if err != nil {
		return 0, err
	}
	enc, err := imaging.NewEncoder(imaging.PNG, 0)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, path := range cfg.Archives {
		r, err := archive.Open(path, ix, archive.ReaderOptions{
			OnError: onError,
			Logger:  logger,
			Decode:  imaging.DecodeOptions{MaxPixels: cfg.MaxPixels},
		})
		if err != nil {
			if len(cfg.Archives) == 1 {
				return written, err
			}
			onError(err)
			continue
		}
		n, err := previewArchive(ctx, r, enc, &cfg)
		written += n
		r.Close()
		if err != nil {
			var archErr *errs.InvalidArchiveError
			if errors.As(err, &archErr) && len(cfg.Archives) > 1 {
				onError(err)
				continue
			}
			return written, err
		}
	}
	logger.Info("preview complete", "pages", written, "out", cfg.Out)
	return written, nil
}

func previewArchive(ctx context.Context, r *archive.Reader, enc *imaging.Encoder, cfg *Config) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		page, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}

		rects := make([]imaging.LabeledRect, 0, len(page.Regions))
		for _, region := range page.Regions {
			rects = append(rects, imaging.LabeledRect{
				Label: region.Name,
				Rect:  region.Box.Grow(cfg.Pad).Rect(),
			})
		}
		proof, err := imaging.Overlay(page.Image, rects, imaging.OverlayOptions{})
		if err != nil {
			return n, err
		}
		data, err := enc.EncodeBytes(proof)
		if err != nil {
			return n, fmt.Errorf("encoding proof for %s: %w", page.ImageID, err)
		}
		dest := filepath.Join(cfg.Out, PreviewName(page.ArchiveID, page.ImageID))
		if err := sink.WriteFile(ctx, dest, data); err != nil {
			return n, err
		}
		n++
	}
}
