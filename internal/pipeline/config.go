package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ironsheep/snippet-tools/internal/archive"
	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/imaging"
	"github.com/ironsheep/snippet-tools/internal/sink"
	"github.com/ironsheep/snippet-tools/internal/snippets"
)

// Mode selects the sink a run writes to.
type Mode string

const (
	// ModeDirectory writes one file per snippet under the output directory.
	ModeDirectory Mode = "dir"
	// ModeArchive writes every snippet of the run into one tar archive.
	ModeArchive Mode = "tar"
)

// ParseMode parses "dir" or "tar" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDirectory, ModeArchive:
		return m, nil
	}
	return "", &errs.ConfigurationError{Field: "mode", Reason: fmt.Sprintf("unknown sink mode %q (want dir or tar)", s)}
}

// Config describes one run.
type Config struct {
	// Table is the path of the coordinate table (.tsv, or .csv).
	Table string
	// Archives are the input archives, processed in order.
	Archives []string
	// Out is the output directory. In archive mode the output archive is
	// created inside it.
	Out  string
	Mode Mode
	// OutputName overrides the output archive file name in archive mode. Its
	// extension picks the compression.
	OutputName string
	// Gzip compresses the default output archive name (.tar.gz).
	Gzip      bool
	BatchSize int
	// Format is the snippet encoding: png, jpg, tif, bmp or gif.
	Format  string
	Quality int
	Pad     float64
	Adjust  imaging.Adjustments
	// MaxPixels rejects larger page images before decoding. Zero means no limit.
	MaxPixels int

	// Manifest, when set, is a bbolt file recording every written snippet.
	Manifest string
	// OCRLanguage, when set, transcribes each written snippet into the
	// manifest. Requires Manifest.
	OCRLanguage string

	Logger *slog.Logger
	// OnError receives every recoverable error of the run. Nil logs them.
	OnError errs.Handler
}

// DefaultConfig returns a Config with the default batch size, format and quality.
func DefaultConfig() Config {
	return Config{
		Mode:      ModeDirectory,
		BatchSize: snippets.DefaultBatchSize,
		Format:    string(imaging.PNG),
		Quality:   imaging.DefaultJPEGQuality,
	}
}

// Validate checks the configuration before any input is read. Every problem
// is a *errs.ConfigurationError.
func (c *Config) Validate() error {
	if c.Table == "" {
		return &errs.ConfigurationError{Field: "table", Reason: "no coordinate table given"}
	}
	if len(c.Archives) == 0 {
		return &errs.ConfigurationError{Field: "archives", Reason: "no input archives given"}
	}
	if c.Out == "" {
		return &errs.ConfigurationError{Field: "out", Reason: "no output directory given"}
	}
	mode, err := ParseMode(string(c.Mode))
	if err != nil {
		return err
	}
	c.Mode = mode
	if c.BatchSize < 1 {
		return &errs.ConfigurationError{Field: "batch size", Reason: fmt.Sprintf("must be a positive integer, got %d", c.BatchSize)}
	}
	if _, err := imaging.ParseFormat(c.Format); err != nil {
		return &errs.ConfigurationError{Field: "format", Reason: err.Error()}
	}
	if c.Quality < 0 || c.Quality > 100 {
		return &errs.ConfigurationError{Field: "quality", Reason: fmt.Sprintf("must be between 1 and 100, got %d", c.Quality)}
	}
	if c.Pad < 0 {
		return &errs.ConfigurationError{Field: "pad", Reason: fmt.Sprintf("must not be negative, got %g", c.Pad)}
	}
	if c.Adjust.Scale < 0 || c.Adjust.Scale > imaging.MaxScale {
		return &errs.ConfigurationError{Field: "scale", Reason: fmt.Sprintf("must be between 0 and %g, got %g", imaging.MaxScale, c.Adjust.Scale)}
	}
	if c.Adjust.Threshold < 0 || c.Adjust.Threshold > 255 {
		return &errs.ConfigurationError{Field: "threshold", Reason: fmt.Sprintf("must be between 0 and 255, got %d", c.Adjust.Threshold)}
	}
	if c.MaxPixels < 0 {
		return &errs.ConfigurationError{Field: "max pixels", Reason: "must not be negative"}
	}
	if c.Mode == ModeArchive && !archive.IsArchivePath(c.OutputPath()) {
		return &errs.ConfigurationError{Field: "output", Reason: fmt.Sprintf("%s is not a .tar, .tar.gz or .tgz name", c.OutputPath())}
	}
	if c.OCRLanguage != "" && c.Manifest == "" {
		return &errs.ConfigurationError{Field: "ocr", Reason: "transcription requires a manifest"}
	}
	return nil
}

// OutputPath is the output directory in directory mode, and the output
// archive path in archive mode.
func (c *Config) OutputPath() string {
	if c.Mode != ModeArchive {
		return c.Out
	}
	if c.OutputName != "" {
		return filepath.Join(c.Out, c.OutputName)
	}
	if len(c.Archives) == 0 {
		return ""
	}
	return filepath.Join(c.Out, filepath.Base(sink.DefaultArchiveName(c.Archives[0], c.Gzip)))
}

func (c *Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Config) sinkOptions(h errs.Handler, logger *slog.Logger) sink.Options {
	return sink.Options{Quality: c.Quality, OnError: h, Logger: logger}
}

func (c *Config) streamOptions(h errs.Handler, logger *slog.Logger) snippets.StreamOptions {
	return snippets.StreamOptions{
		Extract: snippets.ExtractorOptions{
			Format: imaging.Format(strings.ToLower(c.Format)),
			Pad:    c.Pad,
			Adjust: c.Adjust,
		},
		Decode:  imaging.DecodeOptions{MaxPixels: c.MaxPixels},
		OnError: h,
		Logger:  logger,
	}
}
