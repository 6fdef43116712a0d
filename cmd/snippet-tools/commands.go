package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/imaging"
	"github.com/ironsheep/snippet-tools/internal/labelme"
	"github.com/ironsheep/snippet-tools/internal/manifest"
	"github.com/ironsheep/snippet-tools/internal/pipeline"
	"github.com/ironsheep/snippet-tools/internal/server"
	"github.com/ironsheep/snippet-tools/internal/snippets"
	"github.com/ironsheep/snippet-tools/internal/watch"
)

type app struct {
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

// runFlags are the flags shared by every subcommand that runs the pipeline.
type runFlags struct {
	table     *string
	out       *string
	batchSize *int
	format    *string
	quality   *int
	pad       *float64
	scale     *float64
	grayscale *bool
	threshold *int
	maxPixels *int
	manifest  *string
	ocr       *string
}

func addRunFlags(fs *ff.FlagSet) *runFlags {
	return &runFlags{
		table:     fs.StringLong("table", "", "coordinate table (.tsv, or .csv)"),
		out:       fs.StringLong("out", "", "output directory"),
		batchSize: fs.IntLong("batch-size", snippets.DefaultBatchSize, "snippets per batch"),
		format:    fs.StringLong("format", string(imaging.PNG), "snippet format: png, jpg, tif, bmp or gif"),
		quality:   fs.IntLong("quality", imaging.DefaultJPEGQuality, "JPEG quality (1-100)"),
		pad:       fs.Float64Long("pad", 0, "grow every region by this many pixels on each side"),
		scale:     fs.Float64Long("scale", 0, "resize snippets by this factor (at most 16)"),
		grayscale: fs.BoolLong("grayscale", "convert snippets to grayscale"),
		threshold: fs.IntLong("threshold", 0, "binarise snippets at this luminance (1-255)"),
		maxPixels: fs.IntLong("max-pixels", 0, "skip page images larger than this many pixels"),
		manifest:  fs.StringLong("manifest", "", "record written snippets in this manifest database"),
		ocr:       fs.StringLong("ocr", "", "transcribe snippets into the manifest with this Tesseract language"),
	}
}

func (f *runFlags) config(mode pipeline.Mode, archives []string, logger *slog.Logger) pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Table = *f.table
	cfg.Archives = archives
	cfg.Out = *f.out
	cfg.Mode = mode
	cfg.BatchSize = *f.batchSize
	cfg.Format = *f.format
	cfg.Quality = *f.quality
	cfg.Pad = *f.pad
	cfg.Adjust = imaging.Adjustments{Scale: *f.scale, Grayscale: *f.grayscale, Threshold: *f.threshold}
	cfg.MaxPixels = *f.maxPixels
	cfg.Manifest = *f.manifest
	cfg.OCRLanguage = *f.ocr
	cfg.Logger = logger
	return cfg
}

func (a *app) report(s *pipeline.Summary) {
	fmt.Fprintf(a.stdout, "wrote %d snippets in %d batches to %s (%d regions skipped, %d rows skipped, %d write failures)\n",
		s.Written, s.Stream.Batches, s.Output, s.Stream.RegionsSkipped, s.Index.Skipped, s.WriteFailed)
}

func (a *app) dirCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("dir").SetParent(parent)
	flags := addRunFlags(fs)
	return &ff.Command{
		Name:      "dir",
		Usage:     "snippet-tools dir --table T --out DIR [FLAGS] ARCHIVE...",
		ShortHelp: "write one file per snippet under {out}/{archive}/{image}/",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			summary, err := pipeline.Run(ctx, flags.config(pipeline.ModeDirectory, args, a.logger))
			if err != nil {
				return err
			}
			a.report(summary)
			return nil
		},
	}
}

func (a *app) tarCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("tar").SetParent(parent)
	flags := addRunFlags(fs)
	output := fs.StringLong("output", "", "output archive name (default {first archive}_snippets.tar)")
	gz := fs.BoolLong("gzip", "gzip the default output archive")
	return &ff.Command{
		Name:      "tar",
		Usage:     "snippet-tools tar --table T --out DIR [--output NAME] [--gzip] [FLAGS] ARCHIVE...",
		ShortHelp: "write every snippet of the run into one tar archive",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			cfg := flags.config(pipeline.ModeArchive, args, a.logger)
			cfg.OutputName = *output
			cfg.Gzip = *gz
			summary, err := pipeline.Run(ctx, cfg)
			if err != nil {
				return err
			}
			a.report(summary)
			return nil
		},
	}
}

func (a *app) previewCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("preview").SetParent(parent)
	table := fs.StringLong("table", "", "coordinate table (.tsv, or .csv)")
	out := fs.StringLong("out", "", "directory for proof images")
	pad := fs.Float64Long("pad", 0, "grow every outline by this many pixels on each side")
	maxPixels := fs.IntLong("max-pixels", 0, "skip page images larger than this many pixels")
	return &ff.Command{
		Name:      "preview",
		Usage:     "snippet-tools preview --table T --out DIR ARCHIVE...",
		ShortHelp: "draw every region onto its page for checking a table",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			n, err := pipeline.Preview(ctx, pipeline.Config{
				Table:     *table,
				Archives:  args,
				Out:       *out,
				Pad:       *pad,
				MaxPixels: *maxPixels,
				Logger:    a.logger,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "wrote %d proof pages to %s\n", n, *out)
			return nil
		},
	}
}

func (a *app) labelmeCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("labelme").SetParent(parent)
	reel := fs.StringLong("reel", "", "archive file name for the reel_filename column")
	image := fs.StringLong("image", "", "image name for the image_filename column (default: the file's imagePath)")
	out := fs.StringLong("out", ".", "existing output directory")
	return &ff.Command{
		Name:      "labelme",
		Usage:     "snippet-tools labelme --reel R [--image I] [--out DIR] FILE.json...",
		ShortHelp: "convert LabelMe annotations into coordinate tables",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if *reel == "" {
				return &errs.ConfigurationError{Field: "reel", Reason: "no archive name given"}
			}
			if len(args) == 0 {
				return &errs.ConfigurationError{Field: "files", Reason: "no LabelMe files given"}
			}
			if len(args) > 1 && *image != "" {
				return &errs.ConfigurationError{Field: "image", Reason: "cannot name one image for several files"}
			}
			h := errs.LogHandler(a.logger)
			for _, src := range args {
				dest, n, err := labelme.ConvertFile(src, *out, *reel, *image, h)
				if err != nil {
					return fmt.Errorf("%s: %w", src, err)
				}
				fmt.Fprintf(a.stdout, "%s: %d rows -> %s\n", src, n, dest)
			}
			return nil
		},
	}
}

func (a *app) watchCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("watch").SetParent(parent)
	flags := addRunFlags(fs)
	dir := fs.StringLong("dir", "", "directory to watch for new archives")
	mode := fs.StringLong("mode", string(pipeline.ModeDirectory), "sink for each archive: dir or tar")
	gz := fs.BoolLong("gzip", "gzip output archives in tar mode")
	settle := fs.DurationLong("settle", watch.DefaultSettle, "how long a file must be unchanged before it is processed")
	return &ff.Command{
		Name:      "watch",
		Usage:     "snippet-tools watch --table T --dir IN --out DIR [FLAGS]",
		ShortHelp: "process each archive that appears in a directory",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			m, err := pipeline.ParseMode(*mode)
			if err != nil {
				return err
			}
			if *dir == "" {
				return &errs.ConfigurationError{Field: "dir", Reason: "no directory to watch"}
			}
			if m == pipeline.ModeArchive && sameDir(*dir, *flags.out) {
				return &errs.ConfigurationError{Field: "out", Reason: "output archives would be picked up as new input; choose a directory other than --dir"}
			}
			// validate once up front so a bad flag fails before watching
			probe := flags.config(m, []string{filepath.Join(*dir, "probe.tar")}, a.logger)
			if err := probe.Validate(); err != nil {
				return err
			}
			return watch.Run(ctx, *dir, *settle, func(ctx context.Context, path string) error {
				cfg := flags.config(m, []string{path}, a.logger)
				cfg.Gzip = *gz
				summary, err := pipeline.Run(ctx, cfg)
				if err != nil {
					return err
				}
				a.report(summary)
				return nil
			})
		},
	}
}

// sameDir reports whether a and b name the same directory after resolving
// relative paths and symlinks.
func sameDir(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	resolve := func(p string) string {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			p = resolved
		}
		return p
	}
	return resolve(a) == resolve(b)
}

func (a *app) manifestCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("manifest").SetParent(parent)
	db := fs.StringLong("db", "", "manifest database")
	return &ff.Command{
		Name:      "manifest",
		Usage:     "snippet-tools manifest --db PATH",
		ShortHelp: "summarise the runs recorded in a manifest",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if *db == "" {
				return &errs.ConfigurationError{Field: "db", Reason: "no manifest given"}
			}
			if _, err := os.Stat(*db); err != nil {
				return fmt.Errorf("manifest not found: %w", err)
			}
			store, err := manifest.Open(*db)
			if err != nil {
				return err
			}
			defer store.Close()
			return printManifest(a.stdout, store)
		},
	}
}

func printManifest(w io.Writer, store *manifest.Store) error {
	runs, err := store.Runs()
	if err != nil {
		return err
	}
	n, err := store.Count()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tMODE\tARCHIVES\tPAGES\tWRITTEN\tSKIPPED\tFAILED\tDURATION\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Mode, r.Archives, r.Pages,
			r.Written, r.RegionsSkipped+r.RowsSkipped, r.WriteFailed+r.DecodeFailed+r.ArchivesFailed,
			r.Duration().Round(time.Millisecond), r.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d runs, %d snippets recorded\n", len(runs), n)
	return err
}

func (a *app) mcpCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("mcp").SetParent(parent)
	return &ff.Command{
		Name:      "mcp",
		Usage:     "snippet-tools mcp",
		ShortHelp: "serve the snippet tools over MCP on stdin/stdout",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			srv := server.New(server.WithLogger(a.logger), server.WithVersion(Version))
			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
