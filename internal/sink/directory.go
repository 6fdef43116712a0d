package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/snippets"
)

// ErrPathInvalid is returned for snippet paths that would escape the sink root.
var ErrPathInvalid = errors.New("invalid output path")

const (
	dirPerm  os.FileMode = 0o755
	filePerm os.FileMode = 0o644
)

// Directory writes snippets into a nested directory tree:
// root/{archive}/{image}/{archive}_{image}_{region}.{ext}.
//
// Files are written to a temporary name and renamed into place, so rewriting
// the same batch leaves the same file set.
type Directory struct {
	root    string
	enc     *encoders
	onError errs.Handler
	logger  *slog.Logger
	// made remembers directories already created in this run
	made map[string]bool
}

var _ Sink = (*Directory)(nil)

// NewDirectory creates the root directory if needed and returns a sink writing
// under it.
func NewDirectory(root string, opts Options) (*Directory, error) {
	if strings.TrimSpace(root) == "" {
		return nil, &errs.ConfigurationError{Field: "output directory", Reason: "must not be empty"}
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Directory{
		root:    root,
		enc:     newEncoders(opts.Quality),
		onError: opts.onError(),
		logger:  opts.logger(),
		made:    make(map[string]bool),
	}, nil
}

// Root returns the output root.
func (d *Directory) Root() string {
	return d.root
}

// WriteBatch writes every snippet of b. It stops early only when ctx is done.
func (d *Directory) WriteBatch(ctx context.Context, b *snippets.Batch) ([]Written, error) {
	written := make([]Written, 0, b.Len())
	for _, sn := range b.Items {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		dest, err := d.mapPath(sn.Path())
		if err != nil {
			d.onError(&errs.WriteError{Path: sn.Path(), Err: err})
			continue
		}
		n, err := d.write(ctx, dest, sn)
		if err != nil {
			d.onError(&errs.WriteError{Path: dest, Err: err})
			continue
		}
		written = append(written, Written{Path: dest, Snippet: sn, Bytes: n})
	}
	d.logger.Debug("batch written", "seq", b.Seq, "written", len(written), "items", b.Len())
	return written, nil
}

func (d *Directory) write(ctx context.Context, dest string, sn snippets.Snippet) (int64, error) {
	data, err := d.enc.encode(sn)
	if err != nil {
		return 0, err
	}
	if err := d.ensureDir(filepath.Dir(dest)); err != nil {
		return 0, err
	}
	if err := writeAtomic(ctx, dest, bytes.NewReader(data)); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// ensureDir creates dir and its parents. A concurrent creator winning the
// race is not an error as long as dir exists afterwards.
func (d *Directory) ensureDir(dir string) error {
	if d.made[dir] {
		return nil
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		info, statErr := os.Stat(dir)
		if statErr != nil || !info.IsDir() {
			return err
		}
	}
	d.made[dir] = true
	return nil
}

// mapPath joins a slash-separated snippet path onto the root, rejecting
// absolute paths and parent escapes.
func (d *Directory) mapPath(rel string) (string, error) {
	rel = filepath.Clean(filepath.FromSlash(rel))
	if rel == "." || rel == "" || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", ErrPathInvalid
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathInvalid
	}
	return filepath.Join(d.root, rel), nil
}

// Close is a no-op; every file is complete once WriteBatch returns.
func (d *Directory) Close() error {
	return nil
}

// WriteFile atomically writes data to dest, creating parent directories.
func WriteFile(ctx context.Context, dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		return &errs.WriteError{Path: dest, Err: err}
	}
	if err := writeAtomic(ctx, dest, bytes.NewReader(data)); err != nil {
		return &errs.WriteError{Path: dest, Err: err}
	}
	return nil
}

// writeAtomic writes r to a temporary file next to dest and renames it over dest.
func writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
