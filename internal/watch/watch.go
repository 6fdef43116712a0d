// Package watch runs a callback for each archive that appears in a directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ironsheep/snippet-tools/internal/archive"
)

// DefaultSettle is how long a file must go without writes before it is handed on.
const DefaultSettle = 2 * time.Second

// Func processes one archive that has settled.
type Func func(ctx context.Context, path string) error

// Run watches dir (not recursively) and calls fn once for every .tar, .tar.gz
// or .tgz file that is created or moved into it, after the file has seen no
// writes for settle. Hidden files are ignored. Calls are made one at a time
// from the watching goroutine; an error from fn is logged and watching
// continues. Run returns nil when ctx is done.
func Run(ctx context.Context, dir string, settle time.Duration, fn Func) error {
	if settle <= 0 {
		settle = DefaultSettle
	}
	logger := slog.Default().With("dir", dir)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	logger.Info("watching for archives", "settle", settle)

	tick := settle / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	// last write seen per path
	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !candidate(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				pending[ev.Name] = time.Now()
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				delete(pending, ev.Name)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)

		case now := <-ticker.C:
			for _, path := range settled(pending, now, settle) {
				delete(pending, path)
				logger.Info("archive settled", "path", path)
				if err := fn(ctx, path); err != nil {
					logger.Error("processing archive failed", "path", path, "error", err)
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		}
	}
}

func candidate(path string) bool {
	base := filepath.Base(path)
	return !strings.HasPrefix(base, ".") && archive.IsArchivePath(base)
}

// settled returns the pending paths quiet for at least settle, oldest first.
func settled(pending map[string]time.Time, now time.Time, settle time.Duration) []string {
	var out []string
	for path, last := range pending {
		if now.Sub(last) >= settle {
			out = append(out, path)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := pending[out[i]], pending[out[j]]
		if ti.Equal(tj) {
			return out[i] < out[j]
		}
		return ti.Before(tj)
	})
	return out
}
