package regions

import (
	"fmt"
	"log/slog"
	"math"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/ironsheep/snippet-tools/internal/errs"
)

// nullTokens are the cell values read as missing, matching common table exports.
var nullTokens = map[string]struct{}{
	"": {}, "nan": {}, "none": {}, "null": {}, "na": {}, "n/a": {}, "<na>": {}, "-nan": {},
}

func isNull(s string) bool {
	_, ok := nullTokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// Stats summarises one BuildIndex call.
type Stats struct {
	// Rows is the number of data rows read.
	Rows int `json:"rows"`
	// Indexed is the number of regions added to the index.
	Indexed int `json:"indexed"`
	// Skipped is the number of rows rejected for missing or non-numeric fields.
	Skipped int `json:"skipped"`
	// Duplicates counts regions whose name already existed on the same image.
	// They are indexed, not dropped.
	Duplicates int `json:"duplicates"`
}

// Index maps archive identifier -> image identifier -> ordered regions.
//
// An Index is immutable once built and safe for concurrent readers.
type Index struct {
	archives map[string]*archiveEntry
	// byStem maps an archive name without its extension to its key.
	byStem map[string]string
	stats  Stats
}

type archiveEntry struct {
	images map[string][]Region
	// byBase resolves member paths whose directory prefix differs from the
	// table's image column. byStem resolves member paths with an extension
	// against table images written without one.
	byBase map[string]string
	byStem map[string]string
}

type indexConfig struct {
	onError errs.Handler
	logger  *slog.Logger
}

// IndexOption configures BuildIndex.
type IndexOption func(*indexConfig)

// WithErrorHandler sets the handler that receives skipped-row errors.
func WithErrorHandler(h errs.Handler) IndexOption {
	return func(c *indexConfig) { c.onError = h }
}

// WithLogger sets the logger used for the build summary and the default handler.
func WithLogger(l *slog.Logger) IndexOption {
	return func(c *indexConfig) { c.logger = l }
}

// BuildIndex validates t and indexes every usable row.
//
// A table missing required columns fails with *errs.ConfigurationError before any
// row is read. Rows with a missing or non-numeric required field are skipped and
// reported as *errs.RowError. Regions keep table order; duplicate names on the same
// image are retained and reported.
func BuildIndex(t *Table, opts ...IndexOption) (*Index, error) {
	cfg := indexConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.onError == nil {
		cfg.onError = errs.LogHandler(cfg.logger)
	}

	if !ValidateColumns(t) {
		return nil, &errs.ConfigurationError{
			Field:  "table columns",
			Reason: "missing required columns: " + strings.Join(MissingColumns(t), ", "),
		}
	}

	ix := &Index{
		archives: make(map[string]*archiveEntry),
		byStem:   make(map[string]string),
	}
	seen := make(map[[3]string]struct{})

	for row := 0; row < t.Len(); row++ {
		ix.stats.Rows++
		rec, err := parseRow(t, row)
		if err != nil {
			ix.stats.Skipped++
			cfg.onError(err)
			continue
		}

		key := [3]string{rec.Archive, rec.Image, rec.Region}
		if _, dup := seen[key]; dup {
			ix.stats.Duplicates++
			cfg.onError(&errs.RowError{
				Row: row + 1, Archive: rec.Archive, Image: rec.Image, Region: rec.Region,
				Reason: "duplicate region name on image (retained; later output overwrites earlier)",
			})
		}
		seen[key] = struct{}{}

		ix.insert(rec, row+1)
	}

	cfg.logger.Debug("region index built",
		"rows", ix.stats.Rows, "indexed", ix.stats.Indexed,
		"skipped", ix.stats.Skipped, "duplicates", ix.stats.Duplicates,
		"archives", len(ix.archives))
	return ix, nil
}

func parseRow(t *Table, row int) (Record, error) {
	var rec Record
	rec.Archive, _ = t.Value(row, ColumnArchive)
	rec.Image, _ = t.Value(row, ColumnImage)
	rec.Region, _ = t.Value(row, ColumnRegion)

	rowErr := func(reason string) error {
		return &errs.RowError{Row: row + 1, Archive: rec.Archive, Image: rec.Image, Region: rec.Region, Reason: reason}
	}

	for _, col := range []string{ColumnArchive, ColumnImage, ColumnRegion} {
		v, ok := t.Value(row, col)
		if !ok || isNull(v) {
			return rec, rowErr(fmt.Sprintf("missing value in %s", col))
		}
	}
	rec.Archive = strings.TrimSpace(rec.Archive)
	rec.Image = strings.TrimSpace(rec.Image)
	rec.Region = strings.TrimSpace(rec.Region)

	var coords [8]float64
	for i, col := range CoordinateColumns {
		v, ok := t.Value(row, col)
		if !ok || isNull(v) {
			return rec, rowErr(fmt.Sprintf("missing value in %s", col))
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return rec, rowErr(fmt.Sprintf("non-numeric %s %q", col, v))
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return rec, rowErr(fmt.Sprintf("non-finite %s %q", col, v))
		}
		coords[i] = f
	}
	for i := range rec.Corners {
		rec.Corners[i] = Point{X: coords[2*i], Y: coords[2*i+1]}
	}
	return rec, nil
}

func (ix *Index) insert(rec Record, row int) {
	a, ok := ix.archives[rec.Archive]
	if !ok {
		a = &archiveEntry{
			images: make(map[string][]Region),
			byBase: make(map[string]string),
			byStem: make(map[string]string),
		}
		ix.archives[rec.Archive] = a
		if _, taken := ix.byStem[ArchiveStem(rec.Archive)]; !taken {
			ix.byStem[ArchiveStem(rec.Archive)] = rec.Archive
		}
	}
	if _, ok := a.images[rec.Image]; !ok {
		base := path.Base(rec.Image)
		if _, taken := a.byBase[base]; !taken {
			a.byBase[base] = rec.Image
		}
		if Stem(base) == base {
			if _, taken := a.byStem[base]; !taken {
				a.byStem[base] = rec.Image
			}
		}
	}
	a.images[rec.Image] = append(a.images[rec.Image], Region{Name: rec.Region, Box: rec.BoundingBox(), Row: row})
	ix.stats.Indexed++
}

func (ix *Index) archive(archiveID string) (*archiveEntry, bool) {
	if a, ok := ix.archives[archiveID]; ok {
		return a, true
	}
	if key, ok := ix.byStem[ArchiveStem(archiveID)]; ok {
		return ix.archives[key], true
	}
	return nil, false
}

func (a *archiveEntry) lookup(imageID string) (string, []Region, bool) {
	if rs, ok := a.images[imageID]; ok {
		return imageID, rs, true
	}
	base := path.Base(imageID)
	if key, ok := a.byBase[base]; ok {
		return key, a.images[key], true
	}
	if key, ok := a.byStem[Stem(base)]; ok {
		return key, a.images[key], true
	}
	return "", nil, false
}

// HasArchive reports whether any region is indexed for archiveID.
func (ix *Index) HasArchive(archiveID string) bool {
	_, ok := ix.archive(archiveID)
	return ok
}

// Lookup returns the regions for an image in an archive. The archive resolves by
// exact name, then by name without its archive extension. The image resolves by
// exact member path, then base name, then, for table images written without an
// extension, base name without extension.
//
// The returned slice is a copy and may be modified by the caller.
func (ix *Index) Lookup(archiveID, imageID string) ([]Region, bool) {
	a, ok := ix.archive(archiveID)
	if !ok {
		return nil, false
	}
	_, rs, ok := a.lookup(imageID)
	if !ok {
		return nil, false
	}
	return slices.Clone(rs), true
}

// Resolve is Lookup that also returns the image identifier as written in the
// table, which may differ from imageID when a fallback matched.
func (ix *Index) Resolve(archiveID, imageID string) (string, []Region, bool) {
	a, ok := ix.archive(archiveID)
	if !ok {
		return "", nil, false
	}
	key, rs, ok := a.lookup(imageID)
	if !ok {
		return "", nil, false
	}
	return key, slices.Clone(rs), true
}

// Archives returns the indexed archive identifiers, sorted.
func (ix *Index) Archives() []string {
	keys := make([]string, 0, len(ix.archives))
	for k := range ix.archives {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Images returns the indexed image identifiers of an archive, sorted.
func (ix *Index) Images(archiveID string) []string {
	a, ok := ix.archive(archiveID)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(a.images))
	for k := range a.images {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the total number of indexed regions.
func (ix *Index) Len() int {
	return ix.stats.Indexed
}

// Stats returns the counters recorded while building the index.
func (ix *Index) Stats() Stats {
	return ix.stats
}
