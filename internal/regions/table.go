package regions

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Column names of the coordinate table.
const (
	ColumnArchive = "reel_filename"
	ColumnImage   = "image_filename"
	ColumnRegion  = "snip_name"
)

// CoordinateColumns lists the eight corner columns in x1,y1..x4,y4 order.
var CoordinateColumns = []string{"x1", "y1", "x2", "y2", "x3", "y3", "x4", "y4"}

// RequiredColumns returns the eleven columns every coordinate table must expose,
// in the order the table writer emits them.
func RequiredColumns() []string {
	cols := []string{ColumnArchive, ColumnImage, ColumnRegion}
	return append(cols, CoordinateColumns...)
}

// Table is an in-memory tabular dataset with named columns.
//
// Rows may be ragged; a cell beyond a row's length reads as missing.
type Table struct {
	header []string
	index  map[string]int
	rows   [][]string
}

// NewTable creates a table from a header and its data rows. Header names are
// trimmed; when a name repeats, the first occurrence wins.
func NewTable(header []string, rows [][]string) *Table {
	t := &Table{
		header: make([]string, len(header)),
		index:  make(map[string]int, len(header)),
		rows:   rows,
	}
	for i, name := range header {
		name = strings.TrimSpace(name)
		t.header[i] = name
		if _, dup := t.index[name]; !dup {
			t.index[name] = i
		}
	}
	return t
}

// Columns returns the table's column names in file order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.header...)
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Value returns the cell at row for the named column. ok is false when the column
// does not exist or the row is too short to hold it.
func (t *Table) Value(row int, column string) (value string, ok bool) {
	col, exists := t.index[column]
	if !exists || row < 0 || row >= len(t.rows) {
		return "", false
	}
	r := t.rows[row]
	if col >= len(r) {
		return "", false
	}
	return r[col], true
}

// HasColumn reports whether the table exposes the named column.
func (t *Table) HasColumn(column string) bool {
	_, ok := t.index[column]
	return ok
}

// ReadTable parses a delimited text table whose first record is the header.
// Use '\t' for TSV and ',' for CSV.
func ReadTable(r io.Reader, delim rune) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("table is empty: no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read table header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read table row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, rec)
	}

	return NewTable(header, rows), nil
}

// ReadTableFile reads a table from disk. Files ending in .csv are comma separated;
// everything else is treated as tab separated.
func ReadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer f.Close()

	delim := '\t'
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		delim = ','
	}
	t, err := ReadTable(f, delim)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ValidateColumns reports whether all required columns are present. Extra
// columns are permitted and order is irrelevant.
func ValidateColumns(t *Table) bool {
	return t != nil && len(MissingColumns(t)) == 0
}

// MissingColumns returns the required columns absent from t, in canonical order.
func MissingColumns(t *Table) []string {
	var missing []string
	for _, col := range RequiredColumns() {
		if t == nil || !t.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	return missing
}
