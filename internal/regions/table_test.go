package regions

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleTSV = "\ufeffreel_filename\timage_filename\tsnip_name\tx1\ty1\tx2\ty2\tx3\ty3\tx4\ty4\tnotes\n" +
	"reel.tar\t0001.jpg\tname\t10\t20\t110\t20\t110\t60\t10\t60\tfirst\n" +
	"reel.tar\t0001.jpg\tage\t120\t20\t160\t20\t160\t60\t120\t60\n"

func TestReadTable(t *testing.T) {
	table, err := ReadTable(strings.NewReader(sampleTSV), '\t')
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}

	if table.Len() != 2 {
		t.Errorf("Len: got %d, want 2", table.Len())
	}
	if cols := table.Columns(); cols[0] != "reel_filename" || len(cols) != 12 {
		t.Errorf("Columns: got %v", cols)
	}
	if v, ok := table.Value(0, "notes"); !ok || v != "first" {
		t.Errorf("Value(0, notes): got %q, %v", v, ok)
	}
	if _, ok := table.Value(1, "notes"); ok {
		t.Error("Value beyond a short row should report missing")
	}
	if _, ok := table.Value(0, "nope"); ok {
		t.Error("Value for unknown column should report missing")
	}
	if !ValidateColumns(table) {
		t.Errorf("ValidateColumns: missing %v", MissingColumns(table))
	}
}

func TestReadTable_Empty(t *testing.T) {
	if _, err := ReadTable(strings.NewReader(""), '\t'); err == nil {
		t.Error("ReadTable should fail on an empty input")
	}
}

func TestReadTableFile(t *testing.T) {
	dir := t.TempDir()

	tsvPath := filepath.Join(dir, "coords.tsv")
	if err := os.WriteFile(tsvPath, []byte(sampleTSV), 0o644); err != nil {
		t.Fatal(err)
	}
	csvPath := filepath.Join(dir, "coords.csv")
	csv := strings.ReplaceAll(sampleTSV, "\t", ",")
	if err := os.WriteFile(csvPath, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{tsvPath, csvPath} {
		t.Run(filepath.Base(p), func(t *testing.T) {
			table, err := ReadTableFile(p)
			if err != nil {
				t.Fatalf("ReadTableFile failed: %v", err)
			}
			if v, _ := table.Value(1, "snip_name"); v != "age" {
				t.Errorf("snip_name row 1: got %q", v)
			}
		})
	}

	if _, err := ReadTableFile(filepath.Join(dir, "missing.tsv")); err == nil {
		t.Error("ReadTableFile should fail for a missing file")
	}
}

func TestValidateColumns(t *testing.T) {
	shuffled := []string{"y4", "x4", "y3", "x3", "extra", "y2", "x2", "y1", "x1", "snip_name", "image_filename", "reel_filename"}

	tests := []struct {
		name   string
		header []string
		want   bool
	}{
		{"canonical", RequiredColumns(), true},
		{"shuffled with extra", shuffled, true},
		{"padded names", []string{" reel_filename ", "image_filename", "snip_name", "x1", "y1", "x2", "y2", "x3", "y3", "x4", "y4"}, true},
		{"missing y4", RequiredColumns()[:10], false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateColumns(NewTable(tt.header, nil)); got != tt.want {
				t.Errorf("ValidateColumns: got %v, want %v", got, tt.want)
			}
		})
	}

	if ValidateColumns(nil) {
		t.Error("ValidateColumns(nil) should be false")
	}
}
