// Package labelme converts LabelMe polygon annotations into coordinate table
// rows for the snippet pipeline.
//
// Each shape becomes one row: the shape label is the region name and its four
// points fill x1,y1..x4,y4. Rectangle shapes, which LabelMe stores as two
// opposite corners, are expanded to four. Any other shape that does not have
// exactly four points is reported and skipped.
package labelme

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/regions"
)

// Document is the part of a LabelMe file the converter reads.
type Document struct {
	Shapes      []Shape `json:"shapes"`
	ImagePath   string  `json:"imagePath"`
	ImageWidth  int     `json:"imageWidth"`
	ImageHeight int     `json:"imageHeight"`
}

// Shape is one annotated polygon.
type Shape struct {
	Label     string      `json:"label"`
	Points    [][]float64 `json:"points"`
	ShapeType string      `json:"shape_type"`
}

// Read decodes a LabelMe document. A document without shapes is an error.
func Read(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding LabelMe JSON: %w", err)
	}
	if len(doc.Shapes) == 0 {
		return nil, errors.New("shapes list not found in LabelMe file")
	}
	return &doc, nil
}

// ReadFile reads a LabelMe document from a .json file.
func ReadFile(name string) (*Document, error) {
	if !strings.EqualFold(filepath.Ext(name), ".json") {
		return nil, &errs.ConfigurationError{Field: name, Reason: "not a .json file"}
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Rows converts doc into coordinate table rows in regions.RequiredColumns
// order. An empty image uses the base name of the document's imagePath.
// Shapes that cannot be converted are reported to h as *errs.RowError with
// the 1-based shape number.
func Rows(doc *Document, reel, image string, h errs.Handler) [][]string {
	h = errs.Or(h)
	if image == "" && doc.ImagePath != "" {
		image = path.Base(strings.ReplaceAll(doc.ImagePath, "\\", "/"))
	}

	rows := make([][]string, 0, len(doc.Shapes))
	for i, shape := range doc.Shapes {
		points, err := corners(shape)
		if err != nil {
			h(&errs.RowError{Row: i + 1, Archive: reel, Image: image, Region: shape.Label, Reason: err.Error()})
			continue
		}
		row := make([]string, 0, len(regions.RequiredColumns()))
		row = append(row, reel, image, shape.Label)
		for _, p := range points {
			row = append(row, formatCoord(p[0]), formatCoord(p[1]))
		}
		rows = append(rows, row)
	}
	return rows
}

func corners(s Shape) ([][]float64, error) {
	for _, p := range s.Points {
		if len(p) != 2 {
			return nil, fmt.Errorf("point has %d coordinates, want 2", len(p))
		}
	}
	if s.ShapeType == "rectangle" && len(s.Points) == 2 {
		a, b := s.Points[0], s.Points[1]
		return [][]float64{{a[0], a[1]}, {b[0], a[1]}, {b[0], b[1]}, {a[0], b[1]}}, nil
	}
	if len(s.Points) != 4 {
		return nil, fmt.Errorf("shape has %d points, want 4", len(s.Points))
	}
	return s.Points, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteTSV writes the coordinate table header followed by rows, tab-separated.
func WriteTSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(regions.RequiredColumns()); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("writing rows: %w", err)
	}
	return nil
}

// ConvertFile converts the LabelMe file at src into {outDir}/{src stem}.tsv
// and returns the output path and the number of rows written.
func ConvertFile(src, outDir, reel, image string, h errs.Handler) (string, int, error) {
	info, err := os.Stat(outDir)
	if err != nil || !info.IsDir() {
		return "", 0, &errs.ConfigurationError{Field: outDir, Reason: "output directory does not exist"}
	}
	doc, err := ReadFile(src)
	if err != nil {
		return "", 0, err
	}
	rows := Rows(doc, reel, image, h)

	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	out := filepath.Join(outDir, stem+".tsv")
	f, err := os.Create(out)
	if err != nil {
		return "", 0, err
	}
	if err := WriteTSV(f, rows); err != nil {
		f.Close()
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		return "", 0, err
	}
	return out, len(rows), nil
}
