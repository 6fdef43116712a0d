// Package testutil builds archive and image fixtures for tests.
package testutil

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/ironsheep/snippet-tools/internal/regions"
)

// TB is the part of testing.TB the helpers need. GinkgoT() satisfies it too.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// Entry is one member of a fixture archive.
type Entry struct {
	Name    string
	Data    []byte
	Dir     bool
	Symlink bool
}

// WriteTar writes entries to path as a tar archive, gzip-compressed when path
// ends in .gz or .tgz.
func WriteTar(t TB, path string, entries ...Entry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".tgz") {
		gz = gzip.NewWriter(f)
		w = gz
	}

	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.Name, Mode: 0o644, Size: int64(len(e.Data)), Typeflag: tar.TypeReg}
		switch {
		case e.Dir:
			hdr.Typeflag, hdr.Mode, hdr.Size = tar.TypeDir, 0o755, 0
		case e.Symlink:
			hdr.Typeflag, hdr.Size, hdr.Linkname = tar.TypeSymlink, 0, "target"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write header for %s: %v", e.Name, err)
		}
		if hdr.Size > 0 {
			if _, err := tw.Write(e.Data); err != nil {
				t.Fatalf("failed to write %s: %v", e.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar: %v", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			t.Fatalf("failed to close gzip: %v", err)
		}
	}
}

// ReadTar returns the regular members of a tar (or tar.gz) archive by name.
func ReadTar(t TB, path string) map[string][]byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	defer f.Close()

	var r io.Reader = f
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			t.Fatalf("failed to open gzip: %v", err)
		}
		defer gz.Close()
		r = gz
	}

	out := make(map[string][]byte)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("failed to read tar: %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("failed to read %s: %v", hdr.Name, err)
		}
		out[hdr.Name] = data
	}
}

// Page returns a width x height image with a gradient so crops are distinguishable.
func Page(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x), uint8(y), 100, 255})
		}
	}
	return img
}

// PNG encodes Page(width, height).
func PNG(t TB, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, Page(width, height)); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// Row builds a coordinate table row for an axis-aligned box.
func Row(archive, img, region string, left, top, right, bottom string) []string {
	return []string{archive, img, region, left, top, right, top, right, bottom, left, bottom}
}

// Index builds a region index from rows in RequiredColumns order.
func Index(t TB, rows ...[]string) *regions.Index {
	t.Helper()
	ix, err := regions.BuildIndex(regions.NewTable(regions.RequiredColumns(), rows))
	if err != nil {
		t.Fatalf("failed to build index: %v", err)
	}
	return ix
}
