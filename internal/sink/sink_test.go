package sink

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"testing"

	"github.com/ironsheep/snippet-tools/internal/archive"
	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/regions"
	"github.com/ironsheep/snippet-tools/internal/snippets"
	"github.com/ironsheep/snippet-tools/internal/testutil"
)

func snippet(archiveID, imageID, region, ext string, size int) snippets.Snippet {
	return snippets.Snippet{
		ArchiveID: archiveID,
		ImageID:   imageID,
		Region:    regions.Region{Name: region},
		Name:      snippets.Name(archiveID, imageID, region, ext),
		Image:     testutil.Page(size, size),
	}
}

// scenarioBatches is 4 snippets across 2 images of one archive, in 2 batches.
func scenarioBatches() []*snippets.Batch {
	return []*snippets.Batch{
		{Seq: 0, Items: []snippets.Snippet{
			snippet("reel_01.tar", "0001.png", "surname", "png", 6),
			snippet("reel_01.tar", "0001.png", "age", "png", 4),
			snippet("reel_01.tar", "0002.png", "surname", "png", 5),
		}},
		{Seq: 1, Items: []snippets.Snippet{
			snippet("reel_01.tar", "0002.png", "age", "jpg", 7),
		}},
	}
}

func listFiles(t *testing.T, root string) map[string]int64 {
	t.Helper()
	files := make(map[string]int64)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		files[filepath.ToSlash(rel)] = info.Size()
		return nil
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	return files
}

func TestDirectory_WritesNestedTree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	d, err := NewDirectory(root, Options{})
	if err != nil {
		t.Fatalf("NewDirectory failed: %v", err)
	}
	defer d.Close()

	var total int
	for _, b := range scenarioBatches() {
		written, err := d.WriteBatch(context.Background(), b)
		if err != nil {
			t.Fatalf("WriteBatch failed: %v", err)
		}
		total += len(written)
		for _, w := range written {
			if w.Bytes <= 0 || filepath.Dir(w.Path) == root {
				t.Errorf("unexpected Written %+v", w)
			}
		}
	}
	if total != 4 {
		t.Fatalf("written: got %d, want 4", total)
	}

	files := listFiles(t, root)
	want := []string{
		"reel_01/0001/reel_01_0001_age.png",
		"reel_01/0001/reel_01_0001_surname.png",
		"reel_01/0002/reel_01_0002_age.jpg",
		"reel_01/0002/reel_01_0002_surname.png",
	}
	var got []string
	for name := range files {
		got = append(got, name)
	}
	sort.Strings(got)
	if len(got) != len(want) {
		t.Fatalf("files: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("file %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDirectory_Idempotent(t *testing.T) {
	root := t.TempDir()
	run := func() map[string]int64 {
		d, err := NewDirectory(root, Options{})
		if err != nil {
			t.Fatalf("NewDirectory failed: %v", err)
		}
		for _, b := range scenarioBatches() {
			if _, err := d.WriteBatch(context.Background(), b); err != nil {
				t.Fatalf("WriteBatch failed: %v", err)
			}
		}
		if err := d.Close(); err != nil {
			t.Fatal(err)
		}
		return listFiles(t, root)
	}

	first := run()
	second := run()
	if len(first) != 4 || len(second) != len(first) {
		t.Fatalf("file sets differ: %v vs %v", first, second)
	}
	for name, size := range first {
		if second[name] != size {
			t.Errorf("%s: size %d then %d", name, size, second[name])
		}
	}
}

func TestDirectory_ItemFailureDoesNotAbortBatch(t *testing.T) {
	var reported []error
	d, err := NewDirectory(t.TempDir(), Options{OnError: func(err error) { reported = append(reported, err) }})
	if err != nil {
		t.Fatal(err)
	}

	b := &snippets.Batch{Items: []snippets.Snippet{
		snippet("reel.tar", "0001.png", "a", "png", 3),
		snippet("reel.tar", "0001.png", "b", "xyz", 3),
		snippet("reel.tar", "0001.png", "c", "png", 3),
	}}
	written, err := d.WriteBatch(context.Background(), b)
	if err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	if len(written) != 2 || written[1].Snippet.Region.Name != "c" {
		t.Errorf("expected a and c written, got %d items", len(written))
	}
	var writeErr *errs.WriteError
	if len(reported) != 1 || !errors.As(reported[0], &writeErr) {
		t.Errorf("expected one WriteError, got %v", reported)
	}
}

func TestDirectory_ContextCancelled(t *testing.T) {
	d, err := NewDirectory(t.TempDir(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	written, err := d.WriteBatch(ctx, scenarioBatches()[0])
	if !errors.Is(err, context.Canceled) || len(written) != 0 {
		t.Errorf("expected context.Canceled with nothing written, got %v (%d)", err, len(written))
	}
}

func TestDirectory_MapPath(t *testing.T) {
	d := &Directory{root: "/out"}
	tests := []struct {
		rel     string
		want    string
		wantErr bool
	}{
		{"reel/0001/a.png", filepath.Join("/out", "reel", "0001", "a.png"), false},
		{"reel/./0001/a.png", filepath.Join("/out", "reel", "0001", "a.png"), false},
		{"../escape.png", "", true},
		{"reel/../../escape.png", "", true},
		{"/abs.png", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			got, err := d.mapPath(tt.rel)
			if (err != nil) != tt.wantErr {
				t.Fatalf("mapPath(%q) error = %v, wantErr %v", tt.rel, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("mapPath(%q) = %q, want %q", tt.rel, got, tt.want)
			}
		})
	}
}

func TestNewDirectory_EmptyRoot(t *testing.T) {
	_, err := NewDirectory(" ", Options{})
	var cfgErr *errs.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestArchive_RoundTrip(t *testing.T) {
	for _, name := range []string{"reel_01_snippets.tar", "reel_01_snippets.tar.gz"} {
		t.Run(name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "nested", name)
			a, err := NewArchive(out, Options{})
			if err != nil {
				t.Fatalf("NewArchive failed: %v", err)
			}

			var want []string
			var rows [][]string
			for _, b := range scenarioBatches() {
				written, err := a.WriteBatch(context.Background(), b)
				if err != nil {
					t.Fatalf("WriteBatch failed: %v", err)
				}
				for _, w := range written {
					want = append(want, w.Snippet.Name)
					rows = append(rows, testutil.Row(name, w.Path, "whole", "0", "0", "2", "2"))
				}
			}
			if err := a.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			if err := a.Close(); err != nil {
				t.Errorf("second Close failed: %v", err)
			}

			members := testutil.ReadTar(t, out)
			if _, ok := members["reel_01/0002/reel_01_0002_age.jpg"]; !ok {
				t.Errorf("expected nested entry names, got %v", keys(members))
			}

			r, err := archive.Open(out, testutil.Index(t, rows...), archive.ReaderOptions{})
			if err != nil {
				t.Fatalf("archive.Open failed: %v", err)
			}
			defer r.Close()

			var got []string
			for {
				page, err := r.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					t.Fatalf("Next failed: %v", err)
				}
				got = append(got, path.Base(page.ImageID))
			}
			sort.Strings(got)
			sort.Strings(want)
			if len(got) != 4 || len(got) != len(want) {
				t.Fatalf("round trip: got %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("entry %d: got %s, want %s", i, got[i], want[i])
				}
			}
		})
	}
}

func TestArchive_ItemFailureStillFinalizes(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.tgz")
	var reported []error
	a, err := NewArchive(out, Options{OnError: func(err error) { reported = append(reported, err) }})
	if err != nil {
		t.Fatal(err)
	}
	b := &snippets.Batch{Items: []snippets.Snippet{
		snippet("reel.tar", "0001.png", "bad", "xyz", 3),
		snippet("reel.tar", "0001.png", "good", "png", 3),
	}}
	written, err := a.WriteBatch(context.Background(), b)
	if err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(written) != 1 || len(reported) != 1 {
		t.Errorf("written %d, reported %d", len(written), len(reported))
	}
	if members := testutil.ReadTar(t, out); len(members) != 1 {
		t.Errorf("expected one member in a valid archive, got %v", keys(members))
	}
	if _, err := a.WriteBatch(context.Background(), b); err == nil {
		t.Error("WriteBatch after Close should fail")
	}
}

func TestArchive_RejectedHeaderSkipsItem(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.tar")
	var reported []error
	a, err := NewArchive(out, Options{OnError: func(err error) { reported = append(reported, err) }})
	if err != nil {
		t.Fatal(err)
	}

	// a non-ASCII name containing NUL fits no tar header format
	bad := snippet("reel.tar", "0001.png", "x", "png", 3)
	bad.Name = "caf\u00e9\x00.png"
	b := &snippets.Batch{Items: []snippets.Snippet{
		snippet("reel.tar", "0001.png", "first", "png", 3),
		bad,
		snippet("reel.tar", "0001.png", "last", "png", 3),
	}}
	written, err := a.WriteBatch(context.Background(), b)
	if err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(written) != 2 {
		t.Errorf("written: got %d, want 2", len(written))
	}
	var writeErr *errs.WriteError
	if len(reported) != 1 || !errors.As(reported[0], &writeErr) {
		t.Fatalf("expected one WriteError, got %v", reported)
	}
	members := testutil.ReadTar(t, out)
	if len(members) != 2 {
		t.Errorf("members: got %v", keys(members))
	}
	if _, ok := members["reel/0001/reel_0001_last.png"]; !ok {
		t.Errorf("entry after the rejected one is missing: %v", keys(members))
	}
}

func TestNewArchive_UnsupportedExtension(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.zip")
	_, err := NewArchive(out, Options{})
	var cfgErr *errs.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("no file should be created for an unsupported extension")
	}
}

func TestDefaultArchiveName(t *testing.T) {
	tests := []struct {
		input string
		gz    bool
		want  string
	}{
		{"reel_01.tar", false, "reel_01_snippets.tar"},
		{"reel_01.tar.gz", true, "reel_01_snippets.tar.gz"},
		{filepath.Join("in", "Reel.TGZ"), false, filepath.Join("in", "Reel_snippets.tar")},
	}
	for _, tt := range tests {
		if got := DefaultArchiveName(tt.input, tt.gz); got != tt.want {
			t.Errorf("DefaultArchiveName(%q, %v) = %q, want %q", tt.input, tt.gz, got, tt.want)
		}
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
