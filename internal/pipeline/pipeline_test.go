package pipeline

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ironsheep/snippet-tools/internal/errs"
	"github.com/ironsheep/snippet-tools/internal/manifest"
	"github.com/ironsheep/snippet-tools/internal/ocr"
	"github.com/ironsheep/snippet-tools/internal/regions"
	"github.com/ironsheep/snippet-tools/internal/testutil"
)

func TestPipeline(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pipeline Suite")
}

type fakeTranscriber struct {
	calls  int
	closed bool
}

func (f *fakeTranscriber) Transcribe(img image.Image) (*ocr.Transcription, error) {
	f.calls++
	return &ocr.Transcription{Text: "SMITH", Confidence: 0.9}, nil
}

func (f *fakeTranscriber) Close() error {
	f.closed = true
	return nil
}

func writeTable(t testutil.TB, path string, rows ...[]string) {
	lines := []string{strings.Join(regions.RequiredColumns(), "\t")}
	for _, row := range rows {
		lines = append(lines, strings.Join(row, "\t"))
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("failed to write table: %v", err)
	}
}

func listFiles(root string) []string {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(root, path)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	Expect(err).NotTo(HaveOccurred())
	return files
}

var _ = Describe("Run", func() {
	var (
		dir      string
		table    string
		reel     string
		out      string
		reported []error
		cfg      Config
	)

	BeforeEach(func() {
		t := GinkgoT()
		dir = t.TempDir()
		table = filepath.Join(dir, "regions.tsv")
		reel = filepath.Join(dir, "reel_01.tar")
		out = filepath.Join(dir, "out")
		reported = nil

		writeTable(t, table,
			testutil.Row("reel_01.tar", "0001.png", "surname", "10", "10", "40", "20"),
			testutil.Row("reel_01.tar", "0001.png", "age", "50", "10", "60", "20"),
			testutil.Row("reel_01.tar", "0002.png", "surname", "10", "10", "40", "20"),
			testutil.Row("reel_01.tar", "0002.png", "age", "50", "10", "60", "20"),
		)
		testutil.WriteTar(t, reel,
			testutil.Entry{Name: "0001.png", Data: testutil.PNG(t, 80, 60)},
			testutil.Entry{Name: "0002.png", Data: testutil.PNG(t, 80, 60)},
			testutil.Entry{Name: "0003.png", Data: testutil.PNG(t, 80, 60)},
		)

		cfg = DefaultConfig()
		cfg.Table = table
		cfg.Archives = []string{reel}
		cfg.Out = out
		cfg.BatchSize = 3
		cfg.OnError = func(err error) { reported = append(reported, err) }
	})

	Context("in directory mode", func() {
		It("writes one file per region and ignores unindexed pages", func() {
			summary, err := Run(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())

			Expect(listFiles(out)).To(ConsistOf(
				"reel_01/0001/reel_01_0001_surname.png",
				"reel_01/0001/reel_01_0001_age.png",
				"reel_01/0002/reel_01_0002_surname.png",
				"reel_01/0002/reel_01_0002_age.png",
			))
			Expect(summary.Written).To(Equal(4))
			Expect(summary.Stream.Batches).To(Equal(2))
			Expect(summary.Stream.Pages).To(Equal(2))
			Expect(summary.RunID).NotTo(BeEmpty())
			Expect(reported).To(BeEmpty())
		})

		It("writes crops with the region's pixel size", func() {
			_, err := Run(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())

			f, err := os.Open(filepath.Join(out, "reel_01", "0001", "reel_01_0001_surname.png"))
			Expect(err).NotTo(HaveOccurred())
			defer f.Close()
			conf, _, err := image.DecodeConfig(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(conf.Width).To(Equal(30))
			Expect(conf.Height).To(Equal(10))
		})

		It("skips a zero-width region and reports it", func() {
			writeTable(GinkgoT(), table,
				testutil.Row("reel_01.tar", "0001.png", "surname", "10", "10", "40", "20"),
				testutil.Row("reel_01.tar", "0001.png", "blank", "30", "10", "30", "20"),
			)
			summary, err := Run(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())

			Expect(listFiles(out)).To(ConsistOf("reel_01/0001/reel_01_0001_surname.png"))
			Expect(summary.Stream.RegionsSkipped).To(Equal(1))
			Expect(reported).To(HaveLen(1))
			var regionErr *errs.RegionError
			Expect(errors.As(reported[0], &regionErr)).To(BeTrue())
			Expect(regionErr.Region).To(Equal("blank"))
		})

		It("skips bad table rows and keeps the rest", func() {
			writeTable(GinkgoT(), table,
				testutil.Row("reel_01.tar", "0001.png", "surname", "10", "10", "40", "20"),
				testutil.Row("reel_01.tar", "0001.png", "age", "NA", "10", "60", "20"),
			)
			summary, err := Run(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Index.Skipped).To(Equal(1))
			Expect(summary.Written).To(Equal(1))
		})
	})

	Context("in archive mode", func() {
		BeforeEach(func() {
			cfg.Mode = ModeArchive
			cfg.Gzip = true
		})

		It("packages every snippet into one archive named after the input", func() {
			summary, err := Run(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())

			Expect(summary.Output).To(Equal(filepath.Join(out, "reel_01_snippets.tar.gz")))
			members := testutil.ReadTar(GinkgoT(), summary.Output)
			Expect(members).To(HaveLen(4))
			Expect(members).To(HaveKey("reel_01/0002/reel_01_0002_age.png"))
		})

		It("honours an explicit output name", func() {
			cfg.OutputName = "all.tar"
			summary, err := Run(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.ReadTar(GinkgoT(), summary.Output)).To(HaveLen(4))
			Expect(filepath.Base(summary.Output)).To(Equal("all.tar"))
		})
	})

	Context("with a manifest", func() {
		var dbPath string

		BeforeEach(func() {
			dbPath = filepath.Join(dir, "manifest.db")
			cfg.Manifest = dbPath
		})

		It("records every written snippet and the run", func() {
			summary, err := Run(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())

			store, err := manifest.Open(dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer store.Close()

			Expect(store.Count()).To(Equal(4))
			entry, err := store.Get(filepath.Join(out, "reel_01", "0002", "reel_01_0002_age.png"))
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.RunID).To(Equal(summary.RunID))
			Expect(entry.Region).To(Equal("age"))
			Expect(entry.Width).To(Equal(10))

			runs, err := store.Runs()
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(1))
			Expect(runs[0].Written).To(Equal(4))
			Expect(runs[0].Batches).To(Equal(2))
			Expect(runs[0].Error).To(BeEmpty())
		})

		It("stores transcriptions when OCR is enabled", func() {
			fake := &fakeTranscriber{}
			saved := newTranscriber
			newTranscriber = func(string) (ocr.Transcriber, error) { return fake, nil }
			DeferCleanup(func() { newTranscriber = saved })

			cfg.OCRLanguage = "eng"
			summary, err := Run(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Transcribed).To(Equal(4))
			Expect(fake.calls).To(Equal(4))
			Expect(fake.closed).To(BeTrue())

			store, err := manifest.Open(dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer store.Close()
			entry, err := store.Get(filepath.Join(out, "reel_01", "0001", "reel_01_0001_surname.png"))
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.Text).To(Equal("SMITH"))
		})
	})

	Context("with invalid input", func() {
		It("fails on a missing table column before writing", func() {
			Expect(os.WriteFile(table, []byte("reel_filename\timage_filename\n"), 0o644)).To(Succeed())
			_, err := Run(context.Background(), cfg)
			var cfgErr *errs.ConfigurationError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
			Expect(out).NotTo(BeAnExistingFile())
		})

		It("fails on a single unreadable archive", func() {
			bad := filepath.Join(dir, "broken.tar.gz")
			Expect(os.WriteFile(bad, []byte("not gzip"), 0o644)).To(Succeed())
			cfg.Archives = []string{bad}
			_, err := Run(context.Background(), cfg)
			var archErr *errs.InvalidArchiveError
			Expect(errors.As(err, &archErr)).To(BeTrue())
		})

		It("skips an unreadable archive among several", func() {
			bad := filepath.Join(dir, "broken.tar.gz")
			Expect(os.WriteFile(bad, []byte("not gzip"), 0o644)).To(Succeed())
			cfg.Archives = []string{bad, reel}
			summary, err := Run(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Written).To(Equal(4))
			Expect(summary.Stream.ArchivesFailed).To(Equal(1))
		})

		It("stops when the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := Run(ctx, cfg)
			Expect(err).To(MatchError(context.Canceled))
		})
	})
})

var _ = Describe("Config", func() {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Table = "regions.tsv"
		cfg.Archives = []string{"reel_01.tar"}
		cfg.Out = "out"
		return cfg
	}

	DescribeTable("Validate rejects",
		func(mutate func(*Config), field string) {
			cfg := valid()
			mutate(&cfg)
			err := cfg.Validate()
			var cfgErr *errs.ConfigurationError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
			Expect(cfgErr.Field).To(Equal(field))
		},
		Entry("a missing table", func(c *Config) { c.Table = "" }, "table"),
		Entry("no archives", func(c *Config) { c.Archives = nil }, "archives"),
		Entry("no output", func(c *Config) { c.Out = "" }, "out"),
		Entry("an unknown mode", func(c *Config) { c.Mode = "zip" }, "mode"),
		Entry("a zero batch size", func(c *Config) { c.BatchSize = 0 }, "batch size"),
		Entry("a negative batch size", func(c *Config) { c.BatchSize = -5 }, "batch size"),
		Entry("an unknown format", func(c *Config) { c.Format = "xyz" }, "format"),
		Entry("a quality above 100", func(c *Config) { c.Quality = 101 }, "quality"),
		Entry("a negative pad", func(c *Config) { c.Pad = -1 }, "pad"),
		Entry("a negative scale", func(c *Config) { c.Adjust.Scale = -1 }, "scale"),
		Entry("a scale above the limit", func(c *Config) { c.Adjust.Scale = 1e9 }, "scale"),
		Entry("a threshold above 255", func(c *Config) { c.Adjust.Threshold = 300 }, "threshold"),
		Entry("a bad output archive name", func(c *Config) { c.Mode = ModeArchive; c.OutputName = "out.zip" }, "output"),
		Entry("OCR without a manifest", func(c *Config) { c.OCRLanguage = "eng" }, "ocr"),
	)

	It("accepts the defaults", func() {
		cfg := valid()
		Expect(cfg.Validate()).To(Succeed())
	})

	It("normalises the mode", func() {
		cfg := valid()
		cfg.Mode = "TAR"
		Expect(cfg.Validate()).To(Succeed())
		Expect(cfg.Mode).To(Equal(ModeArchive))
		Expect(cfg.OutputPath()).To(Equal(filepath.Join("out", "reel_01_snippets.tar")))
	})
})

var _ = Describe("Preview", func() {
	It("writes one proof image per indexed page", func() {
		t := GinkgoT()
		dir := t.TempDir()
		table := filepath.Join(dir, "regions.tsv")
		reel := filepath.Join(dir, "reel_01.tgz")
		writeTable(t, table,
			testutil.Row("reel_01.tgz", "scans/0001.png", "surname", "10", "10", "40", "20"),
			testutil.Row("reel_01.tgz", "scans/0001.png", "age", "50", "10", "60", "20"),
		)
		testutil.WriteTar(t, reel,
			testutil.Entry{Name: "scans/0001.png", Data: testutil.PNG(t, 80, 60)},
			testutil.Entry{Name: "scans/0002.png", Data: testutil.PNG(t, 80, 60)},
		)

		out := filepath.Join(dir, "proofs")
		n, err := Preview(context.Background(), Config{Table: table, Archives: []string{reel}, Out: out})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		proof := filepath.Join(out, PreviewName("reel_01.tgz", "scans/0001.png"))
		Expect(proof).To(Equal(filepath.Join(out, "reel_01", "scans_0001_regions.png")))
		f, err := os.Open(proof)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		conf, _, err := image.DecodeConfig(f)
		Expect(err).NotTo(HaveOccurred())
		Expect(conf.Width).To(Equal(80))
		Expect(conf.Height).To(Equal(60))
	})
})
