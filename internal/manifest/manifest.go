// Package manifest records written snippets and run summaries in a bbolt
// database, so a run's output can be audited or compared against a later run.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ironsheep/snippet-tools/internal/regions"
)

const (
	snippetsBucket = "snippets"
	runsBucket     = "runs"
)

// ErrNotFound is returned by Get for unknown paths.
var ErrNotFound = errors.New("not found")

// Entry describes one written snippet.
type Entry struct {
	// Path is the sink path: a file path or an output archive entry name.
	Path    string              `json:"path"`
	RunID   string              `json:"run_id"`
	Archive string              `json:"archive"`
	Image   string              `json:"image"`
	Region  string              `json:"region"`
	Box     regions.BoundingBox `json:"box"`
	Width   int                 `json:"width"`
	Height  int                 `json:"height"`
	Bytes   int64               `json:"bytes"`
	// Text and Confidence are set when the snippet was transcribed.
	Text       string    `json:"text,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	WrittenAt  time.Time `json:"written_at"`
}

// Run summarises one pipeline run.
type Run struct {
	ID             string    `json:"id"`
	Mode           string    `json:"mode"`
	Inputs         []string  `json:"inputs"`
	Output         string    `json:"output"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	RowsSkipped    int       `json:"rows_skipped"`
	Archives       int       `json:"archives"`
	ArchivesFailed int       `json:"archives_failed"`
	Pages          int       `json:"pages"`
	DecodeFailed   int       `json:"decode_failed"`
	RegionsSkipped int       `json:"regions_skipped"`
	Batches        int       `json:"batches"`
	Snippets       int       `json:"snippets"`
	Written        int       `json:"written"`
	WriteFailed    int       `json:"write_failed"`
	Error          string    `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store is a manifest database. It is safe for concurrent use.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the manifest at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{snippetsBucket, runsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

// Record stores entries in one transaction, replacing earlier entries with
// the same path.
func (s *Store) Record(entries ...*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snippetsBucket))
		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshaling entry %s: %w", e.Path, err)
			}
			if err := bucket.Put([]byte(e.Path), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the entry recorded for path.
func (s *Store) Get(path string) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(snippetsBucket)).Get([]byte(path))
		if data == nil {
			return fmt.Errorf("snippet %s: %w", path, ErrNotFound)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Each calls fn for every entry in path order. An error from fn stops the walk.
func (s *Store) Each(fn func(*Entry) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(snippetsBucket)).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling entry %s: %w", k, err)
			}
			return fn(&entry)
		})
	})
}

// Count returns the number of recorded snippets.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(snippetsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// SaveRun stores or replaces a run summary.
func (s *Store) SaveRun(run *Run) error {
	if run.ID == "" {
		return errors.New("run has no id")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshaling run: %w", err)
		}
		return tx.Bucket([]byte(runsBucket)).Put([]byte(run.ID), data)
	})
}

// Runs returns every run summary, oldest first.
func (s *Store) Runs() ([]*Run, error) {
	runs := make([]*Run, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(k, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("unmarshaling run %s: %w", k, err)
			}
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
