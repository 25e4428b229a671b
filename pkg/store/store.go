// Package store persists Run records as one self-contained JSON file per
// run under a history directory. A single ingestion process writes; any
// number of readers may list concurrently.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/robometrics/robometrics/pkg/model"
	"github.com/sirupsen/logrus"
)

var (
	// ErrDuplicateRun is returned by Put when the run ID already exists.
	ErrDuplicateRun = errors.New("run already exists")

	// ErrRunNotFound is returned when no record exists for a run ID.
	ErrRunNotFound = errors.New("run not found")
)

// Store is a durable keyed collection of Run records.
type Store interface {
	Put(run *model.Run) error
	Get(runID string) (*model.Run, error)
	List() []*model.Run
	Delete(runID string) error
	Clear() (int, error)

	// Dir returns the history directory backing the store. Archives for a
	// run live under Dir()/<run_id>/.
	Dir() string
}

// Compile-time interface check.
var _ Store = (*fileStore)(nil)

type fileStore struct {
	log logrus.FieldLogger
	dir string

	// mu serializes writers so two callers cannot both observe a run ID
	// as free between the existence check and the create. Readers do not
	// take it; a partial view during Clear is accepted behavior.
	mu sync.Mutex
}

// New creates a file-backed Store rooted at dir, creating it if needed.
func New(log logrus.FieldLogger, dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	return &fileStore{
		log: log.WithField("component", "store"),
		dir: dir,
	}, nil
}

func (s *fileStore) Dir() string {
	return s.dir
}

func (s *fileStore) recordPath(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// Put writes the run record unless one already exists for its ID.
func (s *fileStore) Put(run *model.Run) error {
	if run.RunID == "" {
		return fmt.Errorf("run has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.recordPath(run.RunID)

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("run %s: %w", run.RunID, ErrDuplicateRun)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", run.RunID, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run %s: %w", run.RunID, err)
	}

	s.log.WithField("run_id", run.RunID).Info("Run persisted")

	return nil
}

// Get reads one run record by ID.
func (s *fileStore) Get(runID string) (*model.Run, error) {
	data, err := os.ReadFile(s.recordPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}

		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}

	var run model.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}

	return &run, nil
}

// List returns all runs sorted by timestamp descending. Records with a
// missing timestamp sort as the empty string, i.e. last. A corrupt record
// is skipped and logged rather than failing the whole listing.
func (s *fileStore) List() []*model.Run {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.WithError(err).Warn("Failed to read history directory")

		return []*model.Run{}
	}

	runs := make([]*model.Run, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			s.log.WithError(err).WithField("path", path).
				Warn("Failed to read run record")

			continue
		}

		var run model.Run
		if err := json.Unmarshal(data, &run); err != nil {
			s.log.WithError(err).WithField("path", path).
				Warn("Skipping corrupt run record")

			continue
		}

		runs = append(runs, &run)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Timestamp > runs[j].Timestamp
	})

	return runs
}

// Delete removes one run record. The run's archive directory, when
// present, is removed with it.
func (s *fileStore) Delete(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.recordPath(runID)

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}

		return fmt.Errorf("deleting run %s: %w", runID, err)
	}

	// Archive removal is best-effort; a stale archive is harmless.
	if err := os.RemoveAll(filepath.Join(s.dir, runID)); err != nil {
		s.log.WithError(err).WithField("run_id", runID).
			Warn("Failed to remove run archive")
	}

	s.log.WithField("run_id", runID).Info("Run deleted")

	return nil
}

// Clear removes every persisted record and returns the count removed.
// The store is immediately queryable as empty afterwards.
func (s *fileStore) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading history directory: %w", err)
	}

	removed := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())

		if err := os.Remove(path); err != nil {
			s.log.WithError(err).WithField("path", path).
				Warn("Failed to remove run record")

			continue
		}

		removed++
	}

	s.log.WithField("count", removed).Info("History cleared")

	return removed, nil
}
