// Package ingest wires the pipeline together: parse one output.xml into
// a Run, persist it at most once, mirror its summary into the optional
// run index, and archive its companion artifacts best-effort.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/robometrics/robometrics/pkg/archive"
	"github.com/robometrics/robometrics/pkg/model"
	"github.com/robometrics/robometrics/pkg/parser"
	"github.com/robometrics/robometrics/pkg/runindex"
	"github.com/robometrics/robometrics/pkg/store"
	"github.com/sirupsen/logrus"
)

// Result describes the outcome of one ingestion.
type Result struct {
	Run *model.Run `json:"run"`

	// Skipped is true when an identical run was already persisted.
	Skipped bool `json:"skipped"`

	// Archived is how many artifact files were copied for the run.
	Archived int `json:"archived"`
}

// Service runs the ingestion pipeline and the delete/clear operations
// that keep the index in step with the store.
type Service struct {
	log      logrus.FieldLogger
	parser   *parser.Parser
	store    store.Store
	archiver *archive.Archiver
	index    runindex.Store
}

// Option configures a Service.
type Option func(*Service)

// WithIndex mirrors run summaries into a database-backed index.
func WithIndex(idx runindex.Store) Option {
	return func(s *Service) {
		s.index = idx
	}
}

// NewService creates an ingestion Service.
func NewService(
	log logrus.FieldLogger,
	p *parser.Parser,
	st store.Store,
	a *archive.Archiver,
	opts ...Option,
) *Service {
	s := &Service{
		log:      log.WithField("component", "ingest"),
		parser:   p,
		store:    st,
		archiver: a,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Ingest parses the document at xmlPath and persists the resulting run.
// A duplicate run is reported as skipped, not as an error. Archive
// failures never fail the ingestion.
func (s *Service) Ingest(ctx context.Context, xmlPath string) (*Result, error) {
	run, err := s.parser.Parse(xmlPath)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", xmlPath, err)
	}

	if err := s.store.Put(run); err != nil {
		if errors.Is(err, store.ErrDuplicateRun) {
			s.log.WithField("run_id", run.RunID).
				Info("Run already ingested, skipping")

			return &Result{Run: run, Skipped: true}, nil
		}

		return nil, err
	}

	if s.index != nil {
		if err := s.index.UpsertRun(ctx, runindex.FromRun(run)); err != nil {
			// The file store stays authoritative; a stale index row is
			// repaired on the next ingest of the same run.
			s.log.WithError(err).WithField("run_id", run.RunID).
				Warn("Failed to index run")
		}
	}

	archived, err := s.archiver.Archive(ctx, run.RunID)
	if err != nil {
		s.log.WithError(err).WithField("run_id", run.RunID).
			Warn("Archive failed")
	}

	s.log.WithFields(logrus.Fields{
		"run_id":    run.RunID,
		"tests":     run.Summary.Total,
		"pass_rate": run.Summary.PassRate,
		"archived":  archived,
	}).Info("Run ingested")

	return &Result{Run: run, Archived: archived}, nil
}

// DeleteRun removes a run record and its index row.
func (s *Service) DeleteRun(ctx context.Context, runID string) error {
	if err := s.store.Delete(runID); err != nil {
		return err
	}

	if s.index != nil {
		if err := s.index.DeleteRun(ctx, runID); err != nil {
			s.log.WithError(err).WithField("run_id", runID).
				Warn("Failed to delete run index row")
		}
	}

	return nil
}

// ClearHistory removes every run record and returns how many were
// removed. The store is immediately queryable as empty.
func (s *Service) ClearHistory(ctx context.Context) (int, error) {
	removed, err := s.store.Clear()
	if err != nil {
		return 0, err
	}

	if s.index != nil {
		if err := s.index.Clear(ctx); err != nil {
			s.log.WithError(err).Warn("Failed to clear run index")
		}
	}

	return removed, nil
}

// Store exposes the underlying run store for read paths.
func (s *Service) Store() store.Store {
	return s.store
}
