package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robometrics/robometrics/pkg/parser"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// defaultScanConcurrency bounds parallel directory scans when no
// explicit value is configured.
const defaultScanConcurrency = 4

// documentName is the report file the watcher looks for in each
// results directory.
const documentName = "output.xml"

// Watcher periodically scans results directories and ingests output.xml
// documents that changed since the last pass. With deterministic run IDs
// a re-scan of an unchanged document is a cheap skip either way; the
// mtime check just avoids re-parsing large documents every tick.
type Watcher struct {
	log         logrus.FieldLogger
	service     *Service
	dirs        []string
	interval    time.Duration
	concurrency int

	mu       sync.Mutex
	lastSeen map[string]time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher creates a results-directory watcher.
func NewWatcher(
	log logrus.FieldLogger,
	service *Service,
	dirs []string,
	interval time.Duration,
	concurrency int,
) *Watcher {
	if concurrency <= 0 {
		concurrency = defaultScanConcurrency
	}

	return &Watcher{
		log:         log.WithField("component", "watcher"),
		service:     service,
		dirs:        dirs,
		interval:    interval,
		concurrency: concurrency,
		lastSeen:    make(map[string]time.Time, len(dirs)),
		done:        make(chan struct{}),
	}
}

// Start launches the scan loop: one immediate pass, then one per tick.
func (w *Watcher) Start(ctx context.Context) error {
	w.log.WithFields(logrus.Fields{
		"dirs":     len(w.dirs),
		"interval": w.interval.String(),
	}).Info("Starting watcher")

	w.wg.Add(1)

	go func() {
		defer w.wg.Done()

		w.runPass(ctx)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.runPass(ctx)
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the watcher goroutine to stop and waits for it.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()

	w.log.Info("Watcher stopped")

	return nil
}

// runPass scans every configured directory with bounded parallelism.
func (w *Watcher) runPass(ctx context.Context) {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, dir := range w.dirs {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-w.done:
				return nil
			default:
			}

			w.scanDir(gCtx, dir)

			return nil
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		w.log.WithError(err).Warn("Scan pass failed")
	}
}

// scanDir ingests the directory's output.xml when its mtime moved.
func (w *Watcher) scanDir(ctx context.Context, dir string) {
	path := filepath.Join(dir, documentName)

	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.WithError(err).WithField("path", path).
				Warn("Failed to stat document")
		}

		return
	}

	w.mu.Lock()
	seen, ok := w.lastSeen[path]
	w.mu.Unlock()

	if ok && !info.ModTime().After(seen) {
		return
	}

	result, err := w.service.Ingest(ctx, path)
	if err != nil {
		w.log.WithError(err).WithField("path", path).
			Warn("Failed to ingest document")

		// A malformed document parses the same on every tick; remember
		// its mtime so only a rewrite triggers a retry. Other failures
		// (store I/O) stay unrecorded and retry next pass.
		var perr *parser.ParseError
		if errors.As(err, &perr) {
			w.mu.Lock()
			w.lastSeen[path] = info.ModTime()
			w.mu.Unlock()
		}

		return
	}

	w.mu.Lock()
	w.lastSeen[path] = info.ModTime()
	w.mu.Unlock()

	if !result.Skipped {
		w.log.WithFields(logrus.Fields{
			"path":   path,
			"run_id": result.Run.RunID,
		}).Info("Document ingested")
	}
}
