// Package archive copies the human-readable report artifacts for a run
// (HTML report/log, raw output.xml, screenshots) into a per-run directory
// next to the run record. Archiving is always best-effort: the run record
// is authoritative and must never depend on the archive existing.
package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
)

// reportFiles are the well-known artifacts copied for every run.
var reportFiles = []string{"report.html", "log.html", "output.xml"}

// imageExtensions are the screenshot extensions swept from the results dir.
var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// Mirror uploads an archived run directory to remote storage.
type Mirror interface {
	Upload(ctx context.Context, localDir, runID string) error
}

// Archiver copies run artifacts from a results directory into per-run
// archive directories under the history directory.
type Archiver struct {
	log        logrus.FieldLogger
	resultsDir string
	historyDir string
	mirror     Mirror
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithMirror attaches a remote mirror for archived artifacts.
func WithMirror(m Mirror) Option {
	return func(a *Archiver) {
		a.mirror = m
	}
}

// New creates an Archiver.
func New(log logrus.FieldLogger, resultsDir, historyDir string, opts ...Option) *Archiver {
	a := &Archiver{
		log:        log.WithField("component", "archiver"),
		resultsDir: resultsDir,
		historyDir: historyDir,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Archive copies the run's artifacts into <history>/<runID>/ and returns
// how many files were archived. Missing sources are skipped, individual
// copy failures are logged and skipped, and zero is a valid outcome.
func (a *Archiver) Archive(ctx context.Context, runID string) (int, error) {
	archiveDir := filepath.Join(a.historyDir, runID)

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, err
	}

	var (
		archived int
		bytes    int64
	)

	copyOne := func(name string) {
		src := filepath.Join(a.resultsDir, name)

		n, err := copyFile(src, filepath.Join(archiveDir, name))
		if err != nil {
			if !os.IsNotExist(err) {
				a.log.WithError(err).WithField("file", name).
					Warn("Failed to archive file")
			}

			return
		}

		archived++
		bytes += n
	}

	for _, name := range reportFiles {
		if ctx.Err() != nil {
			return archived, ctx.Err()
		}

		copyOne(name)
	}

	entries, err := os.ReadDir(a.resultsDir)
	if err != nil && !os.IsNotExist(err) {
		a.log.WithError(err).Warn("Failed to read results directory")
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return archived, ctx.Err()
		}

		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := imageExtensions[ext]; !ok {
			continue
		}

		copyOne(entry.Name())
	}

	if archived > 0 {
		a.log.WithFields(logrus.Fields{
			"run_id": runID,
			"files":  archived,
			"size":   units.HumanSize(float64(bytes)),
		}).Info("Artifacts archived")
	} else {
		a.log.WithField("run_id", runID).
			Debug("No artifacts to archive")
	}

	if a.mirror != nil && archived > 0 {
		if err := a.mirror.Upload(ctx, archiveDir, runID); err != nil {
			// Mirroring shares the archive's best-effort contract.
			a.log.WithError(err).WithField("run_id", runID).
				Warn("Failed to mirror archive")
		}
	}

	return archived, nil
}

// Dir returns the archive directory for a run.
func (a *Archiver) Dir(runID string) string {
	return filepath.Join(a.historyDir, runID)
}

// copyFile copies src to dst, returning the number of bytes written.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}

	return n, err
}
