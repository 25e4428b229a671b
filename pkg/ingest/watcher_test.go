package ingest_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robometrics/robometrics/pkg/ingest"
)

func TestWatcher_IngestsOnFirstPass(t *testing.T) {
	f := setupService(t)

	writeDocument(t, f.resultsDir, 1, 0)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	w := ingest.NewWatcher(
		log, f.service, []string{f.resultsDir}, 50*time.Millisecond, 0)

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.Eventually(t, func() bool {
		return len(f.store.List()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_MalformedDocumentNotReparsed(t *testing.T) {
	f := setupService(t)

	path := filepath.Join(f.resultsDir, "output.xml")
	require.NoError(t, os.WriteFile(path, []byte("<robot"), 0o644))

	mtime := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	log := logrus.New()
	log.SetLevel(logrus.FatalLevel)

	w := ingest.NewWatcher(
		log, f.service, []string{f.resultsDir}, 20*time.Millisecond, 0)

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	// Give the watcher several passes over the bad document.
	time.Sleep(300 * time.Millisecond)

	// Replace it with a valid document but keep the old mtime: the
	// failed parse was recorded, so an unchanged file is not re-read.
	writeDocument(t, f.resultsDir, 1, 0)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, f.store.List())

	// A newer mtime triggers a re-read and the document now parses.
	bumped := mtime.Add(time.Second)
	require.NoError(t, os.Chtimes(path, bumped, bumped))

	require.Eventually(t, func() bool {
		return len(f.store.List()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_EmptyDirectory(t *testing.T) {
	f := setupService(t)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	w := ingest.NewWatcher(
		log, f.service, []string{f.resultsDir}, 50*time.Millisecond, 2)

	require.NoError(t, w.Start(context.Background()))

	time.Sleep(150 * time.Millisecond)

	require.NoError(t, w.Stop())
	assert.Empty(t, f.store.List())
}
