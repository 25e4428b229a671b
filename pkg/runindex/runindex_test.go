package runindex_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robometrics/robometrics/pkg/config"
	"github.com/robometrics/robometrics/pkg/model"
	"github.com/robometrics/robometrics/pkg/runindex"
)

func setupTestStore(t *testing.T) runindex.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := runindex.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func indexRow(runID, timestamp string, passed, failed int) *runindex.Run {
	total := passed + failed

	return &runindex.Run{
		RunID:       runID,
		Timestamp:   timestamp,
		SuiteName:   "Regression",
		Duration:    12.5,
		TestsTotal:  total,
		TestsPassed: passed,
		TestsFailed: failed,
		PassRate:    model.PassRate(passed, total),
	}
}

func TestStore_UpsertAndListRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRun(ctx, indexRow("a", "2024-01-14T10:00:00Z", 5, 0)))
	require.NoError(t, s.UpsertRun(ctx, indexRow("b", "2024-01-15T10:00:00Z", 4, 1)))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first.
	assert.Equal(t, "b", runs[0].RunID)
	assert.Equal(t, "a", runs[1].RunID)
	assert.Equal(t, 80.0, runs[0].PassRate)
}

func TestStore_UpsertRunIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRun(ctx, indexRow("a", "2024-01-14T10:00:00Z", 5, 0)))

	// Second upsert for the same run ID updates in place.
	updated := indexRow("a", "2024-01-14T10:00:00Z", 4, 1)
	require.NoError(t, s.UpsertRun(ctx, updated))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 4, runs[0].TestsPassed)
	assert.Equal(t, 1, runs[0].TestsFailed)

	count, err := s.CountRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_ListRunsLimit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRun(ctx, indexRow("a", "2024-01-14T10:00:00Z", 1, 0)))
	require.NoError(t, s.UpsertRun(ctx, indexRow("b", "2024-01-15T10:00:00Z", 1, 0)))
	require.NoError(t, s.UpsertRun(ctx, indexRow("c", "2024-01-16T10:00:00Z", 1, 0)))

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
}

func TestStore_DeleteRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRun(ctx, indexRow("a", "2024-01-14T10:00:00Z", 1, 0)))
	require.NoError(t, s.DeleteRun(ctx, "a"))

	count, err := s.CountRuns(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Deleting a missing row is not an error.
	require.NoError(t, s.DeleteRun(ctx, "a"))
}

func TestStore_Clear(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRun(ctx, indexRow("a", "2024-01-14T10:00:00Z", 1, 0)))
	require.NoError(t, s.UpsertRun(ctx, indexRow("b", "2024-01-15T10:00:00Z", 1, 0)))

	require.NoError(t, s.Clear(ctx))

	count, err := s.CountRuns(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_UnsupportedDriver(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := runindex.NewStore(log, &config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, s.Start(context.Background()))
}

func TestFromRun(t *testing.T) {
	run := &model.Run{
		RunID:     "abc123",
		Timestamp: "2024-01-15T10:00:00Z",
		SuiteName: "Regression",
		Duration:  42.5,
		Summary: model.Summary{
			Total: 10, Passed: 8, Failed: 2, PassRate: 80.0,
		},
	}

	row := runindex.FromRun(run)
	assert.Equal(t, "abc123", row.RunID)
	assert.Equal(t, 10, row.TestsTotal)
	assert.Equal(t, 80.0, row.PassRate)
	assert.False(t, row.IndexedAt.IsZero())

	summary := row.Summarize()
	assert.Equal(t, run.RunID, summary.RunID)
	assert.Equal(t, run.Summary, summary.Summary)
}
