package runindex

import (
	"time"

	"github.com/robometrics/robometrics/pkg/model"
)

// Run is a denormalized run summary row. The JSON store stays the source
// of truth; this table only exists so list/status queries never have to
// read every record file.
type Run struct {
	ID    uint   `gorm:"primaryKey"`
	RunID string `gorm:"not null;uniqueIndex:idx_runs_run_id"`

	Timestamp string `gorm:"index"`
	SuiteName string
	Duration  float64

	TestsTotal   int
	TestsPassed  int
	TestsFailed  int
	TestsSkipped int
	PassRate     float64

	IndexedAt time.Time
}

// Summarize converts an index row back into the list projection.
func (r *Run) Summarize() model.RunSummary {
	return model.RunSummary{
		RunID:     r.RunID,
		Timestamp: r.Timestamp,
		SuiteName: r.SuiteName,
		Duration:  r.Duration,
		Summary: model.Summary{
			Total:    r.TestsTotal,
			Passed:   r.TestsPassed,
			Failed:   r.TestsFailed,
			Skipped:  r.TestsSkipped,
			PassRate: r.PassRate,
		},
	}
}

// FromRun builds an index row from a canonical run record.
func FromRun(run *model.Run) *Run {
	return &Run{
		RunID:        run.RunID,
		Timestamp:    run.Timestamp,
		SuiteName:    run.SuiteName,
		Duration:     run.Duration,
		TestsTotal:   run.Summary.Total,
		TestsPassed:  run.Summary.Passed,
		TestsFailed:  run.Summary.Failed,
		TestsSkipped: run.Summary.Skipped,
		PassRate:     run.Summary.PassRate,
		IndexedAt:    time.Now().UTC(),
	}
}
