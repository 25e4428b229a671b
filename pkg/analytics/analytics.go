// Package analytics computes cross-run quality metrics over the run
// store. Every function reads store.List() and never mutates anything;
// an empty store yields empty, zero-valued structures rather than errors.
package analytics

import (
	"sort"

	"github.com/robometrics/robometrics/pkg/model"
	"github.com/robometrics/robometrics/pkg/store"
)

const (
	// DefaultTrendWindow is the run window for trend series.
	DefaultTrendWindow = 20

	// DefaultFlakyWindow is the run window for flaky-test detection.
	DefaultFlakyWindow = 10

	// slowestLimit caps the slowest-tests ranking.
	slowestLimit = 10

	// Flakiness band: a test needs at least minFlakyExecutions results,
	// and a fail rate inside [minFlakyFailRate, maxFlakyFailRate], to
	// count as flaky. Outside the band it is treated as consistently
	// passing or consistently failing. Policy thresholds, not statistics.
	minFlakyExecutions = 3
	minFlakyFailRate   = 20.0
	maxFlakyFailRate   = 80.0
)

// Engine answers analytics queries against a run store.
type Engine struct {
	store store.Store
}

// NewEngine creates an analytics Engine over the given store.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// TrendSeries holds parallel per-run sequences in chronological order.
// All slices always have equal length and are never nil.
type TrendSeries struct {
	Timestamps []string  `json:"timestamps"`
	PassRates  []float64 `json:"pass_rates"`
	Totals     []int     `json:"totals"`
	Passed     []int     `json:"passed"`
	Failed     []int     `json:"failed"`
	Durations  []float64 `json:"durations"`
}

// Trend projects the limit most recent runs into chronological parallel
// series. A non-positive limit uses DefaultTrendWindow.
func (e *Engine) Trend(limit int) TrendSeries {
	if limit <= 0 {
		limit = DefaultTrendWindow
	}

	runs := e.recentRuns(limit)

	trend := TrendSeries{
		Timestamps: make([]string, 0, len(runs)),
		PassRates:  make([]float64, 0, len(runs)),
		Totals:     make([]int, 0, len(runs)),
		Passed:     make([]int, 0, len(runs)),
		Failed:     make([]int, 0, len(runs)),
		Durations:  make([]float64, 0, len(runs)),
	}

	// List is newest-first; trend lines read oldest-first.
	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]
		trend.Timestamps = append(trend.Timestamps, run.Timestamp)
		trend.PassRates = append(trend.PassRates, run.Summary.PassRate)
		trend.Totals = append(trend.Totals, run.Summary.Total)
		trend.Passed = append(trend.Passed, run.Summary.Passed)
		trend.Failed = append(trend.Failed, run.Summary.Failed)
		trend.Durations = append(trend.Durations, run.Duration)
	}

	return trend
}

// FlakyTest is a test whose outcome varied inside the flakiness band.
type FlakyTest struct {
	Name     string  `json:"name"`
	FailRate float64 `json:"fail_rate"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Total    int     `json:"total"`
}

// FlakyTests accumulates per-test outcomes over the limit most recent
// runs and returns tests inside the flakiness band, sorted by fail rate
// descending. Anything that is not a PASS counts as a failure.
func (e *Engine) FlakyTests(limit int) []FlakyTest {
	if limit <= 0 {
		limit = DefaultFlakyWindow
	}

	type outcome struct {
		passed, failed, total int
	}

	results := make(map[string]*outcome)

	var order []string

	for _, run := range e.recentRuns(limit) {
		for i := range run.Tests {
			test := &run.Tests[i]

			acc, ok := results[test.Name]
			if !ok {
				acc = &outcome{}
				results[test.Name] = acc

				order = append(order, test.Name)
			}

			acc.total++

			if test.Status == model.StatusPass {
				acc.passed++
			} else {
				acc.failed++
			}
		}
	}

	flaky := make([]FlakyTest, 0)

	for _, name := range order {
		acc := results[name]
		if acc.total < minFlakyExecutions {
			continue
		}

		failRate := model.Round2(
			float64(acc.failed) / float64(acc.total) * 100,
		)
		if failRate < minFlakyFailRate || failRate > maxFlakyFailRate {
			continue
		}

		flaky = append(flaky, FlakyTest{
			Name:     name,
			FailRate: failRate,
			Passed:   acc.passed,
			Failed:   acc.failed,
			Total:    acc.total,
		})
	}

	sort.SliceStable(flaky, func(i, j int) bool {
		return flaky[i].FailRate > flaky[j].FailRate
	})

	return flaky
}

// SlowestTests returns the top 10 slowest tests within one run: the
// named run when runID is non-empty, otherwise the most recent run.
// Results are sorted by duration descending.
func (e *Engine) SlowestTests(runID string) []model.TestCase {
	var run *model.Run

	if runID != "" {
		r, err := e.store.Get(runID)
		if err != nil {
			return []model.TestCase{}
		}

		run = r
	} else {
		runs := e.recentRuns(1)
		if len(runs) == 0 {
			return []model.TestCase{}
		}

		run = runs[0]
	}

	tests := make([]model.TestCase, len(run.Tests))
	copy(tests, run.Tests)

	sort.SliceStable(tests, func(i, j int) bool {
		return tests[i].Duration > tests[j].Duration
	})

	if len(tests) > slowestLimit {
		tests = tests[:slowestLimit]
	}

	return tests
}

// Comparison holds two run summaries and their deltas.
type Comparison struct {
	Run1       ComparedRun    `json:"run1"`
	Run2       ComparedRun    `json:"run2"`
	Difference ComparisonDiff `json:"difference"`
}

// ComparedRun is the per-run half of a comparison.
type ComparedRun struct {
	RunID     string        `json:"run_id"`
	Timestamp string        `json:"timestamp"`
	Summary   model.Summary `json:"summary"`
	Duration  float64       `json:"duration"`
}

// ComparisonDiff holds run2 minus run1 for the headline metrics.
type ComparisonDiff struct {
	PassRate float64 `json:"pass_rate"`
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Duration float64 `json:"duration"`
}

// Compare diffs two runs by ID. Missing runs surface the store's
// NotFound error.
func (e *Engine) Compare(runID1, runID2 string) (*Comparison, error) {
	run1, err := e.store.Get(runID1)
	if err != nil {
		return nil, err
	}

	run2, err := e.store.Get(runID2)
	if err != nil {
		return nil, err
	}

	return &Comparison{
		Run1: ComparedRun{
			RunID:     run1.RunID,
			Timestamp: run1.Timestamp,
			Summary:   run1.Summary,
			Duration:  run1.Duration,
		},
		Run2: ComparedRun{
			RunID:     run2.RunID,
			Timestamp: run2.Timestamp,
			Summary:   run2.Summary,
			Duration:  run2.Duration,
		},
		Difference: ComparisonDiff{
			PassRate: model.Round2(run2.Summary.PassRate - run1.Summary.PassRate),
			Total:    run2.Summary.Total - run1.Summary.Total,
			Passed:   run2.Summary.Passed - run1.Summary.Passed,
			Failed:   run2.Summary.Failed - run1.Summary.Failed,
			Duration: model.Round2(run2.Duration - run1.Duration),
		},
	}, nil
}

// recentRuns returns up to limit runs, newest first.
func (e *Engine) recentRuns(limit int) []*model.Run {
	runs := e.store.List()
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	return runs
}
