package analytics

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"

	"github.com/robometrics/robometrics/pkg/model"
)

// TagRunStat is the rollup of one run's tests carrying a tag.
type TagRunStat struct {
	RunID     string  `json:"run_id"`
	Timestamp string  `json:"timestamp"`
	SuiteName string  `json:"suite_name"`
	Total     int     `json:"total"`
	Passed    int     `json:"passed"`
	Failed    int     `json:"failed"`
	PassRate  float64 `json:"pass_rate"`
	Duration  float64 `json:"duration"`
}

// TagTestStat is the cross-run rollup of one test name under a tag.
//
// IsFlaky here is the binary "ever inconsistent" rule (failed sometimes
// but not always), deliberately looser than the banded rule used by
// Engine.FlakyTests. The two answer different questions and stay
// independent.
type TagTestStat struct {
	Name          string  `json:"name"`
	TotalRuns     int     `json:"total_runs"`
	Passed        int     `json:"passed"`
	Failed        int     `json:"failed"`
	PassRate      float64 `json:"pass_rate"`
	AvgDuration   float64 `json:"avg_duration"`
	LastFailedRun string  `json:"last_failed_run"`
	LastStatus    string  `json:"last_status"`
	IsFlaky       bool    `json:"is_flaky"`
}

// TagAnalysis is the full historical picture for one tag.
type TagAnalysis struct {
	TagName         string        `json:"tag_name"`
	TotalRuns       int           `json:"total_runs"`
	TotalTestCount  int           `json:"total_test_count"`
	TotalExecutions int           `json:"total_executions"`
	OverallPassRate float64       `json:"overall_pass_rate"`
	Runs            []TagRunStat  `json:"runs"`
	Tests           []TagTestStat `json:"tests"`
	FlakyCount      int           `json:"flaky_count"`
}

// TagHistory is a restricted time series for one tag. Runs where the tag
// had no matching tests are omitted entirely.
type TagHistory struct {
	Timestamps []string  `json:"timestamps"`
	PassRates  []float64 `json:"pass_rates"`
	TestCounts []int     `json:"test_counts"`
	RunIDs     []string  `json:"run_ids"`
}

// TagAnalysis scans every historical run and rolls up the tests carrying
// the given tag, per run and per test name.
func (e *Engine) TagAnalysis(tag string) *TagAnalysis {
	type testAcc struct {
		totalRuns     int
		passed        int
		failed        int
		durationSum   float64
		lastFailedRun string
		lastStatus    string
	}

	runs := e.store.List()

	tagRuns := make([]TagRunStat, 0)
	accs := make(map[string]*testAcc)

	var order []string

	// List is newest-first; walk oldest-first so lastStatus and
	// lastFailedRun land on the most recent occurrence.
	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]

		var (
			passed, failed int
			duration       float64
		)

		matched := 0

		for j := range run.Tests {
			test := &run.Tests[j]
			if !test.HasTag(tag) {
				continue
			}

			matched++
			duration += test.Duration

			acc, ok := accs[test.Name]
			if !ok {
				acc = &testAcc{}
				accs[test.Name] = acc

				order = append(order, test.Name)
			}

			acc.totalRuns++
			acc.durationSum += test.Duration
			acc.lastStatus = test.Status

			if test.Status == model.StatusPass {
				passed++
				acc.passed++
			} else {
				failed++
				acc.failed++
				acc.lastFailedRun = run.RunID
			}
		}

		if matched == 0 {
			continue
		}

		tagRuns = append(tagRuns, TagRunStat{
			RunID:     run.RunID,
			Timestamp: run.Timestamp,
			SuiteName: run.SuiteName,
			Total:     matched,
			Passed:    passed,
			Failed:    failed,
			PassRate:  model.PassRate(passed, matched),
			Duration:  model.Round2(duration),
		})
	}

	tests := make([]TagTestStat, 0, len(order))
	flakyCount := 0

	for _, name := range order {
		acc := accs[name]

		avg := 0.0
		if acc.totalRuns > 0 {
			avg = model.Round2(acc.durationSum / float64(acc.totalRuns))
		}

		isFlaky := acc.failed > 0 && acc.failed < acc.totalRuns
		if isFlaky {
			flakyCount++
		}

		tests = append(tests, TagTestStat{
			Name:          name,
			TotalRuns:     acc.totalRuns,
			Passed:        acc.passed,
			Failed:        acc.failed,
			PassRate:      model.PassRate(acc.passed, acc.totalRuns),
			AvgDuration:   avg,
			LastFailedRun: acc.lastFailedRun,
			LastStatus:    acc.lastStatus,
			IsFlaky:       isFlaky,
		})
	}

	// Least reliable, most executed tests first.
	sort.SliceStable(tests, func(i, j int) bool {
		if tests[i].PassRate != tests[j].PassRate {
			return tests[i].PassRate < tests[j].PassRate
		}

		return tests[i].TotalRuns > tests[j].TotalRuns
	})

	// Per-run rollups are served newest-first.
	sort.SliceStable(tagRuns, func(i, j int) bool {
		return tagRuns[i].Timestamp > tagRuns[j].Timestamp
	})

	totalExecutions := 0
	totalPassed := 0

	for i := range tagRuns {
		totalExecutions += tagRuns[i].Total
		totalPassed += tagRuns[i].Passed
	}

	return &TagAnalysis{
		TagName:         tag,
		TotalRuns:       len(tagRuns),
		TotalTestCount:  len(tests),
		TotalExecutions: totalExecutions,
		OverallPassRate: model.PassRate(totalPassed, totalExecutions),
		Runs:            tagRuns,
		Tests:           tests,
		FlakyCount:      flakyCount,
	}
}

// TagHistory builds the pass-rate series for a tag over the limit most
// recent runs, newest first, skipping runs without the tag.
func (e *Engine) TagHistory(tag string, limit int) TagHistory {
	if limit <= 0 {
		limit = DefaultTrendWindow
	}

	history := TagHistory{
		Timestamps: make([]string, 0),
		PassRates:  make([]float64, 0),
		TestCounts: make([]int, 0),
		RunIDs:     make([]string, 0),
	}

	for _, run := range e.recentRuns(limit) {
		var passed, matched int

		for j := range run.Tests {
			test := &run.Tests[j]
			if !test.HasTag(tag) {
				continue
			}

			matched++

			if test.Status == model.StatusPass {
				passed++
			}
		}

		if matched == 0 {
			continue
		}

		history.Timestamps = append(history.Timestamps, run.Timestamp)
		history.PassRates = append(history.PassRates, model.PassRate(passed, matched))
		history.TestCounts = append(history.TestCounts, matched)
		history.RunIDs = append(history.RunIDs, run.RunID)
	}

	return history
}

// TagCSV serializes the tag analysis per-test rollup as CSV.
func (e *Engine) TagCSV(tag string) ([]byte, error) {
	analysis := e.TagAnalysis(tag)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"Test Name", "Total Runs", "Passed", "Failed",
		"Pass Rate %", "Avg Duration (s)",
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}

	for i := range analysis.Tests {
		test := &analysis.Tests[i]

		record := []string{
			test.Name,
			fmt.Sprintf("%d", test.TotalRuns),
			fmt.Sprintf("%d", test.Passed),
			fmt.Sprintf("%d", test.Failed),
			fmt.Sprintf("%.2f", test.PassRate),
			fmt.Sprintf("%.2f", test.AvgDuration),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("writing csv record: %w", err)
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv: %w", err)
	}

	return buf.Bytes(), nil
}
