// Package model defines the canonical records produced by ingesting a
// Robot Framework output.xml document. A Run is immutable once built;
// everything downstream (store, analytics, API) treats it as read-only.
package model

import (
	"math"
	"time"
)

// Test status values as they appear in Robot Framework status blocks.
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

// Run is one complete execution of a test suite.
type Run struct {
	RunID     string `json:"run_id"`
	Timestamp string `json:"timestamp"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`

	// Duration of the whole run in seconds.
	Duration float64 `json:"duration"`

	Summary    Summary     `json:"summary"`
	Tests      []TestCase  `json:"tests"`
	TagStats   []GroupStat `json:"tag_stats"`
	SuiteStats []GroupStat `json:"suite_stats"`
	SuiteName  string      `json:"suite_name"`
}

// Summary holds the run-level pass/fail/skip counts. Total always equals
// Passed + Failed + Skipped.
type Summary struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	PassRate float64 `json:"pass_rate"`
}

// TestCase is a single test within a Run. Names are not guaranteed unique
// within a run; analytics accumulates by name regardless.
type TestCase struct {
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	Duration  float64  `json:"duration"`
	Message   string   `json:"message"`
	Tags      []string `json:"tags"`
}

// HasTag reports whether the test carries the given tag.
func (t *TestCase) HasTag(tag string) bool {
	for _, candidate := range t.Tags {
		if candidate == tag {
			return true
		}
	}

	return false
}

// GroupStat is a per-tag or per-suite rollup from the document's
// statistics block. Total here excludes skipped tests, unlike Summary.
type GroupStat struct {
	Name     string  `json:"name"`
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	PassRate float64 `json:"pass_rate"`
}

// RunSummary is the reduced projection of a Run used by list endpoints.
type RunSummary struct {
	RunID     string  `json:"run_id"`
	Timestamp string  `json:"timestamp"`
	SuiteName string  `json:"suite_name"`
	Duration  float64 `json:"duration"`
	Summary   Summary `json:"summary"`
}

// Summarize builds the list projection of a run.
func (r *Run) Summarize() RunSummary {
	return RunSummary{
		RunID:     r.RunID,
		Timestamp: r.Timestamp,
		SuiteName: r.SuiteName,
		Duration:  r.Duration,
		Summary:   r.Summary,
	}
}

// PassRate computes passed/total*100 rounded to two decimals, with the
// zero guard every consumer relies on: a zero total yields 0, not NaN.
func PassRate(passed, total int) float64 {
	if total == 0 {
		return 0
	}

	return Round2(float64(passed) / float64(total) * 100)
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// StartedAt parses the run timestamp when present. The boolean is false
// for runs whose start time never parsed.
func (r *Run) StartedAt() (time.Time, bool) {
	if r.Timestamp == "" {
		return time.Time{}, false
	}

	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return time.Time{}, false
	}

	return ts, true
}
