package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robometrics/robometrics/pkg/model"
)

func TestPassRate(t *testing.T) {
	tests := []struct {
		name     string
		passed   int
		total    int
		expected float64
	}{
		{name: "all passing", passed: 10, total: 10, expected: 100.0},
		{name: "none passing", passed: 0, total: 10, expected: 0.0},
		{name: "zero total", passed: 0, total: 0, expected: 0.0},
		{name: "two decimals", passed: 2, total: 3, expected: 66.67},
		{name: "rounds half up", passed: 1, total: 8, expected: 12.5},
		{name: "one of seven", passed: 1, total: 7, expected: 14.29},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, model.PassRate(tc.passed, tc.total))
		})
	}
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 1.23, model.Round2(1.234))
	assert.Equal(t, 1.24, model.Round2(1.236))
	assert.Equal(t, 0.0, model.Round2(0))
	assert.Equal(t, -1.23, model.Round2(-1.234))
}

func TestTestCase_HasTag(t *testing.T) {
	tc := model.TestCase{Tags: []string{"smoke", "critical"}}

	assert.True(t, tc.HasTag("smoke"))
	assert.True(t, tc.HasTag("critical"))
	assert.False(t, tc.HasTag("Smoke"))
	assert.False(t, tc.HasTag("regression"))

	empty := model.TestCase{}
	assert.False(t, empty.HasTag("smoke"))
}

func TestRun_Summarize(t *testing.T) {
	run := &model.Run{
		RunID:     "abc123",
		Timestamp: "2024-01-15T10:00:00Z",
		SuiteName: "Regression",
		Duration:  42.5,
		Summary: model.Summary{
			Total: 4, Passed: 3, Failed: 1, PassRate: 75.0,
		},
		Tests: []model.TestCase{{Name: "a"}, {Name: "b"}},
	}

	summary := run.Summarize()
	assert.Equal(t, "abc123", summary.RunID)
	assert.Equal(t, "Regression", summary.SuiteName)
	assert.Equal(t, 42.5, summary.Duration)
	assert.Equal(t, run.Summary, summary.Summary)
}

func TestRun_StartedAt(t *testing.T) {
	run := &model.Run{Timestamp: "2024-01-15T10:00:00.5Z"}

	ts, ok := run.StartedAt()
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, 500000000, ts.Nanosecond())

	_, ok = (&model.Run{}).StartedAt()
	assert.False(t, ok)

	_, ok = (&model.Run{Timestamp: "not-a-time"}).StartedAt()
	assert.False(t, ok)
}
