// Package parser converts Robot Framework output.xml documents into
// canonical model.Run records.
//
// Timestamp interpretation depends on the configured location: Robot
// writes local times without an offset, so the parser attaches the
// location it was constructed with. Runs parsed on hosts configured with
// different locations are not directly comparable unless the location is
// pinned explicitly in config.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robometrics/robometrics/pkg/model"
	"github.com/sirupsen/logrus"
)

const (
	// maxDocumentBytes bounds the size of a document we are willing to
	// decode. Resource-exhaustion guard, not a feature.
	maxDocumentBytes = 256 << 20

	// maxSuiteDepth bounds suite nesting during the test walk.
	maxSuiteDepth = 100

	// runIDLength is the number of hex characters in a run ID.
	runIDLength = 12
)

// Parser turns output.xml documents into Run records.
type Parser struct {
	log logrus.FieldLogger
	loc *time.Location
}

// Option configures a Parser.
type Option func(*Parser)

// WithLocation pins the location attached to offset-less timestamps.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		p.loc = loc
	}
}

// New creates a Parser. Without WithLocation the host's local location is
// used, matching what the test runner itself wrote into the document.
func New(log logrus.FieldLogger, opts ...Option) *Parser {
	p := &Parser{
		log: log.WithField("component", "parser"),
		loc: time.Local,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Parse reads and parses an output.xml file from disk.
func (p *Parser) Parse(path string) (*model.Run, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, malformed("reading document", err)
	}

	if info.Size() > maxDocumentBytes {
		return nil, malformed(
			fmt.Sprintf("document exceeds %d bytes", maxDocumentBytes), nil,
		)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, malformed("reading document", err)
	}

	return p.ParseDocument(data)
}

// ParseDocument parses a raw output.xml document.
func (p *Parser) ParseDocument(data []byte) (*model.Run, error) {
	var doc robotDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, malformed("decoding document", err)
	}

	if doc.Suite == nil {
		return nil, missingSection("document has no root suite")
	}

	if doc.Statistics == nil {
		return nil, missingSection("document has no statistics block")
	}

	startTime, elapsed := p.rootStatus(doc.Suite)
	summary := p.buildSummary(doc.Statistics)

	tests, err := p.collectTests(doc.Suite)
	if err != nil {
		return nil, err
	}

	timestamp := startTime
	if timestamp == "" {
		timestamp = time.Now().In(p.loc).Format(time.RFC3339Nano)
	}

	run := &model.Run{
		RunID:      generateRunID(startTime, summary, tests),
		Timestamp:  timestamp,
		StartTime:  startTime,
		EndTime:    p.endTime(startTime, elapsed),
		Duration:   model.Round2(elapsed),
		Summary:    summary,
		Tests:      tests,
		TagStats:   groupStats(doc.Statistics.TagStats),
		SuiteStats: groupStats(doc.Statistics.SuiteStats),
		SuiteName:  doc.Suite.Name,
	}

	if run.SuiteName == "" {
		run.SuiteName = "Unknown"
	}

	p.log.WithFields(logrus.Fields{
		"run_id": run.RunID,
		"suite":  run.SuiteName,
		"tests":  len(run.Tests),
	}).Debug("Parsed document")

	return run, nil
}

// rootStatus extracts the normalized start time and elapsed seconds from
// the root suite's status block. A missing status block is tolerated.
func (p *Parser) rootStatus(suite *suiteNode) (string, float64) {
	if suite.Status == nil {
		return "", 0
	}

	return p.normalizeTime(suite.Status.Start), suite.Status.Elapsed
}

// buildSummary folds the total statistics into the run summary. The run
// total includes skips, unlike the per-group totals.
func (p *Parser) buildSummary(stats *statisticsNode) model.Summary {
	var passed, failed, skipped int

	if len(stats.TotalStats) > 0 {
		total := stats.TotalStats[0]
		passed = total.Pass
		failed = total.Fail
		skipped = total.Skip
	}

	total := passed + failed + skipped

	return model.Summary{
		Total:    total,
		Passed:   passed,
		Failed:   failed,
		Skipped:  skipped,
		PassRate: model.PassRate(passed, total),
	}
}

// collectTests walks every suite beneath root, any depth, in document
// order. Tests without a status block are skipped silently.
func (p *Parser) collectTests(root *suiteNode) ([]model.TestCase, error) {
	tests := make([]model.TestCase, 0, len(root.Tests))

	var walk func(s *suiteNode, depth int) error

	walk = func(s *suiteNode, depth int) error {
		if depth > maxSuiteDepth {
			return malformed(
				fmt.Sprintf("suite nesting exceeds %d levels", maxSuiteDepth),
				nil,
			)
		}

		for i := range s.Tests {
			if tc, ok := p.buildTestCase(&s.Tests[i]); ok {
				tests = append(tests, tc)
			}
		}

		for i := range s.Suites {
			if err := walk(&s.Suites[i], depth+1); err != nil {
				return err
			}
		}

		return nil
	}

	if err := walk(root, 0); err != nil {
		return nil, err
	}

	return tests, nil
}

func (p *Parser) buildTestCase(test *testNode) (model.TestCase, bool) {
	if test.Status == nil {
		return model.TestCase{}, false
	}

	name := test.Name
	if name == "" {
		name = "Unknown"
	}

	status := test.Status.Status
	if status == "" {
		status = "UNKNOWN"
	}

	start := p.normalizeTime(test.Status.Start)

	tags := make([]string, 0, len(test.Tags))
	tags = append(tags, test.Tags...)

	return model.TestCase{
		Name:      name,
		Status:    status,
		StartTime: start,
		EndTime:   p.endTime(start, test.Status.Elapsed),
		Duration:  model.Round2(test.Status.Elapsed),
		Message:   strings.TrimSpace(test.Status.Message),
		Tags:      tags,
	}, true
}

// timeLayouts are the start-time forms Robot Framework emits: ISO 8601
// with microseconds (RF 5+) and the classic compact form.
var timeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"20060102 15:04:05.999",
}

// normalizeTime attaches the configured location to an offset-less start
// time and reformats it as RFC 3339. Values that already carry an offset
// pass through re-encoded; values that never parse pass through verbatim.
func (p *Parser) normalizeTime(value string) string {
	if value == "" {
		return ""
	}

	if hasExplicitOffset(value) {
		ts, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return value
		}

		return ts.Format(time.RFC3339Nano)
	}

	for _, layout := range timeLayouts {
		ts, err := time.ParseInLocation(layout, value, p.loc)
		if err == nil {
			return ts.Format(time.RFC3339Nano)
		}
	}

	return value
}

// hasExplicitOffset reports whether the timestamp carries its own UTC
// offset marker.
func hasExplicitOffset(value string) bool {
	return strings.ContainsRune(value, 'Z') || strings.ContainsRune(value, '+')
}

// endTime computes start + elapsed. An absent or unparsable start yields
// an empty end time rather than a parse failure.
func (p *Parser) endTime(start string, elapsed float64) string {
	if start == "" {
		return ""
	}

	ts, err := time.Parse(time.RFC3339Nano, start)
	if err != nil {
		return ""
	}

	end := ts.Add(time.Duration(elapsed * float64(time.Second)))

	return end.Format(time.RFC3339Nano)
}

// generateRunID derives a deterministic identifier from document content:
// the canonical start time, the summary counts, and the ordered test
// name/status sequence. Re-parsing an identical document yields the same
// ID, so deduplication happens naturally at the store.
func generateRunID(
	startTime string, summary model.Summary, tests []model.TestCase,
) string {
	h := sha256.New()

	fmt.Fprintf(h, "%s|%d|%d|%d|%d",
		startTime, summary.Total, summary.Passed,
		summary.Failed, summary.Skipped)

	for i := range tests {
		fmt.Fprintf(h, "|%s=%s", tests[i].Name, tests[i].Status)
	}

	return hex.EncodeToString(h.Sum(nil))[:runIDLength]
}

// groupStats converts statistics entries into group rollups. Group totals
// count only pass + fail; skipped tests are excluded at the group level.
func groupStats(stats []statNode) []model.GroupStat {
	out := make([]model.GroupStat, 0, len(stats))

	for _, s := range stats {
		total := s.Pass + s.Fail

		out = append(out, model.GroupStat{
			Name:     s.Name,
			Total:    total,
			Passed:   s.Pass,
			Failed:   s.Fail,
			PassRate: model.PassRate(s.Pass, total),
		})
	}

	return out
}
