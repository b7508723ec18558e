package framework

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Test outcomes as they appear in a Report.
const (
	OutcomePassed  = "passed"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Report is the machine-readable summary of a test run.
type Report struct {
	RunID    string        `json:"runId"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Tests    []ReportEntry `json:"tests"`
}

type ReportEntry struct {
	Name    string   `json:"name"`
	Outcome string   `json:"outcome"`
	Errors  []string `json:"errors,omitempty"`
}

// NewReport builds a Report from the results of a run.
func NewReport(runID string, started, finished time.Time, results Results) Report {
	r := Report{RunID: runID, Started: started, Finished: finished, Tests: []ReportEntry{}}
	failed := make(map[string]bool)
	for _, f := range results.Failures {
		failed[f.TestID.String()] = true
	}
	for _, t := range results.Tests {
		e := ReportEntry{Name: t.TestID.String()}
		switch {
		case t.Skipped:
			e.Outcome = OutcomeSkipped
			r.Skipped++
		case failed[e.Name]:
			e.Outcome = OutcomeFailed
			r.Failed++
		default:
			e.Outcome = OutcomePassed
			r.Passed++
		}
		for _, err := range t.Errors {
			e.Errors = append(e.Errors, err.Error())
		}
		r.Tests = append(r.Tests, e)
	}
	return r
}

func (r Report) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteFile writes the report as indented JSON, replacing any existing file.
func (r Report) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := r.Write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}
