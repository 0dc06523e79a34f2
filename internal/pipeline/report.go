package pipeline

import (
	"fmt"
	"io"
	"strings"
)

// Report aggregates a batch.
type Report struct {
	Results  []*Result
	Errors   int
	Warnings int
}

func newReport(results []*Result) *Report {
	rep := &Report{Results: results}
	for _, r := range results {
		if r.Failed() {
			rep.Errors++
		}
		rep.Warnings += len(r.Warnings)
	}
	return rep
}

// Print writes the end-of-run report: failed methods first, then methods
// with warnings, then a summary line.
func (rep *Report) Print(w io.Writer) error {
	for _, r := range rep.Results {
		if !r.Failed() {
			continue
		}
		if _, err := fmt.Fprintf(w, "ERROR %s: %v\n", methodName(r.Method), firstLine(r.Err)); err != nil {
			return err
		}
	}
	for _, r := range rep.Results {
		for _, warn := range r.Warnings {
			if _, err := fmt.Fprintf(w, "WARN  %s: %s\n", methodName(r.Method), warn); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "%d methods, %d errors, %d warnings\n", len(rep.Results), rep.Errors, rep.Warnings)
	return err
}

// firstLine drops the stack trace of a recovered panic.
func firstLine(err error) string {
	line, _, _ := strings.Cut(err.Error(), "\n")
	return line
}
