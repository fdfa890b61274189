package csync

import (
	"fmt"
	"io"
	"sort"
)

// ErrorMarker prefixes report lines for per-path failures, distinct from
// the "+"/"*"/"-" success markers.
const ErrorMarker = "E"

// ReportLine is one per-path outcome of a sync operation.
type ReportLine struct {
	Marker string // "+", "*", "-", "E"
	Path   string
	Detail string // content id for successes, "<error>" for failures
	Err    error  // non-nil only for failure lines
}

// Report collects the per-path outcomes of one sync invocation, including
// per-file failures that did not abort the rest of the operation.
type Report struct {
	Lines []ReportLine
}

func (r *Report) add(marker, path, detail string) {
	r.Lines = append(r.Lines, ReportLine{Marker: marker, Path: path, Detail: detail})
}

func (r *Report) addFailure(path string, err error) {
	r.Lines = append(r.Lines, ReportLine{
		Marker: ErrorMarker,
		Path:   path,
		Detail: fmt.Sprintf("<%v>", err),
		Err:    err,
	})
}

// Failed returns the number of per-path failures in the report.
func (r *Report) Failed() int {
	n := 0
	for _, l := range r.Lines {
		if l.Marker == ErrorMarker {
			n++
		}
	}
	return n
}

// Succeeded returns the number of successfully processed changes.
func (r *Report) Succeeded() int {
	return len(r.Lines) - r.Failed()
}

// Err summarizes the per-path failures as a single error, wrapping the
// first failure so callers can map the outcome to an exit code. Returns
// nil when nothing failed.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	failed := r.Failed()
	if failed == 0 {
		return nil
	}
	for _, l := range r.Lines {
		if l.Err != nil {
			return fmt.Errorf("%d file(s) failed: %w", failed, l.Err)
		}
	}
	return fmt.Errorf("%d file(s) failed", failed)
}

// Sort orders the report lines lexicographically by path for reproducible
// output; scripting consumers depend on the ordering.
func (r *Report) Sort() {
	sort.Slice(r.Lines, func(i, j int) bool {
		if r.Lines[i].Path != r.Lines[j].Path {
			return r.Lines[i].Path < r.Lines[j].Path
		}
		return r.Lines[i].Marker < r.Lines[j].Marker
	})
}

// Write renders the report in the CLI's line format.
func (r *Report) Write(w io.Writer) {
	for _, l := range r.Lines {
		fmt.Fprintf(w, "%s  %s  %s\n", l.Marker, l.Path, l.Detail)
	}
}
