package cbuildbot

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status is the outcome of a single stage.
type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
	StatusForgiven Status = "forgiven"
)

// Label returns the display form of the status.
func (s Status) Label() string {
	return cases.Title(language.Und).String(string(s))
}

// Result records one stage run.
type Result struct {
	Name        string
	Board       string
	Status      Status
	Description string
	Err         error
	Start       time.Time
	Duration    time.Duration
}

// DisplayName combines the stage name with its board.
func (r Result) DisplayName() string {
	if r.Board == "" {
		return r.Name
	}
	return fmt.Sprintf("%s [%s]", r.Name, r.Board)
}

// Results collects stage results. It is safe for concurrent use by
// parallel stages.
type Results struct {
	mu      sync.Mutex
	entries []Result
}

// Record appends a result.
func (r *Results) Record(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, res)
}

// All returns the results in completion order.
func (r *Results) All() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.entries...)
}

// Lookup returns the latest result for a stage and board.
func (r *Results) Lookup(name, board string) (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Name == name && r.entries[i].Board == board {
			return r.entries[i], true
		}
	}
	return Result{}, false
}

// Failed returns the display names of failed stages.
func (r *Results) Failed() []string {
	var out []string
	for _, res := range r.All() {
		if res.Status == StatusFailed {
			out = append(out, res.DisplayName())
		}
	}
	return out
}

// Success reports whether no stage failed. Forgiven and skipped stages do
// not count against the build.
func (r *Results) Success() bool {
	return len(r.Failed()) == 0
}

// Report writes the results table to w.
func (r *Results) Report(w io.Writer) error {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Stage", "Result", "Duration", "Details"})
	var total time.Duration
	for _, res := range r.All() {
		total += res.Duration
		tw.AppendRow(table.Row{res.DisplayName(), res.Status.Label(), formatDuration(res.Duration), summarize(res.Description)})
	}
	outcome := "Build succeeded"
	if !r.Success() {
		outcome = "Build failed"
	}
	tw.AppendFooter(table.Row{outcome, "", formatDuration(total), ""})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 4, WidthMax: 72},
	})
	_, err := io.WriteString(w, tw.Render()+"\n")
	return err
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

// summarize keeps the first line of a stage description.
func summarize(desc string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(desc), "\n")
	return first
}
