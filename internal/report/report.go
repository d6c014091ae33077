// Package report prints human-readable summaries of generation and replay
// runs to the console.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/arkilian/nodeplace/internal/layout"
	"github.com/arkilian/nodeplace/internal/observability"
	"github.com/arkilian/nodeplace/internal/replay"
	"github.com/arkilian/nodeplace/internal/results"
	"github.com/arkilian/nodeplace/internal/workload"
)

// Printer writes summaries to an output stream.
type Printer struct {
	out     io.Writer
	heading *color.Color
	label   *color.Color
	ok      *color.Color
	warn    *color.Color
}

// New creates a printer. Color is disabled when noColor is set or when the
// process is not attached to a terminal.
func New(out io.Writer, noColor bool) *Printer {
	p := &Printer{
		out:     out,
		heading: color.New(color.Bold, color.FgCyan),
		label:   color.New(color.Faint),
		ok:      color.New(color.FgGreen),
		warn:    color.New(color.FgYellow, color.Bold),
	}
	if noColor || color.NoColor {
		for _, c := range []*color.Color{p.heading, p.label, p.ok, p.warn} {
			c.DisableColor()
		}
	}
	return p
}

func (p *Printer) field(name string, format string, args ...interface{}) {
	p.label.Fprintf(p.out, "  %-24s", name)
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Generation prints the node counts and per-round query mix of a generated
// trace.
func (p *Printer) Generation(tracePath string, s *workload.Summary) {
	p.heading.Fprintln(p.out, "Trace generated")
	p.field("trace", "%s", tracePath)
	p.field("total nodes", "%d", s.NumNodes)
	p.field("popular nodes", "%d", s.NumPopular)
	p.field("unpopular nodes", "%d", s.NumNodes-s.NumPopular)
	p.field("popular queries/round", "%d (%d inserts)", s.Plan.PopularQueries, s.Plan.PopularInserts)
	p.field("unpopular queries/round", "%d (%d inserts)", s.Plan.UnpopularQueries, s.Plan.UnpopularInserts)
	p.field("rounds", "%d", len(s.Rounds))
	p.field("splits", "%d", s.Total.Splits)
	p.field("operations", "%d (%d reads, %d writes)", s.Total.Reads+s.Total.Writes, s.Total.Reads, s.Total.Writes)
}

// Layout prints the placement statistics of a mapping.
func (p *Printer) Layout(m *layout.Mapping) {
	st := m.Stats()
	p.heading.Fprintln(p.out, "Layout")
	p.field("fingerprint", "%s", m.Fingerprint())
	p.field("popular good/bad", "%d / %d", st.PopularGood, st.PopularBad)
	p.field("unpopular good/bad", "%d / %d", st.UnpopularGood, st.UnpopularBad)
	if st.Unmapped > 0 {
		p.label.Fprintf(p.out, "  %-24s", "unmapped")
		p.warn.Fprintf(p.out, "%d\n", st.Unmapped)
	}
	for _, ph := range st.Phases {
		p.field(ph.Name, "%d (%s)", ph.Assigned, ph.End)
	}
}

// Replay prints the outcome of a replay run. runID may be empty when the
// run was not recorded.
func (p *Printer) Replay(runID string, r *replay.Result) {
	p.heading.Fprintln(p.out, "Replay finished")
	if runID != "" {
		p.field("run", "%s", runID)
	}
	p.field("operations", "%d", r.Operations)
	p.field("measured", "%d (%d reads, %d writes)", r.Measured, r.Reads, r.Writes)
	p.field("skipped (unmapped)", "%d", r.Skipped)
	p.counter("errored", r.Errored)
	p.field("pollutions", "%d", r.Pollutions)
	if r.PolluteErrors > 0 {
		p.counter("pollute errors", r.PolluteErrors)
	}
	if r.VerifyChecked > 0 {
		p.field("verified reads", "%d", r.VerifyChecked)
		p.counter("verify mismatches", r.VerifyMismatches)
	}
	p.field("wall time", "%s", r.Wall.Round(time.Millisecond))
	if len(r.Latency) > 0 {
		p.latency(r.Latency)
	}
	p.ok.Fprintf(p.out, "Total execution time (usec): %d\n", r.TotalMicros())
}

func (p *Printer) counter(name string, n int64) {
	p.label.Fprintf(p.out, "  %-24s", name)
	if n > 0 {
		p.warn.Fprintf(p.out, "%d\n", n)
		return
	}
	p.ok.Fprintf(p.out, "%d\n", n)
}

func (p *Printer) latency(series []observability.Summary) {
	p.label.Fprintf(p.out, "  %-8s %10s %10s %10s %10s %10s\n", "series", "count", "mean", "p50", "p95", "p99")
	for _, s := range series {
		fmt.Fprintf(p.out, "  %-8s %10d %10s %10s %10s %10s\n", s.Key, s.Count,
			micros(s.Mean), micros(s.P50), micros(s.P95), micros(s.P99))
	}
}

// Runs prints a comparison table of recorded runs, one per line.
func (p *Printer) Runs(runs []*results.RunRecord) {
	p.heading.Fprintf(p.out, "%d recorded run(s)\n", len(runs))
	for _, r := range runs {
		fmt.Fprintf(p.out, "  %s  %-9s ratio=%.2f geometry=v%d layout=%s total=%dus measured=%d errored=%d\n",
			r.StartedAt.Format(time.RFC3339), r.Status, r.GoodOffsetRatio, r.GeometryVersion,
			shortFingerprint(r.Fingerprint), r.TotalMicros, r.Measured, r.Errored)
	}
}

func micros(d time.Duration) string {
	return fmt.Sprintf("%dus", d.Microseconds())
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
