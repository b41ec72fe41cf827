package engine

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Rewrite is one structured trace record: which rule fired, where, and
// what text it replaced.
type Rewrite struct {
	RuleFlag int
	Position int // line index of the window start at the time of rewrite
	Before   []string
	After    []string
}

// Stats accumulates per-unit instrumentation.
type Stats struct {
	Passes    int
	Rewrites  int
	Thrashed  bool // hit the rewrite or pass cap
	PerRule   map[int]int
	Trace     []Rewrite // populated only when tracing is enabled
}

func newStats() *Stats {
	return &Stats{PerRule: make(map[int]int)}
}

func (s *Stats) record(flag, pos int, before, after []string, trace bool) {
	s.Rewrites++
	s.PerRule[flag]++
	if trace {
		s.Trace = append(s.Trace, Rewrite{
			RuleFlag: flag,
			Position: pos,
			Before:   before,
			After:    after,
		})
	}
}

// MostApplied returns the flag of the rule with the most applications.
// Ties break toward the lower flag so the answer is deterministic.
func (s *Stats) MostApplied() (flag, count int) {
	flags := make([]int, 0, len(s.PerRule))
	for f := range s.PerRule {
		flags = append(flags, f)
	}
	sort.Ints(flags)
	for _, f := range flags {
		if s.PerRule[f] > count {
			flag, count = f, s.PerRule[f]
		}
	}
	return flag, count
}

// DumpTrace writes the trace records to w, color-coded when color is on:
// replaced lines in red, synthesized lines in green.
func (s *Stats) DumpTrace(w io.Writer, color bool) {
	red := func(t string) string { return t }
	green := red
	bold := red
	if color {
		red = func(t string) string { return ansi.Style{}.ForegroundColor(ansi.Red).Styled(t) }
		green = func(t string) string { return ansi.Style{}.ForegroundColor(ansi.Green).Styled(t) }
		bold = func(t string) string { return ansi.Style{}.Bold().Styled(t) }
	}
	for _, r := range s.Trace {
		fmt.Fprintln(w, bold(fmt.Sprintf("rule %03d @ line %d", r.RuleFlag, r.Position+1)))
		for _, l := range r.Before {
			fmt.Fprintf(w, "  - %s\n", red(strings.TrimRight(l, " \t")))
		}
		for _, l := range r.After {
			fmt.Fprintf(w, "  + %s\n", green(strings.TrimRight(l, " \t")))
		}
	}
}
