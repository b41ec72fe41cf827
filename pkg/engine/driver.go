package engine

import (
	"context"
	"log/slog"

	"github.com/zxbkit/peephole/pkg/asm"
	"github.com/zxbkit/peephole/pkg/rules"
)

// Driver owns one instruction sequence and rewrites it to fixed point.
// The rule set it holds is immutable, so any number of drivers may share
// one registry.
type Driver struct {
	rs  *rules.RuleSet
	cfg Config
	log *slog.Logger
}

// New builds a driver for the given registry and session config.
func New(reg *rules.Registry, cfg Config) *Driver {
	cfg = cfg.normalize()
	return &Driver{
		rs:  reg.Enabled(cfg.Level, cfg.disabledSet()),
		cfg: cfg,
		log: slog.Default(),
	}
}

// WithLogger replaces the driver's logger.
func (d *Driver) WithLogger(l *slog.Logger) *Driver {
	d.log = l
	return d
}

// Optimize rewrites the unit until a full pass produces no rewrites or a
// resource cap is hit. The returned lines are always valid assembly: a
// replacement is spliced atomically or not at all. The error is non-nil
// only for rule bugs (ill-formed replacement text) or cancellation.
func (d *Driver) Optimize(ctx context.Context, input []string) ([]string, *Stats, error) {
	stats := newStats()
	seq := asm.ParseLines(input)

	if d.rs.Len() == 0 {
		return input, stats, nil
	}

	for stats.Passes < d.cfg.MaxPasses {
		// Cancellation is cooperative and checked only between passes, so
		// the sequence is never left half-spliced.
		select {
		case <-ctx.Done():
			return render(seq), stats, ctx.Err()
		default:
		}
		stats.Passes++

		var changed bool
		var err error
		seq, changed, err = d.pass(seq, stats)
		if err != nil {
			return render(seq), stats, err
		}
		if !changed {
			return render(seq), stats, nil
		}
		if stats.Thrashed {
			flag, count := stats.MostApplied()
			d.log.Warn("optimizer thrashing, giving up on unit",
				"rewrites", stats.Rewrites,
				"most_applied_rule", flag,
				"applications", count)
			return render(seq), stats, nil
		}
	}

	stats.Thrashed = true
	flag, count := stats.MostApplied()
	d.log.Warn("optimizer hit pass cap",
		"passes", stats.Passes,
		"most_applied_rule", flag,
		"applications", count)
	return render(seq), stats, nil
}

// pass walks the sequence left to right once, applying the first
// candidate that matches at each offset. After a rewrite it backs up so
// the newly synthesized prefix can participate in further rewrites.
// Reports whether anything changed.
func (d *Driver) pass(seq []asm.Line, stats *Stats) ([]asm.Line, bool, error) {
	changed := false
	execIdx := executableIndices(seq)
	k := 0

	for k < len(execIdx) {
		if stats.Rewrites >= d.cfg.MaxRewrites {
			stats.Thrashed = true
			return seq, changed, nil
		}

		line := seq[execIdx[k]]
		fired := false
		for _, r := range d.rs.Candidates(line.Opcode()) {
			env, pos, ok := Match(r, seq, execIdx, k)
			if !ok {
				continue
			}
			ectx := &rules.Context{Env: env, Seq: seq, MatchPos: pos}
			rules.EvalDefines(r, ectx)
			if !rules.EvalPredicate(r, ectx) {
				continue
			}
			replacement, ok, err := Expand(r, env)
			if err != nil {
				return seq, changed, err
			}
			if !ok {
				continue
			}

			start, end := pos[0], pos[len(pos)-1]
			var before []string
			if d.cfg.Trace {
				for i := start; i <= end; i++ {
					before = append(before, seq[i].Source)
				}
			}
			seq = splice(seq, start, end, replacement)
			stats.record(r.Flag, start, before, render(replacement), d.cfg.Trace)
			d.log.Debug("pattern applied", "rule", r.Flag, "file", r.File, "line", start+1)

			execIdx = executableIndices(seq)
			if back := d.rs.MaxPatternLen() - 1; k > back {
				k -= back
			} else {
				k = 0
			}
			changed = true
			fired = true
			break
		}
		if !fired {
			k++
		}
	}
	return seq, changed, nil
}

func executableIndices(seq []asm.Line) []int {
	idx := make([]int, 0, len(seq))
	for i, l := range seq {
		if l.Executable() {
			idx = append(idx, i)
		}
	}
	return idx
}

func render(seq []asm.Line) []string {
	out := make([]string, len(seq))
	for i, l := range seq {
		out[i] = l.String()
	}
	return out
}
