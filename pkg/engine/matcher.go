package engine

import (
	"strings"

	"github.com/zxbkit/peephole/pkg/asm"
	"github.com/zxbkit/peephole/pkg/rules"
)

// Match unifies a rule pattern against the window starting at execIdx[k].
// seq is the whole unit, execIdx the indices of its executable lines.
// On success it returns the binding environment and the Seq index of each
// matched pattern position; on failure no partial bindings leak.
func Match(r *rules.Rule, seq []asm.Line, execIdx []int, k int) (rules.Env, []int, bool) {
	n := len(r.Pattern)
	if k+n > len(execIdx) {
		return nil, nil, false
	}

	// A window must not cross a label: any label strictly inside the span
	// is a control-flow entry point and forces a split.
	first, last := execIdx[k], execIdx[k+n-1]
	for i := first + 1; i <= last; i++ {
		if seq[i].Kind == asm.LineLabel || seq[i].HasLabel() {
			return nil, nil, false
		}
	}

	env := make(rules.Env)
	pos := make([]int, n)
	for p := 0; p < n; p++ {
		pl := r.Pattern[p]
		line := seq[execIdx[k+p]]
		pos[p] = execIdx[k+p]

		if pl.MnemVar != "" {
			if !bind(env, pl.MnemVar, rules.MnemonicVal(line.Mnemonic)) {
				return nil, nil, false
			}
		} else if pl.Mnemonic != line.Opcode() {
			return nil, nil, false
		}

		if len(pl.Terms) != len(line.Operands) {
			return nil, nil, false
		}
		for i, term := range pl.Terms {
			op := line.Operands[i]
			if !term.IsVar {
				if !op.Equal(term.Lit) {
					return nil, nil, false
				}
				continue
			}
			v := rules.TokenVal(op)
			if term.Indir {
				if op.Kind != asm.OpIndir {
					return nil, nil, false
				}
				inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(op.Text, "("), ")"))
				v = rules.TokenVal(asm.ParseOperand("", 0, 1, inner))
			}
			if !bind(env, term.Var, v) {
				return nil, nil, false
			}
		}
	}
	return env, pos, true
}

// bind records the first occurrence of a variable and requires identity on
// repeats.
func bind(env rules.Env, name string, v rules.Value) bool {
	if prev, ok := env[name]; ok {
		return rules.Equals(prev, v)
	}
	env[name] = v
	return true
}
