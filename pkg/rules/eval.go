package rules

import (
	"github.com/zxbkit/peephole/pkg/asm"
)

// Context carries everything an expression needs: the binding environment
// and the matched window's position within the unit, so liveness builtins
// can scan the surrounding code.
type Context struct {
	Env Env

	// Seq is the whole unit being optimized; MatchPos holds the Seq index
	// of each matched pattern position (0-based, in pattern order). Both
	// may be empty when expressions are evaluated outside a match (tests,
	// rule linting).
	Seq      []asm.Line
	MatchPos []int
}

// instAt returns the instruction bound at 1-based pattern position n.
func (c *Context) instAt(n int64) (asm.Line, bool) {
	if n < 1 || int(n) > len(c.MatchPos) {
		return asm.Line{}, false
	}
	idx := c.MatchPos[n-1]
	if idx < 0 || idx >= len(c.Seq) {
		return asm.Line{}, false
	}
	return c.Seq[idx], true
}

// afterWindow returns the Seq index just past the matched window.
func (c *Context) afterWindow() int {
	if len(c.MatchPos) == 0 {
		return len(c.Seq)
	}
	return c.MatchPos[len(c.MatchPos)-1] + 1
}

// EvalDefines extends env with each DEFINE assignment in declaration
// order. A define may yield Undefined; dereferencing it later fails the
// predicate, not the pass.
func EvalDefines(r *Rule, ctx *Context) {
	for _, d := range r.Defines {
		ctx.Env[d.Name] = d.Expr.Eval(ctx)
	}
}

// EvalPredicate evaluates the rule's IF expression under ctx. A missing
// predicate is true.
func EvalPredicate(r *Rule, ctx *Context) bool {
	if r.Cond == nil {
		return true
	}
	return r.Cond.Eval(ctx).Truthy()
}
