package rules

import (
	"strings"

	"github.com/zxbkit/peephole/pkg/asm"
	"github.com/zxbkit/peephole/pkg/z80"
)

// builtin is one DSL function. Arity is checked at load time; argument
// kind mismatches at run time yield false (boolean builtins) or Undefined
// (value builtins) so a bad probe skips the rule silently.
type builtin struct {
	arity int
	call  func(ctx *Context, args []Value) Value
}

var builtins map[string]*builtin

func init() {
	builtins = map[string]*builtin{
		"IS_REGISTER": {1, func(_ *Context, a []Value) Value {
			if a[0].Kind != KToken {
				return BoolVal(false)
			}
			return BoolVal(a[0].Tok.IsRegister() || asm.IsRegisterName(a[0].Tok.Text))
		}},
		"IS_INDIR": {1, func(_ *Context, a []Value) Value {
			return BoolVal(a[0].Kind == KToken && a[0].Tok.IsIndirect())
		}},
		"IS_LABEL": {1, func(_ *Context, a []Value) Value {
			if a[0].Kind != KToken || a[0].Tok.Kind != asm.OpSym {
				return BoolVal(false)
			}
			t := a[0].Tok.Text
			return BoolVal(!asm.IsRegisterName(t) && !asm.IsConditionName(t))
		}},
		"IS_NUMERIC": {1, func(_ *Context, a []Value) Value {
			_, ok := a[0].Num()
			return BoolVal(ok)
		}},
		"IS_INT": {1, func(_ *Context, a []Value) Value {
			switch a[0].Kind {
			case KInt:
				return BoolVal(true)
			case KToken:
				return BoolVal(a[0].Tok.Kind == asm.OpInt)
			}
			return BoolVal(false)
		}},
		"IS_COND": {1, func(_ *Context, a []Value) Value {
			if a[0].Kind != KToken {
				return BoolVal(false)
			}
			return BoolVal(a[0].Tok.Kind == asm.OpCond || asm.IsConditionName(a[0].Tok.Text))
		}},
		"NEGATE_COND": {1, func(_ *Context, a []Value) Value {
			if a[0].Kind != KToken {
				return Undefined
			}
			neg, ok := z80.NegateCondition(a[0].Tok.Text)
			if !ok {
				return Undefined
			}
			return MnemonicVal(neg)
		}},
		"OP_NARGS": {1, func(ctx *Context, a []Value) Value {
			n, ok := a[0].Num()
			if !ok {
				return Undefined
			}
			inst, ok := ctx.instAt(n)
			if !ok {
				return Undefined
			}
			return IntVal(int64(len(inst.Operands)))
		}},
		"IS_FLAG_UNUSED_BEFORE": {1, isFlagUnusedBefore},
		"IS_REQUIRED":           {1, isRequired},
		"IS_NEXT_LABEL":         {1, isNextLabel},
		"LOWER": {1, func(_ *Context, a []Value) Value {
			return StrVal(strings.ToLower(a[0].Render()))
		}},
		"UPPER": {1, func(_ *Context, a []Value) Value {
			return StrVal(strings.ToUpper(a[0].Render()))
		}},
		"CONCAT": {2, func(_ *Context, a []Value) Value {
			return StrVal(a[0].Render() + a[1].Render())
		}},
	}
}

// isFlagUnusedBefore reports whether the flags entering the window are
// dead before pattern position n: no instruction at positions 1..n-1 reads
// flags, and the scan stops early at the first flag definer.
func isFlagUnusedBefore(ctx *Context, a []Value) Value {
	n, ok := a[0].Num()
	if !ok {
		return BoolVal(false)
	}
	for p := int64(1); p < n; p++ {
		inst, ok := ctx.instAt(p)
		if !ok {
			return BoolVal(false)
		}
		if z80.UsesFlags(inst) {
			return BoolVal(false)
		}
		if z80.DefinesFlags(inst) != 0 {
			return BoolVal(true)
		}
	}
	return BoolVal(true)
}

// isNextLabel reports whether the first line after the matched window is
// the label named by the argument. Only blank and comment lines are
// skipped: a directive may emit bytes, and falling through into data is
// not the same as jumping over it. Label comparison is case-sensitive,
// matching the assembler.
func isNextLabel(ctx *Context, a []Value) Value {
	if a[0].Kind != KToken || a[0].Tok.Kind != asm.OpSym {
		return BoolVal(false)
	}
	want := a[0].Tok.Text
	for i := ctx.afterWindow(); i < len(ctx.Seq); i++ {
		l := ctx.Seq[i]
		switch l.Kind {
		case asm.LineBlank, asm.LineComment:
			continue
		case asm.LineLabel:
			return BoolVal(l.Label == want)
		}
		if l.HasLabel() {
			return BoolVal(l.Label == want)
		}
		return BoolVal(false)
	}
	return BoolVal(false)
}

// isRequired reports whether the register (or "f" for the flags) named by
// the argument may still be read after the matched window. Unknown control
// flow — a label, any branch, a call, or the end of the chunk — counts as
// required: a peephole must never delete a value it cannot prove dead.
// An argument that names no register and is not "f" is a kind mismatch
// and yields false, like every boolean builtin.
func isRequired(ctx *Context, a []Value) Value {
	var name string
	switch a[0].Kind {
	case KToken:
		name = strings.ToLower(a[0].Tok.Text)
	case KStr:
		name = strings.ToLower(a[0].S)
	default:
		return BoolVal(false)
	}
	if name != "f" && !asm.IsRegisterName(name) {
		return BoolVal(false)
	}

	for i := ctx.afterWindow(); i < len(ctx.Seq); i++ {
		l := ctx.Seq[i]
		switch l.Kind {
		case asm.LineBlank, asm.LineComment, asm.LineDirective:
			continue
		case asm.LineLabel:
			return BoolVal(true)
		}
		if l.HasLabel() {
			return BoolVal(true)
		}
		if z80.IsCall(l) || z80.IsConditionalJump(l) || z80.IsUnconditionalJump(l) || z80.IsReturn(l) {
			return BoolVal(true)
		}
		if name == "f" {
			if z80.UsesFlags(l) {
				return BoolVal(true)
			}
			if z80.DefinesFlags(l) == z80.AllFlags {
				return BoolVal(false)
			}
			continue
		}
		if z80.UsesRegister(l, name) {
			return BoolVal(true)
		}
		if z80.ChangesRegister(l, name) {
			return BoolVal(false)
		}
	}
	return BoolVal(true)
}
