package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zxbkit/peephole/pkg/asm"
)

// Term is one operand slot in a pattern line: either a literal that must
// match exactly, or a variable $N that binds on first occurrence. A
// variable may be wrapped in parentheses, in which case it matches only
// indirect operands and binds the inner expression.
type Term struct {
	IsVar bool
	Var   string // "$1", "$2", ...
	Indir bool   // variable written as ($N)
	Lit   asm.Operand
}

// PatternLine is one instruction pattern: a mnemonic (literal or variable)
// plus operand terms.
type PatternLine struct {
	MnemVar  string // set when the mnemonic slot is a variable
	Mnemonic string // lower-case, set when literal
	Terms    []Term
}

// Define is one `$N = EXPR` assignment from a DEFINE block.
type Define struct {
	Name string
	Expr Expr
	Src  string
}

// Rule is a frozen, parsed optimization rule.
type Rule struct {
	Level    int
	Flag     int
	Pattern  []PatternLine
	Defines  []Define
	Cond     Expr     // nil means always true
	Template []string // WITH lines, raw text with $N references
	File     string
}

// FirstMnemonic returns the lower-case mnemonic of the first pattern line,
// or "" when it is a variable (such rules match any opcode).
func (r *Rule) FirstMnemonic() string {
	if len(r.Pattern) == 0 || r.Pattern[0].MnemVar != "" {
		return ""
	}
	return r.Pattern[0].Mnemonic
}

// PatternVars returns the set of variables the pattern itself binds.
func (r *Rule) PatternVars() map[string]bool {
	vars := make(map[string]bool)
	for _, pl := range r.Pattern {
		if pl.MnemVar != "" {
			vars[pl.MnemVar] = true
		}
		for _, t := range pl.Terms {
			if t.IsVar {
				vars[t.Var] = true
			}
		}
	}
	return vars
}

var templateVarRe = regexp.MustCompile(`\$\d+`)

// validate enforces the load-time invariants: non-empty pattern, every
// referenced variable introduced by the pattern or an earlier DEFINE, and
// DEFINE names not colliding with pattern bindings.
func (r *Rule) validate() error {
	if len(r.Pattern) == 0 {
		return fmt.Errorf("pattern contains no instructions")
	}
	known := r.PatternVars()
	for _, d := range r.Defines {
		if known[d.Name] {
			return fmt.Errorf("variable %q already bound by the pattern", d.Name)
		}
		for _, v := range d.Expr.Vars(nil) {
			if !known[v] {
				return fmt.Errorf("DEFINE %s references unbound variable %q", d.Name, v)
			}
		}
		known[d.Name] = true
	}
	if r.Cond != nil {
		for _, v := range r.Cond.Vars(nil) {
			if !known[v] {
				return fmt.Errorf("IF references unbound variable %q", v)
			}
		}
	}
	for _, tl := range r.Template {
		for _, v := range templateVarRe.FindAllString(tl, -1) {
			if !known[v] {
				return fmt.Errorf("WITH references unbound variable %q", v)
			}
		}
	}
	return nil
}

// String identifies the rule in diagnostics.
func (r *Rule) String() string {
	return fmt.Sprintf("rule %03d (level %d, %s)", r.Flag, r.Level, r.File)
}

// parsePatternLine tokenizes one REPLACE line into a PatternLine.
func parsePatternLine(src string) (PatternLine, error) {
	fields := strings.TrimSpace(src)
	if fields == "" {
		return PatternLine{}, fmt.Errorf("empty pattern line")
	}
	mnem := fields
	rest := ""
	if i := strings.IndexAny(fields, " \t"); i >= 0 {
		mnem = fields[:i]
		rest = strings.TrimSpace(fields[i+1:])
	}

	var pl PatternLine
	if isVarRef(mnem) {
		pl.MnemVar = mnem
	} else {
		pl.Mnemonic = strings.ToLower(mnem)
	}

	if rest == "" {
		return pl, nil
	}
	parts := asm.SplitOperands(rest)
	for i, part := range parts {
		text := strings.TrimSpace(part)
		switch {
		case isVarRef(text):
			pl.Terms = append(pl.Terms, Term{IsVar: true, Var: text})
		case strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") &&
			isVarRef(strings.TrimSpace(text[1:len(text)-1])):
			pl.Terms = append(pl.Terms, Term{
				IsVar: true,
				Var:   strings.TrimSpace(text[1 : len(text)-1]),
				Indir: true,
			})
		default:
			if strings.Contains(text, "$") {
				return PatternLine{}, fmt.Errorf("operand %q mixes literals and variables", text)
			}
			// When the mnemonic slot is a variable, pl.Mnemonic is "" and
			// the operand is classified without branch context, so a
			// literal "c" here becomes a register term and will not match
			// the condition-code slot of a bound jp/jr/call/ret. Write
			// such patterns with a literal mnemonic (or a variable
			// operand) instead.
			op := asm.ParseOperand(pl.Mnemonic, i, len(parts), text)
			pl.Terms = append(pl.Terms, Term{Lit: op})
		}
	}
	return pl, nil
}

func isVarRef(s string) bool {
	if len(s) < 2 || s[0] != '$' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
