package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zxbkit/peephole/pkg/asm"
	"github.com/zxbkit/peephole/pkg/rules"
)

var varRe = regexp.MustCompile(`\$\d+`)

// MalformedRewriteError means a rule's WITH block produced text that does
// not parse back into valid assembly. That is a bug in the rule, not in
// the input, so the engine refuses to emit.
type MalformedRewriteError struct {
	Rule *rules.Rule
	Line string
}

func (e *MalformedRewriteError) Error() string {
	return fmt.Sprintf("%s produced ill-formed assembly line %q", e.Rule, e.Line)
}

// Expand substitutes bindings into the rule's replacement template.
// Token bindings keep their original source spelling (so a hex literal
// stays hex). A reference to an undefined binding fails the expansion,
// which silently skips the candidate. Text that does not parse back into
// assembly is a rule bug and returns a MalformedRewriteError.
func Expand(r *rules.Rule, env rules.Env) ([]asm.Line, bool, error) {
	out := make([]asm.Line, 0, len(r.Template))
	for _, tmpl := range r.Template {
		undefined := false
		text := varRe.ReplaceAllStringFunc(tmpl, func(name string) string {
			v, ok := env[name]
			if !ok || v.Kind == rules.KUndefined {
				undefined = true
				return ""
			}
			return v.Render()
		})
		if undefined {
			return nil, false, nil
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		line := asm.ParseLine(text)
		if line.Kind == asm.LineBlank {
			return nil, false, &MalformedRewriteError{Rule: r, Line: text}
		}
		if line.Kind == asm.LineInst {
			if !validMnemonic(line.Mnemonic) {
				return nil, false, &MalformedRewriteError{Rule: r, Line: text}
			}
			for _, op := range line.Operands {
				if strings.TrimSpace(op.Source) == "" && op.Text == "" {
					return nil, false, &MalformedRewriteError{Rule: r, Line: text}
				}
			}
		}
		out = append(out, line)
	}
	return out, true, nil
}

func validMnemonic(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// splice replaces the matched span seq[start..end] with the replacement,
// re-emitting any directives or comments that sat inside the span, in
// their original order, ahead of the new instructions. Labels never occur
// inside a window.
func splice(seq []asm.Line, start, end int, replacement []asm.Line) []asm.Line {
	var kept []asm.Line
	for i := start; i <= end; i++ {
		if !seq[i].Executable() {
			kept = append(kept, seq[i])
		}
	}
	out := make([]asm.Line, 0, len(seq)-(end-start+1)+len(kept)+len(replacement))
	out = append(out, seq[:start]...)
	out = append(out, kept...)
	out = append(out, replacement...)
	out = append(out, seq[end+1:]...)
	return out
}
