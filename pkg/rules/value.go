package rules

import (
	"strconv"
	"strings"

	"github.com/zxbkit/peephole/pkg/asm"
)

// Kind discriminates the tagged Value union used by the evaluator.
type Kind uint8

const (
	KUndefined Kind = iota
	KBool
	KInt
	KStr
	KToken // an operand or mnemonic captured from matched code
)

// Value is the evaluator's dynamic value. Operators dispatch on Kind;
// unknown combinations produce Undefined rather than errors, so a bad
// probe fails the rule instead of the pass.
type Value struct {
	Kind Kind
	B    bool
	I    int64
	S    string
	Tok  asm.Operand
}

// Undefined is the failure sentinel.
var Undefined = Value{Kind: KUndefined}

// BoolVal wraps a bool.
func BoolVal(b bool) Value { return Value{Kind: KBool, B: b} }

// IntVal wraps an integer.
func IntVal(i int64) Value { return Value{Kind: KInt, I: i} }

// StrVal wraps a string.
func StrVal(s string) Value { return Value{Kind: KStr, S: s} }

// TokenVal wraps a captured operand.
func TokenVal(o asm.Operand) Value { return Value{Kind: KToken, Tok: o} }

// MnemonicVal wraps a captured mnemonic as a symbol token so that
// comparisons against bare identifiers work uniformly.
func MnemonicVal(m string) Value {
	return Value{Kind: KToken, Tok: asm.Operand{
		Kind:   asm.OpSym,
		Text:   strings.ToLower(m),
		Source: m,
	}}
}

// Truthy implements the DSL's truthiness: Undefined, false and the empty
// string are falsy; every token and every integer (including zero, which
// is a legitimate operand) is truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KUndefined:
		return false
	case KBool:
		return v.B
	case KStr:
		return v.S != ""
	default:
		return true
	}
}

// Num returns the numeric interpretation of the value, if it has one.
func (v Value) Num() (int64, bool) {
	switch v.Kind {
	case KInt:
		return v.I, true
	case KToken:
		if v.Tok.Kind == asm.OpInt {
			return v.Tok.Val, true
		}
	case KStr:
		if n, _, ok := asm.ParseNumber(v.S); ok {
			return n, true
		}
	}
	return 0, false
}

// Canon returns the canonical string form used for comparisons: tokens by
// their normalized text, integers in decimal.
func (v Value) Canon() string {
	switch v.Kind {
	case KBool:
		if v.B {
			return "true"
		}
		return "false"
	case KInt:
		return strconv.FormatInt(v.I, 10)
	case KStr:
		return v.S
	case KToken:
		return v.Tok.Text
	}
	return ""
}

// Render returns the source-facing spelling used by the rewriter: tokens
// keep their original spelling and radix, everything else renders canonical.
func (v Value) Render() string {
	if v.Kind == KToken {
		return v.Tok.String()
	}
	return v.Canon()
}

// Equals implements the DSL's `==`: numeric values compare by value,
// booleans by identity, everything else by case-insensitive canonical
// text. Undefined never equals anything, including itself.
func Equals(a, b Value) bool {
	if a.Kind == KUndefined || b.Kind == KUndefined {
		return false
	}
	if an, ok := a.Num(); ok {
		if bn, ok := b.Num(); ok {
			return an == bn
		}
	}
	if a.Kind == KBool || b.Kind == KBool {
		return a.Kind == KBool && b.Kind == KBool && a.B == b.B
	}
	return strings.EqualFold(a.Canon(), b.Canon())
}

// Env is a binding environment: pattern variable name ($1, $2, ...) to
// captured or defined value.
type Env map[string]Value

// Clone copies the environment so a failed candidate leaks no bindings.
func (e Env) Clone() Env {
	c := make(Env, len(e))
	for k, v := range e {
		c[k] = v
	}
	return c
}
