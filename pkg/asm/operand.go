package asm

import "strings"

// OperandKind discriminates the tagged Operand value.
type OperandKind uint8

const (
	OpReg   OperandKind = iota // 8-bit register: a, b, c, d, e, h, l, i, r, ixh, ixl, iyh, iyl
	OpPair                     // register pair: af, bc, de, hl, sp, ix, iy
	OpCond                     // condition code: nz, z, nc, c, po, pe, p, m
	OpInt                      // integer literal
	OpSym                      // bare symbol (label reference, EQU name)
	OpIndir                    // parenthesized indirect expression
	OpRaw                      // anything else (address arithmetic, string args)
)

// Radix records how an integer literal was spelled so the rewriter can
// re-emit it in the same base.
type Radix uint8

const (
	RadixDec Radix = iota
	RadixHex
	RadixBin
	RadixOct
)

// Operand is one parsed instruction argument.
// Text is the canonical form (registers, pairs and conditions lower-cased,
// indirect inner expression whitespace-collapsed); Source is the spelling
// as it appeared in the input.
type Operand struct {
	Kind   OperandKind
	Text   string
	Source string
	Val    int64 // valid when Kind == OpInt
	Radix  Radix
}

var registers = map[string]bool{
	"a": true, "b": true, "c": true, "d": true, "e": true,
	"h": true, "l": true, "i": true, "r": true,
	"ixh": true, "ixl": true, "iyh": true, "iyl": true,
}

var pairs = map[string]bool{
	"af": true, "bc": true, "de": true, "hl": true,
	"sp": true, "ix": true, "iy": true, "af'": true,
}

var conditions = map[string]bool{
	"nz": true, "z": true, "nc": true, "c": true,
	"po": true, "pe": true, "p": true, "m": true,
}

// IsRegisterName reports whether s names an 8-bit register or a pair.
func IsRegisterName(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return registers[s] || pairs[s]
}

// IsConditionName reports whether s is a Z80 condition code.
func IsConditionName(s string) bool {
	return conditions[strings.ToLower(strings.TrimSpace(s))]
}

// Equal compares two operands for match purposes: integers by value,
// everything else by canonical text.
func (o Operand) Equal(p Operand) bool {
	if o.Kind == OpInt && p.Kind == OpInt {
		return o.Val == p.Val
	}
	if o.Kind != p.Kind {
		return false
	}
	return o.Text == p.Text
}

// IsRegister reports whether the operand is a register or register pair.
func (o Operand) IsRegister() bool { return o.Kind == OpReg || o.Kind == OpPair }

// IsIndirect reports whether the operand is a parenthesized memory reference.
func (o Operand) IsIndirect() bool { return o.Kind == OpIndir }

// String returns the operand's user-facing spelling.
func (o Operand) String() string {
	if o.Source != "" {
		return o.Source
	}
	return o.Text
}
