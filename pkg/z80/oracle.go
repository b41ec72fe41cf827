// Package z80 answers semantic questions about single Z80 instructions:
// which flags an opcode defines, which registers it reads and writes, and
// how it affects control flow. It is consulted by the rule evaluator and
// never mutates anything.
package z80

import (
	"strings"

	"github.com/zxbkit/peephole/pkg/asm"
)

// ctrl classifies an instruction's effect on control flow.
type ctrl uint8

const (
	ctrlNone ctrl = iota
	ctrlJump      // jp/jr/djnz
	ctrlCall      // call/rst
	ctrlRet       // ret/reti/retn
)

// argMode describes how an instruction treats its plain-register operands.
type argMode uint8

const (
	argNone    argMode = iota
	argDst             // first operand written, rest read (ld)
	argDstSrc          // first operand read and written, rest read (add, inc)
	argLastRW          // last operand read and written, rest read (set, res)
	argAllSrc          // every operand read (cp, bit, push, out)
	argAllBoth         // every operand read and written (ex)
)

// opEntry is the static metadata for one mnemonic.
type opEntry struct {
	defines   FlagSet // flags written
	readsF    bool    // observes flag state (beyond a condition operand)
	mode      argMode
	readsReg  []string // implicit register reads
	writesReg []string // implicit register writes
	flow      ctrl
}

// ops maps lower-case mnemonics to their metadata. Built once in init.
var ops map[string]opEntry

func init() {
	arith := AllFlags // S Z H P/V N C
	incdec := FlagSet(FlagS | FlagZ | FlagH | FlagP | FlagN)

	ops = map[string]opEntry{
		// Loads and moves: no flags. LD A, I / LD A, R do set flags but the
		// compiler never emits them, so they are folded in conservatively
		// via readsF=false, defines=0.
		"ld": {mode: argDst},
		"ex": {mode: argAllBoth},
		"exx": {
			readsReg:  []string{"bc", "de", "hl"},
			writesReg: []string{"bc", "de", "hl"},
		},
		"push": {mode: argAllSrc, readsReg: []string{"sp"}, writesReg: []string{"sp"}},
		"pop":  {mode: argDst, readsReg: []string{"sp"}, writesReg: []string{"sp"}},

		// Block transfers.
		"ldir": {
			defines:   FlagSet(FlagH | FlagP | FlagN),
			readsReg:  []string{"bc", "de", "hl"},
			writesReg: []string{"bc", "de", "hl"},
		},
		"lddr": {
			defines:   FlagSet(FlagH | FlagP | FlagN),
			readsReg:  []string{"bc", "de", "hl"},
			writesReg: []string{"bc", "de", "hl"},
		},

		// 8-bit ALU. Single-operand forms (SUB n, AND n, ...) implicitly
		// read and write A.
		"add": {defines: arith, mode: argDstSrc},
		"adc": {defines: arith, readsF: true, mode: argDstSrc},
		"sub": {defines: arith, mode: argAllSrc, readsReg: []string{"a"}, writesReg: []string{"a"}},
		"sbc": {defines: arith, readsF: true, mode: argDstSrc},
		"and": {defines: arith, mode: argAllSrc, readsReg: []string{"a"}, writesReg: []string{"a"}},
		"or":  {defines: arith, mode: argAllSrc, readsReg: []string{"a"}, writesReg: []string{"a"}},
		"xor": {defines: arith, mode: argAllSrc, readsReg: []string{"a"}, writesReg: []string{"a"}},
		"cp":  {defines: arith, mode: argAllSrc, readsReg: []string{"a"}},
		"neg": {defines: arith, readsReg: []string{"a"}, writesReg: []string{"a"}},

		// INC/DEC: flag behavior depends on operand width, fixed up in
		// DefinesFlags.
		"inc": {defines: incdec, mode: argDstSrc},
		"dec": {defines: incdec, mode: argDstSrc},

		// Accumulator rotates define only H, N, C.
		"rlca": {defines: FlagSet(FlagH | FlagN | FlagC), readsReg: []string{"a"}, writesReg: []string{"a"}},
		"rrca": {defines: FlagSet(FlagH | FlagN | FlagC), readsReg: []string{"a"}, writesReg: []string{"a"}},
		"rla":  {defines: FlagSet(FlagH | FlagN | FlagC), readsF: true, readsReg: []string{"a"}, writesReg: []string{"a"}},
		"rra":  {defines: FlagSet(FlagH | FlagN | FlagC), readsF: true, readsReg: []string{"a"}, writesReg: []string{"a"}},

		// CB-prefix shifts and rotates.
		"rlc": {defines: arith, mode: argDstSrc},
		"rrc": {defines: arith, mode: argDstSrc},
		"rl":  {defines: arith, readsF: true, mode: argDstSrc},
		"rr":  {defines: arith, readsF: true, mode: argDstSrc},
		"sla": {defines: arith, mode: argDstSrc},
		"sra": {defines: arith, mode: argDstSrc},
		"srl": {defines: arith, mode: argDstSrc},
		"sll": {defines: arith, mode: argDstSrc},

		// Bit operations. BIT defines everything except carry.
		"bit": {defines: FlagSet(FlagS | FlagZ | FlagH | FlagP | FlagN), mode: argAllSrc},
		"set": {mode: argLastRW},
		"res": {mode: argLastRW},

		"daa": {defines: FlagSet(FlagS | FlagZ | FlagH | FlagP | FlagC), readsF: true, readsReg: []string{"a"}, writesReg: []string{"a"}},
		"cpl": {defines: FlagSet(FlagH | FlagN), readsReg: []string{"a"}, writesReg: []string{"a"}},
		"scf": {defines: FlagSet(FlagH | FlagN | FlagC)},
		"ccf": {defines: FlagSet(FlagH | FlagN | FlagC), readsF: true},

		// Control flow.
		"jp":   {mode: argAllSrc, flow: ctrlJump},
		"jr":   {mode: argAllSrc, flow: ctrlJump},
		"djnz": {mode: argAllSrc, flow: ctrlJump, readsReg: []string{"b"}, writesReg: []string{"b"}},
		"call": {mode: argAllSrc, flow: ctrlCall, readsReg: []string{"sp"}, writesReg: []string{"sp"}},
		"rst":  {mode: argAllSrc, flow: ctrlCall, readsReg: []string{"sp"}, writesReg: []string{"sp"}},
		"ret":  {flow: ctrlRet, readsReg: []string{"sp"}, writesReg: []string{"sp"}},
		"reti": {flow: ctrlRet, readsReg: []string{"sp"}, writesReg: []string{"sp"}},
		"retn": {flow: ctrlRet, readsReg: []string{"sp"}, writesReg: []string{"sp"}},

		// I/O. IN r, (C) defines flags; IN A, (n) does not, fixed up in
		// DefinesFlags.
		"in":  {defines: FlagSet(FlagS | FlagZ | FlagH | FlagP | FlagN), mode: argDst},
		"out": {mode: argAllSrc},

		"nop":  {},
		"halt": {},
		"di":   {},
		"ei":   {},
		"im":   {mode: argAllSrc},
	}
}

func entry(l asm.Line) (opEntry, bool) {
	e, ok := ops[l.Opcode()]
	return e, ok
}

// Opcode returns the normalized mnemonic of an instruction line.
func Opcode(l asm.Line) string { return l.Opcode() }

// Known reports whether the oracle has metadata for the instruction.
func Known(l asm.Line) bool {
	_, ok := entry(l)
	return ok
}

// DefinesFlags returns the set of flags the instruction writes.
func DefinesFlags(l asm.Line) FlagSet {
	e, ok := entry(l)
	if !ok {
		return 0
	}
	op := l.Opcode()
	if op == "inc" || op == "dec" {
		// 16-bit INC/DEC touch no flags.
		if len(l.Operands) == 1 && l.Operands[0].Kind == asm.OpPair {
			return 0
		}
		return e.defines
	}
	if op == "add" && len(l.Operands) == 2 && l.Operands[0].Kind == asm.OpPair {
		// ADD HL, rr: sets H, N, C; preserves S, Z, P/V.
		return FlagSet(FlagH | FlagN | FlagC)
	}
	if op == "in" && (len(l.Operands) == 0 || l.Operands[len(l.Operands)-1].Text != "(c)") {
		// IN A, (n) leaves the flags alone.
		return 0
	}
	return e.defines
}

// UsesFlags reports whether the instruction observes flag state, either
// through a condition operand or implicitly (ADC, SBC, RLA, DAA, CCF).
func UsesFlags(l asm.Line) bool {
	e, ok := entry(l)
	if !ok {
		return true // unknown instruction: assume the worst
	}
	if e.readsF {
		return true
	}
	_, cond := ConditionOf(l)
	return cond
}

// IsUnconditionalJump reports jp/jr without a condition operand.
func IsUnconditionalJump(l asm.Line) bool {
	e, ok := entry(l)
	if !ok || e.flow != ctrlJump {
		return false
	}
	if l.Opcode() == "djnz" {
		return false
	}
	_, cond := ConditionOf(l)
	return !cond
}

// IsConditionalJump reports jp cc / jr cc / djnz.
func IsConditionalJump(l asm.Line) bool {
	e, ok := entry(l)
	if !ok || e.flow != ctrlJump {
		return false
	}
	if l.Opcode() == "djnz" {
		return true
	}
	_, cond := ConditionOf(l)
	return cond
}

// IsCall reports call/rst, conditional or not.
func IsCall(l asm.Line) bool {
	e, ok := entry(l)
	return ok && e.flow == ctrlCall
}

// IsReturn reports ret/reti/retn, conditional or not.
func IsReturn(l asm.Line) bool {
	e, ok := entry(l)
	return ok && e.flow == ctrlRet
}

// EndsBlock reports whether execution cannot fall through past the
// instruction within the current block for liveness purposes.
func EndsBlock(l asm.Line) bool {
	if IsUnconditionalJump(l) {
		return true
	}
	if IsReturn(l) {
		_, cond := ConditionOf(l)
		return !cond
	}
	return false
}

// ConditionOf returns the condition code of a conditional branch.
func ConditionOf(l asm.Line) (string, bool) {
	for _, o := range l.Operands {
		if o.Kind == asm.OpCond {
			return o.Text, true
		}
	}
	return "", false
}

// NegateCondition maps a condition to its complement.
func NegateCondition(cc string) (string, bool) {
	switch strings.ToLower(cc) {
	case "z":
		return "nz", true
	case "nz":
		return "z", true
	case "c":
		return "nc", true
	case "nc":
		return "c", true
	case "po":
		return "pe", true
	case "pe":
		return "po", true
	case "p":
		return "m", true
	case "m":
		return "p", true
	}
	return "", false
}

// expand maps a register or pair name to the set of overlapping names.
func expand(r string) []string {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "af":
		return []string{"af", "a", "f"}
	case "a":
		return []string{"a", "af"}
	case "f":
		return []string{"f", "af"}
	case "bc":
		return []string{"bc", "b", "c"}
	case "b":
		return []string{"b", "bc"}
	case "c":
		return []string{"c", "bc"}
	case "de":
		return []string{"de", "d", "e"}
	case "d":
		return []string{"d", "de"}
	case "e":
		return []string{"e", "de"}
	case "hl":
		return []string{"hl", "h", "l"}
	case "h":
		return []string{"h", "hl"}
	case "l":
		return []string{"l", "hl"}
	case "ix":
		return []string{"ix", "ixh", "ixl"}
	case "ixh":
		return []string{"ixh", "ix"}
	case "ixl":
		return []string{"ixl", "ix"}
	case "iy":
		return []string{"iy", "iyh", "iyl"}
	case "iyh":
		return []string{"iyh", "iy"}
	case "iyl":
		return []string{"iyl", "iy"}
	default:
		return []string{strings.ToLower(strings.TrimSpace(r))}
	}
}

func overlaps(a, b string) bool {
	for _, x := range expand(a) {
		if x == strings.ToLower(b) {
			return true
		}
	}
	return false
}

// operandRegisters returns the register names an operand mentions. An
// indirect operand contributes its address register as a read.
func operandRegisters(o asm.Operand) []string {
	switch o.Kind {
	case asm.OpReg, asm.OpPair:
		return []string{o.Text}
	case asm.OpIndir:
		inner := strings.Trim(o.Text, "() ")
		if asm.IsRegisterName(inner) {
			return []string{strings.ToLower(inner)}
		}
		// (ix+d) style displacement
		for _, p := range []string{"ix", "iy", "hl", "bc", "de", "sp"} {
			if strings.HasPrefix(strings.ToLower(inner), p) {
				return []string{p}
			}
		}
	}
	return nil
}

// UsesRegister reports whether the instruction reads register r.
func UsesRegister(l asm.Line, r string) bool {
	e, ok := entry(l)
	if !ok {
		return true
	}
	for _, ir := range e.readsReg {
		if overlaps(ir, r) {
			return true
		}
	}
	for i, o := range l.Operands {
		// Address registers inside indirect operands are always read.
		if o.Kind == asm.OpIndir {
			for _, n := range operandRegisters(o) {
				if overlaps(n, r) {
					return true
				}
			}
			continue
		}
		read := false
		switch e.mode {
		case argDst:
			read = i > 0
		case argDstSrc, argLastRW, argAllBoth, argAllSrc:
			read = true
		}
		if read {
			for _, n := range operandRegisters(o) {
				if overlaps(n, r) {
					return true
				}
			}
		}
	}
	return false
}

// ChangesRegister reports whether the instruction writes register r.
func ChangesRegister(l asm.Line, r string) bool {
	e, ok := entry(l)
	if !ok {
		return true
	}
	for _, ir := range e.writesReg {
		if overlaps(ir, r) {
			return true
		}
	}
	for i, o := range l.Operands {
		if o.Kind == asm.OpIndir {
			continue // a store writes memory, not the address register
		}
		written := false
		switch e.mode {
		case argDst, argDstSrc:
			written = i == 0
		case argLastRW:
			written = i == len(l.Operands)-1
		case argAllBoth:
			written = true
		}
		if written {
			for _, n := range operandRegisters(o) {
				if overlaps(n, r) {
					return true
				}
			}
		}
	}
	return false
}
