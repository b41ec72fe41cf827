package z80

import (
	"testing"

	"github.com/zxbkit/peephole/pkg/asm"
)

func inst(t *testing.T, src string) asm.Line {
	t.Helper()
	l := asm.ParseLine(" " + src)
	if l.Kind != asm.LineInst {
		t.Fatalf("%q did not parse as an instruction", src)
	}
	return l
}

// TestDefinesFlags pins the flag-definition table against the hardware
// behavior the rules rely on.
func TestDefinesFlags(t *testing.T) {
	tests := []struct {
		src  string
		want FlagSet
	}{
		{"sub 1", AllFlags},
		{"or a", AllFlags},
		{"and 0x07", AllFlags},
		{"xor a", AllFlags},
		{"cp b", AllFlags},
		{"ld a, 0", 0},
		{"ld (hl), a", 0},
		{"inc a", FlagSet(FlagS | FlagZ | FlagH | FlagP | FlagN)}, // everything but carry
		{"inc bc", 0},  // 16-bit inc/dec touch no flags
		{"dec hl", 0},
		{"add a, b", AllFlags},
		{"add hl, de", FlagSet(FlagH | FlagN | FlagC)},
		{"adc hl, de", AllFlags},
		{"sbc hl, de", AllFlags},
		{"bit 7, a", FlagSet(FlagS | FlagZ | FlagH | FlagP | FlagN)},
		{"set 7, a", 0},
		{"rlca", FlagSet(FlagH | FlagN | FlagC)},
		{"srl a", AllFlags},
		{"push hl", 0},
		{"jp L1", 0},
	}
	for _, tc := range tests {
		if got := DefinesFlags(inst(t, tc.src)); got != tc.want {
			t.Errorf("DefinesFlags(%q) = %v, want %v", tc.src, got, tc.want)
		}
	}
}

// TestUsesFlags covers implicit flag readers and condition operands.
func TestUsesFlags(t *testing.T) {
	uses := []string{"adc a, b", "sbc hl, de", "rla", "rr c", "ccf", "daa", "jp z, L1", "ret nc", "call pe, X"}
	for _, src := range uses {
		if !UsesFlags(inst(t, src)) {
			t.Errorf("UsesFlags(%q) = false, want true", src)
		}
	}
	notUses := []string{"ld a, b", "sub 1", "jp L1", "ret", "or a", "rlc b"}
	for _, src := range notUses {
		if UsesFlags(inst(t, src)) {
			t.Errorf("UsesFlags(%q) = true, want false", src)
		}
	}
}

// TestRegisterUseChange drives the read/write classification, including
// pair overlap and indirect address registers.
func TestRegisterUseChange(t *testing.T) {
	tests := []struct {
		src     string
		reg     string
		uses    bool
		changes bool
	}{
		{"ld a, b", "b", true, false},
		{"ld a, b", "a", false, true},
		{"ld a, (hl)", "hl", true, false},
		{"ld a, (hl)", "h", true, false}, // pair overlap
		{"ld (hl), a", "hl", true, false},
		{"ld (hl), a", "a", true, false},
		{"add a, c", "a", true, true},
		{"sub 5", "a", true, true},
		{"cp 5", "a", true, false}, // cp discards the difference
		{"inc hl", "l", true, true},
		{"pop bc", "bc", false, true},
		{"push bc", "bc", true, false},
		{"ex de, hl", "de", true, true},
		{"ex de, hl", "hl", true, true},
		{"djnz L1", "b", true, true},
		{"set 3, d", "d", true, true},
		{"bit 3, d", "d", true, false},
		{"ldir", "bc", true, true},
		{"xor a", "b", false, false},
	}
	for _, tc := range tests {
		l := inst(t, tc.src)
		if got := UsesRegister(l, tc.reg); got != tc.uses {
			t.Errorf("UsesRegister(%q, %q) = %v, want %v", tc.src, tc.reg, got, tc.uses)
		}
		if got := ChangesRegister(l, tc.reg); got != tc.changes {
			t.Errorf("ChangesRegister(%q, %q) = %v, want %v", tc.src, tc.reg, got, tc.changes)
		}
	}
}

// TestControlFlow pins jump/call/return classification.
func TestControlFlow(t *testing.T) {
	tests := []struct {
		src                      string
		uncond, cond, call, ret bool
	}{
		{"jp L1", true, false, false, false},
		{"jp z, L1", false, true, false, false},
		{"jp (hl)", true, false, false, false},
		{"jr L1", true, false, false, false},
		{"jr nc, L1", false, true, false, false},
		{"djnz L1", false, true, false, false},
		{"call X", false, false, true, false},
		{"call z, X", false, false, true, false},
		{"rst 16", false, false, true, false},
		{"ret", false, false, false, true},
		{"ret nz", false, false, false, true},
		{"ld a, b", false, false, false, false},
	}
	for _, tc := range tests {
		l := inst(t, tc.src)
		if got := IsUnconditionalJump(l); got != tc.uncond {
			t.Errorf("IsUnconditionalJump(%q) = %v", tc.src, got)
		}
		if got := IsConditionalJump(l); got != tc.cond {
			t.Errorf("IsConditionalJump(%q) = %v", tc.src, got)
		}
		if got := IsCall(l); got != tc.call {
			t.Errorf("IsCall(%q) = %v", tc.src, got)
		}
		if got := IsReturn(l); got != tc.ret {
			t.Errorf("IsReturn(%q) = %v", tc.src, got)
		}
	}
}

// TestConditionOf checks extraction and negation of condition codes.
func TestConditionOf(t *testing.T) {
	if cc, ok := ConditionOf(inst(t, "jp pe, L1")); !ok || cc != "pe" {
		t.Errorf("ConditionOf(jp pe) = %q, %v", cc, ok)
	}
	if _, ok := ConditionOf(inst(t, "jp L1")); ok {
		t.Errorf("jp L1 should have no condition")
	}
	pairs := map[string]string{"z": "nz", "nz": "z", "c": "nc", "nc": "c", "po": "pe", "pe": "po", "p": "m", "m": "p"}
	for in, want := range pairs {
		got, ok := NegateCondition(in)
		if !ok || got != want {
			t.Errorf("NegateCondition(%q) = %q, want %q", in, got, want)
		}
	}
}
