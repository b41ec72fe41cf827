package engine

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/zxbkit/peephole/pkg/asm"
	"github.com/zxbkit/peephole/pkg/rules"
	"github.com/zxbkit/peephole/pkg/rules/builtin"
)

func builtinRegistry(t *testing.T) *rules.Registry {
	t.Helper()
	reg := rules.NewRegistry()
	if err := reg.AddFS(builtin.FS); err != nil {
		t.Fatal(err)
	}
	return reg
}

func dirRegistry(t *testing.T, ruleFiles map[string]string) *rules.Registry {
	t.Helper()
	dir := t.TempDir()
	for name, src := range ruleFiles {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	reg := rules.NewRegistry()
	if err := reg.AddDir(dir); err != nil {
		t.Fatal(err)
	}
	return reg
}

func optimize(t *testing.T, reg *rules.Registry, cfg Config, in []string) ([]string, *Stats) {
	t.Helper()
	out, stats, err := New(reg, cfg).Optimize(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	return out, stats
}

// TestEQ16Lowering is the representative three-line rewrite: the 16-bit
// equality helper plus boolean test collapses to a direct subtraction
// with the branch condition inverted.
func TestEQ16Lowering(t *testing.T) {
	reg := builtinRegistry(t)
	in := []string{"call __EQ16", "or a", "jp nz, L"}
	want := []string{"or a", "sbc hl, de", "jp z, L"}
	out, stats := optimize(t, reg, DefaultConfig(), in)
	if !reflect.DeepEqual(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
	if stats.PerRule[18] != 1 {
		t.Errorf("rule 18 applied %d times, want 1", stats.PerRule[18])
	}
}

// TestCP1Lowering covers both condition directions of the sub-1 rule.
func TestCP1Lowering(t *testing.T) {
	reg := builtinRegistry(t)
	tests := []struct {
		in, want []string
	}{
		{[]string{"sub 1", "jp nc, L"}, []string{"or a", "jp z, L"}},
		{[]string{"sub 1", "jp c, L"}, []string{"or a", "jp nz, L"}},
	}
	for _, tc := range tests {
		out, _ := optimize(t, reg, DefaultConfig(), tc.in)
		if !reflect.DeepEqual(out, tc.want) {
			t.Errorf("optimize(%v) = %v, want %v", tc.in, out, tc.want)
		}
	}
}

// TestPredicateRejection: xor fails the or/and predicate, so rule 18
// must not fire and the unit passes through untouched.
func TestPredicateRejection(t *testing.T) {
	reg := builtinRegistry(t)
	in := []string{"call __EQ16", "xor a", "jp nz, L"}
	out, stats := optimize(t, reg, DefaultConfig(), in)
	if !reflect.DeepEqual(out, in) {
		t.Errorf("got %v, want input unchanged", out)
	}
	if stats.Rewrites != 0 {
		t.Errorf("rewrites = %d, want 0", stats.Rewrites)
	}
}

// TestLabelBarrier: a label inside the candidate window splits it.
func TestLabelBarrier(t *testing.T) {
	reg := builtinRegistry(t)
	in := []string{"sub 1", "L1:", "jp nc, L2"}
	out, stats := optimize(t, reg, DefaultConfig(), in)
	if !reflect.DeepEqual(out, in) {
		t.Errorf("got %v, want input unchanged", out)
	}
	if stats.Rewrites != 0 {
		t.Errorf("rewrites = %d, want 0", stats.Rewrites)
	}
}

// TestFixedPointChaining: rule 19's output feeds rule 18 through the
// back-scan, and the result is a fixed point.
func TestFixedPointChaining(t *testing.T) {
	reg := builtinRegistry(t)
	in := []string{"call __EQ16", "sub 1", "jp nc, L"}
	want := []string{"or a", "sbc hl, de", "jp nz, L"}
	out, stats := optimize(t, reg, DefaultConfig(), in)
	if !reflect.DeepEqual(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
	if stats.Passes > 2 {
		t.Errorf("converged in %d passes, want <= 2", stats.Passes)
	}
	again, _ := optimize(t, reg, DefaultConfig(), out)
	if !reflect.DeepEqual(again, out) {
		t.Errorf("not a fixed point: %v -> %v", out, again)
	}
}

// TestIdempotence: optimize(optimize(S)) == optimize(S) over a corpus of
// shapes, including ones no rule touches.
func TestIdempotence(t *testing.T) {
	reg := builtinRegistry(t)
	corpus := [][]string{
		{"call __EQ16", "or a", "jp nz, L"},
		{"call __EQ16", "sub 1", "jp nc, L"},
		{"ld a, a", "ld b, b"},
		{"push hl", "pop hl", "push hl", "pop hl"},
		{"ld a, 1", "ld a, 2", "ld a, 3"},
		{"ret"},
		{"L1:", "jr L1"},
		{},
	}
	for _, in := range corpus {
		once, _ := optimize(t, reg, DefaultConfig(), in)
		twice, _ := optimize(t, reg, DefaultConfig(), once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("optimize not idempotent on %v: %v -> %v", in, once, twice)
		}
	}
}

// TestDeterminism: identical runs produce byte-identical output.
func TestDeterminism(t *testing.T) {
	reg := builtinRegistry(t)
	in := []string{
		"call __EQ16", "sub 1", "jp nc, L",
		"ld a, b", "ld b, a",
		"push de", "pop de",
	}
	a, _ := optimize(t, reg, DefaultConfig(), in)
	b, _ := optimize(t, reg, DefaultConfig(), in)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("two runs differ: %v vs %v", a, b)
	}
}

// TestDirectivePreservation: the multiset of directives survives
// rewriting, including directives inside a matched span.
func TestDirectivePreservation(t *testing.T) {
	reg := builtinRegistry(t)
	in := []string{
		" org 32768",
		"sub 1",
		"#line 5",
		"jp nc, L",
		" defb 1, 2",
	}
	out, stats := optimize(t, reg, DefaultConfig(), in)
	if stats.Rewrites == 0 {
		t.Fatal("expected the sub-1 rule to fire across the directive")
	}
	count := func(lines []string) map[string]int {
		m := make(map[string]int)
		for _, l := range lines {
			if p := asm.ParseLine(l); p.Kind == asm.LineDirective {
				m[l]++
			}
		}
		return m
	}
	if !reflect.DeepEqual(count(in), count(out)) {
		t.Errorf("directive multiset changed: %v vs %v", count(in), count(out))
	}
}

// TestRuleIsolation: disabling a flag is equivalent to the rule never
// having existed; re-enabling reproduces the original output.
func TestRuleIsolation(t *testing.T) {
	reg := builtinRegistry(t)
	in := []string{"sub 1", "jp nc, L"}

	cfg := DefaultConfig()
	cfg.DisabledFlags = []int{19}
	out, _ := optimize(t, reg, cfg, in)
	if !reflect.DeepEqual(out, in) {
		t.Errorf("with 19 disabled got %v, want input unchanged", out)
	}

	enabled, _ := optimize(t, reg, DefaultConfig(), in)
	reenabled, _ := optimize(t, reg, DefaultConfig(), enabled)
	if !reflect.DeepEqual(enabled, reenabled) {
		t.Errorf("rule 19 output is not stable: %v -> %v", enabled, reenabled)
	}
}

// TestThrashingGuard: two mutually undoing rules must trip the rewrite
// cap, warn, and still return valid output.
func TestThrashingGuard(t *testing.T) {
	reg := dirRegistry(t, map[string]string{
		"a.opt": "OLEVEL: 1\nOFLAG: 100\nREPLACE {{\n ld a, 1\n}}\nWITH {{\n ld a, 2\n}}\n",
		"b.opt": "OLEVEL: 1\nOFLAG: 101\nREPLACE {{\n ld a, 2\n}}\nWITH {{\n ld a, 1\n}}\n",
	})
	cfg := DefaultConfig()
	cfg.MaxRewrites = 10
	out, stats := optimize(t, reg, cfg, []string{"ld a, 1"})
	if !stats.Thrashed {
		t.Fatal("expected thrashing to be detected")
	}
	if stats.Rewrites != 10 {
		t.Errorf("rewrites = %d, want exactly the cap", stats.Rewrites)
	}
	if len(out) != 1 {
		t.Errorf("output = %v, want a single ld line", out)
	}
	if flag, count := stats.MostApplied(); flag != 100 || count == 0 {
		t.Errorf("MostApplied = %d/%d, want flag 100 (tie breaks low)", flag, count)
	}
}

// TestPassCap: the pass count stays within the bound and the engine still
// returns a valid unit when it gives up. The ping-pong pair never lets the
// first pass finish, so here the rewrite cap is what ends the run.
func TestPassCap(t *testing.T) {
	reg := dirRegistry(t, map[string]string{
		"a.opt": "OLEVEL: 1\nOFLAG: 100\nREPLACE {{\n ld a, 1\n}}\nWITH {{\n ld a, 2\n}}\n",
		"b.opt": "OLEVEL: 1\nOFLAG: 101\nREPLACE {{\n ld a, 2\n}}\nWITH {{\n ld a, 1\n}}\n",
	})
	cfg := DefaultConfig()
	cfg.MaxPasses = 3
	cfg.MaxRewrites = 100
	out, stats := optimize(t, reg, cfg, []string{"ld a, 1"})
	if stats.Passes > 3 {
		t.Errorf("passes = %d, want <= 3", stats.Passes)
	}
	if !stats.Thrashed {
		t.Errorf("a ping-pong rule pair must register as thrashing")
	}
	if len(out) != 1 {
		t.Errorf("output = %v, want one line", out)
	}
}

// TestRadixPreservation: a rebound hex literal keeps its spelling.
func TestRadixPreservation(t *testing.T) {
	reg := dirRegistry(t, map[string]string{
		"a.opt": "OLEVEL: 1\nOFLAG: 100\nREPLACE {{\n ld a, $1\n}}\nIF {{ IS_INT($1) }}\nWITH {{\n ld b, $1\n}}\n",
	})
	out, _ := optimize(t, reg, DefaultConfig(), []string{"ld a, 0x1F"})
	if len(out) != 1 || out[0] != "ld b, 0x1F" {
		t.Errorf("got %v, want hex spelling preserved", out)
	}
}

// TestMalformedRewrite: a template producing garbage is a rule bug and
// surfaces as an error naming the rule.
func TestMalformedRewrite(t *testing.T) {
	reg := dirRegistry(t, map[string]string{
		"a.opt": "OLEVEL: 1\nOFLAG: 100\nREPLACE {{\n ld a, 1\n}}\nWITH {{\n ???\n}}\n",
	})
	_, _, err := New(reg, DefaultConfig()).Optimize(context.Background(), []string{"ld a, 1"})
	if err == nil {
		t.Fatal("expected a malformed-rewrite error")
	}
	if _, ok := err.(*MalformedRewriteError); !ok {
		t.Fatalf("got %T: %v", err, err)
	}
}

// TestCancellation: a cancelled context stops between passes and leaves
// valid output.
func TestCancellation(t *testing.T) {
	reg := builtinRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := []string{"sub 1", "jp nc, L"}
	out, _, err := New(reg, DefaultConfig()).Optimize(ctx, in)
	if err == nil {
		t.Fatal("expected context error")
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("cancelled run altered the unit: %v", out)
	}
}

// TestTraceRecords: tracing captures flag, position, and both sides of
// each rewrite.
func TestTraceRecords(t *testing.T) {
	reg := builtinRegistry(t)
	cfg := DefaultConfig()
	cfg.Trace = true
	_, stats := optimize(t, reg, cfg, []string{"call __EQ16", "or a", "jp nz, L"})
	if len(stats.Trace) != 1 {
		t.Fatalf("trace has %d records, want 1", len(stats.Trace))
	}
	rec := stats.Trace[0]
	if rec.RuleFlag != 18 || rec.Position != 0 {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.Before) != 3 || len(rec.After) != 3 {
		t.Errorf("before/after = %d/%d lines, want 3/3", len(rec.Before), len(rec.After))
	}
}

// TestRedundantLoadRules drives the smaller builtin rules together.
func TestRedundantLoadRules(t *testing.T) {
	reg := builtinRegistry(t)
	tests := []struct {
		in, want []string
	}{
		{[]string{"ld a, a"}, []string{}},
		{[]string{"ex de, hl", "ex de, hl"}, []string{}},
		{[]string{"push bc", "pop bc"}, []string{}},
		{[]string{"ld a, b", "ld b, a"}, []string{"ld a, b"}},
		{[]string{"ld a, 1", "ld a, 2"}, []string{"ld a, 2"}},
		{[]string{"inc hl", "dec hl"}, []string{}},
		{[]string{"inc a", "dec a"}, []string{"inc a", "dec a"}}, // 8-bit forms touch flags
	}
	for _, tc := range tests {
		out, _ := optimize(t, reg, DefaultConfig(), tc.in)
		if !reflect.DeepEqual(out, tc.want) {
			t.Errorf("optimize(%v) = %v, want %v", tc.in, out, tc.want)
		}
	}
}

// TestJumpToNext: a jump whose target label is the very next line is
// removed; anything between the jump and the label (other than blanks
// and comments) keeps it.
func TestJumpToNext(t *testing.T) {
	reg := builtinRegistry(t)
	tests := []struct {
		in, want []string
	}{
		{[]string{"jp L1", "L1:", "ret"}, []string{"L1:", "ret"}},
		{[]string{"jr L1", "L1:", "ret"}, []string{"L1:", "ret"}},
		{[]string{"jp L1", "; note", "L1:", "ret"}, []string{"; note", "L1:", "ret"}},
		{[]string{"jp L2", "L1:", "ret"}, []string{"jp L2", "L1:", "ret"}},      // wrong label
		{[]string{"jp L1", " defb 0", "L1:"}, []string{"jp L1", " defb 0", "L1:"}}, // data in between
		{[]string{"jp nz, L1", "L1:", "ret"}, []string{"jp nz, L1", "L1:", "ret"}}, // conditional form untouched
	}
	for _, tc := range tests {
		out, _ := optimize(t, reg, DefaultConfig(), tc.in)
		if !reflect.DeepEqual(out, tc.want) {
			t.Errorf("optimize(%v) = %v, want %v", tc.in, out, tc.want)
		}
	}
}

// TestPoolDeterminism: the concurrent pool produces the same bytes as
// sequential drivers, in input order.
func TestPoolDeterminism(t *testing.T) {
	reg := builtinRegistry(t)
	var units []Unit
	for i := 0; i < 16; i++ {
		units = append(units, Unit{
			Name:  "u",
			Lines: []string{"call __EQ16", "sub 1", "jp nc, L"},
		})
	}
	pool := NewPool(reg, DefaultConfig(), 4)
	results := pool.Run(context.Background(), units)
	want, _ := optimize(t, reg, DefaultConfig(), units[0].Lines)
	for i, res := range results {
		if res.Err != nil {
			t.Fatalf("unit %d: %v", i, res.Err)
		}
		if !reflect.DeepEqual(res.Lines, want) {
			t.Errorf("unit %d = %v, want %v", i, res.Lines, want)
		}
	}
	if u, _ := pool.Stats(); u != 16 {
		t.Errorf("pool processed %d units, want 16", u)
	}
}

// TestXorAFlagGuard: the ld a,0 strength reduction must hold back when
// flags are live.
func TestXorAFlagGuard(t *testing.T) {
	reg := builtinRegistry(t)
	cfg := DefaultConfig()
	cfg.Level = 2 // the xor rule is OLEVEL 2

	safe := []string{"ld a, 0", "ld (hl), a", "sub 1", "jp nc, L"}
	out, _ := optimize(t, reg, cfg, safe)
	if out[0] != "xor a" {
		t.Errorf("flags are dead here (sub redefines them); got %v", out)
	}

	live := []string{"ld a, 0", "jp z, L"}
	out, _ = optimize(t, reg, cfg, live)
	if out[0] != "ld a, 0" {
		t.Errorf("flags are observed by jp z; got %v", out)
	}
}
