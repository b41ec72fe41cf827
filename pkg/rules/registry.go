package rules

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DuplicateFlagError reports two rule files claiming the same OFLAG.
type DuplicateFlagError struct {
	Flag           int
	PathA, PathB string
}

func (e *DuplicateFlagError) Error() string {
	return fmt.Sprintf("duplicate OFLAG %d: declared by both %s and %s", e.Flag, e.PathA, e.PathB)
}

// Registry holds every parsed rule. It is frozen after loading and safe
// for concurrent readers.
type Registry struct {
	rules  []*Rule
	byFlag map[int]*Rule
	maxLen int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byFlag: make(map[int]*Rule)}
}

// AddFS parses every *.opt file in fsys (non-recursive) into the registry.
func (rg *Registry) AddFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".opt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		rule, err := ParseRuleText(name, string(data))
		if err != nil {
			return err
		}
		if err := rg.add(rule); err != nil {
			return err
		}
	}
	return nil
}

// AddDir parses every *.opt file in a directory on disk.
func (rg *Registry) AddDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".opt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(abs, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rule, err := ParseRuleText(path, string(data))
		if err != nil {
			return err
		}
		if err := rg.add(rule); err != nil {
			return err
		}
	}
	return nil
}

func (rg *Registry) add(r *Rule) error {
	if prev, ok := rg.byFlag[r.Flag]; ok {
		return &DuplicateFlagError{Flag: r.Flag, PathA: prev.File, PathB: r.File}
	}
	rg.byFlag[r.Flag] = r
	rg.rules = append(rg.rules, r)
	if n := len(r.Pattern); n > rg.maxLen {
		rg.maxLen = n
	}
	sort.Slice(rg.rules, func(i, j int) bool { return rg.rules[i].Flag < rg.rules[j].Flag })
	return nil
}

// Rules returns all loaded rules sorted by flag.
func (rg *Registry) Rules() []*Rule { return rg.rules }

// ByFlag returns the rule with the given flag, if loaded.
func (rg *Registry) ByFlag(flag int) (*Rule, bool) {
	r, ok := rg.byFlag[flag]
	return r, ok
}

// MaxPatternLen is the length of the longest loaded pattern.
func (rg *Registry) MaxPatternLen() int { return rg.maxLen }

// RuleSet is the driver-facing view: rules filtered by optimization level
// and disabled flags, indexed by first-pattern-line mnemonic. Candidate
// order is descending OLEVEL then ascending OFLAG, so selection is
// deterministic.
type RuleSet struct {
	byMnemonic map[string][]*Rule
	wildcard   []*Rule // rules whose first mnemonic is a variable
	maxLen     int
	count      int
}

// Enabled builds the active rule set for a session. A rule is active iff
// its OLEVEL is at most level and its flag is not disabled.
func (rg *Registry) Enabled(level int, disabled map[int]bool) *RuleSet {
	rs := &RuleSet{byMnemonic: make(map[string][]*Rule)}
	var active []*Rule
	for _, r := range rg.rules {
		if r.Level > level || disabled[r.Flag] {
			continue
		}
		active = append(active, r)
		if n := len(r.Pattern); n > rs.maxLen {
			rs.maxLen = n
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Level != active[j].Level {
			return active[i].Level > active[j].Level
		}
		return active[i].Flag < active[j].Flag
	})
	for _, r := range active {
		if m := r.FirstMnemonic(); m == "" {
			rs.wildcard = append(rs.wildcard, r)
		} else {
			rs.byMnemonic[m] = append(rs.byMnemonic[m], r)
		}
	}
	rs.count = len(active)
	return rs
}

// Candidates returns the active rules whose first pattern line can match
// the given opcode, in application order.
func (rs *RuleSet) Candidates(opcode string) []*Rule {
	keyed := rs.byMnemonic[strings.ToLower(opcode)]
	if len(rs.wildcard) == 0 {
		return keyed
	}
	merged := make([]*Rule, 0, len(keyed)+len(rs.wildcard))
	merged = append(merged, keyed...)
	merged = append(merged, rs.wildcard...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Level != merged[j].Level {
			return merged[i].Level > merged[j].Level
		}
		return merged[i].Flag < merged[j].Flag
	})
	return merged
}

// MaxPatternLen is the longest active pattern; the driver derives its
// back-scan distance from it.
func (rs *RuleSet) MaxPatternLen() int { return rs.maxLen }

// Len is the number of active rules.
func (rs *RuleSet) Len() int { return rs.count }
