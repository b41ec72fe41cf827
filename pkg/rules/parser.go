package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// LoadError is a rule-file load failure. All load errors are fatal at
// startup per the engine's error policy.
type LoadError struct {
	Path string
	Line int
	Msg  string
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

func loadErrf(path string, line int, format string, args ...any) error {
	return &LoadError{Path: path, Line: line, Msg: fmt.Sprintf(format, args...)}
}

// section keywords
const (
	secOLevel  = "OLEVEL"
	secOFlag   = "OFLAG"
	secReplace = "REPLACE"
	secDefine  = "DEFINE"
	secIf      = "IF"
	secWith    = "WITH"
)

// ParseRuleText parses one rule file. path is used only for diagnostics.
func ParseRuleText(path, text string) (*Rule, error) {
	lines := strings.Split(text, "\n")

	var (
		rule     Rule
		seen     = map[string]bool{}
		haveWith bool
	)
	rule.File = path

	stripComment := func(s string) string {
		if i := strings.Index(s, ";;"); i >= 0 {
			s = s[:i]
		}
		return strings.TrimSpace(s)
	}

	// readBlock consumes a {{ ... }} block starting on line i (the text
	// after the keyword). Returns the block body lines and the index of
	// the last consumed line.
	readBlock := func(rest string, i int) ([]string, int, error) {
		rest = strings.TrimSpace(rest)
		if !strings.HasPrefix(rest, "{{") {
			return nil, i, loadErrf(path, i+1, "expected '{{' to open block")
		}
		rest = strings.TrimSpace(rest[2:])
		var body []string
		if j := strings.Index(rest, "}}"); j >= 0 {
			if tail := strings.TrimSpace(rest[j+2:]); tail != "" {
				return nil, i, loadErrf(path, i+1, "unexpected text after '}}'")
			}
			if inner := strings.TrimSpace(rest[:j]); inner != "" {
				body = append(body, inner)
			}
			return body, i, nil
		}
		if rest != "" {
			body = append(body, rest)
		}
		for k := i + 1; k < len(lines); k++ {
			l := stripComment(lines[k])
			if j := strings.Index(l, "}}"); j >= 0 {
				if tail := strings.TrimSpace(l[j+2:]); tail != "" {
					return nil, k, loadErrf(path, k+1, "unexpected text after '}}'")
				}
				if inner := strings.TrimSpace(l[:j]); inner != "" {
					body = append(body, inner)
				}
				return body, k, nil
			}
			if l != "" {
				body = append(body, l)
			}
		}
		return nil, len(lines), loadErrf(path, i+1, "unterminated block")
	}

	for i := 0; i < len(lines); i++ {
		l := stripComment(lines[i])
		if l == "" {
			continue
		}
		keyword := l
		rest := ""
		if j := strings.IndexAny(l, ": \t{"); j >= 0 {
			keyword = l[:j]
			rest = l[j:]
		}
		keyword = strings.ToUpper(keyword)
		if seen[keyword] {
			return nil, loadErrf(path, i+1, "duplicate section %s", keyword)
		}
		seen[keyword] = true

		switch keyword {
		case secOLevel, secOFlag:
			rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ":"))
			n, err := strconv.Atoi(rest)
			if err != nil {
				return nil, loadErrf(path, i+1, "%s wants an integer, got %q", keyword, rest)
			}
			if keyword == secOLevel {
				rule.Level = n
			} else {
				rule.Flag = n
			}

		case secReplace:
			body, last, err := readBlock(rest, i)
			if err != nil {
				return nil, err
			}
			for _, b := range body {
				pl, err := parsePatternLine(b)
				if err != nil {
					return nil, loadErrf(path, i+1, "bad pattern line %q: %v", b, err)
				}
				rule.Pattern = append(rule.Pattern, pl)
			}
			i = last

		case secDefine:
			body, last, err := readBlock(rest, i)
			if err != nil {
				return nil, err
			}
			for _, b := range body {
				d, err := parseDefine(b)
				if err != nil {
					return nil, loadErrf(path, i+1, "bad DEFINE %q: %v", b, err)
				}
				rule.Defines = append(rule.Defines, d)
			}
			i = last

		case secIf:
			body, last, err := readBlock(rest, i)
			if err != nil {
				return nil, err
			}
			src := strings.Join(body, " ")
			if strings.TrimSpace(src) == "" {
				return nil, loadErrf(path, i+1, "empty IF block")
			}
			expr, err := ParseExpr(src)
			if err != nil {
				return nil, loadErrf(path, i+1, "bad IF expression: %v", err)
			}
			rule.Cond = expr
			i = last

		case secWith:
			body, last, err := readBlock(rest, i)
			if err != nil {
				return nil, err
			}
			rule.Template = body
			haveWith = true
			i = last

		default:
			return nil, loadErrf(path, i+1, "unknown section %q", keyword)
		}
	}

	if !seen[secOFlag] {
		return nil, loadErrf(path, 0, "missing OFLAG section")
	}
	if !seen[secReplace] {
		return nil, loadErrf(path, 0, "missing REPLACE section")
	}
	if !haveWith {
		return nil, loadErrf(path, 0, "missing WITH section")
	}
	if err := rule.validate(); err != nil {
		return nil, loadErrf(path, 0, "%v", err)
	}
	return &rule, nil
}

func parseDefine(src string) (Define, error) {
	eq := strings.Index(src, "=")
	if eq < 0 {
		return Define{}, fmt.Errorf("missing '='")
	}
	name := strings.TrimSpace(src[:eq])
	if !isVarRef(name) {
		return Define{}, fmt.Errorf("left side must be a $N variable, got %q", name)
	}
	expr, err := ParseExpr(strings.TrimSpace(src[eq+1:]))
	if err != nil {
		return Define{}, err
	}
	return Define{Name: name, Expr: expr, Src: src}, nil
}
