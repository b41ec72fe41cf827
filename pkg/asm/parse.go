package asm

import (
	"strconv"
	"strings"
)

// directives are assembler statements the optimizer must pass through
// untouched. Matched case-insensitively.
var directives = map[string]bool{
	"org": true, "defb": true, "db": true, "defw": true, "dw": true,
	"defm": true, "defs": true, "ds": true, "equ": true,
	"proc": true, "local": true, "endp": true, "end": true,
	"align": true, "include": true, "incbin": true, "namespace": true,
}

// ParseNumber parses an integer literal in any of the accepted spellings:
// decimal, 0x/$ or trailing-h hex, 0b binary, trailing-o octal.
func ParseNumber(s string) (int64, Radix, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, RadixDec, false
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
		if s == "" {
			return 0, RadixDec, false
		}
	}
	var (
		v   int64
		r   Radix
		err error
	)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "0x"):
		v, err = strconv.ParseInt(s[2:], 16, 64)
		r = RadixHex
	case s[0] == '$' && len(s) > 1:
		v, err = strconv.ParseInt(s[1:], 16, 64)
		r = RadixHex
	case strings.HasPrefix(lower, "0b"):
		v, err = strconv.ParseInt(s[2:], 2, 64)
		r = RadixBin
	case strings.HasSuffix(lower, "h") && isHexDigits(s[:len(s)-1]):
		v, err = strconv.ParseInt(s[:len(s)-1], 16, 64)
		r = RadixHex
	case strings.HasSuffix(lower, "o") && isOctDigits(s[:len(s)-1]):
		v, err = strconv.ParseInt(s[:len(s)-1], 8, 64)
		r = RadixOct
	default:
		v, err = strconv.ParseInt(s, 10, 64)
		r = RadixDec
	}
	if err != nil {
		return 0, RadixDec, false
	}
	if neg {
		v = -v
	}
	return v, r, true
}

func isHexDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	// Require a leading digit so symbols like "beach" don't parse.
	return s[0] >= '0' && s[0] <= '9'
}

func isOctDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '7' {
			return false
		}
	}
	return true
}

// FormatNumber renders v in the given radix, matching the spelling the
// assembler dialect uses for that base.
func FormatNumber(v int64, r Radix) string {
	switch r {
	case RadixHex:
		return "0x" + strings.ToUpper(strconv.FormatInt(v, 16))
	case RadixBin:
		return "0b" + strconv.FormatInt(v, 2)
	case RadixOct:
		return strconv.FormatInt(v, 8) + "o"
	default:
		return strconv.FormatInt(v, 10)
	}
}

// conditionPosition reports whether operand idx of mnemonic m (with nargs
// total operands) sits in a condition-code slot.
func conditionPosition(m string, idx, nargs int) bool {
	switch m {
	case "jp", "jr", "call":
		return idx == 0 && nargs == 2
	case "ret":
		return idx == 0 && nargs == 1
	}
	return false
}

// ParseOperand classifies one operand of mnemonic m at position idx.
func ParseOperand(m string, idx, nargs int, text string) Operand {
	src := strings.TrimSpace(text)
	lower := strings.ToLower(src)

	if strings.HasPrefix(src, "(") && strings.HasSuffix(src, ")") {
		inner := strings.TrimSpace(src[1 : len(src)-1])
		inner = strings.Join(strings.Fields(inner), " ")
		if IsRegisterName(inner) {
			inner = strings.ToLower(inner)
		}
		return Operand{Kind: OpIndir, Text: "(" + inner + ")", Source: src}
	}
	if conditionPosition(m, idx, nargs) && conditions[lower] {
		return Operand{Kind: OpCond, Text: lower, Source: src}
	}
	if registers[lower] {
		return Operand{Kind: OpReg, Text: lower, Source: src}
	}
	if pairs[lower] {
		return Operand{Kind: OpPair, Text: lower, Source: src}
	}
	if v, r, ok := ParseNumber(src); ok {
		return Operand{Kind: OpInt, Text: FormatNumber(v, RadixDec), Source: src, Val: v, Radix: r}
	}
	if isIdent(src) {
		return Operand{Kind: OpSym, Text: src, Source: src}
	}
	return Operand{Kind: OpRaw, Text: strings.Join(strings.Fields(src), " "), Source: src}
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || c == '.':
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
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

// SplitOperands splits an operand list on commas outside parentheses.
func SplitOperands(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" || len(out) > 0 {
		out = append(out, s[start:])
	}
	return out
}

// ParseLine tokenizes one assembly source line.
func ParseLine(src string) Line {
	text := strings.TrimRight(src, " \t\r\n")
	trimmed := strings.TrimSpace(text)

	if trimmed == "" {
		return Line{Kind: LineBlank, Source: src}
	}
	if strings.HasPrefix(trimmed, ";") {
		return Line{Kind: LineComment, Source: src}
	}
	if strings.HasPrefix(trimmed, "#") {
		return Line{Kind: LineDirective, Source: src}
	}

	label := ""
	body := trimmed
	if i := strings.Index(trimmed, ":"); i > 0 && isIdent(trimmed[:i]) {
		label = trimmed[:i]
		body = strings.TrimSpace(trimmed[i+1:])
	}

	// Strip a trailing comment outside any parentheses.
	body = stripComment(body)

	if body == "" {
		if label != "" {
			return Line{Kind: LineLabel, Label: label, Source: src}
		}
		return Line{Kind: LineBlank, Source: src}
	}

	mnemonic := body
	rest := ""
	if i := strings.IndexAny(body, " \t"); i >= 0 {
		mnemonic = body[:i]
		rest = strings.TrimSpace(body[i+1:])
	}
	lowerM := strings.ToLower(mnemonic)

	// "name EQU expr" style directives put the symbol first.
	if rest != "" {
		if f := strings.Fields(rest); len(f) > 0 && directives[strings.ToLower(f[0])] {
			return Line{Kind: LineDirective, Label: label, Source: src}
		}
	}
	if directives[lowerM] {
		return Line{Kind: LineDirective, Label: label, Source: src}
	}

	var ops []Operand
	if rest != "" {
		parts := SplitOperands(rest)
		ops = make([]Operand, len(parts))
		for i, p := range parts {
			ops[i] = ParseOperand(lowerM, i, len(parts), p)
		}
	}
	return Line{
		Kind:     LineInst,
		Label:    label,
		Mnemonic: strings.ToUpper(mnemonic),
		Operands: ops,
		Source:   src,
	}
}

func stripComment(s string) string {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ';':
			if depth == 0 {
				return strings.TrimSpace(s[:i])
			}
		case '"', '\'':
			q := s[i]
			for i++; i < len(s) && s[i] != q; i++ {
			}
		}
	}
	return strings.TrimSpace(s)
}

// ParseLines tokenizes a whole unit.
func ParseLines(lines []string) []Line {
	out := make([]Line, len(lines))
	for i, s := range lines {
		out[i] = ParseLine(s)
	}
	return out
}
