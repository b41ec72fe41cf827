package rules

import (
	"fmt"
	"strings"

	"github.com/zxbkit/peephole/pkg/asm"
)

// Expr is a parsed DSL expression node.
type Expr interface {
	Eval(ctx *Context) Value
	// Vars appends every $N referenced by the expression.
	Vars(dst []string) []string
}

type litExpr struct{ v Value }

func (e litExpr) Eval(*Context) Value      { return e.v }
func (e litExpr) Vars(dst []string) []string { return dst }

type varExpr struct{ name string }

func (e varExpr) Eval(ctx *Context) Value {
	if v, ok := ctx.Env[e.name]; ok {
		return v
	}
	return Undefined
}
func (e varExpr) Vars(dst []string) []string { return append(dst, e.name) }

type notExpr struct{ x Expr }

func (e notExpr) Eval(ctx *Context) Value {
	return BoolVal(!e.x.Eval(ctx).Truthy())
}
func (e notExpr) Vars(dst []string) []string { return e.x.Vars(dst) }

type binExpr struct {
	op   string // "==", "!=", "&&", "||"
	l, r Expr
}

func (e binExpr) Eval(ctx *Context) Value {
	switch e.op {
	case "==":
		return BoolVal(Equals(e.l.Eval(ctx), e.r.Eval(ctx)))
	case "!=":
		return BoolVal(!Equals(e.l.Eval(ctx), e.r.Eval(ctx)))
	case "&&":
		// Truthy left yields the right operand, so a chain like
		// (($2 == nz) && z) || nz can produce a token.
		if !e.l.Eval(ctx).Truthy() {
			return Undefined
		}
		return e.r.Eval(ctx)
	case "||":
		if l := e.l.Eval(ctx); l.Truthy() {
			return l
		}
		return e.r.Eval(ctx)
	}
	return Undefined
}
func (e binExpr) Vars(dst []string) []string { return e.r.Vars(e.l.Vars(dst)) }

type callExpr struct {
	name string
	fn   *builtin
	args []Expr
}

func (e callExpr) Eval(ctx *Context) Value {
	args := make([]Value, len(e.args))
	for i, a := range e.args {
		args[i] = a.Eval(ctx)
	}
	return e.fn.call(ctx, args)
}
func (e callExpr) Vars(dst []string) []string {
	for _, a := range e.args {
		dst = a.Vars(dst)
	}
	return dst
}

// --- lexer ---

type tokKind uint8

const (
	tEOF tokKind = iota
	tVar         // $N
	tInt
	tStr
	tIdent
	tLParen
	tRParen
	tComma
	tNot
	tEq
	tNeq
	tAnd
	tOr
)

type token struct {
	kind tokKind
	text string
}

type lexer struct {
	src string
	pos int
}

func (lx *lexer) next() (token, error) {
	for lx.pos < len(lx.src) && (lx.src[lx.pos] == ' ' || lx.src[lx.pos] == '\t' || lx.src[lx.pos] == '\n' || lx.src[lx.pos] == '\r') {
		lx.pos++
	}
	if lx.pos >= len(lx.src) {
		return token{kind: tEOF}, nil
	}
	c := lx.src[lx.pos]
	switch c {
	case '(':
		lx.pos++
		return token{kind: tLParen}, nil
	case ')':
		lx.pos++
		return token{kind: tRParen}, nil
	case ',':
		lx.pos++
		return token{kind: tComma}, nil
	case '!':
		if lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '=' {
			lx.pos += 2
			return token{kind: tNeq}, nil
		}
		lx.pos++
		return token{kind: tNot}, nil
	case '=':
		if lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '=' {
			lx.pos += 2
			return token{kind: tEq}, nil
		}
		return token{}, fmt.Errorf("unexpected '=' at offset %d", lx.pos)
	case '&':
		if lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '&' {
			lx.pos += 2
			return token{kind: tAnd}, nil
		}
		return token{}, fmt.Errorf("unexpected '&' at offset %d", lx.pos)
	case '|':
		if lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '|' {
			lx.pos += 2
			return token{kind: tOr}, nil
		}
		return token{}, fmt.Errorf("unexpected '|' at offset %d", lx.pos)
	case '$':
		start := lx.pos
		lx.pos++
		for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
			lx.pos++
		}
		if lx.pos == start+1 {
			return token{}, fmt.Errorf("bare '$' at offset %d", start)
		}
		return token{kind: tVar, text: lx.src[start:lx.pos]}, nil
	case '"', '\'':
		q := c
		lx.pos++
		start := lx.pos
		for lx.pos < len(lx.src) && lx.src[lx.pos] != q {
			lx.pos++
		}
		if lx.pos >= len(lx.src) {
			return token{}, fmt.Errorf("unterminated string literal")
		}
		s := lx.src[start:lx.pos]
		lx.pos++
		return token{kind: tStr, text: s}, nil
	}
	if isDigit(c) {
		start := lx.pos
		for lx.pos < len(lx.src) && isWordByte(lx.src[lx.pos]) {
			lx.pos++
		}
		return token{kind: tInt, text: lx.src[start:lx.pos]}, nil
	}
	if isWordStart(c) {
		start := lx.pos
		for lx.pos < len(lx.src) && isWordByte(lx.src[lx.pos]) {
			lx.pos++
		}
		return token{kind: tIdent, text: lx.src[start:lx.pos]}, nil
	}
	return token{}, fmt.Errorf("unexpected character %q at offset %d", c, lx.pos)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordStart(c byte) bool {
	return c == '_' || c == '.' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordByte(c byte) bool { return isWordStart(c) || isDigit(c) }

// --- parser ---
// Precedence: ! > == != > && > ||, with short-circuit evaluation.

type exprParser struct {
	lx  lexer
	cur token
}

// ParseExpr parses a DSL expression. Function names and arities are
// validated here, at load time.
func ParseExpr(src string) (Expr, error) {
	p := &exprParser{lx: lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tEOF {
		return nil, fmt.Errorf("trailing input in expression %q", src)
	}
	return e, nil
}

func (p *exprParser) advance() error {
	t, err := p.lx.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *exprParser) parseOr() (Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = binExpr{op: "||", l: l, r: r}
	}
	return l, nil
}

func (p *exprParser) parseAnd() (Expr, error) {
	l, err := p.parseEq()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseEq()
		if err != nil {
			return nil, err
		}
		l = binExpr{op: "&&", l: l, r: r}
	}
	return l, nil
}

func (p *exprParser) parseEq() (Expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tEq || p.cur.kind == tNeq {
		op := "=="
		if p.cur.kind == tNeq {
			op = "!="
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = binExpr{op: op, l: l, r: r}
	}
	return l, nil
}

func (p *exprParser) parseUnary() (Expr, error) {
	if p.cur.kind == tNot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{x: x}, nil
	}
	return p.parseAtom()
}

func (p *exprParser) parseAtom() (Expr, error) {
	switch p.cur.kind {
	case tLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tRParen {
			return nil, fmt.Errorf("missing ')'")
		}
		return e, p.advance()

	case tVar:
		name := p.cur.text
		return varExpr{name: name}, p.advance()

	case tInt:
		n, _, ok := asm.ParseNumber(p.cur.text)
		if !ok {
			return nil, fmt.Errorf("bad numeric literal %q", p.cur.text)
		}
		return litExpr{v: IntVal(n)}, p.advance()

	case tStr:
		return litExpr{v: StrVal(p.cur.text)}, p.advance()

	case tIdent:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind != tLParen {
			// A bare identifier is a symbol literal (register name,
			// condition code, mnemonic), compared case-insensitively.
			return litExpr{v: MnemonicVal(name)}, nil
		}
		fn, ok := builtins[strings.ToUpper(name)]
		if !ok {
			return nil, fmt.Errorf("unknown function %q", name)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		var args []Expr
		if p.cur.kind != tRParen {
			for {
				a, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.cur.kind != tComma {
					break
				}
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
		}
		if p.cur.kind != tRParen {
			return nil, fmt.Errorf("missing ')' in call to %s", name)
		}
		if len(args) != fn.arity {
			return nil, fmt.Errorf("%s takes %d argument(s), got %d", strings.ToUpper(name), fn.arity, len(args))
		}
		return callExpr{name: strings.ToUpper(name), fn: fn, args: args}, p.advance()
	}
	return nil, fmt.Errorf("unexpected token in expression")
}
