package equation

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEXER
// =============================================================================

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokText
	tokIdent
	tokMetric
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// twoCharOps are matched before single characters.
var twoCharOps = []string{"<=", ">=", "==", "!=", "&&", "||"}

type lexer struct {
	part Part
	src  string
	i    int
}

func (l *lexer) next() (token, error) {
	for l.i < len(l.src) && l.src[l.i] == ' ' {
		l.i++
	}
	if l.i >= len(l.src) {
		return token{kind: tokEOF, pos: l.i}, nil
	}

	start := l.i
	c := l.src[start]
	switch {
	case startsNumber(l.src, start):
		end := scanNumber(l.src, start)
		text := l.src[start:end]
		if end < len(l.src) && l.src[end] == 'M' {
			end++
		}
		if end < len(l.src) && isIdentPart(l.src[end]) {
			return token{}, newSyntaxError(l.part, start, text, "Invalid numeric literal '%s'.", l.src[start:end+1])
		}
		l.i = end
		return token{kind: tokNumber, text: text, pos: start}, nil

	case isIdentStart(c):
		end := start
		for end < len(l.src) && isIdentPart(l.src[end]) {
			end++
		}
		l.i = end
		return token{kind: tokIdent, text: l.src[start:end], pos: start}, nil

	case c == '"':
		return l.text()

	case c == '[':
		end := strings.IndexByte(l.src[start:], ']')
		if end < 0 {
			return token{}, newSyntaxError(l.part, start, "[", "Incorrect syntax near '['.")
		}
		l.i = start + end + 1
		return token{kind: tokMetric, text: strings.TrimSpace(l.src[start+1 : start+end]), pos: start}, nil

	case c == '(':
		l.i++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.i++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == ',':
		l.i++
		return token{kind: tokComma, text: ",", pos: start}, nil
	}

	for _, op := range twoCharOps {
		if strings.HasPrefix(l.src[start:], op) {
			l.i += 2
			return token{kind: tokOp, text: op, pos: start}, nil
		}
	}
	if strings.IndexByte(OperatorChars+"!", c) >= 0 {
		l.i++
		return token{kind: tokOp, text: string(c), pos: start}, nil
	}
	return token{}, newSyntaxError(l.part, start, string(c), "Unexpected character '%c'.", c)
}

func (l *lexer) text() (token, error) {
	start := l.i
	var b strings.Builder
	for j := start + 1; j < len(l.src); j++ {
		switch c := l.src[j]; c {
		case '\\':
			if j+1 < len(l.src) {
				j++
				b.WriteByte(l.src[j])
			}
		case '"':
			l.i = j + 1
			return token{kind: tokText, text: b.String(), pos: start}, nil
		default:
			b.WriteByte(c)
		}
	}
	return token{}, newSyntaxError(l.part, start, "\"", "Unterminated text literal.")
}

// =============================================================================
// PARSER - Recursive descent, lowest precedence first:
//   ternary, ||, &&, equality, relational, additive, multiplicative,
//   power (right associative), unary, primary
// =============================================================================

type parser struct {
	lex lexer
	tok token
}

// parse builds the expression tree for already validated text.
func parse(part Part, src string) (node, error) {
	p := &parser{lex: lexer{part: part, src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	n, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.unexpected()
	}
	return n, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) isOp(ops ...string) bool {
	if p.tok.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if p.tok.text == op {
			return true
		}
	}
	return false
}

func (p *parser) unexpected() error {
	if p.tok.kind == tokEOF {
		return newSyntaxError(p.lex.part, p.tok.pos, "", "Unexpected end of expression.")
	}
	return newSyntaxError(p.lex.part, p.tok.pos, p.tok.text, "Incorrect syntax near '%s'.", p.tok.text)
}

func (p *parser) ternary() (node, error) {
	cond, err := p.binary(0)
	if err != nil {
		return nil, err
	}
	if !p.isOp("?") {
		return cond, nil
	}
	at := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	then, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if !p.isOp(":") {
		return nil, p.unexpected()
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	els, err := p.ternary()
	if err != nil {
		return nil, err
	}
	return &ternaryExpr{at: at, cond: cond, then: then, els: els}, nil
}

// precedence lists the left-associative binary levels, loosest first.
var precedence = [][]string{
	{"||"},
	{"&&"},
	{"==", "=", "!="},
	{"<", "<=", ">", ">="},
	{"+", "-"},
	{"*", "/", "%"},
}

func (p *parser) binary(level int) (node, error) {
	if level == len(precedence) {
		return p.power()
	}
	left, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for p.isOp(precedence[level]...) {
		op, at := p.tok.text, p.tok.pos
		if op == "=" {
			op = "=="
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.binary(level + 1)
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{at: at, op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) power() (node, error) {
	base, err := p.unary()
	if err != nil {
		return nil, err
	}
	if !p.isOp("^") {
		return base, nil
	}
	at := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	exp, err := p.power()
	if err != nil {
		return nil, err
	}
	return &binaryExpr{at: at, op: "^", left: base, right: exp}, nil
}

func (p *parser) unary() (node, error) {
	if p.isOp("-", "+", "!") {
		op, at := p.tok.text, p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{at: at, op: op, x: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t := p.tok
	switch t.kind {
	case tokNumber:
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, newSyntaxError(p.lex.part, t.pos, t.text, "Invalid numeric literal '%s'.", t.text)
		}
		return &numberLit{at: t.pos, value: d}, p.advance()

	case tokText:
		return &textLit{at: t.pos, value: t.text}, p.advance()

	case tokMetric:
		if t.text == "" {
			return nil, newSyntaxError(p.lex.part, t.pos, "[", "Empty metric reference.")
		}
		return &metricRef{at: t.pos, name: t.text}, p.advance()

	case tokIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch strings.ToLower(t.text) {
		case "true":
			return &boolLit{at: t.pos, value: true}, nil
		case "false":
			return &boolLit{at: t.pos, value: false}, nil
		}
		if p.tok.kind == tokLParen {
			return p.call(t)
		}
		return &identRef{at: t.pos, name: t.text}, nil

	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.ternary()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, p.unexpected()
		}
		return n, p.advance()
	}
	return nil, p.unexpected()
}

func (p *parser) call(name token) (node, error) {
	c := &callExpr{at: name.pos, name: name.text}
	if err := p.advance(); err != nil { // (
		return nil, err
	}
	if p.tok.kind == tokRParen {
		return c, p.advance()
	}
	for {
		arg, err := p.ternary()
		if err != nil {
			return nil, err
		}
		c.args = append(c.args, arg)
		switch p.tok.kind {
		case tokComma:
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tokRParen:
			return c, p.advance()
		default:
			return nil, p.unexpected()
		}
	}
}
