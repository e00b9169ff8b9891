package main

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ariyn/relalg/internal/relalg/expr"
	"github.com/ariyn/relalg/internal/relalg/types"
)

// Expression syntax accepted by the submit command:
//
//	expr    := term { ('|' | '\') term }
//	term    := operand { ('&' | 'x' | '*') operand }
//	operand := NAME | '(' expr ')'
//
// Intersection and product bind tighter than union and difference; operators
// of equal precedence associate to the left. NAME refers to a loaded table.

const (
	tkName = iota
	tkIntersect
	tkUnion
	tkDifference
	tkProduct
	tkLPar
	tkRPar
	tkEOF
	tkError
)

type exprLexer struct {
	source string
	cursor int
	start  int
	token  int
	text   string
}

func (l *exprLexer) yield(tk int, sz int) int {
	l.token = tk
	l.cursor += sz
	return tk
}

func (l *exprLexer) err(msg string) int {
	l.text = fmt.Sprintf("around position %d: %s", l.cursor+1, msg)
	l.token = tkError
	return tkError
}

func isNameLeading(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isNameChar(r rune) bool    { return isNameLeading(r) || unicode.IsDigit(r) }

func (l *exprLexer) next() int {
	for l.cursor < len(l.source) {
		c, sz := utf8.DecodeRuneInString(l.source[l.cursor:])
		if c == utf8.RuneError {
			return l.err("invalid utf8 character")
		}
		l.start = l.cursor
		switch c {
		case ' ', '\t', '\n', '\r':
			l.cursor += sz
			continue
		case '&':
			return l.yield(tkIntersect, 1)
		case '|':
			return l.yield(tkUnion, 1)
		case '\\':
			return l.yield(tkDifference, 1)
		case '*':
			return l.yield(tkProduct, 1)
		case '(':
			return l.yield(tkLPar, 1)
		case ')':
			return l.yield(tkRPar, 1)
		}
		if !isNameLeading(c) {
			return l.err(fmt.Sprintf("unexpected character %q", c))
		}
		end := l.cursor + sz
		for end < len(l.source) {
			r, n := utf8.DecodeRuneInString(l.source[end:])
			if !isNameChar(r) {
				break
			}
			end += n
		}
		l.text = l.source[l.cursor:end]
		l.cursor = end
		l.token = tkName
		return tkName
	}
	l.start = l.cursor
	l.token = tkEOF
	return tkEOF
}

type exprParser struct {
	lex    exprLexer
	tables map[string]*types.Table
}

// parseExpression parses src into an expression over tables.
func parseExpression(src string, tables map[string]*types.Table) (*expr.Node, error) {
	p := &exprParser{lex: exprLexer{source: src}, tables: tables}
	p.lex.next()
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.lex.token != tkEOF {
		return nil, p.unexpected()
	}
	if n.IsLeaf() {
		return nil, fmt.Errorf("expression %q has no operator", strings.TrimSpace(src))
	}
	return n, nil
}

func (p *exprParser) unexpected() error {
	switch p.lex.token {
	case tkError:
		return fmt.Errorf("%s", p.lex.text)
	case tkEOF:
		return fmt.Errorf("unexpected end of expression")
	}
	return fmt.Errorf("around position %d: unexpected %q", p.lex.start+1, p.lex.source[p.lex.start:p.lex.cursor])
}

// isProduct reports whether the current token is a product operator. The
// letter x is an operator in operator position only.
func (p *exprParser) isProduct() bool {
	return p.lex.token == tkProduct || (p.lex.token == tkName && (p.lex.text == "x" || p.lex.text == "X"))
}

func (p *exprParser) parseExpr() (*expr.Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		var o types.Operation
		switch p.lex.token {
		case tkUnion:
			o = types.OpUnion
		case tkDifference:
			o = types.OpDifference
		default:
			return left, nil
		}
		p.lex.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = expr.Apply(o, left, right)
	}
}

func (p *exprParser) parseTerm() (*expr.Node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	for {
		var o types.Operation
		switch {
		case p.lex.token == tkIntersect:
			o = types.OpIntersect
		case p.isProduct():
			o = types.OpProduct
		default:
			return left, nil
		}
		p.lex.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		left = expr.Apply(o, left, right)
	}
}

func (p *exprParser) parseOperand() (*expr.Node, error) {
	switch p.lex.token {
	case tkName:
		t, ok := p.tables[p.lex.text]
		if !ok {
			return nil, fmt.Errorf("around position %d: unknown table %q", p.lex.start+1, p.lex.text)
		}
		p.lex.next()
		return expr.Leaf(t), nil
	case tkLPar:
		p.lex.next()
		n, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.lex.token != tkRPar {
			return nil, p.unexpected()
		}
		p.lex.next()
		return n, nil
	}
	return nil, p.unexpected()
}
