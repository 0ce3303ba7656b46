// Package tagquery compiles tag queries such as
//
//	env = 'prod' and (team in ['a', 'b'] or not owner)
//
// into predicate trees.
package tagquery

import (
	"errors"
	"fmt"
	"strings"

	"alertcore/internal/predicate"
)

var ErrSyntax = errors.New("tag query syntax error")

type SyntaxError struct {
	Query string
	Pos   int
	Msg   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("tag query %q: %s at %d", e.Query, e.Msg, e.Pos)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

func syntaxErr(query string, pos int, msg string) error {
	return &SyntaxError{Query: query, Pos: pos, Msg: msg}
}

// Compile parses query. An empty query matches every record.
func Compile(query string) (predicate.Node, error) {
	if strings.TrimSpace(query) == "" {
		return predicate.True{}, nil
	}
	tokens, err := lex(query)
	if err != nil {
		return nil, err
	}
	p := &parser{query: query, tokens: tokens}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return n, nil
}

type parser struct {
	query  string
	tokens []token
	pos    int
}

func (p *parser) done() bool { return p.pos >= len(p.tokens) }

func (p *parser) peek() token {
	if p.done() {
		return token{pos: len(p.query)}
	}
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return syntaxErr(p.query, p.peek().pos, fmt.Sprintf(format, args...))
}

func (p *parser) parseOr() (predicate.Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	nodes := []predicate.Node{left}
	for !p.done() && p.peek().keyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, right)
	}
	return predicate.AnyOf(nodes...), nil
}

func (p *parser) parseAnd() (predicate.Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	nodes := []predicate.Node{left}
	for !p.done() && p.peek().keyword("and") {
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, right)
	}
	return predicate.AllOf(nodes...), nil
}

func (p *parser) parseTerm() (predicate.Node, error) {
	if p.done() {
		return nil, p.errorf("unexpected end of query")
	}
	t := p.peek()
	switch {
	case t.kind == tokLParen:
		p.next()
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.done() || p.peek().kind != tokRParen {
			return nil, p.errorf("expected ')'")
		}
		p.next()
		return n, nil
	case t.keyword("not") && p.pos+1 < len(p.tokens) && p.tokens[p.pos+1].kind == tokLParen:
		p.next()
		n, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return predicate.Not{Node: n}, nil
	}
	clause, err := p.clauseTokens()
	if err != nil {
		return nil, err
	}
	return Resolve(clause)
}

// clauseTokens collects the raw tokens of one clause: [tag], [not tag],
// [tag op value] or [tag not in array].
func (p *parser) clauseTokens() ([]string, error) {
	first := p.next()
	if first.kind != tokWord || isKeyword(first.text) && !first.keyword("not") {
		return nil, syntaxErr(p.query, first.pos, fmt.Sprintf("expected tag name, got %q", first.text))
	}
	if first.keyword("not") {
		tag := p.next()
		if tag.kind != tokWord || isKeyword(tag.text) {
			return nil, syntaxErr(p.query, tag.pos, "expected tag name after 'not'")
		}
		return []string{first.text, tag.text}, nil
	}
	if p.done() {
		return []string{first.text}, nil
	}
	op := p.peek()
	switch {
	case op.kind == tokEq || op.kind == tokNeq:
		p.next()
		v := p.next()
		if v.kind != tokWord && v.kind != tokQuoted || isKeyword(v.text) {
			return nil, syntaxErr(p.query, v.pos, fmt.Sprintf("expected value after %q", op.text))
		}
		return []string{first.text, op.text, v.text}, nil
	case op.keyword("in"):
		p.next()
		arr := p.next()
		if arr.kind != tokArray {
			return nil, syntaxErr(p.query, arr.pos, "expected '[' after 'in'")
		}
		return []string{first.text, "in", arr.text}, nil
	case op.keyword("not") && p.pos+1 < len(p.tokens) && p.tokens[p.pos+1].keyword("in"):
		p.next()
		p.next()
		arr := p.next()
		if arr.kind != tokArray {
			return nil, syntaxErr(p.query, arr.pos, "expected '[' after 'not in'")
		}
		return []string{first.text, "not", "in", arr.text}, nil
	}
	return []string{first.text}, nil
}

func isKeyword(s string) bool {
	switch strings.ToLower(s) {
	case "and", "or", "not", "in":
		return true
	}
	return false
}
