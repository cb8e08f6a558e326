package prover

import (
	"fmt"
	"strings"
)

// SExpr is a node of a parsed s-expression: either an atom (possibly a quoted
// string literal) or a list of child nodes.
type SExpr struct {
	Atom   string
	Quoted bool
	List   []SExpr

	atom bool
}

// NewAtom returns an atom node.
func NewAtom(s string) SExpr {
	return SExpr{Atom: s, atom: true}
}

// NewString returns a string-literal node.
func NewString(s string) SExpr {
	return SExpr{Atom: s, Quoted: true, atom: true}
}

// NewList returns a list node.
func NewList(items ...SExpr) SExpr {
	return SExpr{List: items}
}

// IsAtom reports whether the node is an atom rather than a list.
func (e SExpr) IsAtom() bool { return e.atom }

// Head returns the operator of a list node, or the atom itself.
func (e SExpr) Head() string {
	if e.atom {
		return e.Atom
	}
	if len(e.List) == 0 {
		return ""
	}
	return e.List[0].Atom
}

func (e SExpr) String() string {
	if e.atom {
		if e.Quoted {
			return `"` + strings.ReplaceAll(e.Atom, `"`, `\"`) + `"`
		}
		return e.Atom
	}
	parts := make([]string, len(e.List))
	for i, child := range e.List {
		parts[i] = child.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// ParseSExpr parses a single s-expression. Numbers and symbols both come back
// as atoms; double-quoted tokens come back as string literals with the quotes
// stripped.
func ParseSExpr(input string) (SExpr, error) {
	p := &sexprParser{input: input}
	p.skipSpace()
	expr, err := p.parse()
	if err != nil {
		return SExpr{}, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return SExpr{}, fmt.Errorf("trailing input at offset %d: %q", p.pos, p.input[p.pos:])
	}
	return expr, nil
}

type sexprParser struct {
	input string
	pos   int
}

func (p *sexprParser) skipSpace() {
	for p.pos < len(p.input) {
		switch p.input[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *sexprParser) parse() (SExpr, error) {
	if p.pos >= len(p.input) {
		return SExpr{}, fmt.Errorf("unexpected end of input")
	}
	switch p.input[p.pos] {
	case '(':
		p.pos++
		var items []SExpr
		for {
			p.skipSpace()
			if p.pos >= len(p.input) {
				return SExpr{}, fmt.Errorf("unbalanced parentheses")
			}
			if p.input[p.pos] == ')' {
				p.pos++
				return NewList(items...), nil
			}
			item, err := p.parse()
			if err != nil {
				return SExpr{}, err
			}
			items = append(items, item)
		}
	case ')':
		return SExpr{}, fmt.Errorf("unexpected ')' at offset %d", p.pos)
	case '"':
		return p.parseString()
	default:
		return p.parseAtom()
	}
}

func (p *sexprParser) parseString() (SExpr, error) {
	p.pos++ // opening quote
	var sb strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case '"':
			p.pos++
			return NewString(sb.String()), nil
		case '\\':
			if p.pos+1 < len(p.input) {
				p.pos++
				sb.WriteByte(p.input[p.pos])
				p.pos++
				continue
			}
			return SExpr{}, fmt.Errorf("dangling escape at end of input")
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return SExpr{}, fmt.Errorf("unterminated string literal")
}

func (p *sexprParser) parseAtom() (SExpr, error) {
	start := p.pos
	for p.pos < len(p.input) {
		switch p.input[p.pos] {
		case ' ', '\t', '\n', '\r', '(', ')', '"':
			goto done
		}
		p.pos++
	}
done:
	if p.pos == start {
		return SExpr{}, fmt.Errorf("empty atom at offset %d", start)
	}
	return NewAtom(p.input[start:p.pos]), nil
}
