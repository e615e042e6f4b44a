// Package revset parses and evaluates revision expressions such as
// "::@ & conflicts()" or "main+".
package revset

import (
	"fmt"
	"strings"
	"unicode"

	"strand/internal/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokSymbol
	tokString
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

func isSymbolChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_./@", r)
}

func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		case r == ':':
			if i+1 < len(runes) && runes[i+1] == ':' {
				tokens = append(tokens, token{kind: tokOp, text: "::", pos: i})
				i += 2
				continue
			}
			return nil, parseError(input, i, "expected '::'")
		case strings.ContainsRune("|&~-+", r):
			tokens = append(tokens, token{kind: tokOp, text: string(r), pos: i})
			i++
		case r == '"' || r == '\'':
			start := i
			i++
			var sb strings.Builder
			for i < len(runes) && runes[i] != r {
				if runes[i] == '\\' && i+1 < len(runes) {
					i++
				}
				sb.WriteRune(runes[i])
				i++
			}
			if i >= len(runes) {
				return nil, parseError(input, start, "unterminated string")
			}
			i++
			tokens = append(tokens, token{kind: tokString, text: sb.String(), pos: start})
		case isSymbolChar(r):
			start := i
			for i < len(runes) {
				if isSymbolChar(runes[i]) {
					i++
					continue
				}
				// "a-b" is one name; a trailing "-" is the parents operator.
				if runes[i] == '-' && i+1 < len(runes) && isSymbolChar(runes[i+1]) {
					i++
					continue
				}
				break
			}
			tokens = append(tokens, token{kind: tokSymbol, text: string(runes[start:i]), pos: start})
		default:
			return nil, parseError(input, i, fmt.Sprintf("unexpected character %q", r))
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(runes)}), nil
}

func parseError(input string, pos int, msg string) error {
	return errors.ValidationError(fmt.Sprintf("failed to parse revset %q at %d: %s", input, pos, msg), nil)
}

// Node is a parsed expression.
type Node interface{ String() string }

type symbolNode struct{ name string }

type stringNode struct{ value string }

type callNode struct {
	name string
	args []Node
}

type binaryNode struct {
	op          string
	left, right Node
}

// rangeNode is x::y. Either side may be nil.
type rangeNode struct{ from, to Node }

type postfixNode struct {
	op string
	x  Node
}

type notNode struct{ x Node }

func (n symbolNode) String() string { return n.name }
func (n stringNode) String() string { return fmt.Sprintf("%q", n.value) }

func (n callNode) String() string {
	args := make([]string, len(n.args))
	for i, a := range n.args {
		args[i] = a.String()
	}
	return n.name + "(" + strings.Join(args, ", ") + ")"
}

func (n binaryNode) String() string {
	return "(" + n.left.String() + " " + n.op + " " + n.right.String() + ")"
}

func (n postfixNode) String() string { return n.x.String() + n.op }
func (n notNode) String() string     { return "~" + n.x.String() }

func (n rangeNode) String() string {
	var from, to string
	if n.from != nil {
		from = n.from.String()
	}
	if n.to != nil {
		to = n.to.String()
	}
	return "(" + from + "::" + to + ")"
}

type parser struct {
	input  string
	tokens []token
	pos    int
}

// Parse turns an expression into a tree of nodes.
//
//	union    = inter { "|" inter }
//	inter    = prefix { ("&" | "~") prefix }
//	prefix   = "~" prefix | range
//	range    = "::" [postfix] | postfix [ "::" [postfix] ]
//	postfix  = primary { "-" | "+" }
//	primary  = symbol | string | name "(" [union {"," union}] ")" | "(" union ")"
func Parse(input string) (Node, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{input: input, tokens: tokens}
	if p.peek().kind == tokEOF {
		return nil, parseError(input, 0, "empty expression")
	}
	n, err := p.union()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, parseError(input, t.pos, fmt.Sprintf("unexpected %q", t.text))
	}
	return n, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(text string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == text
}

func (p *parser) union() (Node, error) {
	left, err := p.inter()
	if err != nil {
		return nil, err
	}
	for p.isOp("|") {
		p.next()
		right, err := p.inter()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: "|", left: left, right: right}
	}
	return left, nil
}

func (p *parser) inter() (Node, error) {
	left, err := p.prefix()
	if err != nil {
		return nil, err
	}
	for p.isOp("&") || p.isOp("~") {
		op := p.next().text
		right, err := p.prefix()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) prefix() (Node, error) {
	if p.isOp("~") {
		p.next()
		x, err := p.prefix()
		if err != nil {
			return nil, err
		}
		return notNode{x: x}, nil
	}
	return p.rangeExpr()
}

func (p *parser) startsOperand() bool {
	switch p.peek().kind {
	case tokSymbol, tokString, tokLParen:
		return true
	}
	return false
}

func (p *parser) rangeExpr() (Node, error) {
	if p.isOp("::") {
		p.next()
		if !p.startsOperand() {
			return rangeNode{}, nil
		}
		to, err := p.postfix()
		if err != nil {
			return nil, err
		}
		return rangeNode{to: to}, nil
	}
	from, err := p.postfix()
	if err != nil {
		return nil, err
	}
	if !p.isOp("::") {
		return from, nil
	}
	p.next()
	if !p.startsOperand() {
		return rangeNode{from: from}, nil
	}
	to, err := p.postfix()
	if err != nil {
		return nil, err
	}
	return rangeNode{from: from, to: to}, nil
}

func (p *parser) postfix() (Node, error) {
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	for p.isOp("-") || p.isOp("+") {
		x = postfixNode{op: p.next().text, x: x}
	}
	return x, nil
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		n, err := p.union()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, parseError(p.input, c.pos, "expected ')'")
		}
		return n, nil
	case tokString:
		return stringNode{value: t.text}, nil
	case tokSymbol:
		if p.peek().kind != tokLParen {
			return symbolNode{name: t.text}, nil
		}
		p.next()
		call := callNode{name: t.text}
		if p.peek().kind == tokRParen {
			p.next()
			return call, nil
		}
		for {
			arg, err := p.union()
			if err != nil {
				return nil, err
			}
			call.args = append(call.args, arg)
			c := p.next()
			if c.kind == tokRParen {
				return call, nil
			}
			if c.kind != tokComma {
				return nil, parseError(p.input, c.pos, "expected ',' or ')'")
			}
		}
	case tokEOF:
		return nil, parseError(p.input, t.pos, "unexpected end of expression")
	default:
		return nil, parseError(p.input, t.pos, fmt.Sprintf("unexpected %q", t.text))
	}
}
