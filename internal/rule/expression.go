package rule

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// -----------------------------------------------------------------------
// AST
// -----------------------------------------------------------------------

// Expr is a boolean expression node.
type Expr interface {
	exprNode()
}

// Logical joins two expressions with AND or OR.
type Logical struct {
	Op    string // "AND" | "OR"
	Left  Expr
	Right Expr
}

// Not negates an expression.
type Not struct {
	Inner Expr
}

// Comparison is <field> <operator> <literal>. Literals may appear on the
// left; the parser normalises them to the right.
type Comparison struct {
	Field string
	Op    Operator
	Value interface{}
}

func (*Logical) exprNode()    {}
func (*Not) exprNode()        {}
func (*Comparison) exprNode() {}

// -----------------------------------------------------------------------
// Lexer
// -----------------------------------------------------------------------

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokOp
	tokString
	tokNumber
	tokBool
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

func lex(src string) ([]token, error) {
	var out []token
	for i := 0; i < len(src); {
		ch := src[i]
		switch {
		case unicode.IsSpace(rune(ch)):
			i++
		case ch == '(':
			out = append(out, token{tokLParen, "(", i})
			i++
		case ch == ')':
			out = append(out, token{tokRParen, ")", i})
			i++
		case ch == '=' || ch == '!' || ch == '<' || ch == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				out = append(out, token{tokOp, src[i : i+2], i})
				i += 2
				continue
			}
			if ch == '=' || ch == '!' {
				return nil, fmt.Errorf("unexpected %q at position %d", ch, i)
			}
			out = append(out, token{tokOp, string(ch), i})
			i++
		case ch == '"' || ch == '\'':
			s, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			out = append(out, token{tokString, s, i})
			i = next
		case unicode.IsDigit(rune(ch)) || (ch == '-' && i+1 < len(src) && (unicode.IsDigit(rune(src[i+1])) || src[i+1] == '.')) || ch == '.':
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.' || src[j] == 'e' || src[j] == 'E') {
				j++
			}
			out = append(out, token{tokNumber, src[i:j], i})
			i = j
		case unicode.IsLetter(rune(ch)) || ch == '_':
			j := i
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_' || src[j] == '.') {
				j++
			}
			word := src[i:j]
			if lw := strings.ToLower(word); lw == "true" || lw == "false" {
				out = append(out, token{tokBool, lw, i})
			} else {
				out = append(out, token{tokIdent, word, i})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
		}
	}
	return append(out, token{tokEOF, "", len(src)}), nil
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	for j := start + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			if j+1 < len(src) {
				j++
				b.WriteByte(src[j])
			}
		case quote:
			return b.String(), j + 1, nil
		default:
			b.WriteByte(src[j])
		}
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

// -----------------------------------------------------------------------
// Parser
// -----------------------------------------------------------------------

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.val, kw)
}

// Parse turns an expression such as
//
//	decision == "REJECT" AND (score >= 0.9 OR features.Amount > 10000)
//
// into an AST.
func Parse(src string) (Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", t.val, t.pos)
	}
	return e, nil
}

// or = and { "OR" and }
func (p *parser) or() (Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.next()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

// and = unary { "AND" unary }
func (p *parser) and() (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

// unary = "NOT" unary | "(" or ")" | comparison
func (p *parser) unary() (Expr, error) {
	if p.keyword("NOT") {
		p.next()
		inner, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Not{Inner: inner}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at position %d, got %q", t.pos, t.val)
		}
		return inner, nil
	}
	return p.comparison()
}

// comparison = operand op operand, exactly one side a field
func (p *parser) comparison() (Expr, error) {
	left := p.next()
	opTok := p.next()
	op, err := toOperator(opTok)
	if err != nil {
		return nil, err
	}
	right := p.next()

	switch {
	case left.kind == tokIdent && right.kind != tokIdent:
		v, err := literal(right)
		if err != nil {
			return nil, err
		}
		return &Comparison{Field: left.val, Op: op, Value: v}, nil
	case right.kind == tokIdent && left.kind != tokIdent:
		v, err := literal(left)
		if err != nil {
			return nil, err
		}
		flipped, ok := op.flip()
		if !ok {
			return nil, fmt.Errorf("operator %s needs the field on the left (position %d)", op, opTok.pos)
		}
		return &Comparison{Field: right.val, Op: flipped, Value: v}, nil
	default:
		return nil, fmt.Errorf("comparison at position %d must compare one field with one literal", left.pos)
	}
}

func toOperator(t token) (Operator, error) {
	switch {
	case t.kind == tokOp:
		return Operator(t.val), nil
	case t.kind == tokIdent && strings.EqualFold(t.val, "contains"):
		return OpContains, nil
	case t.kind == tokIdent && strings.EqualFold(t.val, "matches"):
		return OpMatches, nil
	}
	return "", fmt.Errorf("expected comparison operator at position %d, got %q", t.pos, t.val)
}

func literal(t token) (interface{}, error) {
	switch t.kind {
	case tokString:
		return t.val, nil
	case tokBool:
		return t.val == "true", nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", t.val, t.pos)
		}
		return f, nil
	}
	return nil, fmt.Errorf("expected literal at position %d, got %q", t.pos, t.val)
}
