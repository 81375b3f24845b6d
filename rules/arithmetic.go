package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Arithmetic rule text is parsed here and lowered to a CEL expression over
// doubles. Operators without a direct CEL equivalent (/, %, ^) become calls
// to the functions registered in functions.go so that division by zero and
// modulo on doubles behave as evaluation errors instead of silent Inf/NaN.

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOperator
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c) || c == '.':
			start := i
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && isDigit(src[j]) {
					i = j
					for i < len(src) && isDigit(src[i]) {
						i++
					}
				}
			}
			tokens = append(tokens, token{kind: tokNumber, text: src[start:i], pos: start})
		case isLetter(c):
			start := i
			for i < len(src) && (isLetter(src[i]) || isDigit(src[i])) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: strings.ToLower(src[start:i]), pos: start})
		case strings.IndexByte("+-*/%^", c) >= 0:
			tokens = append(tokens, token{kind: tokOperator, text: string(c), pos: i})
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(src)}), nil
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

// function arity; variadic functions receive their arguments as a CEL list
type arity struct {
	min, max int
	variadic bool
}

var arithmeticFunctions = map[string]arity{
	"abs":      {1, 1, false},
	"round":    {1, 1, false},
	"floor":    {1, 1, false},
	"ceil":     {1, 1, false},
	"sqrt":     {1, 1, false},
	"pow":      {2, 2, false},
	"digit":    {2, 2, false},
	"inrange":  {3, 3, false},
	"min":      {1, math.MaxInt, true},
	"max":      {1, math.MaxInt, true},
	"sum":      {1, math.MaxInt, true},
	"avg":      {1, math.MaxInt, true},
	"first":    {1, math.MaxInt, true},
	"second":   {1, math.MaxInt, true},
	"third":    {1, math.MaxInt, true},
	"position": {2, math.MaxInt, true},
}

var arithmeticConstants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

type parser struct {
	tokens []token
	pos    int
}

// compileArithmetic parses an arithmetic expression and returns the
// equivalent CEL source. An empty expression evaluates to 0.
func compileArithmetic(src string) (string, error) {
	if strings.TrimSpace(src) == "" {
		return celNumber(0), nil
	}

	tokens, err := tokenize(src)
	if err != nil {
		return "", err
	}

	p := &parser{tokens: tokens}
	out, err := p.expression()
	if err != nil {
		return "", err
	}
	if t := p.peek(); t.kind != tokEOF {
		return "", fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
	return out, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOperator(ops string) bool {
	t := p.peek()
	return t.kind == tokOperator && strings.Contains(ops, t.text)
}

// expression := term (('+' | '-') term)*
func (p *parser) expression() (string, error) {
	left, err := p.term()
	if err != nil {
		return "", err
	}
	for p.isOperator("+-") {
		op := p.next().text
		right, err := p.term()
		if err != nil {
			return "", err
		}
		left = "(" + left + " " + op + " " + right + ")"
	}
	return left, nil
}

// term := unary (('*' | '/' | '%') unary)*
func (p *parser) term() (string, error) {
	left, err := p.unary()
	if err != nil {
		return "", err
	}
	for p.isOperator("*/%") {
		op := p.next().text
		right, err := p.unary()
		if err != nil {
			return "", err
		}
		switch op {
		case "*":
			left = "(" + left + " * " + right + ")"
		case "/":
			left = "quot(" + left + ", " + right + ")"
		case "%":
			left = "fmod(" + left + ", " + right + ")"
		}
	}
	return left, nil
}

// unary := ('-' | '+') unary | power
// Power binds tighter than negation, so -2^2 is -(2^2).
func (p *parser) unary() (string, error) {
	if p.isOperator("+-") {
		op := p.next().text
		operand, err := p.unary()
		if err != nil {
			return "", err
		}
		if op == "-" {
			return "(-" + operand + ")", nil
		}
		return operand, nil
	}
	return p.power()
}

// power := primary ('^' unary)?
func (p *parser) power() (string, error) {
	base, err := p.primary()
	if err != nil {
		return "", err
	}
	if p.isOperator("^") {
		p.next()
		exponent, err := p.unary()
		if err != nil {
			return "", err
		}
		return "pow(" + base + ", " + exponent + ")", nil
	}
	return base, nil
}

func (p *parser) primary() (string, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return "", fmt.Errorf("invalid number %q at position %d", t.text, t.pos)
		}
		return celNumber(v), nil

	case tokLParen:
		inner, err := p.expression()
		if err != nil {
			return "", err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return "", fmt.Errorf("missing closing parenthesis at position %d", closing.pos)
		}
		return "(" + inner + ")", nil

	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.call(t)
		}
		if v, ok := arithmeticConstants[t.text]; ok {
			return celNumber(v), nil
		}
		return "", fmt.Errorf("unknown identifier %q at position %d", t.text, t.pos)

	case tokEOF:
		return "", fmt.Errorf("unexpected end of expression")

	default:
		return "", fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
}

func (p *parser) call(name token) (string, error) {
	fn, ok := arithmeticFunctions[name.text]
	if !ok {
		return "", fmt.Errorf("unknown function %q at position %d", name.text, name.pos)
	}
	p.next() // (

	var args []string
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.expression()
			if err != nil {
				return "", err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if closing := p.next(); closing.kind != tokRParen {
		return "", fmt.Errorf("missing closing parenthesis of %s at position %d", name.text, closing.pos)
	}

	if len(args) < fn.min || len(args) > fn.max {
		return "", fmt.Errorf("function %s called with %d arguments", name.text, len(args))
	}

	joined := strings.Join(args, ", ")
	if fn.variadic {
		return name.text + "([" + joined + "])", nil
	}
	return name.text + "(" + joined + ")", nil
}

// celNumber renders a CEL double literal; CEL does not mix ints and doubles
func celNumber(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
