package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"unicode"
)

// Calculator evaluates arithmetic over numeric literals with + - * / ** and unary minus.
type Calculator struct{}

func (Calculator) Name() string {
	return "calculator"
}

func (Calculator) Description() string {
	return "Performs mathematical calculations. Supports +, -, *, /, ** and parentheses."
}

func (Calculator) Parameters() []Parameter {
	return []Parameter{
		{
			Name:        "expression",
			Type:        TypeString,
			Description: "Mathematical expression to evaluate (e.g., '2 + 2', '10 * 5')",
			Required:    true,
		},
	}
}

func (Calculator) Invoke(_ context.Context, args map[string]any) (any, error) {
	expression, _ := args["expression"].(string)

	result, err := Evaluate(expression)
	if err != nil {
		return nil, &InvocationError{
			Message: err.Error(),
			Details: map[string]any{"expression": expression},
		}
	}

	return map[string]any{"result": result, "expression": expression}, nil
}

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrOutOfRange     = errors.New("result out of range")
)

// Evaluate parses and computes expression. Exponentiation is right associative
// and binds tighter than unary minus, so -2 ** 2 is -4.
func Evaluate(expression string) (float64, error) {
	tokens, err := tokenize(expression)
	if err != nil {
		return 0, err
	}

	p := &parser{tokens: tokens}

	value, err := p.expression()
	if err != nil {
		return 0, err
	}

	if tok := p.peek(); tok.kind != tokenEOF {
		return 0, fmt.Errorf("unexpected %q at position %d", tok.text, tok.pos)
	}

	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, ErrOutOfRange
	}

	return value, nil
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenOperator
	tokenLParen
	tokenRParen
)

type token struct {
	kind  tokenKind
	text  string
	value float64
	pos   int
}

func tokenize(expression string) ([]token, error) {
	var tokens []token

	runes := []rune(expression)

	for i := 0; i < len(runes); {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || r == '.':
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}

			text := string(runes[start:i])

			value, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", text, start)
			}

			tokens = append(tokens, token{kind: tokenNumber, text: text, value: value, pos: start})
		case r == '*' && i+1 < len(runes) && runes[i+1] == '*':
			tokens = append(tokens, token{kind: tokenOperator, text: "**", pos: i})
			i += 2
		case r == '+' || r == '-' || r == '*' || r == '/':
			tokens = append(tokens, token{kind: tokenOperator, text: string(r), pos: i})
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: i})
			i++
		default:
			return nil, fmt.Errorf("unsupported character %q at position %d", r, i)
		}
	}

	return append(tokens, token{kind: tokenEOF, pos: len(runes)}), nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}

	return tok
}

func (p *parser) acceptOperator(ops ...string) (string, bool) {
	tok := p.peek()
	if tok.kind != tokenOperator {
		return "", false
	}

	for _, op := range ops {
		if tok.text == op {
			p.pos++

			return op, true
		}
	}

	return "", false
}

// expression := term (('+' | '-') term)*
func (p *parser) expression() (float64, error) {
	left, err := p.term()
	if err != nil {
		return 0, err
	}

	for {
		op, ok := p.acceptOperator("+", "-")
		if !ok {
			return left, nil
		}

		right, err := p.term()
		if err != nil {
			return 0, err
		}

		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
}

// term := unary (('*' | '/') unary)*
func (p *parser) term() (float64, error) {
	left, err := p.unary()
	if err != nil {
		return 0, err
	}

	for {
		op, ok := p.acceptOperator("*", "/")
		if !ok {
			return left, nil
		}

		right, err := p.unary()
		if err != nil {
			return 0, err
		}

		if op == "*" {
			left *= right

			continue
		}

		if right == 0 {
			return 0, ErrDivisionByZero
		}

		left /= right
	}
}

// unary := '-' unary | power
func (p *parser) unary() (float64, error) {
	if _, ok := p.acceptOperator("-"); ok {
		value, err := p.unary()

		return -value, err
	}

	return p.power()
}

// power := primary ('**' unary)?
func (p *parser) power() (float64, error) {
	base, err := p.primary()
	if err != nil {
		return 0, err
	}

	if _, ok := p.acceptOperator("**"); !ok {
		return base, nil
	}

	exponent, err := p.unary()
	if err != nil {
		return 0, err
	}

	if base == 0 && exponent < 0 {
		return 0, ErrDivisionByZero
	}

	return math.Pow(base, exponent), nil
}

// primary := number | '(' expression ')'
func (p *parser) primary() (float64, error) {
	tok := p.next()

	switch tok.kind {
	case tokenNumber:
		return tok.value, nil
	case tokenLParen:
		value, err := p.expression()
		if err != nil {
			return 0, err
		}

		if closing := p.next(); closing.kind != tokenRParen {
			return 0, fmt.Errorf("expected ')' at position %d", closing.pos)
		}

		return value, nil
	case tokenEOF:
		return 0, errors.New("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected %q at position %d", tok.text, tok.pos)
	}
}
