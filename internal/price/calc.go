package price

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/pricewatch/price-scraper/internal/steps"
)

// EvalCalculation evaluates a per-item calculation expression against the
// raw price and the declared variables, e.g. "price / {quantity}". The
// grammar is deliberately small (numbers, named variables, + - * / and
// parentheses) so configs cannot smuggle arbitrary code through a
// calculation field.
func EvalCalculation(expr string, rawPrice float64, vars map[string]float64) (float64, error) {
	bindings := map[string]float64{"price": rawPrice}
	for name, v := range vars {
		bindings[name] = v
	}

	// Placeholder syntax {quantity} and bare identifiers are equivalent.
	expr = strings.NewReplacer("{", " ", "}", " ").Replace(expr)

	p := &calcParser{input: expr, vars: bindings}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("%w: unexpected %q in calculation", steps.ErrConfigInvalid, p.input[p.pos:])
	}
	return v, nil
}

type calcParser struct {
	input string
	pos   int
	vars  map[string]float64
}

func (p *calcParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *calcParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

// expr = term (('+'|'-') term)*
func (p *calcParser) parseExpr() (float64, error) {
	v, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			v += rhs
		case '-':
			p.pos++
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			v -= rhs
		default:
			return v, nil
		}
	}
}

// term = factor (('*'|'/') factor)*
func (p *calcParser) parseTerm() (float64, error) {
	v, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			rhs, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			v *= rhs
		case '/':
			p.pos++
			rhs, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("%w: division by zero in calculation", steps.ErrConfigInvalid)
			}
			v /= rhs
		default:
			return v, nil
		}
	}
}

// factor = number | identifier | '(' expr ')' | '-' factor
func (p *calcParser) parseFactor() (float64, error) {
	switch c := p.peek(); {
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("%w: missing closing parenthesis in calculation", steps.ErrConfigInvalid)
		}
		p.pos++
		return v, nil
	case c == '-':
		p.pos++
		v, err := p.parseFactor()
		return -v, err
	case c >= '0' && c <= '9' || c == '.':
		start := p.pos
		for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
			p.pos++
		}
		v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad number in calculation: %v", steps.ErrConfigInvalid, err)
		}
		return v, nil
	case unicode.IsLetter(rune(c)) || c == '_':
		start := p.pos
		for p.pos < len(p.input) {
			r := rune(p.input[p.pos])
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
				break
			}
			p.pos++
		}
		name := p.input[start:p.pos]
		v, ok := p.vars[name]
		if !ok {
			return 0, fmt.Errorf("%w: unknown variable %q in calculation", steps.ErrConfigInvalid, name)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("%w: unexpected character %q in calculation", steps.ErrConfigInvalid, string(c))
	}
}
