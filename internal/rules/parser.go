// internal/rules/parser.go
package rules

import (
	"fmt"
	"strconv"
)

/*
 * Recursive-descent parser.
 *
 * Precedence, lowest to highest:
 *
 *   or < xor < and < || < ^^ < && < not < exists < comparison
 *      < additive < multiplicative < primary
 *
 * Logic operators associate to the left. Additive and multiplicative chains
 * associate to the right, so "10 - 5 - 2" parses as 10 - (5 - 2); the
 * compiler folds literals within that shape only. A comparison takes
 * exactly one operator.
 */

// Parse parses a query into an uncompiled predicate tree.
func Parse(input string) (Node, error) {
	tokens, err := Lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	if p.peek().Kind == TokEOF {
		return nil, p.errorf("empty expression")
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != TokEOF {
		return nil, p.errorf("unexpected %q", tok.Text)
	}
	return n, nil
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) peek() Token { return p.tokens[p.pos] }

func (p *parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Kind != TokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(format string, args ...any) error {
	tok := p.peek()
	return &SyntaxError{Line: tok.Line, Col: tok.Col, Msg: fmt.Sprintf(format, args...)}
}

// logicLevels lists the binary logic levels from lowest to highest precedence.
var logicLevels = []struct {
	kind     TokenKind
	op       LogicOp
	symbolic bool
}{
	{TokOr, OpOr, false},
	{TokXor, OpXor, false},
	{TokAnd, OpAnd, false},
	{TokSymOr, OpOr, true},
	{TokSymXor, OpXor, true},
	{TokSymAnd, OpAnd, true},
}

func (p *parser) parseOr() (Node, error) { return p.parseLogic(0) }

func (p *parser) parseLogic(level int) (Node, error) {
	if level == len(logicLevels) {
		return p.parseNot()
	}
	lv := logicLevels[level]
	left, err := p.parseLogic(level + 1)
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == lv.kind {
		p.next()
		right, err := p.parseLogic(level + 1)
		if err != nil {
			return nil, err
		}
		left = &LogicBinOp{Op: lv.op, Symbolic: lv.symbolic, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.peek().Kind == TokNot {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: OpNot, Operand: operand}, nil
	}
	return p.parseExists()
}

func (p *parser) parseExists() (Node, error) {
	if p.peek().Kind == TokExists {
		p.next()
		operand, err := p.parseExists()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: OpExists, Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind == TokCompare {
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &CompareBinOp{Op: tok.Compare, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	var op MathOp
	switch p.peek().Kind {
	case TokAdd:
		op = OpAdd
	case TokSub:
		op = OpSub
	default:
		return left, nil
	}
	p.next()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return &MathBinOp{Op: op, Left: left, Right: right}, nil
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	var op MathOp
	switch p.peek().Kind {
	case TokMul:
		op = OpMul
	case TokDiv:
		op = OpDiv
	case TokMod:
		op = OpMod
	default:
		return left, nil
	}
	p.next()
	right, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	return &MathBinOp{Op: op, Left: left, Right: right}, nil
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokLParen:
		p.next()
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().Kind != TokRParen {
			return nil, p.errorf("expected ')'")
		}
		p.next()
		return n, nil
	case TokLBracket:
		return p.parseList()
	case TokInt:
		p.next()
		v, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return nil, &SyntaxError{Line: tok.Line, Col: tok.Col, Msg: fmt.Sprintf("integer %s out of range", tok.Text)}
		}
		return &Integer{Value: v}, nil
	case TokFloat:
		p.next()
		v, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, &SyntaxError{Line: tok.Line, Col: tok.Col, Msg: fmt.Sprintf("bad float %s", tok.Text)}
		}
		return &Float{Value: v}, nil
	case TokString:
		p.next()
		return &Constant{Value: tok.Text}, nil
	case TokIPv4:
		p.next()
		return &IPv4{Text: tok.Text}, nil
	case TokIPv6:
		p.next()
		return &IPv6{Text: tok.Text}, nil
	case TokVariable:
		p.next()
		path, err := ParsePath(tok.Text)
		if err != nil {
			return nil, fmt.Errorf("line %d, column %d: %w", tok.Line, tok.Col, err)
		}
		return &Variable{Path: path}, nil
	case TokEOF:
		return nil, p.errorf("unexpected end of expression")
	default:
		return nil, p.errorf("unexpected %q", tok.Text)
	}
}

func (p *parser) parseList() (Node, error) {
	p.next() // [
	list := &List{}
	if p.peek().Kind == TokRBracket {
		p.next()
		return list, nil
	}
	for {
		item, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, item)
		switch p.peek().Kind {
		case TokComma:
			p.next()
		case TokRBracket:
			p.next()
			return list, nil
		default:
			return nil, p.errorf("expected ',' or ']' in list")
		}
	}
}
