package expr

import "fmt"

// Parse builds an expression tree from src.
//
// Precedence from loosest to tightest: binary + -, then * / @ dot, then
// unary + -, then ** (right associative), then calls and indexing.
func Parse(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	if p.peek().kind == tEOF {
		return nil, p.errorf("empty expression")
	}
	root, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tEOF {
		return nil, p.errorf("unexpected %q", t.text)
	}
	return &Expr{src: src, root: root}, nil
}

// MustParse is Parse for expressions fixed at compile time.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &SyntaxError{Expr: p.src, Pos: p.peek().pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(k tokenKind, text string) error {
	if p.peek().kind != k {
		return p.errorf("expected %q", text)
	}
	p.next()
	return nil
}

func (p *parser) isOp(ops ...string) bool {
	t := p.peek()
	if t.kind != tOp {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.next().text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, X: left, Y: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/", "@", "dot") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, X: left, Y: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.isOp("-", "+") {
		op := p.next().text
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: op, X: x}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (Node, error) {
	base, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.isOp("**") {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Binary{Op: "**", X: base, Y: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePostfix() (Node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tLParen:
			id, ok := x.(*Ident)
			if !ok {
				return nil, p.errorf("only named functions can be called")
			}
			p.next()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			x = &Call{Fun: id.Name, Args: args}
		case tLBrack:
			p.next()
			sel, err := p.parseSelectors()
			if err != nil {
				return nil, err
			}
			x = &IndexExpr{X: x, Sel: sel}
		default:
			return x, nil
		}
	}
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()
	switch t.kind {
	case tNumber:
		p.next()
		return &Number{Value: t.num, Text: t.text}, nil
	case tIdent:
		p.next()
		return &Ident{Name: t.text}, nil
	case tLParen:
		p.next()
		x, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tRParen, ")"); err != nil {
			return nil, err
		}
		return x, nil
	case tEOF:
		return nil, p.errorf("unexpected end of expression")
	}
	return nil, p.errorf("unexpected %q", t.text)
}

func (p *parser) parseArgs() ([]Node, error) {
	var args []Node
	if p.peek().kind == tRParen {
		p.next()
		return args, nil
	}
	for {
		a, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.peek().kind == tComma {
			p.next()
			continue
		}
		if err := p.expect(tRParen, ")"); err != nil {
			return nil, err
		}
		return args, nil
	}
}

func (p *parser) parseSelectors() ([]Selector, error) {
	var sel []Selector
	for {
		s, err := p.parseSelector()
		if err != nil {
			return nil, err
		}
		sel = append(sel, s)
		if p.peek().kind == tComma {
			p.next()
			continue
		}
		if err := p.expect(tRBrack, "]"); err != nil {
			return nil, err
		}
		return sel, nil
	}
}

func (p *parser) parseSelector() (Selector, error) {
	var s Selector
	if p.peek().kind != tColon {
		i, err := p.parseInt()
		if err != nil {
			return s, err
		}
		if p.peek().kind != tColon {
			return Selector{Index: i}, nil
		}
		s.Start = &i
	}
	p.next() // ':'
	s.Slice = true
	if k := p.peek().kind; k == tNumber || (k == tOp && p.isOp("-", "+")) {
		i, err := p.parseInt()
		if err != nil {
			return s, err
		}
		s.Stop = &i
	}
	return s, nil
}

func (p *parser) parseInt() (int, error) {
	sign := 1
	if p.isOp("-", "+") {
		if p.next().text == "-" {
			sign = -1
		}
	}
	t := p.peek()
	if t.kind != tNumber || t.num != float64(int(t.num)) {
		return 0, p.errorf("expected integer index")
	}
	p.next()
	return sign * int(t.num), nil
}
