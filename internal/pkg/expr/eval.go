package expr

import (
	"fmt"
)

// Scope resolves identifiers to values during evaluation.
type Scope interface {
	Lookup(name string) (Value, bool)
}

// ResolvingScope is a Scope that computes values on demand and can report
// why a known name failed to resolve. A nil error with ok false means the
// name is not in scope.
type ResolvingScope interface {
	Scope
	LookupErr(name string) (Value, bool, error)
}

func lookup(scope Scope, name string) (Value, error) {
	if rs, ok := scope.(ResolvingScope); ok {
		v, found, err := rs.LookupErr(name)
		if err != nil {
			return Value{}, err
		}
		if !found {
			return Value{}, &UnresolvedSymbolError{Name: name}
		}
		return v, nil
	}
	v, ok := scope.Lookup(name)
	if !ok {
		return Value{}, &UnresolvedSymbolError{Name: name}
	}
	return v, nil
}

// MapScope is a Scope backed by a map.
type MapScope map[string]Value

// Lookup implements Scope.
func (m MapScope) Lookup(name string) (Value, bool) {
	v, ok := m[name]
	return v, ok
}

// Evaluate parses and evaluates src against scope.
func Evaluate(src string, scope Scope) (Value, error) {
	e, err := Parse(src)
	if err != nil {
		return Value{}, err
	}
	return e.Eval(scope)
}

// Eval evaluates the parsed expression against scope.
func (e *Expr) Eval(scope Scope) (Value, error) {
	v, err := eval(e.root, scope)
	if err != nil {
		return Value{}, annotate(err, e.src)
	}
	return v, nil
}

func eval(n Node, scope Scope) (Value, error) {
	switch v := n.(type) {
	case *Number:
		return Scalar(v.Value), nil
	case *Ident:
		return lookup(scope, v.Name)
	case *Unary:
		x, err := eval(v.X, scope)
		if err != nil {
			return Value{}, err
		}
		if v.Op == "-" {
			return Neg(x), nil
		}
		return x, nil
	case *Binary:
		return evalBinary(v, scope)
	case *Call:
		return evalCall(v, scope)
	case *IndexExpr:
		x, err := eval(v.X, scope)
		if err != nil {
			return Value{}, err
		}
		return Index(x, v.Sel)
	}
	return Value{}, fmt.Errorf("expr: unknown node %T", n)
}

func evalBinary(b *Binary, scope Scope) (Value, error) {
	x, err := eval(b.X, scope)
	if err != nil {
		return Value{}, err
	}
	y, err := eval(b.Y, scope)
	if err != nil {
		return Value{}, err
	}
	var out Value
	switch b.Op {
	case "+":
		out, err = Add(x, y)
	case "-":
		out, err = Sub(x, y)
	case "*":
		out, err = Mul(x, y)
	case "/":
		out, err = Div(x, y)
	case "**":
		out, err = Pow(x, y)
	case "@":
		out, err = MatMul(x, y)
	case "dot":
		out, err = Dot(x, y)
	default:
		return Value{}, fmt.Errorf("expr: unknown operator %q", b.Op)
	}
	if err == nil {
		err = out.checkFinite()
	}
	if err != nil {
		if d, ok := err.(*NumericDomainError); ok && d.Symbol == "" {
			d.Symbol = symbolOf(b.Y)
			if b.Op != "/" {
				d.Symbol = symbolOf(b.X)
			}
		}
		return Value{}, err
	}
	return out, nil
}

func symbolOf(n Node) string {
	switch v := n.(type) {
	case *Ident:
		return v.Name
	case *IndexExpr:
		return symbolOf(v.X)
	}
	return ""
}

type function struct {
	minArgs, maxArgs int
	apply            func(args []Value) (Value, error)
}

var functions = map[string]function{
	"sum": {1, 2, func(args []Value) (Value, error) {
		if len(args) == 1 {
			return Sum(args[0], 0, true)
		}
		axis, err := intArg("sum", args[1])
		if err != nil {
			return Value{}, err
		}
		return Sum(args[0], axis, false)
	}},
	"mul":      {2, 2, func(args []Value) (Value, error) { return Mul(args[0], args[1]) }},
	"multiply": {2, 2, func(args []Value) (Value, error) { return Mul(args[0], args[1]) }},
	"power":    {2, 2, func(args []Value) (Value, error) { return Pow(args[0], args[1]) }},
	"hstack":   {1, -1, func(args []Value) (Value, error) { return Hstack(args...) }},
	"vstack":   {1, -1, func(args []Value) (Value, error) { return Vstack(args...) }},
	"transpose": {1, 1, func(args []Value) (Value, error) {
		return args[0].Transpose(), nil
	}},
}

func evalCall(c *Call, scope Scope) (Value, error) {
	fn, ok := functions[c.Fun]
	if !ok {
		return Value{}, &UnresolvedSymbolError{Name: c.Fun + "()"}
	}
	if len(c.Args) < fn.minArgs || (fn.maxArgs >= 0 && len(c.Args) > fn.maxArgs) {
		return Value{}, fmt.Errorf("expr: %s() takes %d..%d arguments, got %d: %w", c.Fun, fn.minArgs, fn.maxArgs, len(c.Args), ErrSyntax)
	}
	args := make([]Value, len(c.Args))
	for i, a := range c.Args {
		v, err := eval(a, scope)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}
	out, err := fn.apply(args)
	if err != nil {
		return Value{}, err
	}
	return out, out.checkFinite()
}

func intArg(fn string, v Value) (int, error) {
	f, err := v.Float()
	if err != nil || f != float64(int(f)) {
		return 0, &ShapeMismatchError{Op: fn, Left: v.shape, Detail: "axis must be an integer scalar"}
	}
	return int(f), nil
}
