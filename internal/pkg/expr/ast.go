package expr

import (
	"sort"
	"strconv"
	"strings"
)

// Node is a parsed expression tree node.
type Node interface {
	String() string
	node()
}

// Number is a numeric literal.
type Number struct {
	Value float64
	Text  string
}

// Ident references a registered symbol.
type Ident struct{ Name string }

// Unary is a prefix + or -.
type Unary struct {
	Op string
	X  Node
}

// Binary is an infix operator: + - * / ** @ dot.
type Binary struct {
	Op   string
	X, Y Node
}

// Call applies a helper function.
type Call struct {
	Fun  string
	Args []Node
}

// IndexExpr selects entries of X.
type IndexExpr struct {
	X   Node
	Sel []Selector
}

func (*Number) node()    {}
func (*Ident) node()     {}
func (*Unary) node()     {}
func (*Binary) node()    {}
func (*Call) node()      {}
func (*IndexExpr) node() {}

func (n *Number) String() string {
	if n.Text != "" {
		return n.Text
	}
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

func (n *Ident) String() string { return n.Name }

func (n *Unary) String() string { return "(" + n.Op + n.X.String() + ")" }

func (n *Binary) String() string {
	if n.Op == "dot" {
		return "(" + n.X.String() + " dot " + n.Y.String() + ")"
	}
	return "(" + n.X.String() + " " + n.Op + " " + n.Y.String() + ")"
}

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return n.Fun + "(" + strings.Join(args, ", ") + ")"
}

func (n *IndexExpr) String() string {
	parts := make([]string, len(n.Sel))
	for i, s := range n.Sel {
		parts[i] = s.String()
	}
	return n.X.String() + "[" + strings.Join(parts, ", ") + "]"
}

// Expr is a parsed expression string, reusable across evaluation cycles.
type Expr struct {
	src  string
	root Node
}

// Source returns the original expression string.
func (e *Expr) Source() string { return e.src }

// Root returns the parsed tree.
func (e *Expr) Root() Node { return e.root }

func (e *Expr) String() string { return e.root.String() }

// Symbols returns the identifiers referenced by the expression, sorted.
func (e *Expr) Symbols() []string {
	seen := make(map[string]struct{})
	collectSymbols(e.root, seen)
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func collectSymbols(n Node, out map[string]struct{}) {
	switch v := n.(type) {
	case *Ident:
		out[v.Name] = struct{}{}
	case *Unary:
		collectSymbols(v.X, out)
	case *Binary:
		collectSymbols(v.X, out)
		collectSymbols(v.Y, out)
	case *Call:
		for _, a := range v.Args {
			collectSymbols(a, out)
		}
	case *IndexExpr:
		collectSymbols(v.X, out)
	}
}
