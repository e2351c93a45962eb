package symbol

import (
	"errors"
	"fmt"

	"github.com/ohowland/cgc_dispatch/internal/pkg/expr"
)

// ErrDuplicateSymbol is returned when a name is declared twice.
var ErrDuplicateSymbol = errors.New("duplicate symbol")

// ErrHorizon is returned when a variable horizon cannot be sized.
var ErrHorizon = errors.New("invalid horizon")

// Kind distinguishes parameters from decision variables.
type Kind int

const (
	KindParam Kind = iota
	KindVar
)

func (k Kind) String() string {
	if k == KindVar {
		return "var"
	}
	return "param"
}

// Expand inserts a unit axis into a resolved rank-1 parameter.
type Expand int

const (
	ExpandNone Expand = iota
	ExpandRow         // (n,) -> (1, n)
	ExpandCol         // (n,) -> (n, 1)
)

// Symbol is a declaration the registry can hold.
type Symbol interface {
	SymbolName() string
	SymbolKind() Kind
}

// Param is a numeric input. Resolution order: Expr, then the Src attribute of
// the Model group, then the system matrix named Src when Model is empty.
type Param struct {
	Name string
	Info string
	Unit string

	Model string // source group
	Src   string // source attribute; defaults to Name
	Expr  string // literal expression, overrides Model/Src

	// Indexer and IModel reorder rows of Model so that row i is the device
	// whose Indexer reference equals the i-th idx of IModel.
	Indexer string
	IModel  string

	ExpandDims Expand

	// NoParse keeps the value out of the expression scope. Services and
	// horizons can still read it.
	NoParse bool
}

// SymbolName implements Symbol.
func (p *Param) SymbolName() string { return p.Name }

// SymbolKind implements Symbol.
func (p *Param) SymbolKind() Kind { return KindParam }

func (p *Param) source() string {
	if p.Src != "" {
		return p.Src
	}
	return p.Name
}

// Var is a decision variable sized by its owner group. Horizon names a
// parameter whose row count T promotes the variable to shape (n, T).
type Var struct {
	Name string
	Info string
	Unit string

	Model string // owner group, sizes the variable
	Src   string // owner attribute written back on unpack; empty skips write-back

	Lb, Ub  string // bound expressions, empty means unbounded
	NonNeg  bool
	Horizon string
}

// SymbolName implements Symbol.
func (v *Var) SymbolName() string { return v.Name }

// SymbolKind implements Symbol.
func (v *Var) SymbolKind() Kind { return KindVar }

// Block locates a variable in the flattened decision vector.
type Block struct {
	Name   string
	Offset int
	Shape  expr.Shape
	Var    *Var
}

// Size returns the number of decision entries in the block.
func (b Block) Size() int { return b.Shape.Size() }

// Column returns the decision-vector column of entry (i, t). Rank-1 blocks ignore t.
func (b Block) Column(i, t int) int {
	if len(b.Shape) == 2 {
		return b.Offset + i*b.Shape[1] + t
	}
	return b.Offset + i
}

func (b Block) String() string {
	return fmt.Sprintf("%s%s@%d", b.Name, b.Shape, b.Offset)
}
