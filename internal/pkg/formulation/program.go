package formulation

import (
	"fmt"
	"math"

	"github.com/ohowland/cgc_dispatch/internal/pkg/expr"
	"github.com/ohowland/cgc_dispatch/internal/pkg/symbol"
	"gonum.org/v1/gonum/mat"
)

// Nonzero is one entry of a sparse constraint matrix.
type Nonzero struct {
	Row, Col int
	Value    float64
}

// RowBlock locates the rows emitted by one constraint.
type RowBlock struct {
	Name  string
	Start int
	Count int
	Shape expr.Shape
}

// Program is the numeric LP/QP handed to a solver:
//
//	minimize   ½xᵀPx + Qᵀx + Offset
//	subject to Aeq x = Beq, Aub x <= Bub, Lb <= x <= Ub
//
// A Maximize objective is stored negated; Value reports it in the declared sense.
type Program struct {
	N      int
	P      *mat.SymDense // nil when N is zero
	Q      []float64
	Offset float64
	Sense  Sense

	Aeq []Nonzero
	Beq []float64
	Aub []Nonzero
	Bub []float64

	Lb, Ub []float64

	Columns []symbol.Block
	EqRows  []RowBlock
	UbRows  []RowBlock
}

// Quadratic reports whether the objective has a quadratic term.
func (p *Program) Quadratic() bool {
	if p.P == nil {
		return false
	}
	for i := 0; i < p.N; i++ {
		for j := i; j < p.N; j++ {
			if p.P.At(i, j) != 0 {
				return true
			}
		}
	}
	return false
}

// Objective evaluates the minimized objective at x.
func (p *Program) Objective(x []float64) float64 {
	v := p.Offset
	for i, q := range p.Q {
		v += q * x[i]
	}
	if p.P != nil {
		xv := mat.NewVecDense(p.N, append([]float64(nil), x...))
		v += 0.5 * mat.Inner(xv, p.P, xv)
	}
	return v
}

// Value evaluates the objective at x in the declared sense.
func (p *Program) Value(x []float64) float64 {
	if p.Sense == Maximize {
		return -p.Objective(x)
	}
	return p.Objective(x)
}

// Block returns the column block of a variable.
func (p *Program) Block(name string) (symbol.Block, error) {
	for _, b := range p.Columns {
		if b.Name == name {
			return b, nil
		}
	}
	return symbol.Block{}, &expr.UnresolvedSymbolError{Name: name}
}

// Unflatten returns the entries of variable name as device rows: one value
// per row for (n,) variables, T values per row for (n, T) variables.
func (p *Program) Unflatten(name string, x []float64) ([][]float64, error) {
	b, err := p.Block(name)
	if err != nil {
		return nil, err
	}
	if len(x) != p.N {
		return nil, fmt.Errorf("formulation: solution length %d, want %d", len(x), p.N)
	}
	n, t := blockDims(b)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, t)
		for k := 0; k < t; k++ {
			out[i][k] = x[b.Column(i, k)]
		}
	}
	return out, nil
}

// Flatten writes device rows of variable name into x using the Unflatten layout.
func (p *Program) Flatten(name string, rows [][]float64, x []float64) error {
	b, err := p.Block(name)
	if err != nil {
		return err
	}
	if len(x) != p.N {
		return fmt.Errorf("formulation: vector length %d, want %d", len(x), p.N)
	}
	n, t := blockDims(b)
	if len(rows) != n {
		return &expr.ShapeMismatchError{Op: "flatten " + name, Left: b.Shape, Right: expr.Shape{len(rows)}}
	}
	for i, row := range rows {
		if len(row) != t {
			return &expr.ShapeMismatchError{Op: "flatten " + name, Left: b.Shape, Right: expr.Shape{len(rows), len(row)}}
		}
		for k, v := range row {
			x[b.Column(i, k)] = v
		}
	}
	return nil
}

func blockDims(b symbol.Block) (int, int) {
	if len(b.Shape) == 2 {
		return b.Shape[0], b.Shape[1]
	}
	return b.Shape[0], 1
}

// Residuals returns the worst equality violation and the worst inequality
// excess at x.
func (p *Program) Residuals(x []float64) (eq, ub float64) {
	ax := make([]float64, len(p.Beq))
	for _, nz := range p.Aeq {
		ax[nz.Row] += nz.Value * x[nz.Col]
	}
	for i, b := range p.Beq {
		eq = math.Max(eq, math.Abs(ax[i]-b))
	}
	ax = make([]float64, len(p.Bub))
	for _, nz := range p.Aub {
		ax[nz.Row] += nz.Value * x[nz.Col]
	}
	for i, b := range p.Bub {
		ub = math.Max(ub, ax[i]-b)
	}
	return eq, ub
}
