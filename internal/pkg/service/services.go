package service

import (
	"fmt"

	"github.com/ohowland/cgc_dispatch/internal/pkg/expr"
	"github.com/ohowland/cgc_dispatch/internal/pkg/symbol"
)

// Service is a derived quantity computed from named inputs. Inputs may be
// registry symbols or other services.
type Service interface {
	Name() string
	Info() string
	Inputs() []string
	Eval(in []expr.Value) (expr.Value, error)
}

func expand(v expr.Value, e symbol.Expand) (expr.Value, error) {
	switch e {
	case symbol.ExpandRow:
		return v.ExpandDims(0)
	case symbol.ExpandCol:
		return v.ExpandDims(1)
	}
	return v, nil
}

// NumOp applies a unary function to U.
type NumOp struct {
	ID         string
	Desc       string
	U          string
	Fun        UnaryFunc
	ExpandDims symbol.Expand
}

func (s *NumOp) Name() string     { return s.ID }
func (s *NumOp) Info() string     { return s.Desc }
func (s *NumOp) Inputs() []string { return []string{s.U} }

func (s *NumOp) Eval(in []expr.Value) (expr.Value, error) {
	v, err := s.Fun(in[0])
	if err != nil {
		return expr.Value{}, err
	}
	return expand(v, s.ExpandDims)
}

// NumOpDual combines U and U2 with Fun. RFun, when set, is applied to U first.
type NumOpDual struct {
	ID         string
	Desc       string
	U, U2      string
	Fun        BinaryFunc
	RFun       UnaryFunc
	ExpandDims symbol.Expand
}

func (s *NumOpDual) Name() string     { return s.ID }
func (s *NumOpDual) Info() string     { return s.Desc }
func (s *NumOpDual) Inputs() []string { return []string{s.U, s.U2} }

func (s *NumOpDual) Eval(in []expr.Value) (expr.Value, error) {
	a := in[0]
	if s.RFun != nil {
		var err error
		if a, err = s.RFun(a); err != nil {
			return expr.Value{}, err
		}
	}
	v, err := s.Fun(a, in[1])
	if err != nil {
		return expr.Value{}, err
	}
	return expand(v, s.ExpandDims)
}

// NumHstack repeats the column U once per column of Ref. A rank-1 Ref counts
// its length as columns.
type NumHstack struct {
	ID   string
	Desc string
	U    string
	Ref  string
}

func (s *NumHstack) Name() string     { return s.ID }
func (s *NumHstack) Info() string     { return s.Desc }
func (s *NumHstack) Inputs() []string { return []string{s.U, s.Ref} }

func (s *NumHstack) Eval(in []expr.Value) (expr.Value, error) {
	u, ref := in[0], in[1]
	shape := u.Shape()
	switch {
	case len(shape) == 1:
	case len(shape) == 2 && shape[1] == 1:
		var err error
		if u, err = u.Reshape(expr.Shape{shape[0]}); err != nil {
			return expr.Value{}, err
		}
	default:
		return expr.Value{}, &expr.ShapeMismatchError{Op: "hstack " + s.ID, Left: shape, Detail: "expected a column"}
	}
	rs := ref.Shape()
	cols := 1
	switch len(rs) {
	case 1:
		cols = rs[0]
	case 2:
		cols = rs[1]
	}
	col, err := u.ExpandDims(1)
	if err != nil {
		return expr.Value{}, err
	}
	if cols == 0 {
		return expr.Zeros(expr.Shape{shape[0], 0}), nil
	}
	parts := make([]expr.Value, cols)
	for i := range parts {
		parts[i] = col
	}
	return expr.Hstack(parts...)
}

// RampSub builds the T x (T-1) subtraction matrix M with M[t,t] = -1 and
// M[t+1,t] = 1, so (x @ M)[:, t] = x[:, t+1] - x[:, t]. T is the column count
// of a rank-2 U or the length of a rank-1 U.
type RampSub struct {
	ID   string
	Desc string
	U    string
}

func (s *RampSub) Name() string     { return s.ID }
func (s *RampSub) Info() string     { return s.Desc }
func (s *RampSub) Inputs() []string { return []string{s.U} }

func (s *RampSub) Eval(in []expr.Value) (expr.Value, error) {
	shape := in[0].Shape()
	var n int
	switch len(shape) {
	case 1:
		n = shape[0]
	case 2:
		n = shape[1]
	default:
		return expr.Value{}, &expr.ShapeMismatchError{Op: "ramp " + s.ID, Left: shape, Detail: "needs a horizon axis"}
	}
	return RampMatrix(n), nil
}

// RampMatrix returns the T x (T-1) subtraction matrix.
func RampMatrix(n int) expr.Value {
	if n < 2 {
		return expr.Zeros(expr.Shape{n, 0})
	}
	cols := n - 1
	data := make([]float64, n*cols)
	for t := 0; t < cols; t++ {
		data[t*cols+t] = -1
		data[(t+1)*cols+t] = 1
	}
	return expr.Matrix(n, cols, data)
}

// LoadScale scales the load vector U by the per-slot factor Sd: out[i, t] = U[i] * Sd[t].
type LoadScale struct {
	ID   string
	Desc string
	U    string
	Sd   string
}

func (s *LoadScale) Name() string     { return s.ID }
func (s *LoadScale) Info() string     { return s.Desc }
func (s *LoadScale) Inputs() []string { return []string{s.U, s.Sd} }

func (s *LoadScale) Eval(in []expr.Value) (expr.Value, error) {
	u, sd := in[0], in[1]
	if u.Rank() != 1 {
		return expr.Value{}, &expr.ShapeMismatchError{Op: "loadscale " + s.ID, Left: u.Shape(), Detail: "load must be a vector"}
	}
	factors, err := slotFactors(sd)
	if err != nil {
		return expr.Value{}, fmt.Errorf("loadscale %s: %w", s.ID, err)
	}
	col, err := u.ExpandDims(1)
	if err != nil {
		return expr.Value{}, err
	}
	row, err := factors.ExpandDims(0)
	if err != nil {
		return expr.Value{}, err
	}
	return expr.Mul(col, row)
}

// slotFactors flattens a (T,) or (T, 1) factor array to (T,).
func slotFactors(sd expr.Value) (expr.Value, error) {
	shape := sd.Shape()
	switch {
	case len(shape) == 1:
		return sd, nil
	case len(shape) == 2 && shape[1] == 1:
		return sd.Reshape(expr.Shape{shape[0]})
	}
	return expr.Value{}, &expr.ShapeMismatchError{Op: "slot factors", Left: shape, Detail: "expected one factor per slot"}
}

// ExpandDims inserts a unit axis into U.
type ExpandDims struct {
	ID   string
	Desc string
	U    string
	Axis symbol.Expand
}

func (s *ExpandDims) Name() string     { return s.ID }
func (s *ExpandDims) Info() string     { return s.Desc }
func (s *ExpandDims) Inputs() []string { return []string{s.U} }

func (s *ExpandDims) Eval(in []expr.Value) (expr.Value, error) {
	if s.Axis == symbol.ExpandNone {
		return in[0], nil
	}
	return expand(in[0], s.Axis)
}
