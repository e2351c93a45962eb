package service

import (
	"errors"
	"testing"

	"github.com/ohowland/cgc_dispatch/internal/pkg/expr"
	"github.com/ohowland/cgc_dispatch/internal/pkg/symbol"
	"gotest.tools/v3/assert"
)

type mapSource map[string]expr.Value

func (m mapSource) Resolve(name string) (expr.Value, error) {
	v, ok := m[name]
	if !ok {
		return expr.Value{}, &expr.UnresolvedSymbolError{Name: name}
	}
	return v, nil
}

// countingFunc records how often a service body runs.
func countingFunc(n *int) UnaryFunc {
	return func(v expr.Value) (expr.Value, error) {
		*n++
		return v, nil
	}
}

func rows(t *testing.T, v expr.Value) []float64 {
	t.Helper()
	d, err := v.Data()
	assert.NilError(t, err)
	return d
}

func TestCycleDetectedBeforeEvaluation(t *testing.T) {
	var calls int
	g := NewGraph()
	assert.NilError(t, g.Add(&NumOp{ID: "A", U: "B", Fun: countingFunc(&calls)}, false))
	assert.NilError(t, g.Add(&NumOp{ID: "B", U: "A", Fun: countingFunc(&calls)}, false))
	assert.NilError(t, g.Add(&NumOp{ID: "C", U: "x", Fun: countingFunc(&calls)}, false))

	err := g.Materialize(mapSource{"x": expr.Scalar(1)})
	var cycle *DependencyCycleError
	assert.Assert(t, errors.As(err, &cycle))
	assert.Assert(t, errors.Is(err, ErrCycle))
	assert.DeepEqual(t, cycle.Path, []string{"A", "B", "A"})
	assert.Equal(t, calls, 0)
	_, ok := g.Lookup("C")
	assert.Assert(t, !ok)
}

func TestSelfCycle(t *testing.T) {
	g := NewGraph()
	assert.NilError(t, g.Add(&NumOp{ID: "A", U: "A", Fun: Negate}, false))
	_, err := g.Validate()
	assert.Assert(t, errors.Is(err, ErrCycle))
}

func TestMaterializeMemoizesInDependencyOrder(t *testing.T) {
	var calls int
	g := NewGraph()
	// registered before its input
	assert.NilError(t, g.Add(&NumOpDual{ID: "sum2", U: "neg", U2: "neg", Fun: Add}, false))
	assert.NilError(t, g.Add(&NumOp{ID: "neg", U: "x", Fun: func(v expr.Value) (expr.Value, error) {
		calls++
		return Negate(v)
	}}, false))

	src := mapSource{"x": expr.Vector([]float64{1, 2})}
	assert.NilError(t, g.Materialize(src))
	assert.NilError(t, g.Materialize(src))
	assert.Equal(t, calls, 1)

	v, ok := g.Lookup("sum2")
	assert.Assert(t, ok)
	assert.DeepEqual(t, rows(t, v), []float64{-2, -4})

	g.Reset()
	_, ok = g.Lookup("sum2")
	assert.Assert(t, !ok)
	assert.NilError(t, g.Materialize(src))
	assert.Equal(t, calls, 2)
}

func TestDuplicateService(t *testing.T) {
	g := NewGraph()
	assert.NilError(t, g.Add(&NumOp{ID: "A", U: "x", Fun: Negate}, false))
	err := g.Add(&RampSub{ID: "A", U: "x"}, false)
	assert.Assert(t, errors.Is(err, ErrDuplicateService))
}

func TestHiddenServiceNotInScope(t *testing.T) {
	g := NewGraph()
	assert.NilError(t, g.Add(&NumOp{ID: "h", U: "x", Fun: Negate}, true))
	assert.NilError(t, g.Materialize(mapSource{"x": expr.Scalar(2)}))
	_, ok := g.Lookup("h")
	assert.Assert(t, !ok)
	v, err := g.Resolve("h")
	assert.NilError(t, err)
	assert.DeepEqual(t, rows(t, v), []float64{-2})
}

func TestReciprocalDomainError(t *testing.T) {
	g := NewGraph()
	assert.NilError(t, g.Add(&NumOp{ID: "REtaD", U: "EtaD", Fun: Reciprocal}, false))
	err := g.Materialize(mapSource{"EtaD": expr.Vector([]float64{0.9, 0})})
	assert.Assert(t, errors.Is(err, expr.ErrNumericDomain))
	var evalErr *EvalError
	assert.Assert(t, errors.As(err, &evalErr))
	assert.Equal(t, evalErr.Service, "REtaD")
}

func TestMissingInput(t *testing.T) {
	g := NewGraph()
	assert.NilError(t, g.Add(&NumOp{ID: "A", U: "nope", Fun: Negate}, false))
	err := g.Materialize(mapSource{})
	assert.Assert(t, errors.Is(err, expr.ErrUnresolvedSymbol))
}

func TestRampSub(t *testing.T) {
	m := RampMatrix(3)
	assert.DeepEqual(t, m.Shape(), expr.Shape{3, 2})
	assert.DeepEqual(t, rows(t, m), []float64{
		-1, 0,
		1, -1,
		0, 1,
	})

	x := expr.Matrix(2, 3, []float64{1, 4, 9, 2, 2, 5})
	d, err := expr.MatMul(x, m)
	assert.NilError(t, err)
	assert.DeepEqual(t, rows(t, d), []float64{3, 5, 0, 3})

	assert.DeepEqual(t, RampMatrix(1).Shape(), expr.Shape{1, 0})

	s := &RampSub{ID: "Mr", U: "pg"}
	v, err := s.Eval([]expr.Value{expr.Variable(0, expr.Shape{2, 4})})
	assert.NilError(t, err)
	assert.DeepEqual(t, v.Shape(), expr.Shape{4, 3})
}

func TestNumHstack(t *testing.T) {
	s := &NumHstack{ID: "RR30", U: "R30", Ref: "Mr"}
	v, err := s.Eval([]expr.Value{expr.Vector([]float64{1, 2}), RampMatrix(4)})
	assert.NilError(t, err)
	assert.DeepEqual(t, v.Shape(), expr.Shape{2, 3})
	assert.DeepEqual(t, rows(t, v), []float64{1, 1, 1, 2, 2, 2})

	_, err = s.Eval([]expr.Value{expr.Matrix(2, 2, []float64{1, 2, 3, 4}), RampMatrix(4)})
	assert.Assert(t, errors.Is(err, expr.ErrShapeMismatch))
}

func TestLoadScale(t *testing.T) {
	s := &LoadScale{ID: "pds", U: "pd", Sd: "sd"}
	v, err := s.Eval([]expr.Value{expr.Vector([]float64{2, 4}), expr.Vector([]float64{1, 0.5, 1.5})})
	assert.NilError(t, err)
	assert.DeepEqual(t, v.Shape(), expr.Shape{2, 3})
	assert.DeepEqual(t, rows(t, v), []float64{2, 1, 3, 4, 2, 6})
}

func TestNumOpDualAppliesRFunToFirstOperand(t *testing.T) {
	s := &NumOpDual{ID: "d", U: "a", U2: "b", Fun: Subtract, RFun: Negate}
	v, err := s.Eval([]expr.Value{expr.Vector([]float64{1, 2}), expr.Vector([]float64{10, 20})})
	assert.NilError(t, err)
	assert.DeepEqual(t, rows(t, v), []float64{-11, -22})
}

func TestTimeLengthVector(t *testing.T) {
	s := &NumOp{ID: "tlv", U: "timeslot", Fun: OnesLike, ExpandDims: symbol.ExpandRow}
	v, err := s.Eval([]expr.Value{expr.Vector([]float64{0.8, 1, 1.2})})
	assert.NilError(t, err)
	assert.DeepEqual(t, v.Shape(), expr.Shape{1, 3})
	assert.DeepEqual(t, rows(t, v), []float64{1, 1, 1})

	sr, err := SumRows(expr.Matrix(2, 2, []float64{1, 2, 3, 4}))
	assert.NilError(t, err)
	assert.DeepEqual(t, rows(t, sr), []float64{3, 7})
}

func TestSumColumns(t *testing.T) {
	v, err := SumColumns(expr.Matrix(2, 3, []float64{1, 2, 3, 4, 5, 6}))
	assert.NilError(t, err)
	assert.DeepEqual(t, rows(t, v), []float64{5, 7, 9})
}

func TestTransposeSeries(t *testing.T) {
	v, err := TransposeSeries(expr.Matrix(3, 2, []float64{1, 0, 1, 1, 0, 1}))
	assert.NilError(t, err)
	assert.DeepEqual(t, v.Shape(), expr.Shape{2, 3})
	assert.DeepEqual(t, rows(t, v), []float64{1, 1, 0, 0, 1, 1})

	one, err := TransposeSeries(expr.Vector([]float64{1, 1, 0}))
	assert.NilError(t, err)
	assert.DeepEqual(t, one.Shape(), expr.Shape{1, 3})

	_, err = TransposeSeries(expr.Scalar(1))
	assert.Assert(t, errors.Is(err, expr.ErrShapeMismatch))
}

func TestNonFiniteServiceOutputRejected(t *testing.T) {
	g := NewGraph()
	assert.NilError(t, g.Add(&NumOp{ID: "RTiny", U: "tiny", Fun: Reciprocal}, false))
	err := g.Materialize(mapSource{"tiny": expr.Vector([]float64{1e-310})})
	assert.Assert(t, errors.Is(err, expr.ErrNumericDomain))
	var domain *expr.NumericDomainError
	assert.Assert(t, errors.As(err, &domain))
	assert.Equal(t, domain.Symbol, "RTiny")
	_, ok := g.Lookup("RTiny")
	assert.Assert(t, !ok)
}
