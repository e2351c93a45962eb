package solver

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/ohowland/cgc_dispatch/internal/pkg/formulation"
	"gonum.org/v1/gonum/mat"
	"gotest.tools/v3/assert"
)

func singlePeriodDispatch() *formulation.Program {
	return &formulation.Program{
		N:   1,
		P:   mat.NewSymDense(1, []float64{0.02}),
		Q:   []float64{2},
		Aeq: []formulation.Nonzero{{Row: 0, Col: 0, Value: -1}},
		Beq: []float64{-5},
		Lb:  []float64{0},
		Ub:  []float64{10},
	}
}

func TestSinglePeriodDispatch(t *testing.T) {
	res, err := New().Solve(context.Background(), singlePeriodDispatch(), DefaultOptions())
	assert.NilError(t, err)
	assert.Equal(t, res.Status, StatusOptimal)
	assert.DeepEqual(t, res.X, []float64{5}, cmpopts.EquateApprox(0, 1e-5))
	assert.Assert(t, math.Abs(res.Objective-10.25) < 1e-4, "objective %v", res.Objective)
}

func TestLinearProgram(t *testing.T) {
	// min x0 + 2 x1  s.t.  x0 + x1 = 1,  x1 >= 0.25,  x >= 0
	prog := &formulation.Program{
		N:   2,
		P:   mat.NewSymDense(2, nil),
		Q:   []float64{1, 2},
		Aeq: []formulation.Nonzero{{Row: 0, Col: 0, Value: 1}, {Row: 0, Col: 1, Value: 1}},
		Beq: []float64{1},
		Aub: []formulation.Nonzero{{Row: 0, Col: 1, Value: -1}},
		Bub: []float64{-0.25},
		Lb:  []float64{0, 0},
		Ub:  []float64{math.Inf(1), math.Inf(1)},
	}
	res, err := New().Solve(context.Background(), prog, Options{EpsAbs: 1e-6, EpsRel: 1e-6})
	assert.NilError(t, err)
	assert.Equal(t, res.Status, StatusOptimal)
	assert.DeepEqual(t, res.X, []float64{0.75, 0.25}, cmpopts.EquateApprox(0, 1e-3))
	assert.Assert(t, math.Abs(res.Objective-1.25) < 1e-3)
}

func TestPrimalInfeasible(t *testing.T) {
	prog := singlePeriodDispatch()
	prog.Beq = []float64{-20}
	res, err := New().Solve(context.Background(), prog, DefaultOptions())
	assert.NilError(t, err)
	assert.Equal(t, res.Status, StatusPrimalInfeasible)
	assert.Assert(t, !res.Status.Converged())
}

func TestDualInfeasible(t *testing.T) {
	prog := &formulation.Program{
		N:  1,
		P:  mat.NewSymDense(1, nil),
		Q:  []float64{-1},
		Lb: []float64{math.Inf(-1)},
		Ub: []float64{math.Inf(1)},
	}
	res, err := New().Solve(context.Background(), prog, DefaultOptions())
	assert.NilError(t, err)
	assert.Equal(t, res.Status, StatusDualInfeasible)
}

func TestIterationLimit(t *testing.T) {
	res, err := New().Solve(context.Background(), singlePeriodDispatch(), Options{MaxIter: 3})
	assert.NilError(t, err)
	assert.Equal(t, res.Status, StatusMaxIterations)
	assert.Equal(t, res.Iterations, 3)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := New().Solve(ctx, singlePeriodDispatch(), DefaultOptions())
	assert.Assert(t, errors.Is(err, context.Canceled))
	assert.Equal(t, res.Status, StatusInterrupted)
}

func TestNonConvexObjective(t *testing.T) {
	prog := singlePeriodDispatch()
	prog.P = mat.NewSymDense(1, []float64{-10})
	prog.Lb = []float64{math.Inf(-1)}
	prog.Ub = []float64{math.Inf(1)}
	prog.Aeq, prog.Beq = nil, nil
	_, err := New().Solve(context.Background(), prog, DefaultOptions())
	assert.Assert(t, errors.Is(err, ErrNotConvex))
}

func TestEmptyProgram(t *testing.T) {
	res, err := New().Solve(context.Background(), &formulation.Program{Offset: 3}, DefaultOptions())
	assert.NilError(t, err)
	assert.Equal(t, res.Status, StatusOptimal)
	assert.Equal(t, res.Objective, 3.0)

	res, err = New().Solve(context.Background(), &formulation.Program{Beq: []float64{1}}, DefaultOptions())
	assert.NilError(t, err)
	assert.Equal(t, res.Status, StatusPrimalInfeasible)
}

func TestWithDefaults(t *testing.T) {
	o := Options{Alpha: 2.5, Rho: 1}.withDefaults()
	assert.Equal(t, o.Alpha, DefaultOptions().Alpha)
	assert.Equal(t, o.Rho, 1.0)
	assert.Equal(t, o.MaxIter, DefaultOptions().MaxIter)
}
