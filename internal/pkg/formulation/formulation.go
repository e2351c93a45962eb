package formulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/go-logr/logr"
	"github.com/ohowland/cgc_dispatch/internal/pkg/expr"
	"github.com/ohowland/cgc_dispatch/internal/pkg/service"
	"github.com/ohowland/cgc_dispatch/internal/pkg/symbol"
	"gonum.org/v1/gonum/mat"
)

// ErrDuplicateConstraint is returned when two constraints share a name.
var ErrDuplicateConstraint = errors.New("duplicate constraint")

// ConstraintType selects equality or upper-bound rows.
type ConstraintType int

const (
	Eq ConstraintType = iota // expression == 0
	Uq                       // expression <= 0
)

func (t ConstraintType) String() string {
	if t == Uq {
		return "uq"
	}
	return "eq"
}

// Sense is the optimization direction.
type Sense int

const (
	Minimize Sense = iota
	Maximize
)

func (s Sense) String() string {
	if s == Maximize {
		return "max"
	}
	return "min"
}

// Constraint is a named expression compared against zero.
type Constraint struct {
	Name string
	Info string
	Type ConstraintType
	EStr string
}

// Objective is a scalar expression to minimize or maximize.
type Objective struct {
	EStr  string
	Sense Sense
}

type parsed struct {
	Constraint
	expr *expr.Expr
}

// Formulation assembles a Program from a registry, its services and the
// declared constraints and objective.
type Formulation struct {
	reg   *symbol.Registry
	graph *service.Graph

	constraints []parsed
	objective   *Objective
	objExpr     *expr.Expr
}

// New returns an empty formulation over reg and graph.
func New(reg *symbol.Registry, graph *service.Graph) *Formulation {
	return &Formulation{reg: reg, graph: graph}
}

// AddConstraint parses and appends a constraint. Rows are emitted in
// declaration order within each type.
func (f *Formulation) AddConstraint(c Constraint) error {
	for _, p := range f.constraints {
		if p.Name == c.Name {
			return fmt.Errorf("%w: %q", ErrDuplicateConstraint, c.Name)
		}
	}
	e, err := expr.Parse(c.EStr)
	if err != nil {
		return fmt.Errorf("constraint %s: %w", c.Name, err)
	}
	f.constraints = append(f.constraints, parsed{Constraint: c, expr: e})
	return nil
}

// SetConstraintExpr replaces the expression of a declared constraint.
func (f *Formulation) SetConstraintExpr(name, estr string) error {
	for i := range f.constraints {
		if f.constraints[i].Name != name {
			continue
		}
		e, err := expr.Parse(estr)
		if err != nil {
			return fmt.Errorf("constraint %s: %w", name, err)
		}
		f.constraints[i].EStr = estr
		f.constraints[i].expr = e
		return nil
	}
	return fmt.Errorf("constraint %s: %w", name, &expr.UnresolvedSymbolError{Name: name})
}

// SetObjective parses and sets the objective.
func (f *Formulation) SetObjective(o Objective) error {
	e, err := expr.Parse(o.EStr)
	if err != nil {
		return fmt.Errorf("objective: %w", err)
	}
	f.objective = &o
	f.objExpr = e
	return nil
}

// Constraints returns the declared constraints in order.
func (f *Formulation) Constraints() []Constraint {
	out := make([]Constraint, len(f.constraints))
	for i, p := range f.constraints {
		out[i] = p.Constraint
	}
	return out
}

// Objective returns the declared objective, if any.
func (f *Formulation) Objective() (Objective, bool) {
	if f.objective == nil {
		return Objective{}, false
	}
	return *f.objective, true
}

// scopes looks names up in each scope in turn.
type scopes []expr.Scope

func (s scopes) Lookup(name string) (expr.Value, bool) {
	for _, sc := range s {
		if v, ok := sc.Lookup(name); ok {
			return v, true
		}
	}
	return expr.Value{}, false
}

// LookupErr returns the first value or resolution error any scope reports.
func (s scopes) LookupErr(name string) (expr.Value, bool, error) {
	for _, sc := range s {
		rs, ok := sc.(expr.ResolvingScope)
		if !ok {
			if v, found := sc.Lookup(name); found {
				return v, true, nil
			}
			continue
		}
		v, found, err := rs.LookupErr(name)
		if err != nil || found {
			return v, found, err
		}
	}
	return expr.Value{}, false, nil
}

// Build resolves every symbol for the current cycle, materializes the
// services and compiles the constraints and objective into a Program.
// Build only reads from the provider, and not at all when the service graph
// has a cycle.
func (f *Formulation) Build(ctx context.Context) (*Program, error) {
	log := logr.FromContextOrDiscard(ctx)

	if _, err := f.graph.Validate(); err != nil {
		return nil, err
	}
	if err := f.reg.ResolveAll(); err != nil {
		return nil, err
	}
	if err := f.graph.Materialize(f.reg); err != nil {
		return nil, err
	}
	blocks, n, err := f.reg.Layout()
	if err != nil {
		return nil, err
	}
	scope := scopes{f.graph, f.reg}

	prog := &Program{N: n, Columns: blocks}
	if prog.Lb, prog.Ub, err = f.bounds(blocks, n, scope); err != nil {
		return nil, err
	}

	for _, c := range f.constraints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := c.expr.Eval(scope)
		if err != nil {
			return nil, fmt.Errorf("constraint %s: %w", c.Name, err)
		}
		if v.Degree() > 1 {
			return nil, fmt.Errorf("constraint %s: %w in %q", c.Name, expr.ErrNonlinear, c.EStr)
		}
		switch c.Type {
		case Eq:
			prog.EqRows = append(prog.EqRows, emitRows(c.Name, v, len(prog.Beq), &prog.Aeq, &prog.Beq))
		case Uq:
			prog.UbRows = append(prog.UbRows, emitRows(c.Name, v, len(prog.Bub), &prog.Aub, &prog.Bub))
		}
		log.V(2).Info("compiled constraint", "name", c.Name, "type", c.Type, "rows", v.Size(), "shape", v.Shape().String())
	}
	sortByColumn(prog.Aeq)
	sortByColumn(prog.Aub)

	if err := f.compileObjective(prog, scope); err != nil {
		return nil, err
	}
	log.V(1).Info("built program", "columns", n, "eqRows", len(prog.Beq), "ubRows", len(prog.Bub), "quadratic", prog.Quadratic())
	return prog, nil
}

func (f *Formulation) bounds(blocks []symbol.Block, n int, scope expr.Scope) ([]float64, []float64, error) {
	lb := make([]float64, n)
	ub := make([]float64, n)
	for i := range lb {
		lb[i] = math.Inf(-1)
		ub[i] = math.Inf(1)
	}
	for _, b := range blocks {
		v := b.Var
		lo, err := boundValues(v.Name, v.Lb, b.Shape, scope)
		if err != nil {
			return nil, nil, err
		}
		hi, err := boundValues(v.Name, v.Ub, b.Shape, scope)
		if err != nil {
			return nil, nil, err
		}
		for k := 0; k < b.Size(); k++ {
			if lo != nil {
				lb[b.Offset+k] = lo[k]
			}
			if hi != nil {
				ub[b.Offset+k] = hi[k]
			}
			if v.NonNeg && lb[b.Offset+k] < 0 {
				lb[b.Offset+k] = 0
			}
		}
	}
	return lb, ub, nil
}

// boundValues evaluates a bound expression broadcast to the variable shape.
func boundValues(name, estr string, shape expr.Shape, scope expr.Scope) ([]float64, error) {
	if estr == "" {
		return nil, nil
	}
	v, err := expr.Evaluate(estr, scope)
	if err != nil {
		return nil, fmt.Errorf("bound of %s: %w", name, err)
	}
	full, err := expr.Add(expr.Zeros(shape), v)
	if err != nil {
		return nil, fmt.Errorf("bound of %s: %w", name, err)
	}
	if !full.Shape().Equal(shape) {
		return nil, fmt.Errorf("bound of %s: %w", name, &expr.ShapeMismatchError{
			Op: "bound", Left: shape, Right: v.Shape(), Detail: "bound does not broadcast to the variable", Expr: estr,
		})
	}
	data, err := full.Data()
	if err != nil {
		return nil, fmt.Errorf("bound of %s: %w in %q", name, err, estr)
	}
	for k, x := range data {
		// an unbounded side is written by leaving the bound empty
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("bound of %s: %w", name, &expr.NumericDomainError{
				Expr: estr, Symbol: name, Reason: fmt.Sprintf("non-finite bound at entry %d", k),
			})
		}
	}
	return data, nil
}

// emitRows appends one row per entry of v: a·x + c (op) 0 becomes a·x (op) -c.
func emitRows(name string, v expr.Value, start int, a *[]Nonzero, b *[]float64) RowBlock {
	for k := 0; k < v.Size(); k++ {
		p := v.Entry(k)
		row := start + k
		for _, col := range p.Columns() {
			*a = append(*a, Nonzero{Row: row, Col: col, Value: p.L[col]})
		}
		rhs := -p.C
		if rhs == 0 {
			rhs = 0 // no negative zero
		}
		*b = append(*b, rhs)
	}
	return RowBlock{Name: name, Start: start, Count: v.Size(), Shape: v.Shape()}
}

func sortByColumn(nz []Nonzero) {
	sort.Slice(nz, func(i, j int) bool {
		if nz[i].Col != nz[j].Col {
			return nz[i].Col < nz[j].Col
		}
		return nz[i].Row < nz[j].Row
	})
}

func (f *Formulation) compileObjective(prog *Program, scope expr.Scope) error {
	prog.Q = make([]float64, prog.N)
	if prog.N > 0 {
		prog.P = mat.NewSymDense(prog.N, nil)
	}
	if f.objective == nil {
		return nil
	}
	prog.Sense = f.objective.Sense
	v, err := f.objExpr.Eval(scope)
	if err != nil {
		return fmt.Errorf("objective: %w", err)
	}
	if v.Size() != 1 {
		return fmt.Errorf("objective: %w", &expr.ShapeMismatchError{
			Op: "objective", Left: v.Shape(), Detail: "objective must be a scalar", Expr: f.objective.EStr,
		})
	}
	sign := 1.0
	if f.objective.Sense == Maximize {
		sign = -1
	}
	p := v.Entry(0)
	prog.Offset = sign * p.C
	for _, col := range p.Columns() {
		prog.Q[col] = sign * p.L[col]
	}
	for _, pair := range p.Pairs() {
		c := sign * p.Q[pair]
		if pair.I == pair.J {
			c *= 2
		}
		prog.P.SetSym(pair.I, pair.J, c)
	}
	return nil
}
