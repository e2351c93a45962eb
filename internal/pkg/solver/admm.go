package solver

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-logr/logr"
	"github.com/ohowland/cgc_dispatch/internal/pkg/formulation"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	rhoMin        = 1e-6
	rhoMax        = 1e6
	rhoEqScale    = 1e3
	checkEvery    = 10
	adaptEvery    = 50
	adaptTrigger  = 5.0
	infBoundLimit = 1e20
)

// ADMM is an operator-splitting QP solver. Every iteration solves one linear
// system with a cached Cholesky factor of P + σI + AᵀRA.
type ADMM struct{}

// New returns an ADMM solver.
func New() *ADMM { return &ADMM{} }

type sparseRow struct {
	cols []int
	vals []float64
}

// qp is the program in the form  min ½xᵀPx + qᵀx  s.t.  l <= Ax <= u,
// with the variable bounds appended to A as identity rows.
type qp struct {
	n, m int
	P    *mat.SymDense
	q    []float64
	rows []sparseRow
	l, u []float64
}

func newQP(p *formulation.Program) *qp {
	meq, mub := len(p.Beq), len(p.Bub)
	m := meq + mub + p.N
	prob := &qp{
		n:    p.N,
		m:    m,
		P:    p.P,
		q:    p.Q,
		rows: make([]sparseRow, m),
		l:    make([]float64, m),
		u:    make([]float64, m),
	}
	for _, nz := range p.Aeq {
		r := &prob.rows[nz.Row]
		r.cols = append(r.cols, nz.Col)
		r.vals = append(r.vals, nz.Value)
	}
	for _, nz := range p.Aub {
		r := &prob.rows[meq+nz.Row]
		r.cols = append(r.cols, nz.Col)
		r.vals = append(r.vals, nz.Value)
	}
	for i, b := range p.Beq {
		prob.l[i], prob.u[i] = b, b
	}
	for i, b := range p.Bub {
		prob.l[meq+i], prob.u[meq+i] = math.Inf(-1), b
	}
	for j := 0; j < p.N; j++ {
		i := meq + mub + j
		prob.rows[i] = sparseRow{cols: []int{j}, vals: []float64{1}}
		prob.l[i], prob.u[i] = p.Lb[j], p.Ub[j]
	}
	return prob
}

func (p *qp) ax(dst, x []float64) {
	for i, r := range p.rows {
		var s float64
		for k, j := range r.cols {
			s += r.vals[k] * x[j]
		}
		dst[i] = s
	}
}

func (p *qp) aty(dst, y []float64) {
	for j := range dst {
		dst[j] = 0
	}
	for i, r := range p.rows {
		for k, j := range r.cols {
			dst[j] += r.vals[k] * y[i]
		}
	}
}

func (p *qp) px(dst, x []float64) {
	if p.P == nil {
		for j := range dst {
			dst[j] = 0
		}
		return
	}
	mat.NewVecDense(p.n, dst).MulVec(p.P, mat.NewVecDense(p.n, x))
}

func (p *qp) rhoVec(rho float64) []float64 {
	out := make([]float64, p.m)
	for i := range out {
		switch {
		case p.l[i] == p.u[i]:
			out[i] = rho * rhoEqScale
		case math.IsInf(p.l[i], -1) && math.IsInf(p.u[i], 1):
			out[i] = rhoMin
		default:
			out[i] = rho
		}
	}
	return out
}

// factor builds and factorizes P + σI + AᵀRA.
func (p *qp) factor(sigma float64, rho []float64) (*mat.Cholesky, error) {
	k := mat.NewSymDense(p.n, nil)
	if p.P != nil {
		k.CopySym(p.P)
	}
	for j := 0; j < p.n; j++ {
		k.SetSym(j, j, k.At(j, j)+sigma)
	}
	for i, r := range p.rows {
		for a, ja := range r.cols {
			for b := a; b < len(r.cols); b++ {
				jb := r.cols[b]
				k.SetSym(ja, jb, k.At(ja, jb)+rho[i]*r.vals[a]*r.vals[b])
			}
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(k); !ok {
		return nil, ErrNotConvex
	}
	return &chol, nil
}

// Solve runs ADMM until the residuals meet the tolerances, an infeasibility
// certificate appears, or a limit is reached.
func (s *ADMM) Solve(ctx context.Context, prog *formulation.Program, opts Options) (Result, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("ADMM")
	opts = opts.withDefaults()
	start := time.Now()

	if prog.N == 0 {
		return trivial(prog, start), nil
	}

	p := newQP(prog)
	rho := opts.Rho
	rhoV := p.rhoVec(rho)
	chol, err := p.factor(opts.Sigma, rhoV)
	if err != nil {
		return Result{}, err
	}

	n, m := p.n, p.m
	x, xt, xPrev, dx := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	rhs, tmpN, pxv := make([]float64, n), make([]float64, n), make([]float64, n)
	z, zt, y, yPrev := make([]float64, m), make([]float64, m), make([]float64, m), make([]float64, m)
	tmpM, dy, axv := make([]float64, m), make([]float64, m), make([]float64, m)
	sol := mat.NewVecDense(n, xt)
	res := Result{Status: StatusUnknown}

	for iter := 1; iter <= opts.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			res.Status = StatusInterrupted
			res.Iterations = iter - 1
			res.Runtime = time.Since(start)
			return res, err
		}
		if opts.TimeLimit > 0 && time.Since(start) > opts.TimeLimit {
			res.Status = StatusTimeLimit
			res.Iterations = iter - 1
			break
		}
		copy(xPrev, x)
		copy(yPrev, y)

		// rhs = σx - q + Aᵀ(Rz - y)
		for i := range tmpM {
			tmpM[i] = rhoV[i]*z[i] - y[i]
		}
		p.aty(tmpN, tmpM)
		for j := range rhs {
			rhs[j] = opts.Sigma*x[j] - p.q[j] + tmpN[j]
		}
		if err := chol.SolveVecTo(sol, mat.NewVecDense(n, rhs)); err != nil {
			return Result{}, fmt.Errorf("solver: kkt solve: %w", err)
		}
		p.ax(zt, xt)

		a := opts.Alpha
		for j := range x {
			x[j] = a*xt[j] + (1-a)*x[j]
		}
		for i := range z {
			zr := a*zt[i] + (1-a)*z[i]
			zn := clamp(zr+y[i]/rhoV[i], p.l[i], p.u[i])
			y[i] += rhoV[i] * (zr - zn)
			z[i] = zn
		}

		if iter%checkEvery != 0 && iter != opts.MaxIter {
			continue
		}
		res.Iterations = iter

		p.ax(axv, x)
		p.px(pxv, x)
		p.aty(tmpN, y)
		floats.SubTo(tmpM, axv, z)
		prim := infNorm(tmpM)
		floats.AddTo(dx, pxv, p.q)
		floats.Add(dx, tmpN)
		dual := infNorm(dx)
		res.PrimalResid, res.DualResid = prim, dual

		epsPrim := opts.EpsAbs + opts.EpsRel*math.Max(infNorm(axv), infNorm(z))
		epsDual := opts.EpsAbs + opts.EpsRel*math.Max(infNorm(pxv), math.Max(infNorm(tmpN), infNorm(p.q)))
		if prim <= epsPrim && dual <= epsDual {
			res.Status = StatusOptimal
			break
		}

		floats.SubTo(dy, y, yPrev)
		if p.primalInfeasible(dy, tmpN, opts.EpsInf) {
			res.Status = StatusPrimalInfeasible
			break
		}
		floats.SubTo(dx, x, xPrev)
		if p.dualInfeasible(dx, pxv, tmpM, opts.EpsInf) {
			res.Status = StatusDualInfeasible
			break
		}

		if iter%adaptEvery == 0 {
			ratio := (prim / math.Max(epsPrim, 1e-30)) / math.Max(dual/math.Max(epsDual, 1e-30), 1e-30)
			if ratio > adaptTrigger || ratio < 1/adaptTrigger {
				next := math.Min(math.Max(rho*math.Sqrt(ratio), rhoMin), rhoMax)
				if next != rho {
					rho = next
					rhoV = p.rhoVec(rho)
					if chol, err = p.factor(opts.Sigma, rhoV); err != nil {
						return Result{}, err
					}
					log.V(3).Info("rho update", "iter", iter, "rho", rho)
				}
			}
		}
	}
	if res.Status == StatusUnknown {
		res.Status = StatusMaxIterations
	}

	res.X = x
	res.Y = y
	res.Objective = prog.Value(x)
	res.Runtime = time.Since(start)
	log.V(1).Info("solve finished", "status", res.Status.String(), "iterations", res.Iterations,
		"objective", res.Objective, "primal", res.PrimalResid, "dual", res.DualResid, "runtime", res.Runtime)
	return res, nil
}

// primalInfeasible tests the certificate Aᵀδy = 0, uᵀδy⁺ + lᵀδy⁻ < 0.
func (p *qp) primalInfeasible(dy, scratch []float64, eps float64) bool {
	for i := range dy {
		if p.u[i] >= infBoundLimit {
			dy[i] = math.Min(dy[i], 0)
		}
		if p.l[i] <= -infBoundLimit {
			dy[i] = math.Max(dy[i], 0)
		}
	}
	norm := infNorm(dy)
	if norm < 1e-12 {
		return false
	}
	p.aty(scratch, dy)
	if infNorm(scratch) > eps*norm {
		return false
	}
	var support float64
	for i, v := range dy {
		switch {
		case v > 0:
			support += p.u[i] * v
		case v < 0:
			support += p.l[i] * v
		}
	}
	return support < -eps*norm
}

// dualInfeasible tests the certificate Pδx = 0, qᵀδx < 0, Aδx in the recession cone of [l, u].
func (p *qp) dualInfeasible(dx, scratchN, scratchM []float64, eps float64) bool {
	norm := infNorm(dx)
	if norm < 1e-12 {
		return false
	}
	p.px(scratchN, dx)
	if infNorm(scratchN) > eps*norm {
		return false
	}
	if floats.Dot(p.q, dx) > -eps*norm {
		return false
	}
	p.ax(scratchM, dx)
	for i, v := range scratchM {
		upperFree := p.u[i] >= infBoundLimit
		lowerFree := p.l[i] <= -infBoundLimit
		switch {
		case upperFree && lowerFree:
		case upperFree:
			if v < -eps*norm {
				return false
			}
		case lowerFree:
			if v > eps*norm {
				return false
			}
		default:
			if math.Abs(v) > eps*norm {
				return false
			}
		}
	}
	return true
}

// trivial handles programs without decision variables.
func trivial(prog *formulation.Program, start time.Time) Result {
	status := StatusOptimal
	for _, b := range prog.Beq {
		if b != 0 {
			status = StatusPrimalInfeasible
		}
	}
	for _, b := range prog.Bub {
		if b < 0 {
			status = StatusPrimalInfeasible
		}
	}
	return Result{
		Status:    status,
		X:         []float64{},
		Objective: prog.Value(nil),
		Runtime:   time.Since(start),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func infNorm(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, math.Inf(1))
}
