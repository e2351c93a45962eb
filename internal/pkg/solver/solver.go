// Package solver solves the convex QPs produced by the formulation package.
package solver

import (
	"context"
	"errors"
	"time"

	"github.com/ohowland/cgc_dispatch/internal/pkg/formulation"
)

// ErrNotConvex is returned when the objective Hessian is not positive semidefinite.
var ErrNotConvex = errors.New("objective is not convex")

// Status is the outcome of a solve.
type Status int

const (
	StatusUnknown Status = iota
	StatusOptimal
	StatusPrimalInfeasible
	StatusDualInfeasible
	StatusMaxIterations
	StatusTimeLimit
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusPrimalInfeasible:
		return "primal infeasible"
	case StatusDualInfeasible:
		return "dual infeasible"
	case StatusMaxIterations:
		return "iteration limit"
	case StatusTimeLimit:
		return "time limit"
	case StatusInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// Converged reports whether the solve reached an optimal point.
func (s Status) Converged() bool { return s == StatusOptimal }

// Options tunes the ADMM iteration.
type Options struct {
	MaxIter   int           `yaml:"max_iter" mapstructure:"max_iter"`
	EpsAbs    float64       `yaml:"eps_abs" mapstructure:"eps_abs"`
	EpsRel    float64       `yaml:"eps_rel" mapstructure:"eps_rel"`
	EpsInf    float64       `yaml:"eps_inf" mapstructure:"eps_inf"`
	Rho       float64       `yaml:"rho" mapstructure:"rho"`
	Sigma     float64       `yaml:"sigma" mapstructure:"sigma"`
	Alpha     float64       `yaml:"alpha" mapstructure:"alpha"`
	TimeLimit time.Duration `yaml:"time_limit" mapstructure:"time_limit"`
}

// DefaultOptions returns settings that suit small dispatch problems.
func DefaultOptions() Options {
	return Options{
		MaxIter: 50000,
		EpsAbs:  1e-7,
		EpsRel:  1e-7,
		EpsInf:  1e-6,
		Rho:     0.1,
		Sigma:   1e-6,
		Alpha:   1.6,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxIter <= 0 {
		o.MaxIter = d.MaxIter
	}
	if o.EpsAbs <= 0 {
		o.EpsAbs = d.EpsAbs
	}
	if o.EpsRel <= 0 {
		o.EpsRel = d.EpsRel
	}
	if o.EpsInf <= 0 {
		o.EpsInf = d.EpsInf
	}
	if o.Rho <= 0 {
		o.Rho = d.Rho
	}
	if o.Sigma <= 0 {
		o.Sigma = d.Sigma
	}
	if o.Alpha <= 0 || o.Alpha >= 2 {
		o.Alpha = d.Alpha
	}
	return o
}

// Result is the solver output. X is meaningful only when Status is optimal.
type Result struct {
	Status      Status
	X           []float64
	Y           []float64
	Objective   float64
	Iterations  int
	PrimalResid float64
	DualResid   float64
	Runtime     time.Duration
}

// Solver solves a numeric program.
type Solver interface {
	Solve(ctx context.Context, p *formulation.Program, opts Options) (Result, error)
}
