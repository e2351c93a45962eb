package dispatch

import (
	"errors"
	"fmt"

	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
)

var (
	// ErrNotSupported is matched by every NotSupportedError.
	ErrNotSupported = errors.New("not supported")

	// ErrNotSolved is returned by Unpack before a successful Solve.
	ErrNotSolved = errors.New("routine not solved")

	// ErrNonConvergence is matched by every SolverNonConvergenceError.
	ErrNonConvergence = errors.New("solver did not converge")

	// ErrInvalidConfig is wrapped by Config.Validate failures.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrNameClash is returned when a service and a symbol share a name.
	ErrNameClash = errors.New("name already declared")
)

// SolverNonConvergenceError records a solve that ended without an optimal
// point. The routine keeps it in Err() and moves to Failed.
type SolverNonConvergenceError struct {
	Routine    string
	Status     solver.Status
	Iterations int
}

func (e *SolverNonConvergenceError) Error() string {
	return fmt.Sprintf("%s: solver stopped after %d iterations: %s", e.Routine, e.Iterations, e.Status)
}

// Is matches ErrNonConvergence.
func (e *SolverNonConvergenceError) Is(target error) bool {
	return target == ErrNonConvergence
}

// NotSupportedError is returned by operations a routine does not implement.
type NotSupportedError struct {
	Routine string
	Op      string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("%s: %s is not supported", e.Routine, e.Op)
}

// Is matches ErrNotSupported.
func (e *NotSupportedError) Is(target error) bool {
	return target == ErrNotSupported
}
