package service

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCycle is matched by *DependencyCycleError.
var ErrCycle = errors.New("dependency cycle")

// ErrDuplicateService is returned when two services share a name.
var ErrDuplicateService = errors.New("duplicate service")

// DependencyCycleError lists the services on a cycle, first name repeated last.
type DependencyCycleError struct {
	Path []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("service dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// Is reports whether target is ErrCycle.
func (e *DependencyCycleError) Is(target error) bool {
	return target == ErrCycle
}

// EvalError wraps a failure while materializing one service.
type EvalError struct {
	Service string
	Err     error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("service %s: %v", e.Service, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}
