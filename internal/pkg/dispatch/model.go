package dispatch

import (
	"github.com/ohowland/cgc_dispatch/internal/pkg/formulation"
	"github.com/ohowland/cgc_dispatch/internal/pkg/service"
	"github.com/ohowland/cgc_dispatch/internal/pkg/symbol"
)

// ServiceDecl is a service with its visibility.
type ServiceDecl struct {
	Service service.Service
	Hidden  bool
}

// Model is a batch of declarations. Routines are built by declaring one or
// more models on a Routine; later models extend earlier ones.
type Model struct {
	Params      []*symbol.Param
	Vars        []*symbol.Var
	Services    []ServiceDecl
	Constraints []formulation.Constraint
	Objective   *formulation.Objective
}

// Declare adds the declarations of m in order: parameters, variables,
// services, constraints, then the objective.
func (r *Routine) Declare(m Model) error {
	for _, p := range m.Params {
		if err := r.AddParam(p); err != nil {
			return err
		}
	}
	for _, v := range m.Vars {
		if err := r.AddVar(v); err != nil {
			return err
		}
	}
	for _, s := range m.Services {
		if err := r.AddService(s.Service, s.Hidden); err != nil {
			return err
		}
	}
	for _, c := range m.Constraints {
		if err := r.AddConstraint(c); err != nil {
			return err
		}
	}
	if m.Objective != nil {
		return r.SetObjective(*m.Objective)
	}
	return nil
}
