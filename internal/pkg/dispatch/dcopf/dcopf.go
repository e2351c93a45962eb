// Package dcopf declares the DC optimal power flow routine.
package dcopf

import (
	"github.com/ohowland/cgc_dispatch/internal/pkg/dispatch"
	"github.com/ohowland/cgc_dispatch/internal/pkg/formulation"
	"github.com/ohowland/cgc_dispatch/internal/pkg/symbol"
)

// Name is the routine name used in logs and published results.
const Name = "DCOPF"

// Data declares the generator cost, limit, load and network parameters.
func Data() dispatch.Model {
	return dispatch.Model{
		Params: []*symbol.Param{
			{Name: "c2", Info: "gen cost coefficient 2", Unit: "$/(p.u.^2)", Model: "GCost", Indexer: "gen", IModel: "StaticGen"},
			{Name: "c1", Info: "gen cost coefficient 1", Unit: "$/p.u.", Model: "GCost", Indexer: "gen", IModel: "StaticGen"},
			{Name: "c0", Info: "gen cost coefficient 0", Unit: "$", Model: "GCost", Indexer: "gen", IModel: "StaticGen"},
			{Name: "pmax", Info: "gen maximum active power", Unit: "p.u.", Model: "StaticGen"},
			{Name: "pmin", Info: "gen minimum active power", Unit: "p.u.", Model: "StaticGen"},
			{Name: "pd", Info: "active power load", Unit: "p.u.", Model: "PQ", Src: "p0"},
			{Name: "rate_a", Info: "long-term line flow limit", Unit: "p.u.", Model: "Line"},
			{Name: "PTDF", Info: "power transfer distribution factors"},
			{Name: "Cg", Info: "gen connection matrix"},
			{Name: "Cl", Info: "load connection matrix"},
		},
	}
}

// Formulation declares the generation variable, the power balance and line
// limits, and the quadratic generation cost.
func Formulation() dispatch.Model {
	return dispatch.Model{
		Vars: []*symbol.Var{
			{Name: "pg", Info: "gen active power", Unit: "p.u.", Model: "StaticGen", Src: "p", Lb: "pmin", Ub: "pmax"},
		},
		Constraints: []formulation.Constraint{
			{Name: "pb", Info: "power balance", Type: formulation.Eq, EStr: "sum(pd) - sum(pg)"},
			{Name: "plfub", Info: "line flow upper bound", Type: formulation.Uq, EStr: "PTDF @ (Cg @ pg - Cl @ pd) - rate_a"},
			{Name: "plflb", Info: "line flow lower bound", Type: formulation.Uq, EStr: "-PTDF @ (Cg @ pg - Cl @ pd) - rate_a"},
		},
		Objective: &formulation.Objective{EStr: "sum(c2 * pg**2 + c1 * pg + c0)", Sense: formulation.Minimize},
	}
}

// New returns a DCOPF routine reading from p.
func New(p symbol.Provider, cfg dispatch.Config, opts ...dispatch.Option) (*dispatch.Routine, error) {
	opts = append([]dispatch.Option{dispatch.WithInfo("DC optimal power flow")}, opts...)
	r, err := dispatch.New(Name, p, cfg, opts...)
	if err != nil {
		return nil, err
	}
	for _, m := range []dispatch.Model{Data(), Formulation()} {
		if err := r.Declare(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}
