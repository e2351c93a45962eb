// Package ed declares the multi-period economic dispatch routines ED and EDES.
//
// Multi-period variables have shape (devices, slots), one column per EDTSlot.
// Unpack writes them back only for the slot selected by UnpackOptions.Period
// or Config.Period.
package ed

import (
	"strconv"

	"github.com/ohowland/cgc_dispatch/internal/pkg/dispatch"
	"github.com/ohowland/cgc_dispatch/internal/pkg/formulation"
	"github.com/ohowland/cgc_dispatch/internal/pkg/service"
	"github.com/ohowland/cgc_dispatch/internal/pkg/symbol"
)

// Routine names.
const (
	NameED   = "ED"
	NameEDES = "EDES"
)

func byGen(name, info, unit string) *symbol.Param {
	return &symbol.Param{Name: name, Info: info, Unit: unit, Model: "GCost", Indexer: "gen", IModel: "StaticGen"}
}

// Data declares generator, load, network, slot and reserve parameters and
// the derived quantities built from them. interval is the slot length in hours.
func Data(interval float64) dispatch.Model {
	c0 := byGen("c0", "gen cost coefficient 0", "$")
	c0.ExpandDims = symbol.ExpandCol
	return dispatch.Model{
		Params: []*symbol.Param{
			byGen("c2", "gen cost coefficient 2", "$/(p.u.^2)"),
			byGen("c1", "gen cost coefficient 1", "$/p.u."),
			c0,
			{Name: "pmax", Info: "gen maximum active power", Unit: "p.u.", Model: "StaticGen", ExpandDims: symbol.ExpandCol},
			{Name: "pmin", Info: "gen minimum active power", Unit: "p.u.", Model: "StaticGen", ExpandDims: symbol.ExpandCol},
			{Name: "pg0", Info: "gen initial active power", Unit: "p.u.", Model: "StaticGen", Src: "p0", ExpandDims: symbol.ExpandCol},
			{Name: "ctrl", Info: "gen controllability", Model: "StaticGen", ExpandDims: symbol.ExpandCol},
			{Name: "R30", Info: "30-minute ramp limit", Unit: "p.u./h", Model: "StaticGen"},
			{Name: "pd", Info: "active power load", Unit: "p.u.", Model: "PQ", Src: "p0"},
			{Name: "rate_a", Info: "long-term line flow limit", Unit: "p.u.", Model: "Line", ExpandDims: symbol.ExpandCol},
			{Name: "PTDF", Info: "power transfer distribution factors"},
			{Name: "Cg", Info: "gen connection matrix"},
			{Name: "Cl", Info: "load connection matrix"},
			{Name: "sd", Info: "load factor per slot", Model: "EDTSlot", NoParse: true},
			{Name: "timeslot", Info: "dispatch horizon", Model: "EDTSlot", Src: "sd", NoParse: true},
			{Name: "ug", Info: "unit commitment per slot", Model: "EDTSlot", NoParse: true},
			{Name: "dsrp", Info: "spinning reserve requirement in percentage", Model: "SR", Src: "demand"},
			{Name: "du", Info: "regulation up requirement in percentage", Model: "RegUp"},
			{Name: "dd", Info: "regulation down requirement in percentage", Model: "RegDn"},
			{Name: "csr", Info: "spinning reserve cost", Unit: "$/p.u.", Model: "SRCost", Indexer: "gen", IModel: "StaticGen"},
			{Name: "t", Info: "slot length", Unit: "h", Expr: strconv.FormatFloat(interval, 'g', -1, 64)},
		},
		Services: []dispatch.ServiceDecl{
			{Service: &service.NumOp{ID: "tlv", Desc: "ones per slot", U: "timeslot", Fun: service.OnesLike, ExpandDims: symbol.ExpandRow}},
			{Service: &service.NumOp{ID: "ugt", Desc: "commitment by gen and slot", U: "ug", Fun: service.TransposeSeries}},
			{Service: &service.LoadScale{ID: "pds", Desc: "scaled load by slot", U: "pd", Sd: "sd"}},
			{Service: &service.NumOp{ID: "pdt", Desc: "total load by slot", U: "pds", Fun: service.SumColumns}},
			{Service: &service.NumOpDual{ID: "dsr", Desc: "spinning reserve requirement by slot", U: "pdt", U2: "dsrp", Fun: service.Multiply}},
			{Service: &service.NumOpDual{ID: "dud", Desc: "regulation up requirement by slot", U: "pdt", U2: "du", Fun: service.Multiply}},
			{Service: &service.NumOpDual{ID: "ddd", Desc: "regulation down requirement by slot", U: "pdt", U2: "dd", Fun: service.Multiply}},
		},
	}
}

// Formulation declares the generation, reserve and line flow variables, the
// multi-period constraints and the interval-scaled cost. Regulation carries
// no cost; its headroom limits keep pru and prd bounded for uncommitted units.
func Formulation() dispatch.Model {
	return dispatch.Model{
		Vars: []*symbol.Var{
			{Name: "pg", Info: "gen active power by slot", Unit: "p.u.", Model: "StaticGen", Src: "p", Horizon: "timeslot"},
			{Name: "prs", Info: "spinning reserve by slot", Unit: "p.u.", Model: "StaticGen", NonNeg: true, Horizon: "timeslot"},
			{Name: "pru", Info: "regulation up by slot", Unit: "p.u.", Model: "StaticGen", NonNeg: true, Horizon: "timeslot"},
			{Name: "prd", Info: "regulation down by slot", Unit: "p.u.", Model: "StaticGen", NonNeg: true, Horizon: "timeslot"},
			{Name: "plf", Info: "line flow by slot", Unit: "p.u.", Model: "Line", Horizon: "timeslot"},
		},
		Services: []dispatch.ServiceDecl{
			{Service: &service.RampSub{ID: "Mr", Desc: "ramp subtraction matrix", U: "pg"}},
			{Service: &service.NumHstack{ID: "RR30", Desc: "ramp limit by slot step", U: "R30", Ref: "Mr"}},
		},
		Constraints: []formulation.Constraint{
			{Name: "pb", Info: "power balance", Type: formulation.Eq, EStr: "pdt - sum(pg, 0)"},
			{Name: "pglb", Info: "gen lower limit", Type: formulation.Uq,
				EStr: "-pg + mul(mul(1 - ctrl, pg0), tlv) + mul(ugt, mul(mul(ctrl, pmin), tlv))"},
			{Name: "pgub", Info: "gen upper limit", Type: formulation.Uq,
				EStr: "pg - mul(mul(1 - ctrl, pg0), tlv) - mul(ugt, mul(mul(ctrl, pmax), tlv))"},
			{Name: "prsb", Info: "spinning reserve headroom", Type: formulation.Eq, EStr: "mul(ugt, mul(pmax, tlv) - pg) - prs"},
			{Name: "rsr", Info: "spinning reserve requirement", Type: formulation.Uq, EStr: "-sum(prs, 0) + dsr"},
			{Name: "rbu", Info: "regulation up requirement", Type: formulation.Eq, EStr: "sum(pru, 0) - dud"},
			{Name: "rbd", Info: "regulation down requirement", Type: formulation.Eq, EStr: "sum(prd, 0) - ddd"},
			{Name: "rru", Info: "regulation up headroom", Type: formulation.Uq, EStr: "pg + pru - mul(ugt, mul(pmax, tlv))"},
			{Name: "rrd", Info: "regulation down headroom", Type: formulation.Uq, EStr: "-pg + prd + mul(ugt, mul(pmin, tlv))"},
			{Name: "pnb", Info: "line flow from injections", Type: formulation.Eq, EStr: "PTDF @ (Cg @ pg - Cl @ pds) - plf"},
			{Name: "plflb", Info: "line flow lower bound", Type: formulation.Uq, EStr: "-plf - mul(rate_a, tlv)"},
			{Name: "plfub", Info: "line flow upper bound", Type: formulation.Uq, EStr: "plf - mul(rate_a, tlv)"},
			{Name: "rgu", Info: "gen ramping up", Type: formulation.Uq, EStr: "pg @ Mr - t dot RR30"},
			{Name: "rgd", Info: "gen ramping down", Type: formulation.Uq, EStr: "-pg @ Mr - t dot RR30"},
			{Name: "rgu0", Info: "initial gen ramping up", Type: formulation.Uq, EStr: "pg[:, 0] - pg0[:, 0] - R30"},
			{Name: "rgd0", Info: "initial gen ramping down", Type: formulation.Uq, EStr: "-pg[:, 0] + pg0[:, 0] - R30"},
		},
		Objective: &formulation.Objective{
			EStr: "sum(c2 @ (t dot pg)**2 + c1 @ (t dot pg)) + sum(mul(ugt, mul(c0, tlv))) + sum(csr @ prs)",
		},
	}
}

// StorageData declares the ESD1 storage parameters and their derived quantities.
func StorageData() dispatch.Model {
	return dispatch.Model{
		Params: []*symbol.Param{
			{Name: "En", Info: "storage capacity", Unit: "p.u.*h", Model: "ESD1"},
			{Name: "EtaC", Info: "charging efficiency", Model: "ESD1"},
			{Name: "EtaD", Info: "discharging efficiency", Model: "ESD1"},
			{Name: "SOCinit", Info: "initial state of charge", Model: "ESD1"},
			{Name: "SOCmin", Info: "minimum state of charge", Model: "ESD1", ExpandDims: symbol.ExpandCol},
			{Name: "SOCmax", Info: "maximum state of charge", Model: "ESD1", ExpandDims: symbol.ExpandCol},
			{Name: "PCmax", Info: "maximum charging power", Unit: "p.u.", Model: "ESD1", ExpandDims: symbol.ExpandCol},
			{Name: "PDmax", Info: "maximum discharging power", Unit: "p.u.", Model: "ESD1", ExpandDims: symbol.ExpandCol},
			{Name: "Cs", Info: "storage connection matrix"},
		},
		Services: []dispatch.ServiceDecl{
			{Service: &service.NumOp{ID: "REtaD", Desc: "reciprocal of discharging efficiency", U: "EtaD", Fun: service.Reciprocal}},
		},
	}
}

// StorageFormulation declares state of charge and charging variables and the
// state of charge dynamics.
func StorageFormulation() dispatch.Model {
	return dispatch.Model{
		Vars: []*symbol.Var{
			{Name: "SOC", Info: "state of charge by slot", Model: "ESD1", Src: "SOC", Lb: "SOCmin", Ub: "SOCmax", Horizon: "timeslot"},
			{Name: "pce", Info: "charging power by slot", Unit: "p.u.", Model: "ESD1", Src: "pce", Lb: "0", Ub: "PCmax", Horizon: "timeslot"},
			{Name: "pde", Info: "discharging power by slot", Unit: "p.u.", Model: "ESD1", Src: "pde", Lb: "0", Ub: "PDmax", Horizon: "timeslot"},
		},
		Services: []dispatch.ServiceDecl{
			{Service: &service.RampSub{ID: "Mre", Desc: "state of charge subtraction matrix", U: "SOC"}},
			{Service: &service.NumHstack{ID: "EnR", Desc: "capacity by slot step", U: "En", Ref: "Mre"}},
			{Service: &service.NumHstack{ID: "EtaCR", Desc: "charging efficiency by slot step", U: "EtaC", Ref: "Mre"}},
			{Service: &service.NumHstack{ID: "REtaDR", Desc: "reciprocal discharging efficiency by slot step", U: "REtaD", Ref: "Mre"}},
		},
		Constraints: []formulation.Constraint{
			{Name: "SOCb", Info: "state of charge balance", Type: formulation.Eq,
				EStr: "mul(EnR, SOC @ Mre) - t dot mul(EtaCR, pce[:, 1:]) + t dot mul(REtaDR, pde[:, 1:])"},
			{Name: "SOCb0", Info: "initial state of charge balance", Type: formulation.Eq,
				EStr: "mul(En, SOC[:, 0] - SOCinit) - t dot mul(EtaC, pce[:, 0]) + t dot mul(REtaD, pde[:, 0])"},
			{Name: "SOCr", Info: "final state of charge requirement", Type: formulation.Eq, EStr: "SOC[:, -1] - SOCinit"},
		},
	}
}

// storageExprs route storage power through the balance and the line flows.
var storageExprs = map[string]string{
	"pb":  "pdt - sum(pg, 0) - sum(pde, 0) + sum(pce, 0)",
	"pnb": "PTDF @ (Cg @ pg - Cl @ pds + Cs @ (pde - pce)) - plf",
}

func build(name, info string, p symbol.Provider, cfg dispatch.Config, models []dispatch.Model, opts []dispatch.Option) (*dispatch.Routine, error) {
	opts = append([]dispatch.Option{dispatch.WithInfo(info)}, opts...)
	r, err := dispatch.New(name, p, cfg, opts...)
	if err != nil {
		return nil, err
	}
	for _, m := range models {
		if err := r.Declare(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewED returns a multi-period economic dispatch routine.
func NewED(p symbol.Provider, cfg dispatch.Config, opts ...dispatch.Option) (*dispatch.Routine, error) {
	return build(NameED, "multi-period economic dispatch", p, cfg,
		[]dispatch.Model{Data(cfg.Interval), Formulation()}, opts)
}

// NewEDES returns ED extended with ESD1 energy storage. Charging and
// discharging may overlap; the efficiency losses make it unprofitable.
func NewEDES(p symbol.Provider, cfg dispatch.Config, opts ...dispatch.Option) (*dispatch.Routine, error) {
	r, err := build(NameEDES, "economic dispatch with energy storage", p, cfg,
		[]dispatch.Model{Data(cfg.Interval), StorageData(), Formulation(), StorageFormulation()}, opts)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"pb", "pnb"} {
		if err := r.SetConstraintExpr(name, storageExprs[name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}
