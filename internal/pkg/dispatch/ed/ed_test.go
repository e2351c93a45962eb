package ed

import (
	"context"
	"math"
	"testing"

	"github.com/ohowland/cgc_dispatch/internal/pkg/dispatch"
	"github.com/ohowland/cgc_dispatch/internal/pkg/system"
	"gotest.tools/v3/assert"
)

const case3 = `
name: case3
Bus: [{idx: B1}, {idx: B2}, {idx: B3}]
StaticGen:
  - {idx: G1, bus: B1, p0: 0.6, pmax: 2.0, pmin: 0.1, R30: 0.5}
  - {idx: G2, bus: B2, p0: 0.4, pmax: 1.5, pmin: 0.0, R30: 0.5}
PQ:
  - {idx: L1, bus: B3, p0: 1.0}
Line:
  - {idx: Line12, bus1: B1, bus2: B2, x: 0.1, rate_a: 2.0}
  - {idx: Line23, bus1: B2, bus2: B3, x: 0.1, rate_a: 2.0}
  - {idx: Line13, bus1: B1, bus2: B3, x: 0.1, rate_a: 2.0}
GCost:
  - {idx: GC2, gen: G2, c2: 0.02, c1: 2.0, c0: 0.0}
  - {idx: GC1, gen: G1, c2: 0.01, c1: 1.0, c0: 0.5}
EDTSlot:
  - {idx: EDT1, sd: 0.8, ug: [1, 1]}
  - {idx: EDT2, sd: 1.0}
  - {idx: EDT3, sd: 0.9, ug: [1, 0]}
ESD1:
  - {idx: ESD1_1, bus: B3, En: 1.0, EtaC: 0.95, EtaD: 0.95, SOCmin: 0.1, SOCmax: 0.9, SOCinit: 0.5, PCmax: 0.3, PDmax: 0.3}
SR:
  - {idx: SR1, demand: 0.1}
SRCost:
  - {idx: SRC1, gen: G1, csr: 0.1}
  - {idx: SRC2, gen: G2, csr: 0.1}
RegUp:
  - {idx: RU1, du: 0.05}
RegDn:
  - {idx: RD1, dd: 0.05}
`

const (
	tol = 1e-3

	// pg = [[0.8, 1.0, 0.9], [0, 0, 0]]; quadratic 0.0245, linear 2.7,
	// commitment 1.5, reserve 0.1 * (3.3 + 3.0).
	wantObjective = 4.8545
)

var sd = []float64{0.8, 1.0, 0.9}

func loadSystem(t *testing.T) *system.System {
	t.Helper()
	c, err := system.ParseCase([]byte(case3))
	assert.NilError(t, err)
	s, err := system.Build(c)
	assert.NilError(t, err)
	return s
}

func near(a, b float64) bool { return math.Abs(a-b) < tol }

func TestEDProgramShape(t *testing.T) {
	r, err := NewED(loadSystem(t), dispatch.DefaultConfig())
	assert.NilError(t, err)
	assert.NilError(t, r.Setup(context.Background()))

	prog := r.Program()
	assert.Equal(t, prog.N, 33)
	assert.Equal(t, len(prog.Beq), 24)
	assert.Equal(t, len(prog.Bub), 57)

	pg, err := prog.Block("pg")
	assert.NilError(t, err)
	assert.Equal(t, pg.Shape.String(), "(2, 3)")
}

func TestEDSolution(t *testing.T) {
	s := loadSystem(t)
	r, err := NewED(s, dispatch.DefaultConfig())
	assert.NilError(t, err)
	ctx := context.Background()

	assert.NilError(t, r.Solve(ctx, dispatch.SolveOptions{}))
	assert.Equal(t, r.State(), dispatch.Solved)

	pg, err := r.Values("pg")
	assert.NilError(t, err)
	for k := range sd {
		assert.Assert(t, near(pg[0][k]+pg[1][k], sd[k]), "slot %d: %v", k, pg)
		assert.Assert(t, near(pg[0][k], sd[k]), "slot %d: %v", k, pg)
	}
	assert.Assert(t, near(pg[1][2], 0), "uncommitted gen dispatched: %v", pg)
	assert.Assert(t, near(r.Result().Objective, wantObjective), "objective = %v", r.Result().Objective)

	prs, err := r.Values("prs")
	assert.NilError(t, err)
	for k := range sd {
		assert.Assert(t, prs[0][k]+prs[1][k] >= 0.1*sd[k]-tol)
	}

	eq, ub := r.Program().Residuals(r.Result().X)
	assert.Assert(t, eq < tol && ub < tol, "residuals %g %g", eq, ub)
}

func TestEDRegulationReserve(t *testing.T) {
	s := loadSystem(t)
	assert.NilError(t, s.SetAttribute("RegUp", "du", nil, [][]float64{{0.2}}))
	assert.NilError(t, s.SetAttribute("RegDn", "dd", nil, [][]float64{{0.1}}))
	r, err := NewED(s, dispatch.DefaultConfig())
	assert.NilError(t, err)

	assert.NilError(t, r.Solve(context.Background(), dispatch.SolveOptions{}))
	assert.Equal(t, r.State(), dispatch.Solved)

	pg, err := r.Values("pg")
	assert.NilError(t, err)
	pru, err := r.Values("pru")
	assert.NilError(t, err)
	prd, err := r.Values("prd")
	assert.NilError(t, err)
	pmax := []float64{2.0, 1.5}
	pmin := []float64{0.1, 0}
	for k := range sd {
		assert.Assert(t, near(pru[0][k]+pru[1][k], 0.2*sd[k]), "slot %d: pru %v", k, pru)
		assert.Assert(t, near(prd[0][k]+prd[1][k], 0.1*sd[k]), "slot %d: prd %v", k, prd)
		for i := range pmax {
			assert.Assert(t, pg[i][k]+pru[i][k] <= pmax[i]+tol, "gen %d slot %d", i, k)
			assert.Assert(t, pg[i][k]-prd[i][k] >= -tol, "gen %d slot %d", i, k)
			assert.Assert(t, pru[i][k] >= -tol && prd[i][k] >= -tol)
		}
		assert.Assert(t, pg[0][k]-prd[0][k] >= pmin[0]-tol)
	}
	// G2 is not committed in the last slot.
	assert.Assert(t, near(pru[1][2], 0) && near(prd[1][2], 0), "pru %v prd %v", pru, prd)
	assert.Assert(t, near(r.Result().Objective, wantObjective), "objective = %v", r.Result().Objective)
}

func TestEDUnpackRequiresPeriod(t *testing.T) {
	s := loadSystem(t)
	r, err := NewED(s, dispatch.DefaultConfig())
	assert.NilError(t, err)
	ctx := context.Background()

	assert.NilError(t, r.Run(ctx, dispatch.RunOptions{}))
	p, err := s.GetAttribute("StaticGen", "p", nil)
	assert.NilError(t, err)
	assert.DeepEqual(t, p, [][]float64{{0.6}, {0.4}})

	second := 1
	assert.NilError(t, r.Unpack(ctx, dispatch.UnpackOptions{Period: &second}))
	p, err = s.GetAttribute("StaticGen", "p", nil)
	assert.NilError(t, err)
	assert.Assert(t, near(p[0][0], 1.0), "p = %v", p)

	_, err = s.GetAttribute("Line", "plf", nil)
	assert.ErrorIs(t, err, system.ErrUnknownAttribute)
}

func TestEDInterval(t *testing.T) {
	cfg := dispatch.DefaultConfig()
	cfg.Interval = 0.5
	r, err := NewED(loadSystem(t), cfg)
	assert.NilError(t, err)
	assert.NilError(t, r.Setup(context.Background()))

	v, err := r.Registry().Resolve("t")
	assert.NilError(t, err)
	f, err := v.Float()
	assert.NilError(t, err)
	assert.Equal(t, f, 0.5)
}

func TestEDSingleGenerator(t *testing.T) {
	c, err := system.ParseCase([]byte(`
Bus: [{idx: B1}, {idx: B2}]
StaticGen: [{idx: G1, bus: B1, p0: 1, pmax: 5, pmin: 0, R30: 10}]
PQ: [{idx: L1, bus: B2, p0: 2}]
Line: [{idx: L12, bus1: B1, bus2: B2, x: 0.1, rate_a: 10}]
GCost: [{idx: C1, gen: G1, c2: 0.01, c1: 1, c0: 0}]
EDTSlot: [{idx: T1, sd: 1}, {idx: T2, sd: 0.5}]
SR: [{idx: SR1, demand: 0}]
SRCost: [{idx: S1, gen: G1, csr: 0}]
RegUp: [{idx: RU1, du: 0}]
RegDn: [{idx: RD1, dd: 0}]
`))
	assert.NilError(t, err)
	s, err := system.Build(c)
	assert.NilError(t, err)

	r, err := NewED(s, dispatch.DefaultConfig())
	assert.NilError(t, err)
	assert.NilError(t, r.Solve(context.Background(), dispatch.SolveOptions{}))
	assert.Equal(t, r.State(), dispatch.Solved)

	pg, err := r.Values("pg")
	assert.NilError(t, err)
	assert.Assert(t, near(pg[0][0], 2) && near(pg[0][1], 1), "pg = %v", pg)
}

func TestEDESProgramShape(t *testing.T) {
	r, err := NewEDES(loadSystem(t), dispatch.DefaultConfig())
	assert.NilError(t, err)
	assert.NilError(t, r.Setup(context.Background()))

	prog := r.Program()
	assert.Equal(t, prog.N, 42)
	assert.Equal(t, len(prog.Beq), 28)
	assert.Equal(t, len(prog.Bub), 57)

	pce, err := prog.Block("pce")
	assert.NilError(t, err)
	for i := 0; i < pce.Size(); i++ {
		assert.Equal(t, prog.Lb[pce.Offset+i], 0.0)
		assert.Equal(t, prog.Ub[pce.Offset+i], 0.3)
	}
}

func TestEDESSolution(t *testing.T) {
	s := loadSystem(t)
	r, err := NewEDES(s, dispatch.DefaultConfig())
	assert.NilError(t, err)
	ctx := context.Background()

	first := 0
	assert.NilError(t, r.Run(ctx, dispatch.RunOptions{Unpack: dispatch.UnpackOptions{Period: &first}}))
	assert.Equal(t, r.State(), dispatch.Solved)

	soc, err := r.Values("SOC")
	assert.NilError(t, err)
	pce, err := r.Values("pce")
	assert.NilError(t, err)
	pde, err := r.Values("pde")
	assert.NilError(t, err)
	pg, err := r.Values("pg")
	assert.NilError(t, err)

	prev := 0.5
	for k := range sd {
		want := prev + 0.95*pce[0][k] - pde[0][k]/0.95
		assert.Assert(t, near(soc[0][k], want), "slot %d: soc %v", k, soc)
		balance := pg[0][k] + pg[1][k] + pde[0][k] - pce[0][k]
		assert.Assert(t, near(balance, sd[k]), "slot %d: balance %g", k, balance)
		prev = soc[0][k]
	}
	assert.Assert(t, near(soc[0][2], 0.5))
	assert.Assert(t, near(r.Result().Objective, wantObjective), "objective = %v", r.Result().Objective)

	stored, err := s.GetAttribute("ESD1", "SOC", nil)
	assert.NilError(t, err)
	assert.Assert(t, near(stored[0][0], soc[0][0]))
}

func TestEDESZeroEfficiency(t *testing.T) {
	s := loadSystem(t)
	assert.NilError(t, s.SetAttribute("ESD1", "EtaD", nil, [][]float64{{0}}))
	r, err := NewEDES(s, dispatch.DefaultConfig())
	assert.NilError(t, err)

	err = r.Setup(context.Background())
	assert.ErrorContains(t, err, "REtaD")
	assert.Equal(t, r.ExitCode(), dispatch.ExitSetupFailed)
}
