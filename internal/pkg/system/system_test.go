package system

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func loadTestCase(t *testing.T) *System {
	t.Helper()
	c, err := LoadCase("./testdata/case3.yaml")
	assert.NilError(t, err)
	s, err := Build(c)
	assert.NilError(t, err)
	return s
}

func TestLoadCase(t *testing.T) {
	c, err := LoadCase("./testdata/case3.yaml")
	assert.NilError(t, err)
	assert.Equal(t, c.Name, "case3")
	assert.Equal(t, len(c.Bus), 3)
	assert.Equal(t, len(c.EDTSlot), 3)
	assert.Equal(t, c.StaticGen[1].Bus, "B2")
}

func TestBuildAttributes(t *testing.T) {
	s := loadTestCase(t)

	idx, err := s.Idx("StaticGen")
	assert.NilError(t, err)
	assert.DeepEqual(t, idx, []string{"G1", "G2"})

	pmax, err := s.GetAttribute("StaticGen", "pmax", nil)
	assert.NilError(t, err)
	assert.DeepEqual(t, pmax, [][]float64{{2.0}, {1.5}})

	p, err := s.GetAttribute("StaticGen", "p", []string{"G2"})
	assert.NilError(t, err)
	assert.DeepEqual(t, p, [][]float64{{0.4}})

	ug, err := s.GetAttribute("EDTSlot", "ug", nil)
	assert.NilError(t, err)
	assert.DeepEqual(t, ug, [][]float64{{1, 1}, {1, 1}, {1, 0}})

	refs, err := s.Ref("GCost", "gen", nil)
	assert.NilError(t, err)
	assert.DeepEqual(t, refs, []string{"G2", "G1"})

	ctrl, err := s.GetAttribute("StaticGen", "ctrl", nil)
	assert.NilError(t, err)
	assert.DeepEqual(t, ctrl, [][]float64{{1}, {1}})

	du, err := s.GetAttribute("RegUp", "du", nil)
	assert.NilError(t, err)
	assert.DeepEqual(t, du, [][]float64{{0.05}})
	dd, err := s.GetAttribute("RegDn", "dd", nil)
	assert.NilError(t, err)
	assert.DeepEqual(t, dd, [][]float64{{0.05}})
}

func TestConnectionMatrices(t *testing.T) {
	s := loadTestCase(t)

	cg, err := s.Matrix("Cg")
	assert.NilError(t, err)
	assert.DeepEqual(t, cg, [][]float64{{1, 0}, {0, 1}, {0, 0}})

	cl, err := s.Matrix("Cl")
	assert.NilError(t, err)
	assert.DeepEqual(t, cl, [][]float64{{0}, {0}, {1}})

	cs, err := s.Matrix("Cs")
	assert.NilError(t, err)
	assert.DeepEqual(t, cs, [][]float64{{0}, {0}, {1}})
}

func TestPTDF(t *testing.T) {
	s := loadTestCase(t)
	ptdf, err := s.Matrix("PTDF")
	assert.NilError(t, err)

	want := [][]float64{
		{0, -2.0 / 3, -1.0 / 3},
		{0, 1.0 / 3, -1.0 / 3},
		{0, -1.0 / 3, -2.0 / 3},
	}
	assert.Assert(t, cmp.Equal(ptdf, want, cmpopts.EquateApprox(0, 1e-12)), cmp.Diff(want, ptdf))
}

func TestPTDFIslanded(t *testing.T) {
	s, err := New()
	assert.NilError(t, err)
	assert.NilError(t, s.AddGroup("Bus", []string{"B1", "B2", "B3"}))
	assert.NilError(t, s.AddGroup("Line", []string{"L"}))
	assert.NilError(t, s.SetAttribute("Line", "x", nil, [][]float64{{0.1}}))
	assert.NilError(t, s.SetRef("Line", "bus1", []string{"B1"}))
	assert.NilError(t, s.SetRef("Line", "bus2", []string{"B2"}))

	err = s.BuildMatrices()
	assert.ErrorIs(t, err, ErrSingularNetwork)
}

func TestSetAttribute(t *testing.T) {
	s := loadTestCase(t)
	v0 := s.Version()

	assert.NilError(t, s.SetAttribute("StaticGen", "p", []string{"G2"}, [][]float64{{1.25}}))
	assert.Assert(t, s.Version() > v0)

	p, err := s.GetAttribute("StaticGen", "p", nil)
	assert.NilError(t, err)
	assert.DeepEqual(t, p, [][]float64{{0.6}, {1.25}})

	err = s.SetAttribute("StaticGen", "p", []string{"G9"}, [][]float64{{1}})
	assert.ErrorIs(t, err, ErrUnknownDevice)

	err = s.SetAttribute("StaticGen", "q", []string{"G1"}, [][]float64{{1}})
	assert.ErrorIs(t, err, ErrUnknownAttribute)

	err = s.SetAttribute("Nope", "p", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownGroup)
}

func TestGetAttributeCopies(t *testing.T) {
	s := loadTestCase(t)
	p, err := s.GetAttribute("StaticGen", "p", nil)
	assert.NilError(t, err)
	p[0][0] = 99

	again, err := s.GetAttribute("StaticGen", "p", nil)
	assert.NilError(t, err)
	assert.Equal(t, again[0][0], 0.6)
}

func TestCaseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		msg  string
	}{
		{"no buses", "name: x\n", "no buses"},
		{"duplicate bus", "Bus: [{idx: B1}, {idx: B1}]\n", "duplicate idx"},
		{"gen bus", "Bus: [{idx: B1}]\nStaticGen: [{idx: G1, bus: B9, pmax: 1}]\n", "unknown bus"},
		{"pmin", "Bus: [{idx: B1}]\nStaticGen: [{idx: G1, bus: B1, pmin: 2, pmax: 1}]\n", "pmin"},
		{"line x", "Bus: [{idx: B1}, {idx: B2}]\nLine: [{idx: L, bus1: B1, bus2: B2, rate_a: 1}]\n", "zero reactance"},
		{"cost gen", "Bus: [{idx: B1}]\nGCost: [{idx: C, gen: G1}]\n", "unknown gen"},
		{"ug width", "Bus: [{idx: B1}]\nStaticGen: [{idx: G1, bus: B1, pmax: 1}]\nEDTSlot: [{idx: T1, sd: 1, ug: [1, 1]}]\n", "ug entries"},
		{"unknown field", "Bus: [{idx: B1, voltage: 1}]\n", "voltage"},
		{"regup fraction", "Bus: [{idx: B1}]\nRegUp: [{idx: RU1, du: -0.1}]\n", "du must not be negative"},
		{"duplicate regdn", "Bus: [{idx: B1}]\nRegDn: [{idx: RD1}, {idx: RD1}]\n", "duplicate idx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCase([]byte(tt.yaml))
			assert.Assert(t, err != nil)
			assert.Assert(t, is.Contains(err.Error(), tt.msg))
		})
	}
}

func TestCaseValidationSentinel(t *testing.T) {
	_, err := DecodeCase(strings.NewReader("name: empty\n"))
	assert.ErrorIs(t, err, ErrInvalidCase)
}

func TestBuildWithoutStorage(t *testing.T) {
	c, err := ParseCase([]byte("Bus: [{idx: B1}]\nStaticGen: [{idx: G1, bus: B1, pmax: 10}]\n"))
	assert.NilError(t, err)
	s, err := Build(c)
	assert.NilError(t, err)

	cs, err := s.Matrix("Cs")
	assert.NilError(t, err)
	assert.Equal(t, len(cs), 1)
	assert.Equal(t, len(cs[0]), 0)

	ptdf, err := s.Matrix("PTDF")
	assert.NilError(t, err)
	assert.Equal(t, len(ptdf), 0)
}
