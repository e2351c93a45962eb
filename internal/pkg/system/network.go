package system

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrSingularNetwork is returned when the reduced susceptance matrix cannot
// be inverted, usually because the network is islanded.
var ErrSingularNetwork = errors.New("singular network")

// BuildMatrices derives the connection matrices Cg, Cl, Cs and the DC power
// transfer distribution factors PTDF. The first bus is the slack bus.
func (s *System) BuildMatrices() error {
	buses, err := s.Idx("Bus")
	if err != nil {
		return err
	}
	pos := make(map[string]int, len(buses))
	for i, b := range buses {
		pos[b] = i
	}

	for _, c := range []struct {
		name  string
		group string
	}{
		{"Cg", "StaticGen"},
		{"Cl", "PQ"},
		{"Cs", "ESD1"},
	} {
		m, err := s.connection(c.group, pos)
		if err != nil {
			return err
		}
		s.SetMatrix(c.name, m)
	}

	ptdf, err := s.ptdf(pos)
	if err != nil {
		return err
	}
	s.SetMatrix("PTDF", ptdf)
	return nil
}

// connection returns the nbus x ndevice incidence of a group's bus field.
// A missing group yields an nbus x 0 matrix.
func (s *System) connection(group string, pos map[string]int) ([][]float64, error) {
	out := make([][]float64, len(pos))
	refs, err := s.Ref(group, "bus", nil)
	if errors.Is(err, ErrUnknownGroup) || errors.Is(err, ErrUnknownAttribute) {
		for i := range out {
			out[i] = []float64{}
		}
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i] = make([]float64, len(refs))
	}
	for j, b := range refs {
		i, ok := pos[b]
		if !ok {
			return nil, fmt.Errorf("%s %d: %w: bus %q", group, j, ErrUnknownDevice, b)
		}
		out[i][j] = 1
	}
	return out, nil
}

func (s *System) ptdf(pos map[string]int) ([][]float64, error) {
	lines, err := s.Idx("Line")
	if errors.Is(err, ErrUnknownGroup) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	nb, nl := len(pos), len(lines)
	if nl == 0 {
		return nil, nil
	}
	out := make([][]float64, nl)
	for i := range out {
		out[i] = make([]float64, nb)
	}
	if nb == 1 {
		return out, nil
	}

	x, err := s.GetAttribute("Line", "x", nil)
	if err != nil {
		return nil, err
	}
	from, err := s.Ref("Line", "bus1", nil)
	if err != nil {
		return nil, err
	}
	to, err := s.Ref("Line", "bus2", nil)
	if err != nil {
		return nil, err
	}

	bf := mat.NewDense(nl, nb, nil)
	bbus := mat.NewDense(nb, nb, nil)
	for l := 0; l < nl; l++ {
		b := 1 / x[l][0]
		f, t := pos[from[l]], pos[to[l]]
		bf.Set(l, f, b)
		bf.Set(l, t, -b)
		bbus.Set(f, f, bbus.At(f, f)+b)
		bbus.Set(t, t, bbus.At(t, t)+b)
		bbus.Set(f, t, bbus.At(f, t)-b)
		bbus.Set(t, f, bbus.At(t, f)-b)
	}

	bred := bbus.Slice(1, nb, 1, nb)
	bfred := bf.Slice(0, nl, 1, nb)
	var z mat.Dense
	if err := z.Solve(bred, bfred.T()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularNetwork, err)
	}
	for l := 0; l < nl; l++ {
		for k := 1; k < nb; k++ {
			out[l][k] = z.At(k-1, l)
		}
	}
	return out, nil
}
