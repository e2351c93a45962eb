package system

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidCase is wrapped by every case validation failure.
var ErrInvalidCase = errors.New("invalid case")

// Case is the on-disk description of a dispatch case.
type Case struct {
	Name      string          `yaml:"name"`
	Bus       []BusRecord     `yaml:"Bus"`
	StaticGen []GenRecord     `yaml:"StaticGen"`
	PQ        []LoadRecord    `yaml:"PQ"`
	Line      []LineRecord    `yaml:"Line"`
	GCost     []GCostRecord   `yaml:"GCost"`
	EDTSlot   []SlotRecord    `yaml:"EDTSlot"`
	ESD1      []StorageRecord `yaml:"ESD1"`
	SR        []ReserveRecord `yaml:"SR"`
	SRCost    []SRCostRecord  `yaml:"SRCost"`
	RegUp     []RegUpRecord   `yaml:"RegUp"`
	RegDn     []RegDnRecord   `yaml:"RegDn"`
}

// BusRecord is a network node. The first bus is the angle reference.
type BusRecord struct {
	Idx  string `yaml:"idx"`
	Name string `yaml:"name"`
}

// GenRecord is a static generator, powers in p.u.
type GenRecord struct {
	Idx  string  `yaml:"idx"`
	Bus  string  `yaml:"bus"`
	P0   float64 `yaml:"p0"`
	Pmax float64 `yaml:"pmax"`
	Pmin float64 `yaml:"pmin"`
	R30  float64 `yaml:"R30"`
	Ctrl *bool   `yaml:"ctrl"`
}

// LoadRecord is a constant power load.
type LoadRecord struct {
	Idx string  `yaml:"idx"`
	Bus string  `yaml:"bus"`
	P0  float64 `yaml:"p0"`
}

// LineRecord is a branch with series reactance x.
type LineRecord struct {
	Idx   string  `yaml:"idx"`
	Bus1  string  `yaml:"bus1"`
	Bus2  string  `yaml:"bus2"`
	X     float64 `yaml:"x"`
	RateA float64 `yaml:"rate_a"`
}

// GCostRecord holds quadratic cost coefficients of one generator.
type GCostRecord struct {
	Idx string  `yaml:"idx"`
	Gen string  `yaml:"gen"`
	C2  float64 `yaml:"c2"`
	C1  float64 `yaml:"c1"`
	C0  float64 `yaml:"c0"`
}

// SlotRecord is one dispatch interval: load factor sd and the commitment
// status of every generator in StaticGen order.
type SlotRecord struct {
	Idx string    `yaml:"idx"`
	Sd  float64   `yaml:"sd"`
	Ug  []float64 `yaml:"ug"`
}

// StorageRecord is an energy storage unit.
type StorageRecord struct {
	Idx     string  `yaml:"idx"`
	Bus     string  `yaml:"bus"`
	En      float64 `yaml:"En"`
	EtaC    float64 `yaml:"EtaC"`
	EtaD    float64 `yaml:"EtaD"`
	SOCmin  float64 `yaml:"SOCmin"`
	SOCmax  float64 `yaml:"SOCmax"`
	SOCinit float64 `yaml:"SOCinit"`
	PCmax   float64 `yaml:"PCmax"`
	PDmax   float64 `yaml:"PDmax"`
}

// ReserveRecord is a spinning reserve requirement as a fraction of load.
type ReserveRecord struct {
	Idx    string  `yaml:"idx"`
	Demand float64 `yaml:"demand"`
}

// SRCostRecord is the spinning reserve cost of one generator.
type SRCostRecord struct {
	Idx string  `yaml:"idx"`
	Gen string  `yaml:"gen"`
	Csr float64 `yaml:"csr"`
}

// RegUpRecord is a regulation up requirement as a fraction of load.
type RegUpRecord struct {
	Idx string  `yaml:"idx"`
	Du  float64 `yaml:"du"`
}

// RegDnRecord is a regulation down requirement as a fraction of load.
type RegDnRecord struct {
	Idx string  `yaml:"idx"`
	Dd  float64 `yaml:"dd"`
}

// LoadCase reads and validates a YAML case file.
func LoadCase(path string) (*Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeCase(f)
}

// DecodeCase decodes and validates a YAML case. Unknown fields are rejected.
func DecodeCase(r io.Reader) (*Case, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	c := &Case{}
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("decode case: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseCase is DecodeCase over a byte slice.
func ParseCase(b []byte) (*Case, error) {
	return DecodeCase(bytes.NewReader(b))
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidCase, fmt.Sprintf(format, args...))
}

func uniqueIdx(group string, ids []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, invalid("%s: empty idx", group)
		}
		if seen[id] {
			return nil, invalid("%s: duplicate idx %q", group, id)
		}
		seen[id] = true
	}
	return seen, nil
}

// Validate checks identifiers, references and value ranges.
func (c *Case) Validate() error {
	if len(c.Bus) == 0 {
		return invalid("no buses")
	}
	buses, err := uniqueIdx("Bus", collect(c.Bus, func(b BusRecord) string { return b.Idx }))
	if err != nil {
		return err
	}
	gens, err := uniqueIdx("StaticGen", collect(c.StaticGen, func(g GenRecord) string { return g.Idx }))
	if err != nil {
		return err
	}
	for _, g := range c.StaticGen {
		if !buses[g.Bus] {
			return invalid("StaticGen %s: unknown bus %q", g.Idx, g.Bus)
		}
		if g.Pmin > g.Pmax {
			return invalid("StaticGen %s: pmin %g exceeds pmax %g", g.Idx, g.Pmin, g.Pmax)
		}
	}
	if _, err := uniqueIdx("PQ", collect(c.PQ, func(l LoadRecord) string { return l.Idx })); err != nil {
		return err
	}
	for _, l := range c.PQ {
		if !buses[l.Bus] {
			return invalid("PQ %s: unknown bus %q", l.Idx, l.Bus)
		}
	}
	if _, err := uniqueIdx("Line", collect(c.Line, func(l LineRecord) string { return l.Idx })); err != nil {
		return err
	}
	for _, l := range c.Line {
		if !buses[l.Bus1] || !buses[l.Bus2] || l.Bus1 == l.Bus2 {
			return invalid("Line %s: bad terminals %q-%q", l.Idx, l.Bus1, l.Bus2)
		}
		if l.X == 0 {
			return invalid("Line %s: zero reactance", l.Idx)
		}
		if l.RateA <= 0 {
			return invalid("Line %s: rate_a must be positive", l.Idx)
		}
	}
	if _, err := uniqueIdx("GCost", collect(c.GCost, func(g GCostRecord) string { return g.Idx })); err != nil {
		return err
	}
	for _, gc := range c.GCost {
		if !gens[gc.Gen] {
			return invalid("GCost %s: unknown gen %q", gc.Idx, gc.Gen)
		}
	}
	if _, err := uniqueIdx("EDTSlot", collect(c.EDTSlot, func(s SlotRecord) string { return s.Idx })); err != nil {
		return err
	}
	for _, s := range c.EDTSlot {
		if len(s.Ug) != 0 && len(s.Ug) != len(c.StaticGen) {
			return invalid("EDTSlot %s: %d ug entries for %d generators", s.Idx, len(s.Ug), len(c.StaticGen))
		}
	}
	if _, err := uniqueIdx("ESD1", collect(c.ESD1, func(e StorageRecord) string { return e.Idx })); err != nil {
		return err
	}
	for _, e := range c.ESD1 {
		if !buses[e.Bus] {
			return invalid("ESD1 %s: unknown bus %q", e.Idx, e.Bus)
		}
		if e.En <= 0 || e.EtaC <= 0 || e.EtaD <= 0 {
			return invalid("ESD1 %s: En, EtaC and EtaD must be positive", e.Idx)
		}
		if e.SOCmin > e.SOCmax || e.SOCinit < e.SOCmin || e.SOCinit > e.SOCmax {
			return invalid("ESD1 %s: SOC range", e.Idx)
		}
	}
	if _, err := uniqueIdx("SR", collect(c.SR, func(r ReserveRecord) string { return r.Idx })); err != nil {
		return err
	}
	if _, err := uniqueIdx("SRCost", collect(c.SRCost, func(r SRCostRecord) string { return r.Idx })); err != nil {
		return err
	}
	for _, r := range c.SRCost {
		if !gens[r.Gen] {
			return invalid("SRCost %s: unknown gen %q", r.Idx, r.Gen)
		}
	}
	if _, err := uniqueIdx("RegUp", collect(c.RegUp, func(r RegUpRecord) string { return r.Idx })); err != nil {
		return err
	}
	if _, err := uniqueIdx("RegDn", collect(c.RegDn, func(r RegDnRecord) string { return r.Idx })); err != nil {
		return err
	}
	for _, r := range c.RegUp {
		if r.Du < 0 {
			return invalid("RegUp %s: du must not be negative", r.Idx)
		}
	}
	for _, r := range c.RegDn {
		if r.Dd < 0 {
			return invalid("RegDn %s: dd must not be negative", r.Idx)
		}
	}
	return nil
}

func collect[T any](recs []T, key func(T) string) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = key(r)
	}
	return out
}

func column[T any](recs []T, val func(T) float64) [][]float64 {
	out := make([][]float64, len(recs))
	for i, r := range recs {
		out[i] = []float64{val(r)}
	}
	return out
}

type groupSpec struct {
	name  string
	idx   []string
	attrs map[string][][]float64
	refs  map[string][]string
}

// Build turns a validated case into a System with its network matrices.
func Build(c *Case) (*System, error) {
	s, err := New()
	if err != nil {
		return nil, err
	}

	ug := make([][]float64, len(c.EDTSlot))
	for i, slot := range c.EDTSlot {
		if len(slot.Ug) == 0 {
			ug[i] = ones(len(c.StaticGen))
			continue
		}
		ug[i] = append([]float64(nil), slot.Ug...)
	}

	specs := []groupSpec{
		{name: "Bus", idx: collect(c.Bus, func(b BusRecord) string { return b.Idx })},
		{
			name: "StaticGen",
			idx:  collect(c.StaticGen, func(g GenRecord) string { return g.Idx }),
			attrs: map[string][][]float64{
				"p0":   column(c.StaticGen, func(g GenRecord) float64 { return g.P0 }),
				"p":    column(c.StaticGen, func(g GenRecord) float64 { return g.P0 }),
				"pmax": column(c.StaticGen, func(g GenRecord) float64 { return g.Pmax }),
				"pmin": column(c.StaticGen, func(g GenRecord) float64 { return g.Pmin }),
				"R30":  column(c.StaticGen, func(g GenRecord) float64 { return g.R30 }),
				"ctrl": column(c.StaticGen, func(g GenRecord) float64 {
					if g.Ctrl != nil && !*g.Ctrl {
						return 0
					}
					return 1
				}),
			},
			refs: map[string][]string{"bus": collect(c.StaticGen, func(g GenRecord) string { return g.Bus })},
		},
		{
			name:  "PQ",
			idx:   collect(c.PQ, func(l LoadRecord) string { return l.Idx }),
			attrs: map[string][][]float64{"p0": column(c.PQ, func(l LoadRecord) float64 { return l.P0 })},
			refs:  map[string][]string{"bus": collect(c.PQ, func(l LoadRecord) string { return l.Bus })},
		},
		{
			name: "Line",
			idx:  collect(c.Line, func(l LineRecord) string { return l.Idx }),
			attrs: map[string][][]float64{
				"x":      column(c.Line, func(l LineRecord) float64 { return l.X }),
				"rate_a": column(c.Line, func(l LineRecord) float64 { return l.RateA }),
			},
			refs: map[string][]string{
				"bus1": collect(c.Line, func(l LineRecord) string { return l.Bus1 }),
				"bus2": collect(c.Line, func(l LineRecord) string { return l.Bus2 }),
			},
		},
		{
			name: "GCost",
			idx:  collect(c.GCost, func(g GCostRecord) string { return g.Idx }),
			attrs: map[string][][]float64{
				"c2": column(c.GCost, func(g GCostRecord) float64 { return g.C2 }),
				"c1": column(c.GCost, func(g GCostRecord) float64 { return g.C1 }),
				"c0": column(c.GCost, func(g GCostRecord) float64 { return g.C0 }),
			},
			refs: map[string][]string{"gen": collect(c.GCost, func(g GCostRecord) string { return g.Gen })},
		},
		{
			name: "EDTSlot",
			idx:  collect(c.EDTSlot, func(s SlotRecord) string { return s.Idx }),
			attrs: map[string][][]float64{
				"sd": column(c.EDTSlot, func(s SlotRecord) float64 { return s.Sd }),
				"ug": ug,
			},
		},
		{
			name: "ESD1",
			idx:  collect(c.ESD1, func(e StorageRecord) string { return e.Idx }),
			attrs: map[string][][]float64{
				"En":      column(c.ESD1, func(e StorageRecord) float64 { return e.En }),
				"EtaC":    column(c.ESD1, func(e StorageRecord) float64 { return e.EtaC }),
				"EtaD":    column(c.ESD1, func(e StorageRecord) float64 { return e.EtaD }),
				"SOCmin":  column(c.ESD1, func(e StorageRecord) float64 { return e.SOCmin }),
				"SOCmax":  column(c.ESD1, func(e StorageRecord) float64 { return e.SOCmax }),
				"SOCinit": column(c.ESD1, func(e StorageRecord) float64 { return e.SOCinit }),
				"PCmax":   column(c.ESD1, func(e StorageRecord) float64 { return e.PCmax }),
				"PDmax":   column(c.ESD1, func(e StorageRecord) float64 { return e.PDmax }),
				"SOC":     column(c.ESD1, func(e StorageRecord) float64 { return e.SOCinit }),
				"pce":     column(c.ESD1, func(StorageRecord) float64 { return 0 }),
				"pde":     column(c.ESD1, func(StorageRecord) float64 { return 0 }),
			},
			refs: map[string][]string{"bus": collect(c.ESD1, func(e StorageRecord) string { return e.Bus })},
		},
		{
			name:  "SR",
			idx:   collect(c.SR, func(r ReserveRecord) string { return r.Idx }),
			attrs: map[string][][]float64{"demand": column(c.SR, func(r ReserveRecord) float64 { return r.Demand })},
		},
		{
			name:  "SRCost",
			idx:   collect(c.SRCost, func(r SRCostRecord) string { return r.Idx }),
			attrs: map[string][][]float64{"csr": column(c.SRCost, func(r SRCostRecord) float64 { return r.Csr })},
			refs:  map[string][]string{"gen": collect(c.SRCost, func(r SRCostRecord) string { return r.Gen })},
		},
		{
			name:  "RegUp",
			idx:   collect(c.RegUp, func(r RegUpRecord) string { return r.Idx }),
			attrs: map[string][][]float64{"du": column(c.RegUp, func(r RegUpRecord) float64 { return r.Du })},
		},
		{
			name:  "RegDn",
			idx:   collect(c.RegDn, func(r RegDnRecord) string { return r.Idx }),
			attrs: map[string][][]float64{"dd": column(c.RegDn, func(r RegDnRecord) float64 { return r.Dd })},
		},
	}

	for _, spec := range specs {
		if err := s.AddGroup(spec.name, spec.idx); err != nil {
			return nil, err
		}
		for attr, rows := range spec.attrs {
			if err := s.SetAttribute(spec.name, attr, nil, rows); err != nil {
				return nil, err
			}
		}
		for field, refs := range spec.refs {
			if err := s.SetRef(spec.name, field, refs); err != nil {
				return nil, err
			}
		}
	}
	if err := s.BuildMatrices(); err != nil {
		return nil, err
	}
	return s, nil
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
