package system

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrUnknownGroup is returned for a group that was never added.
	ErrUnknownGroup = errors.New("unknown group")

	// ErrUnknownAttribute is returned for an attribute a group does not carry.
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrUnknownDevice is returned for an idx not present in a group.
	ErrUnknownDevice = errors.New("unknown device")
)

// Group is an ordered set of devices of one model. Numeric attributes hold
// one row per device; reference fields hold the idx of a device in another group.
type Group struct {
	name  string
	idx   []string
	pos   map[string]int
	attrs map[string][][]float64
	refs  map[string][]string
}

func newGroup(name string, idx []string) (*Group, error) {
	pos := make(map[string]int, len(idx))
	for i, id := range idx {
		if _, dup := pos[id]; dup {
			return nil, fmt.Errorf("group %s: duplicate idx %q", name, id)
		}
		pos[id] = i
	}
	return &Group{
		name:  name,
		idx:   append([]string(nil), idx...),
		pos:   pos,
		attrs: make(map[string][][]float64),
		refs:  make(map[string][]string),
	}, nil
}

func (g *Group) rows(idx []string) ([]int, error) {
	if idx == nil {
		out := make([]int, len(g.idx))
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	out := make([]int, len(idx))
	for i, id := range idx {
		p, ok := g.pos[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s %q", ErrUnknownDevice, g.name, id)
		}
		out[i] = p
	}
	return out, nil
}

// System is the device-data model: device groups, their attributes and the
// network matrices derived from them. It implements symbol.Provider.
type System struct {
	mux      *sync.Mutex
	pid      uuid.UUID
	groups   map[string]*Group
	matrices map[string][][]float64
	version  uint64
}

// New returns an empty System.
func New() (*System, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	return &System{
		mux:      &sync.Mutex{},
		pid:      pid,
		groups:   make(map[string]*Group),
		matrices: make(map[string][][]float64),
	}, nil
}

// PID returns the system's PID
func (s *System) PID() uuid.UUID {
	return s.pid
}

// AddGroup registers a group with its ordered device idx.
func (s *System) AddGroup(name string, idx []string) error {
	g, err := newGroup(name, idx)
	if err != nil {
		return err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, exists := s.groups[name]; exists {
		return fmt.Errorf("group %s already exists", name)
	}
	s.groups[name] = g
	s.version++
	return nil
}

// Groups returns the group names, sorted.
func (s *System) Groups() []string {
	s.mux.Lock()
	defer s.mux.Unlock()
	out := make([]string, 0, len(s.groups))
	for name := range s.groups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *System) group(name string) (*Group, error) {
	g, ok := s.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, name)
	}
	return g, nil
}

// Idx returns the ordered device identifiers of a group.
func (s *System) Idx(group string) ([]string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	g, err := s.group(group)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), g.idx...), nil
}

// GetAttribute returns copies of the attribute rows of devices idx, or of
// every device when idx is nil.
func (s *System) GetAttribute(group, attr string, idx []string) ([][]float64, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	g, err := s.group(group)
	if err != nil {
		return nil, err
	}
	data, ok := g.attrs[attr]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, group, attr)
	}
	rows, err := g.rows(idx)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), data[r]...)
	}
	return out, nil
}

// SetAttribute writes one row per device. A nil idx writes every device in
// order. Unknown attributes are created when idx covers the whole group.
func (s *System) SetAttribute(group, attr string, idx []string, value [][]float64) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	g, err := s.group(group)
	if err != nil {
		return err
	}
	rows, err := g.rows(idx)
	if err != nil {
		return err
	}
	if len(rows) != len(value) {
		return fmt.Errorf("set %s.%s: %d rows for %d devices", group, attr, len(value), len(rows))
	}
	data, ok := g.attrs[attr]
	if !ok {
		if len(rows) != len(g.idx) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, group, attr)
		}
		data = make([][]float64, len(g.idx))
		g.attrs[attr] = data
	}
	for i, r := range rows {
		data[r] = append([]float64(nil), value[i]...)
	}
	s.version++
	return nil
}

// SetRef sets a reference field for every device of a group.
func (s *System) SetRef(group, field string, refs []string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	g, err := s.group(group)
	if err != nil {
		return err
	}
	if len(refs) != len(g.idx) {
		return fmt.Errorf("set %s.%s: %d refs for %d devices", group, field, len(refs), len(g.idx))
	}
	g.refs[field] = append([]string(nil), refs...)
	s.version++
	return nil
}

// Ref returns the reference field of devices idx, or of every device when idx is nil.
func (s *System) Ref(group, field string, idx []string) ([]string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	g, err := s.group(group)
	if err != nil {
		return nil, err
	}
	refs, ok := g.refs[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, group, field)
	}
	rows, err := g.rows(idx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = refs[r]
	}
	return out, nil
}

// SetMatrix stores a named system matrix.
func (s *System) SetMatrix(name string, m [][]float64) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.matrices[name] = copyRows(m)
	s.version++
}

// Matrix returns a copy of a named system matrix.
func (s *System) Matrix(name string) ([][]float64, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	m, ok := s.matrices[name]
	if !ok {
		return nil, fmt.Errorf("%w: matrix %s", ErrUnknownAttribute, name)
	}
	return copyRows(m), nil
}

// Version changes on every write.
func (s *System) Version() uint64 {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.version
}

func copyRows(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, r := range m {
		out[i] = append([]float64(nil), r...)
	}
	return out
}
