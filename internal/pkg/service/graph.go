package service

import (
	"fmt"
	"sync"

	"github.com/ohowland/cgc_dispatch/internal/pkg/expr"
)

// Source resolves service inputs that are not services themselves, hidden
// symbols included.
type Source interface {
	Resolve(name string) (expr.Value, error)
}

// Graph holds the derived quantities of one routine and memoizes their values
// for the current cycle.
type Graph struct {
	mux      *sync.Mutex
	order    []string
	services map[string]Service
	hidden   map[string]bool
	cache    map[string]expr.Value
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		mux:      &sync.Mutex{},
		services: make(map[string]Service),
		hidden:   make(map[string]bool),
		cache:    make(map[string]expr.Value),
	}
}

// Add registers a service. Hidden services are evaluated but kept out of the
// expression scope.
func (g *Graph) Add(s Service, hidden bool) error {
	g.mux.Lock()
	defer g.mux.Unlock()
	if _, ok := g.services[s.Name()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateService, s.Name())
	}
	g.services[s.Name()] = s
	g.hidden[s.Name()] = hidden
	g.order = append(g.order, s.Name())
	return nil
}

// Has reports whether name is a registered service.
func (g *Graph) Has(name string) bool {
	g.mux.Lock()
	defer g.mux.Unlock()
	_, ok := g.services[name]
	return ok
}

// Names returns service names in registration order.
func (g *Graph) Names() []string {
	g.mux.Lock()
	defer g.mux.Unlock()
	return append([]string(nil), g.order...)
}

// Reset drops the memoized values.
func (g *Graph) Reset() {
	g.mux.Lock()
	defer g.mux.Unlock()
	g.cache = make(map[string]expr.Value)
}

// Validate checks that the service dependencies form a DAG and returns an
// evaluation order.
func (g *Graph) Validate() ([]string, error) {
	g.mux.Lock()
	defer g.mux.Unlock()

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.services))
	var (
		stack []string
		topo  []string
	)
	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case grey:
			start := 0
			for i, s := range stack {
				if s == name {
					start = i
					break
				}
			}
			path := append(append([]string(nil), stack[start:]...), name)
			return &DependencyCycleError{Path: path}
		case black:
			return nil
		}
		color[name] = grey
		stack = append(stack, name)
		for _, in := range g.services[name].Inputs() {
			if _, ok := g.services[in]; !ok {
				continue
			}
			if err := visit(in); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		topo = append(topo, name)
		return nil
	}
	for _, name := range g.order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return topo, nil
}

// Materialize validates the whole graph, then evaluates every service in
// dependency order. No service is evaluated when the graph has a cycle.
func (g *Graph) Materialize(src Source) error {
	topo, err := g.Validate()
	if err != nil {
		return err
	}
	for _, name := range topo {
		if _, err := g.value(name, src); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) value(name string, src Source) (expr.Value, error) {
	g.mux.Lock()
	if v, ok := g.cache[name]; ok {
		g.mux.Unlock()
		return v, nil
	}
	s := g.services[name]
	g.mux.Unlock()

	inputs := s.Inputs()
	in := make([]expr.Value, len(inputs))
	for i, dep := range inputs {
		var err error
		if g.Has(dep) {
			in[i], err = g.value(dep, src)
		} else {
			in[i], err = src.Resolve(dep)
		}
		if err != nil {
			return expr.Value{}, &EvalError{Service: name, Err: err}
		}
	}
	v, err := s.Eval(in)
	if err == nil {
		err = v.CheckFinite(name)
	}
	if err != nil {
		return expr.Value{}, &EvalError{Service: name, Err: err}
	}

	g.mux.Lock()
	defer g.mux.Unlock()
	g.cache[name] = v
	return v, nil
}

// Resolve returns a materialized value, hidden services included.
func (g *Graph) Resolve(name string) (expr.Value, error) {
	g.mux.Lock()
	defer g.mux.Unlock()
	v, ok := g.cache[name]
	if !ok {
		return expr.Value{}, &expr.UnresolvedSymbolError{Name: name}
	}
	return v, nil
}

// Lookup implements expr.Scope over materialized, visible services.
func (g *Graph) Lookup(name string) (expr.Value, bool) {
	g.mux.Lock()
	defer g.mux.Unlock()
	if g.hidden[name] {
		return expr.Value{}, false
	}
	v, ok := g.cache[name]
	return v, ok
}
