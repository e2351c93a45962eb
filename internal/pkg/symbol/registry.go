package symbol

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ohowland/cgc_dispatch/internal/pkg/expr"
)

// Registry holds the parameter and variable declarations of one routine and
// caches their resolved values for the current cycle.
type Registry struct {
	mux      *sync.Mutex
	provider Provider

	order  []Symbol
	params map[string]*Param
	vars   map[string]*Var

	cache     map[string]expr.Value
	resolving map[string]bool
	layout    []Block
	width     int
	laidOut   bool
	version   uint64
	filled    bool
}

// Handle refers to a declared symbol.
type Handle struct {
	reg  *Registry
	name string
	kind Kind
}

// Name returns the symbol name.
func (h Handle) Name() string { return h.name }

// Kind returns whether the handle is a parameter or a variable.
func (h Handle) Kind() Kind { return h.kind }

// Value resolves the symbol in the registry's current cycle.
func (h Handle) Value() (expr.Value, error) { return h.reg.Resolve(h.name) }

// NewRegistry returns an empty registry reading from p.
func NewRegistry(p Provider) *Registry {
	return &Registry{
		mux:       &sync.Mutex{},
		provider:  p,
		params:    make(map[string]*Param),
		vars:      make(map[string]*Var),
		cache:     make(map[string]expr.Value),
		resolving: make(map[string]bool),
	}
}

// Provider returns the device-data provider.
func (r *Registry) Provider() Provider { return r.provider }

// Declare adds a parameter or variable. Names are unique across both kinds.
func (r *Registry) Declare(s Symbol) (Handle, error) {
	name := s.SymbolName()
	if !validName(name) {
		return Handle{}, fmt.Errorf("symbol: invalid name %q", name)
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.declared(name) {
		return Handle{}, fmt.Errorf("%w: %q", ErrDuplicateSymbol, name)
	}
	switch v := s.(type) {
	case *Param:
		r.params[name] = v
	case *Var:
		if v.Model == "" {
			return Handle{}, fmt.Errorf("symbol: variable %q has no owner group", name)
		}
		r.vars[name] = v
	default:
		return Handle{}, fmt.Errorf("symbol: unsupported declaration %T", s)
	}
	r.order = append(r.order, s)
	r.laidOut = false
	return Handle{reg: r, name: name, kind: s.SymbolKind()}, nil
}

func (r *Registry) declared(name string) bool {
	_, p := r.params[name]
	_, v := r.vars[name]
	return p || v
}

// Has reports whether name is declared.
func (r *Registry) Has(name string) bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.declared(name)
}

// Params returns the parameter declarations in declaration order.
func (r *Registry) Params() []*Param {
	r.mux.Lock()
	defer r.mux.Unlock()
	var out []*Param
	for _, s := range r.order {
		if p, ok := s.(*Param); ok {
			out = append(out, p)
		}
	}
	return out
}

// Vars returns the variable declarations in declaration order.
func (r *Registry) Vars() []*Var {
	r.mux.Lock()
	defer r.mux.Unlock()
	var out []*Var
	for _, s := range r.order {
		if v, ok := s.(*Var); ok {
			out = append(out, v)
		}
	}
	return out
}

// Param returns the named parameter declaration.
func (r *Registry) Param(name string) (*Param, bool) {
	r.mux.Lock()
	defer r.mux.Unlock()
	p, ok := r.params[name]
	return p, ok
}

// Var returns the named variable declaration.
func (r *Registry) Var(name string) (*Var, bool) {
	r.mux.Lock()
	defer r.mux.Unlock()
	v, ok := r.vars[name]
	return v, ok
}

// Reset starts a new resolution cycle.
func (r *Registry) Reset() {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.cache = make(map[string]expr.Value)
	r.resolving = make(map[string]bool)
	r.layout = nil
	r.width = 0
	r.laidOut = false
	r.filled = false
}

// Version returns the provider version observed when the current cycle first
// pulled data.
func (r *Registry) Version() uint64 {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.version
}

// Lookup implements expr.Scope. NoParse parameters are not visible.
func (r *Registry) Lookup(name string) (expr.Value, bool) {
	v, ok, err := r.LookupErr(name)
	return v, ok && err == nil
}

// LookupErr implements expr.ResolvingScope: undeclared and NoParse names are
// not found, and a declared symbol that fails to resolve returns its error.
func (r *Registry) LookupErr(name string) (expr.Value, bool, error) {
	if p, ok := r.Param(name); ok && p.NoParse {
		return expr.Value{}, false, nil
	}
	if !r.Has(name) {
		return expr.Value{}, false, nil
	}
	v, err := r.Resolve(name)
	if err != nil {
		return expr.Value{}, false, fmt.Errorf("symbol %s: %w", name, err)
	}
	return v, true, nil
}

// Resolve returns the value of a declared symbol in the current cycle.
// Variables resolve to their symbolic block in the decision vector.
func (r *Registry) Resolve(name string) (expr.Value, error) {
	if v, ok := r.Var(name); ok {
		if _, _, err := r.Layout(); err != nil {
			return expr.Value{}, err
		}
		b, _ := r.Block(v.Name)
		return expr.Variable(b.Offset, b.Shape), nil
	}
	p, ok := r.Param(name)
	if !ok {
		return expr.Value{}, &expr.UnresolvedSymbolError{Name: name}
	}

	r.mux.Lock()
	if v, ok := r.cache[name]; ok {
		r.mux.Unlock()
		return v, nil
	}
	if r.resolving[name] {
		r.mux.Unlock()
		return expr.Value{}, fmt.Errorf("symbol: %q refers to itself: %w", name, &expr.UnresolvedSymbolError{Name: name})
	}
	r.resolving[name] = true
	r.touch()
	r.mux.Unlock()

	v, err := r.resolveParam(p)

	r.mux.Lock()
	defer r.mux.Unlock()
	delete(r.resolving, name)
	if err != nil {
		return expr.Value{}, err
	}
	r.cache[name] = v
	return v, nil
}

// ResolveAll resolves every parameter and lays out the variables, returning
// the first failure.
func (r *Registry) ResolveAll() error {
	for _, p := range r.Params() {
		if _, err := r.Resolve(p.Name); err != nil {
			return fmt.Errorf("param %s: %w", p.Name, err)
		}
	}
	_, _, err := r.Layout()
	return err
}

// touch records the provider version at the first pull of a cycle. r.mux must be held.
func (r *Registry) touch() {
	if !r.filled {
		r.version = r.provider.Version()
		r.filled = true
	}
}

func (r *Registry) resolveParam(p *Param) (expr.Value, error) {
	var (
		v   expr.Value
		err error
	)
	switch {
	case p.Expr != "":
		v, err = expr.Evaluate(p.Expr, r)
	case p.Model != "":
		v, err = r.fromAttribute(p)
	default:
		v, err = r.fromMatrix(p)
	}
	if err != nil {
		var domain *expr.NumericDomainError
		if errors.As(err, &domain) && domain.Symbol == "" {
			domain.Symbol = p.Name
		}
		return expr.Value{}, err
	}
	switch p.ExpandDims {
	case ExpandRow:
		return v.ExpandDims(0)
	case ExpandCol:
		return v.ExpandDims(1)
	}
	return v, nil
}

func (r *Registry) fromAttribute(p *Param) (expr.Value, error) {
	rows, err := r.provider.GetAttribute(p.Model, p.source(), nil)
	if err != nil {
		return expr.Value{}, fmt.Errorf("%w: %v", &expr.UnresolvedSymbolError{Name: p.Name}, err)
	}
	if p.Indexer != "" && p.IModel != "" {
		rows, err = r.reindex(p, rows)
		if err != nil {
			return expr.Value{}, err
		}
	}
	return rowsToValue(p.Name, rows, false)
}

func (r *Registry) reindex(p *Param, rows [][]float64) ([][]float64, error) {
	refs, err := r.provider.Ref(p.Model, p.Indexer, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", &expr.UnresolvedSymbolError{Name: p.Name}, err)
	}
	want, err := r.provider.Idx(p.IModel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", &expr.UnresolvedSymbolError{Name: p.Name}, err)
	}
	pos := make(map[string]int, len(refs))
	for i, ref := range refs {
		if _, dup := pos[ref]; !dup {
			pos[ref] = i
		}
	}
	out := make([][]float64, len(want))
	for i, idx := range want {
		j, ok := pos[idx]
		if !ok || j >= len(rows) {
			return nil, fmt.Errorf("%w: no %s device with %s=%q",
				&expr.UnresolvedSymbolError{Name: p.Name}, p.Model, p.Indexer, idx)
		}
		out[i] = rows[j]
	}
	return out, nil
}

func (r *Registry) fromMatrix(p *Param) (expr.Value, error) {
	rows, err := r.provider.Matrix(p.source())
	if err != nil {
		return expr.Value{}, fmt.Errorf("%w: %v", &expr.UnresolvedSymbolError{Name: p.Name}, err)
	}
	return rowsToValue(p.Name, rows, true)
}

// rowsToValue turns provider rows into a value: scalar attributes become
// (n,), series and matrices become (n, k).
func rowsToValue(name string, rows [][]float64, matrix bool) (expr.Value, error) {
	if len(rows) == 0 {
		if matrix {
			return expr.Zeros(expr.Shape{0, 0}), nil
		}
		return expr.Vector(nil), nil
	}
	width := len(rows[0])
	data := make([]float64, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return expr.Value{}, &expr.ShapeMismatchError{
				Op:     "resolve " + name,
				Left:   expr.Shape{width},
				Right:  expr.Shape{len(row)},
				Detail: fmt.Sprintf("ragged row %d", i),
			}
		}
		data = append(data, row...)
	}
	if width == 1 && !matrix {
		return expr.Vector(data), nil
	}
	return expr.Matrix(len(rows), width, data), nil
}

// Layout assigns decision-vector columns to variables in declaration order
// and returns the blocks and the total width.
func (r *Registry) Layout() ([]Block, int, error) {
	r.mux.Lock()
	if r.laidOut {
		defer r.mux.Unlock()
		return append([]Block(nil), r.layout...), r.width, nil
	}
	r.touch()
	r.mux.Unlock()

	var (
		blocks []Block
		off    int
	)
	for _, v := range r.Vars() {
		idx, err := r.provider.Idx(v.Model)
		if err != nil {
			return nil, 0, fmt.Errorf("var %s: %w", v.Name, err)
		}
		shape := expr.Shape{len(idx)}
		if v.Horizon != "" {
			t, err := r.horizon(v)
			if err != nil {
				return nil, 0, err
			}
			shape = expr.Shape{len(idx), t}
		}
		blocks = append(blocks, Block{Name: v.Name, Offset: off, Shape: shape, Var: v})
		off += shape.Size()
	}

	r.mux.Lock()
	defer r.mux.Unlock()
	r.layout = blocks
	r.width = off
	r.laidOut = true
	return append([]Block(nil), blocks...), off, nil
}

func (r *Registry) horizon(v *Var) (int, error) {
	if _, ok := r.Param(v.Horizon); !ok {
		return 0, fmt.Errorf("%w: var %s horizon %q is not a parameter", ErrHorizon, v.Name, v.Horizon)
	}
	h, err := r.Resolve(v.Horizon)
	if err != nil {
		return 0, fmt.Errorf("var %s horizon: %w", v.Name, err)
	}
	if h.Rank() == 0 {
		return 0, fmt.Errorf("%w: var %s horizon %q is a scalar", ErrHorizon, v.Name, v.Horizon)
	}
	return h.Shape()[0], nil
}

// Block returns the layout block of a variable. Layout must have run in this cycle.
func (r *Registry) Block(name string) (Block, bool) {
	r.mux.Lock()
	defer r.mux.Unlock()
	for _, b := range r.layout {
		if b.Name == name {
			return b, true
		}
	}
	return Block{}, false
}

func validName(s string) bool {
	if s == "" || s == "dot" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
