package expr

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Shape is the dimension list of a Value. Rank 0 (scalar), 1 and 2 are supported.
type Shape []int

// Size returns the number of entries.
func (s Shape) Size() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether both shapes have identical dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	switch len(s) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", s[0])
	}
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (s Shape) clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Pair indexes the quadratic term x[I]*x[J], I <= J.
type Pair struct{ I, J int }

func orderedPair(i, j int) Pair {
	if i > j {
		i, j = j, i
	}
	return Pair{i, j}
}

// Poly is a single array entry: C + sum L[j]*x[j] + sum Q[p]*x[p.I]*x[p.J],
// where x is the flattened decision vector.
type Poly struct {
	C float64
	L map[int]float64
	Q map[Pair]float64
}

// Degree returns 0 for constants, 1 for affine and 2 for quadratic entries.
func (p Poly) Degree() int {
	switch {
	case len(p.Q) > 0:
		return 2
	case len(p.L) > 0:
		return 1
	}
	return 0
}

// Columns returns the linear term columns in ascending order.
func (p Poly) Columns() []int {
	cols := make([]int, 0, len(p.L))
	for j := range p.L {
		cols = append(cols, j)
	}
	sort.Ints(cols)
	return cols
}

// Pairs returns the quadratic term keys in ascending order.
func (p Poly) Pairs() []Pair {
	pairs := make([]Pair, 0, len(p.Q))
	for k := range p.Q {
		pairs = append(pairs, k)
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].I != pairs[b].I {
			return pairs[a].I < pairs[b].I
		}
		return pairs[a].J < pairs[b].J
	})
	return pairs
}

func (p Poly) finite() bool {
	if math.IsNaN(p.C) || math.IsInf(p.C, 0) {
		return false
	}
	for _, v := range p.L {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for _, v := range p.Q {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// axpy adds k*p into acc. acc must not alias p's maps.
func (acc *Poly) axpy(k float64, p Poly) {
	if k == 0 {
		return
	}
	acc.C += k * p.C
	if len(p.L) > 0 {
		if acc.L == nil {
			acc.L = make(map[int]float64, len(p.L))
		}
		for j, v := range p.L {
			s := acc.L[j] + k*v
			if s == 0 {
				delete(acc.L, j)
				continue
			}
			acc.L[j] = s
		}
	}
	if len(p.Q) > 0 {
		if acc.Q == nil {
			acc.Q = make(map[Pair]float64, len(p.Q))
		}
		for q, v := range p.Q {
			s := acc.Q[q] + k*v
			if s == 0 {
				delete(acc.Q, q)
				continue
			}
			acc.Q[q] = s
		}
	}
}

func scalePoly(k float64, p Poly) Poly {
	var out Poly
	out.axpy(k, p)
	if k == 0 {
		out.C = 0
	}
	return out
}

func addPoly(a Poly, k float64, b Poly) Poly {
	var out Poly
	out.axpy(1, a)
	out.axpy(k, b)
	return out
}

// mulPoly multiplies two entries, rejecting products above degree two.
func mulPoly(a, b Poly) (Poly, error) {
	da, db := a.Degree(), b.Degree()
	if da+db > 2 {
		return Poly{}, fmt.Errorf("%w: product of degree %d and degree %d terms", ErrNonlinear, da, db)
	}
	if da == 0 {
		return scalePoly(a.C, b), nil
	}
	if db == 0 {
		return scalePoly(b.C, a), nil
	}
	// both affine
	var out Poly
	out.C = a.C * b.C
	out.axpy(a.C, Poly{L: b.L})
	out.axpy(b.C, Poly{L: a.L})
	q := make(map[Pair]float64)
	for i, vi := range a.L {
		for j, vj := range b.L {
			k := orderedPair(i, j)
			q[k] += vi * vj
		}
	}
	out.axpy(1, Poly{Q: q})
	return out, nil
}

// Value is a rank 0-2 array whose entries are polynomials of degree at most
// two in the decision vector. Numeric arrays are the degree-0 case.
type Value struct {
	shape Shape
	elems []Poly
}

// Scalar returns a rank-0 numeric value.
func Scalar(v float64) Value {
	return Value{shape: Shape{}, elems: []Poly{{C: v}}}
}

// Vector returns a rank-1 numeric value.
func Vector(data []float64) Value {
	elems := make([]Poly, len(data))
	for i, v := range data {
		elems[i].C = v
	}
	return Value{shape: Shape{len(data)}, elems: elems}
}

// Matrix returns a rank-2 numeric value from row-major data.
func Matrix(rows, cols int, data []float64) Value {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("expr: matrix data length %d does not match %dx%d", len(data), rows, cols))
	}
	elems := make([]Poly, len(data))
	for i, v := range data {
		elems[i].C = v
	}
	return Value{shape: Shape{rows, cols}, elems: elems}
}

// Zeros returns a numeric value of the given shape filled with zeros.
func Zeros(s Shape) Value {
	return Value{shape: s.clone(), elems: make([]Poly, s.Size())}
}

// FromDense copies a gonum matrix into a rank-2 numeric value.
func FromDense(m mat.Matrix) Value {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return Matrix(r, c, data)
}

// Variable returns a symbolic value whose k-th entry (row-major) is
// x[offset+k].
func Variable(offset int, s Shape) Value {
	elems := make([]Poly, s.Size())
	for k := range elems {
		elems[k].L = map[int]float64{offset + k: 1}
	}
	return Value{shape: s.clone(), elems: elems}
}

// Shape returns a copy of the value's shape.
func (v Value) Shape() Shape { return v.shape.clone() }

// Rank returns the number of dimensions.
func (v Value) Rank() int { return len(v.shape) }

// Size returns the number of entries.
func (v Value) Size() int { return len(v.elems) }

// Entry returns the k-th entry in row-major order.
func (v Value) Entry(k int) Poly { return v.elems[k] }

// Degree returns the highest entry degree.
func (v Value) Degree() int {
	d := 0
	for _, p := range v.elems {
		if pd := p.Degree(); pd > d {
			d = pd
		}
	}
	return d
}

// IsNumeric reports whether no entry depends on the decision vector.
func (v Value) IsNumeric() bool { return v.Degree() == 0 }

// Data returns the row-major numeric entries.
func (v Value) Data() ([]float64, error) {
	if !v.IsNumeric() {
		return nil, ErrNotNumeric
	}
	out := make([]float64, len(v.elems))
	for i, p := range v.elems {
		out[i] = p.C
	}
	return out, nil
}

// Float returns the single numeric entry of a size-one value.
func (v Value) Float() (float64, error) {
	if len(v.elems) != 1 {
		return 0, &ShapeMismatchError{Op: "scalar", Left: v.shape, Detail: "expected exactly one entry"}
	}
	if v.elems[0].Degree() != 0 {
		return 0, ErrNotNumeric
	}
	return v.elems[0].C, nil
}

// Rows returns the numeric entries as rows; rank 0 and 1 values become a single column.
func (v Value) Rows() ([][]float64, error) {
	data, err := v.Data()
	if err != nil {
		return nil, err
	}
	r, c := v.dims2()
	out := make([][]float64, r)
	for i := range out {
		out[i] = data[i*c : (i+1)*c]
	}
	return out, nil
}

// Dense exports a non-empty numeric value as a gonum matrix. Rank 1 values
// become column vectors.
func (v Value) Dense() (*mat.Dense, error) {
	data, err := v.Data()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &ShapeMismatchError{Op: "dense", Left: v.shape, Detail: "empty array"}
	}
	r, c := v.dims2()
	return mat.NewDense(r, c, data), nil
}

// dims2 views the value as a matrix: scalars are 1x1, vectors n x 1.
func (v Value) dims2() (int, int) {
	switch len(v.shape) {
	case 0:
		return 1, 1
	case 1:
		return v.shape[0], 1
	}
	return v.shape[0], v.shape[1]
}

// Reshape returns the same entries under a new shape of equal size.
func (v Value) Reshape(s Shape) (Value, error) {
	if s.Size() != v.shape.Size() {
		return Value{}, &ShapeMismatchError{Op: "reshape", Left: v.shape, Right: s}
	}
	return Value{shape: s.clone(), elems: v.elems}, nil
}

// ExpandDims inserts a unit axis without moving data.
func (v Value) ExpandDims(axis int) (Value, error) {
	if len(v.shape) >= 2 || axis < 0 || axis > len(v.shape) {
		return Value{}, &ShapeMismatchError{Op: "expand_dims", Left: v.shape, Detail: fmt.Sprintf("axis %d", axis)}
	}
	s := make(Shape, 0, len(v.shape)+1)
	s = append(s, v.shape[:axis]...)
	s = append(s, 1)
	s = append(s, v.shape[axis:]...)
	return Value{shape: s, elems: v.elems}, nil
}

// Transpose swaps the axes of a rank-2 value; other ranks are returned unchanged.
func (v Value) Transpose() Value {
	if len(v.shape) != 2 {
		return v
	}
	r, c := v.shape[0], v.shape[1]
	elems := make([]Poly, len(v.elems))
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			elems[j*r+i] = v.elems[i*c+j]
		}
	}
	return Value{shape: Shape{c, r}, elems: elems}
}

func (v Value) String() string {
	if v.IsNumeric() {
		data, _ := v.Data()
		return fmt.Sprintf("Value%s%v", v.shape, data)
	}
	return fmt.Sprintf("Value%s[degree %d]", v.shape, v.Degree())
}

// CheckFinite returns a *NumericDomainError naming symbol when any entry
// has a NaN or infinite coefficient.
func (v Value) CheckFinite(symbol string) error {
	for k, p := range v.elems {
		if !p.finite() {
			return &NumericDomainError{Symbol: symbol, Reason: fmt.Sprintf("non-finite value at entry %d", k)}
		}
	}
	return nil
}

// checkFinite reports the first non-finite entry.
func (v Value) checkFinite() error {
	for k, p := range v.elems {
		if !p.finite() {
			return &NumericDomainError{Reason: fmt.Sprintf("non-finite value at entry %d", k)}
		}
	}
	return nil
}
