package expr

import (
	"fmt"
	"math"
)

// broadcast returns the NumPy broadcast of two shapes.
func broadcast(a, b Shape) (Shape, bool) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make(Shape, n)
	for d := 1; d <= n; d++ {
		da, db := 1, 1
		if d <= len(a) {
			da = a[len(a)-d]
		}
		if d <= len(b) {
			db = b[len(b)-d]
		}
		switch {
		case da == db:
			out[n-d] = da
		case da == 1:
			out[n-d] = db
		case db == 1:
			out[n-d] = da
		default:
			return nil, false
		}
	}
	return out, true
}

// bcastIndex maps a flat index of out onto the flat index of in.
func bcastIndex(in, out Shape, flat int) int {
	idx, stride := 0, 1
	for d := 1; d <= len(out); d++ {
		od := out[len(out)-d]
		c := flat % od
		flat /= od
		if d <= len(in) {
			id := in[len(in)-d]
			if id != 1 {
				idx += c * stride
			}
			stride *= id
		}
	}
	return idx
}

func elementwise(op string, a, b Value, f func(x, y Poly) (Poly, error)) (Value, error) {
	out, ok := broadcast(a.shape, b.shape)
	if !ok {
		return Value{}, &ShapeMismatchError{Op: op, Left: a.shape, Right: b.shape}
	}
	elems := make([]Poly, out.Size())
	for k := range elems {
		p, err := f(a.elems[bcastIndex(a.shape, out, k)], b.elems[bcastIndex(b.shape, out, k)])
		if err != nil {
			return Value{}, err
		}
		elems[k] = p
	}
	return Value{shape: out, elems: elems}, nil
}

// Add returns a + b with broadcasting.
func Add(a, b Value) (Value, error) {
	return elementwise("+", a, b, func(x, y Poly) (Poly, error) { return addPoly(x, 1, y), nil })
}

// Sub returns a - b with broadcasting.
func Sub(a, b Value) (Value, error) {
	return elementwise("-", a, b, func(x, y Poly) (Poly, error) { return addPoly(x, -1, y), nil })
}

// Mul returns the elementwise product with broadcasting.
func Mul(a, b Value) (Value, error) {
	return elementwise("*", a, b, mulPoly)
}

// Div returns the elementwise quotient. The divisor must be numeric and
// free of zero entries.
func Div(a, b Value) (Value, error) {
	if !b.IsNumeric() {
		return Value{}, fmt.Errorf("%w: division by a decision-dependent array", ErrNonlinear)
	}
	for k, p := range b.elems {
		if p.C == 0 {
			return Value{}, &NumericDomainError{Reason: fmt.Sprintf("division by zero element at entry %d", k)}
		}
	}
	return elementwise("/", a, b, func(x, y Poly) (Poly, error) { return scalePoly(1/y.C, x), nil })
}

// Neg returns -a.
func Neg(a Value) Value {
	elems := make([]Poly, len(a.elems))
	for k, p := range a.elems {
		elems[k] = scalePoly(-1, p)
	}
	return Value{shape: a.shape.clone(), elems: elems}
}

// Scale multiplies every entry by k.
func Scale(k float64, a Value) Value {
	elems := make([]Poly, len(a.elems))
	for i, p := range a.elems {
		elems[i] = scalePoly(k, p)
	}
	return Value{shape: a.shape.clone(), elems: elems}
}

// Pow raises a to the power b elementwise. Decision-dependent bases accept
// only the scalar exponents 0, 1 and 2.
func Pow(a, b Value) (Value, error) {
	if !b.IsNumeric() {
		return Value{}, fmt.Errorf("%w: decision-dependent exponent", ErrNonlinear)
	}
	if a.IsNumeric() {
		v, err := elementwise("**", a, b, func(x, y Poly) (Poly, error) {
			return Poly{C: math.Pow(x.C, y.C)}, nil
		})
		if err != nil {
			return Value{}, err
		}
		if err := v.checkFinite(); err != nil {
			return Value{}, err
		}
		return v, nil
	}
	k, err := b.Float()
	if err != nil {
		return Value{}, &ShapeMismatchError{Op: "**", Left: a.shape, Right: b.shape, Detail: "exponent of a decision expression must be a scalar"}
	}
	switch k {
	case 0:
		return elementwise("**", a, Scalar(1), func(_, y Poly) (Poly, error) { return Poly{C: y.C}, nil })
	case 1:
		return a, nil
	case 2:
		return Mul(a, a)
	}
	return Value{}, fmt.Errorf("%w: exponent %g on a decision expression", ErrNonlinear, k)
}

// Dot multiplies every entry of x by the scalar t.
func Dot(t, x Value) (Value, error) {
	if t.Size() != 1 {
		return Value{}, &ShapeMismatchError{Op: "dot", Left: t.shape, Right: x.shape, Detail: "left operand must be a scalar"}
	}
	s := t.elems[0]
	elems := make([]Poly, len(x.elems))
	for k, p := range x.elems {
		q, err := mulPoly(s, p)
		if err != nil {
			return Value{}, err
		}
		elems[k] = q
	}
	return Value{shape: x.shape.clone(), elems: elems}, nil
}

// MatMul follows NumPy matmul rank rules for ranks 1 and 2.
func MatMul(a, b Value) (Value, error) {
	if a.Rank() == 0 || b.Rank() == 0 {
		return Value{}, &ShapeMismatchError{Op: "@", Left: a.shape, Right: b.shape, Detail: "matrix product needs arrays; use * or dot for scalars"}
	}
	ar, ac := a.shape[0], 1
	if a.Rank() == 1 {
		ar, ac = 1, a.shape[0]
	} else {
		ac = a.shape[1]
	}
	br, bc := b.shape[0], 1
	if b.Rank() == 2 {
		bc = b.shape[1]
	}
	if ac != br {
		return Value{}, &ShapeMismatchError{Op: "@", Left: a.shape, Right: b.shape, Detail: "inner dimensions differ"}
	}
	elems := make([]Poly, ar*bc)
	for i := 0; i < ar; i++ {
		for j := 0; j < bc; j++ {
			var acc Poly
			for k := 0; k < ac; k++ {
				x := a.elems[i*ac+k]
				y := b.elems[k*bc+j]
				switch {
				case x.Degree() == 0:
					acc.axpy(x.C, y)
				case y.Degree() == 0:
					acc.axpy(y.C, x)
				default:
					p, err := mulPoly(x, y)
					if err != nil {
						return Value{}, err
					}
					acc.axpy(1, p)
				}
			}
			elems[i*bc+j] = acc
		}
	}
	var s Shape
	switch {
	case a.Rank() == 1 && b.Rank() == 1:
		s = Shape{}
	case a.Rank() == 1:
		s = Shape{bc}
	case b.Rank() == 1:
		s = Shape{ar}
	default:
		s = Shape{ar, bc}
	}
	return Value{shape: s, elems: elems}, nil
}

// Sum reduces over all entries (axis < 0 with all=true) or along one axis.
// The sum of an empty array is 0.
func Sum(a Value, axis int, all bool) (Value, error) {
	if all {
		var acc Poly
		for _, p := range a.elems {
			acc.axpy(1, p)
		}
		return Value{shape: Shape{}, elems: []Poly{acc}}, nil
	}
	if axis < 0 {
		axis += a.Rank()
	}
	switch {
	case a.Rank() == 1 && axis == 0:
		return Sum(a, 0, true)
	case a.Rank() == 2 && (axis == 0 || axis == 1):
		r, c := a.shape[0], a.shape[1]
		n := c
		if axis == 1 {
			n = r
		}
		elems := make([]Poly, n)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if axis == 0 {
					elems[j].axpy(1, a.elems[i*c+j])
				} else {
					elems[i].axpy(1, a.elems[i*c+j])
				}
			}
		}
		return Value{shape: Shape{n}, elems: elems}, nil
	}
	return Value{}, &ShapeMismatchError{Op: "sum", Left: a.shape, Detail: fmt.Sprintf("axis %d out of range", axis)}
}

// Hstack concatenates horizontally: rank-1 inputs end to end, rank-2 inputs along columns.
func Hstack(vs ...Value) (Value, error) {
	if len(vs) == 0 {
		return Value{}, &ShapeMismatchError{Op: "hstack", Left: Shape{}, Detail: "no operands"}
	}
	rank := vs[0].Rank()
	if rank < 1 {
		rank = 1
	}
	if rank == 1 {
		var elems []Poly
		for _, v := range vs {
			if v.Rank() > 1 {
				return Value{}, &ShapeMismatchError{Op: "hstack", Left: vs[0].shape, Right: v.shape}
			}
			elems = append(elems, v.elems...)
		}
		return Value{shape: Shape{len(elems)}, elems: elems}, nil
	}
	rows := vs[0].shape[0]
	cols := 0
	for _, v := range vs {
		if v.Rank() != 2 || v.shape[0] != rows {
			return Value{}, &ShapeMismatchError{Op: "hstack", Left: vs[0].shape, Right: v.shape}
		}
		cols += v.shape[1]
	}
	elems := make([]Poly, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for _, v := range vs {
			c := v.shape[1]
			elems = append(elems, v.elems[i*c:(i+1)*c]...)
		}
	}
	return Value{shape: Shape{rows, cols}, elems: elems}, nil
}

// Vstack concatenates vertically after promoting inputs to rank 2.
func Vstack(vs ...Value) (Value, error) {
	if len(vs) == 0 {
		return Value{}, &ShapeMismatchError{Op: "vstack", Left: Shape{}, Detail: "no operands"}
	}
	cols := -1
	rows := 0
	var elems []Poly
	for _, v := range vs {
		r, c := 1, v.Size()
		if v.Rank() == 2 {
			r, c = v.shape[0], v.shape[1]
		}
		if cols >= 0 && c != cols {
			return Value{}, &ShapeMismatchError{Op: "vstack", Left: vs[0].shape, Right: v.shape}
		}
		cols = c
		rows += r
		elems = append(elems, v.elems...)
	}
	return Value{shape: Shape{rows, cols}, elems: elems}, nil
}

// Selector picks along one axis: an integer index or a half-open slice.
type Selector struct {
	Slice       bool
	Index       int
	Start, Stop *int
}

func (s Selector) String() string {
	if !s.Slice {
		return fmt.Sprint(s.Index)
	}
	out := ""
	if s.Start != nil {
		out += fmt.Sprint(*s.Start)
	}
	out += ":"
	if s.Stop != nil {
		out += fmt.Sprint(*s.Stop)
	}
	return out
}

// Index applies NumPy basic indexing without steps.
func Index(a Value, sel []Selector) (Value, error) {
	if len(sel) > a.Rank() {
		return Value{}, &ShapeMismatchError{Op: "index", Left: a.shape, Detail: fmt.Sprintf("too many indices: %d", len(sel))}
	}
	type axisPick struct {
		pos  []int
		keep bool
	}
	picks := make([]axisPick, a.Rank())
	for d := 0; d < a.Rank(); d++ {
		n := a.shape[d]
		if d >= len(sel) {
			picks[d] = axisPick{pos: seq(0, n), keep: true}
			continue
		}
		s := sel[d]
		if !s.Slice {
			i := s.Index
			if i < 0 {
				i += n
			}
			if i < 0 || i >= n {
				return Value{}, &ShapeMismatchError{Op: "index", Left: a.shape, Detail: fmt.Sprintf("index %d out of range on axis %d", s.Index, d)}
			}
			picks[d] = axisPick{pos: []int{i}}
			continue
		}
		start, stop := 0, n
		if s.Start != nil {
			start = clampSlice(*s.Start, n)
		}
		if s.Stop != nil {
			stop = clampSlice(*s.Stop, n)
		}
		picks[d] = axisPick{pos: seq(start, stop), keep: true}
	}

	var shape Shape
	for _, p := range picks {
		if p.keep {
			shape = append(shape, len(p.pos))
		}
	}
	if shape == nil {
		shape = Shape{}
	}
	var elems []Poly
	switch a.Rank() {
	case 1:
		for _, i := range picks[0].pos {
			elems = append(elems, a.elems[i])
		}
	case 2:
		c := a.shape[1]
		for _, i := range picks[0].pos {
			for _, j := range picks[1].pos {
				elems = append(elems, a.elems[i*c+j])
			}
		}
	default:
		elems = append(elems, a.elems...)
	}
	if elems == nil {
		elems = []Poly{}
	}
	return Value{shape: shape, elems: elems}, nil
}

func clampSlice(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func seq(start, stop int) []int {
	if stop <= start {
		return nil
	}
	out := make([]int, 0, stop-start)
	for i := start; i < stop; i++ {
		out = append(out, i)
	}
	return out
}
