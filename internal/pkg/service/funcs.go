package service

import (
	"github.com/ohowland/cgc_dispatch/internal/pkg/expr"
)

// UnaryFunc maps one array to another.
type UnaryFunc func(expr.Value) (expr.Value, error)

// BinaryFunc combines two arrays.
type BinaryFunc func(a, b expr.Value) (expr.Value, error)

// Transpose swaps the axes of a rank-2 array.
func Transpose(v expr.Value) (expr.Value, error) { return v.Transpose(), nil }

// TransposeSeries turns a per-slot series (T, n) into (n, T). A rank-1
// series (T,) holds one device and becomes (1, T).
func TransposeSeries(v expr.Value) (expr.Value, error) {
	if v.Rank() == 1 {
		col, err := v.ExpandDims(1)
		if err != nil {
			return expr.Value{}, err
		}
		return col.Transpose(), nil
	}
	if v.Rank() != 2 {
		return expr.Value{}, &expr.ShapeMismatchError{Op: "transpose series", Left: v.Shape(), Detail: "expected slots by devices"}
	}
	return v.Transpose(), nil
}

// OnesLike returns an array of ones with the shape of v.
func OnesLike(v expr.Value) (expr.Value, error) {
	return expr.Add(expr.Zeros(v.Shape()), expr.Scalar(1))
}

// Reciprocal returns 1/v elementwise. Zero entries are a domain error.
func Reciprocal(v expr.Value) (expr.Value, error) {
	return expr.Div(expr.Scalar(1), v)
}

// Negate returns -v.
func Negate(v expr.Value) (expr.Value, error) { return expr.Neg(v), nil }

// SumRows sums each row of a rank-2 array.
func SumRows(v expr.Value) (expr.Value, error) { return expr.Sum(v, 1, false) }

// SumColumns sums each column of a rank-2 array.
func SumColumns(v expr.Value) (expr.Value, error) { return expr.Sum(v, 0, false) }

// Multiply is the elementwise product.
func Multiply(a, b expr.Value) (expr.Value, error) { return expr.Mul(a, b) }

// Add is the elementwise sum.
func Add(a, b expr.Value) (expr.Value, error) { return expr.Add(a, b) }

// Subtract is the elementwise difference.
func Subtract(a, b expr.Value) (expr.Value, error) { return expr.Sub(a, b) }

// Divide is the elementwise quotient; zero divisors are a domain error.
func Divide(a, b expr.Value) (expr.Value, error) { return expr.Div(a, b) }
