package expr

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks.
var (
	// ErrUnresolvedSymbol is matched by *UnresolvedSymbolError.
	ErrUnresolvedSymbol = errors.New("unresolved symbol")

	// ErrShapeMismatch is matched by *ShapeMismatchError.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrNumericDomain is matched by *NumericDomainError.
	ErrNumericDomain = errors.New("numeric domain error")

	// ErrNonlinear is returned when an expression leaves the linear-quadratic class.
	ErrNonlinear = errors.New("expression is not linear-quadratic")

	// ErrNotNumeric is returned when a numeric array is requested from a
	// value that depends on decision variables.
	ErrNotNumeric = errors.New("value depends on decision variables")

	// ErrSyntax is matched by *SyntaxError.
	ErrSyntax = errors.New("syntax error")
)

// UnresolvedSymbolError reports an identifier with no declaration in scope.
type UnresolvedSymbolError struct {
	Name string
	Expr string
}

func (e *UnresolvedSymbolError) Error() string {
	if e.Expr == "" {
		return fmt.Sprintf("unresolved symbol %q", e.Name)
	}
	return fmt.Sprintf("unresolved symbol %q in %q", e.Name, e.Expr)
}

// Is reports whether target is ErrUnresolvedSymbol.
func (e *UnresolvedSymbolError) Is(target error) bool {
	return target == ErrUnresolvedSymbol
}

// ShapeMismatchError reports operands whose shapes do not fit an operator.
type ShapeMismatchError struct {
	Op     string
	Left   Shape
	Right  Shape
	Detail string
	Expr   string
}

func (e *ShapeMismatchError) Error() string {
	msg := fmt.Sprintf("shape mismatch in %s: %s", e.Op, e.Left)
	if e.Right != nil {
		msg += " vs " + e.Right.String()
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Expr != "" {
		msg += fmt.Sprintf(" in %q", e.Expr)
	}
	return msg
}

// Is reports whether target is ErrShapeMismatch.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// NumericDomainError reports a division by zero or a non-finite result.
type NumericDomainError struct {
	Expr   string
	Symbol string
	Reason string
}

func (e *NumericDomainError) Error() string {
	msg := "numeric domain error: " + e.Reason
	if e.Symbol != "" {
		msg += fmt.Sprintf(" (symbol %q)", e.Symbol)
	}
	if e.Expr != "" {
		msg += fmt.Sprintf(" in %q", e.Expr)
	}
	return msg
}

// Is reports whether target is ErrNumericDomain.
func (e *NumericDomainError) Is(target error) bool {
	return target == ErrNumericDomain
}

// SyntaxError reports a malformed expression string.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d in %q: %s", e.Pos, e.Expr, e.Msg)
}

// Is reports whether target is ErrSyntax.
func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}

// annotate attaches the source expression to taxonomy errors that lack one.
func annotate(err error, src string) error {
	var (
		unresolved *UnresolvedSymbolError
		shape      *ShapeMismatchError
		domain     *NumericDomainError
	)
	switch {
	case errors.As(err, &unresolved):
		if unresolved.Expr == "" {
			unresolved.Expr = src
		}
	case errors.As(err, &shape):
		if shape.Expr == "" {
			shape.Expr = src
		}
	case errors.As(err, &domain):
		if domain.Expr == "" {
			domain.Expr = src
		}
	case errors.Is(err, ErrNonlinear):
		return fmt.Errorf("%w in %q", err, src)
	}
	return err
}
