package sparse

import (
	"errors"
	"fmt"
)

var (
	// ErrSingular indicates a numerically singular matrix.
	ErrSingular = errors.New("sparse: matrix is numerically singular")

	// ErrStructurallySingular indicates the pattern cannot have full rank for
	// any choice of values.
	ErrStructurallySingular = errors.New("sparse: pattern is structurally singular")

	// ErrPatternMismatch indicates values bound to a different pattern than
	// the one that was analysed.
	ErrPatternMismatch = errors.New("sparse: matrix pattern differs from analysed pattern")

	// ErrDimension indicates a vector length that does not match the matrix.
	ErrDimension = errors.New("sparse: dimension mismatch")
)

// SingularError names the column (unknown) that had no usable pivot.
type SingularError struct {
	Column int
	Pivot  float64
}

func (e *SingularError) Error() string {
	return fmt.Sprintf("sparse: no usable pivot in column %d (|pivot|=%g)", e.Column, e.Pivot)
}

func (e *SingularError) Is(target error) bool {
	return target == ErrSingular
}
