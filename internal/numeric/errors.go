package numeric

import "errors"

var (
	// ErrGrid indicates an abscissa array that is too short or not strictly increasing.
	ErrGrid = errors.New("numeric: abscissae must be strictly increasing with at least two points")

	// ErrLength indicates mismatched array lengths.
	ErrLength = errors.New("numeric: array lengths differ")

	// ErrQuadrature indicates the adaptive quadrature could not reach the tolerance.
	ErrQuadrature = errors.New("numeric: quadrature did not converge")
)
