package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for evolution.
var (
	// ErrInvalidState indicates a state vector with NaN or Inf entries.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrStepTooSmall indicates the adaptive step fell below the minimum.
	ErrStepTooSmall = errors.New("dynamo: adaptive step below minimum")

	// ErrMaxSteps indicates the step budget ran out before the end of the interval.
	ErrMaxSteps = errors.New("dynamo: maximum number of steps exceeded")

	// ErrNewtonDiverged indicates the implicit corrector did not converge.
	ErrNewtonDiverged = errors.New("dynamo: newton iteration did not converge")

	// ErrSingularJacobian indicates the iteration matrix could not be factorized.
	ErrSingularJacobian = errors.New("dynamo: singular iteration matrix")

	// ErrTolerance indicates an unusable tolerance setting.
	ErrTolerance = errors.New("dynamo: invalid tolerance")

	// ErrDimensionMismatch indicates mismatched state/system dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and system")

	// ErrInterval indicates an empty or reversed integration interval.
	ErrInterval = errors.New("dynamo: invalid integration interval")
)

// EvolveError wraps an error with the point of the evolution where it
// happened. Index is the offending state component, or -1 when unknown.
type EvolveError struct {
	Step    int
	Time    float64
	Index   int
	Wrapped error
}

func (e *EvolveError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("step %d (t=%.6g, component %d): %v", e.Step, e.Time, e.Index, e.Wrapped)
	}
	return fmt.Sprintf("step %d (t=%.6g): %v", e.Step, e.Time, e.Wrapped)
}

func (e *EvolveError) Unwrap() error {
	return e.Wrapped
}
