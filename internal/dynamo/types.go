package dynamo

import (
	"fmt"
	"math"

	"github.com/san-kum/cosmic/internal/sparse"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

// System is the right-hand side of dy/dt = f(t, y). Derive writes f(t, y)
// into dy and must not retain y or dy.
type System interface {
	Dim() int
	Derive(t float64, y, dy []float64) error
}

// Jacobian is implemented by systems that can supply ∂f/∂y analytically.
// Every entry written by Jacobian must lie in Pattern. Evaluating the
// Jacobian is assumed to cost more than one call to Derive.
type Jacobian interface {
	Pattern() *sparse.Pattern
	Jacobian(t float64, y []float64, J *sparse.Matrix) error
}

// SystemFunc adapts a plain function to System.
type SystemFunc struct {
	N int
	F func(t float64, y, dy []float64) error
}

func (s SystemFunc) Dim() int                                { return s.N }
func (s SystemFunc) Derive(t float64, y, dy []float64) error { return s.F(t, y, dy) }

// Tolerance is the local error tolerance: component i is weighted by
// Abs_i + Rel·|y_i|, with Abs_i taken from AbsVec when it is set.
type Tolerance struct {
	Rel    float64
	Abs    float64
	AbsVec []float64
}

func (t Tolerance) Validate(dim int) error {
	if !(t.Rel > 0) {
		return fmt.Errorf("%w: relative tolerance %g", ErrTolerance, t.Rel)
	}
	if t.AbsVec == nil && !(t.Abs > 0) {
		return fmt.Errorf("%w: absolute tolerance %g", ErrTolerance, t.Abs)
	}
	if t.AbsVec != nil {
		if len(t.AbsVec) != dim {
			return fmt.Errorf("%w: %d absolute tolerances for %d unknowns", ErrDimensionMismatch, len(t.AbsVec), dim)
		}
		for i, a := range t.AbsVec {
			if !(a > 0) {
				return fmt.Errorf("%w: absolute tolerance %g at index %d", ErrTolerance, a, i)
			}
		}
	}
	return nil
}

func (t Tolerance) abs(i int) float64 {
	if t.AbsVec != nil {
		return t.AbsVec[i]
	}
	return t.Abs
}

// Weights fills w[i] = Abs_i + Rel·max(|y0_i|, |y1_i|).
func (t Tolerance) Weights(y0, y1, w []float64) {
	for i := range w {
		w[i] = t.abs(i) + t.Rel*math.Max(math.Abs(y0[i]), math.Abs(y1[i]))
	}
}

// WeightedRMS is the root-mean-square of e_i / w_i; a step is acceptable
// when it is at most one.
func WeightedRMS(e, w []float64) float64 {
	sum := 0.0
	for i := range e {
		r := e[i] / w[i]
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(e)))
}

// WeightedMax is the max-norm of e_i / w_i.
func WeightedMax(e, w []float64) float64 {
	m := 0.0
	for i := range e {
		m = math.Max(m, math.Abs(e[i]/w[i]))
	}
	return m
}

// Stats are convergence diagnostics of one evolution.
type Stats struct {
	Steps          int `json:"steps"`
	Rejected       int `json:"rejected"`
	RHSEvals       int `json:"rhs_evals"`
	JacobianEvals  int `json:"jacobian_evals"`
	Factorizations int `json:"factorizations"`
	NewtonFailures int `json:"newton_failures"`
}

func (s *Stats) Merge(o Stats) {
	s.Steps += o.Steps
	s.Rejected += o.Rejected
	s.RHSEvals += o.RHSEvals
	s.JacobianEvals += o.JacobianEvals
	s.Factorizations += o.Factorizations
	s.NewtonFailures += o.NewtonFailures
}

// Output is the solution tabulated at the requested points. Y[i] is the
// state at T[i]; the last row is always the state at the end of the interval.
type Output struct {
	T     []float64
	Y     []State
	Stats Stats
}

// Final returns the state at the end of the interval.
func (o *Output) Final() State {
	return o.Y[len(o.Y)-1]
}
