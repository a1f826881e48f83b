package integrators

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/cosmic/internal/dynamo"
	"github.com/san-kum/cosmic/internal/fault"
	"github.com/san-kum/cosmic/internal/sparse"
)

// DefaultMaxSteps bounds the number of accepted steps of one evolution.
const DefaultMaxSteps = 100000

var eps = math.Nextafter(1, 2) - 1

// Evolver advances a System across an interval under local error control.
// Implementations keep no state between calls and may be shared across
// goroutines.
type Evolver interface {
	Name() string
	Evolve(ctx context.Context, sys dynamo.System, t0 float64, y0 dynamo.State, t1 float64, opts Options) (*dynamo.Output, error)
}

type Options struct {
	Tol dynamo.Tolerance

	// InitialStep is estimated from the first derivatives when zero.
	InitialStep float64
	// MaxStep defaults to the length of the interval.
	MaxStep float64
	// MinStep defaults to 16·eps·|t|.
	MinStep  float64
	MaxSteps int

	// MaxOrder caps the NDF order (1..5).
	MaxOrder int

	// Outputs are increasing points in [t0, t1] at which the solution is
	// tabulated. t1 is always appended.
	Outputs []float64

	// Symbolic is an analysis of the system's Jacobian pattern shared by
	// many evolutions of the same problem class. It is read-only.
	Symbolic *sparse.Symbolic
}

func (o Options) validate(n int, t0 float64, y0 dynamo.State, t1 float64) error {
	if len(y0) != n {
		return fault.Configuration("%w: state has %d entries, system %d", dynamo.ErrDimensionMismatch, len(y0), n)
	}
	if !y0.IsValid() {
		return fault.Numerical("%w", dynamo.ErrInvalidState)
	}
	if !(t1 > t0) {
		return fault.Configuration("%w: [%g, %g]", dynamo.ErrInterval, t0, t1)
	}
	if err := o.Tol.Validate(n); err != nil {
		return fault.Configuration("%w", err)
	}
	prev := t0
	for _, t := range o.Outputs {
		if t < prev || t > t1 {
			return fault.Configuration("%w: output point %g outside [%g, %g] or out of order", dynamo.ErrInterval, t, t0, t1)
		}
		prev = t
	}
	if o.MaxStep < 0 || o.MinStep < 0 || o.InitialStep < 0 {
		return fault.Configuration("%w: negative step bound", dynamo.ErrInterval)
	}
	return nil
}

func (o Options) maxSteps() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return DefaultMaxSteps
}

func (o Options) maxStep(t0, t1 float64) float64 {
	if o.MaxStep > 0 {
		return o.MaxStep
	}
	return t1 - t0
}

func (o Options) minStep(t, t1 float64) float64 {
	if o.MinStep > 0 {
		return o.MinStep
	}
	return 16 * eps * math.Max(math.Abs(t), math.Abs(t1))
}

// failure annotates err with the point of the evolution it happened at and
// classifies it as numerical unless the system already classified it.
func failure(name string, step int, t float64, index int, err error) error {
	ee := &dynamo.EvolveError{Step: step, Time: t, Index: index, Wrapped: err}
	if fault.KindOf(err) != fault.KindUnknown {
		return fmt.Errorf("%s: %w", name, ee)
	}
	return fault.Numerical("%s: %w", name, ee)
}

// collector tabulates the solution at the requested points.
type collector struct {
	points []float64
	next   int
	out    *dynamo.Output
}

func newCollector(points []float64, t0, t1 float64, y0 dynamo.State) *collector {
	ps := make([]float64, 0, len(points)+1)
	ps = append(ps, points...)
	if len(ps) == 0 || ps[len(ps)-1] != t1 {
		ps = append(ps, t1)
	}
	c := &collector{
		points: ps,
		out: &dynamo.Output{
			T: make([]float64, 0, len(ps)),
			Y: make([]dynamo.State, 0, len(ps)),
		},
	}
	for c.next < len(c.points) && c.points[c.next] <= t0 {
		c.record(y0.Clone())
	}
	return c
}

// pending returns the next point still to be recorded.
func (c *collector) pending() (float64, bool) {
	if c.next >= len(c.points) {
		return 0, false
	}
	return c.points[c.next], true
}

func (c *collector) record(y dynamo.State) {
	c.out.T = append(c.out.T, c.points[c.next])
	c.out.Y = append(c.out.Y, y)
	c.next++
}

// initialStep estimates a first step from the size of y0, f(t0, y0) and a
// difference quotient of f, after Hairer, Nørsett & Wanner.
func initialStep(sys dynamo.System, t0, t1 float64, y0, f0 []float64, tol dynamo.Tolerance, order int, stats *dynamo.Stats) (float64, error) {
	n := len(y0)
	scale := make([]float64, n)
	tol.Weights(y0, y0, scale)

	d0 := dynamo.WeightedRMS(y0, scale)
	d1 := dynamo.WeightedRMS(f0, scale)
	h0 := 1e-6
	if d0 >= 1e-5 && d1 >= 1e-5 {
		h0 = 0.01 * d0 / d1
	}
	h0 = math.Min(h0, t1-t0)

	y1 := make([]float64, n)
	for i := range y1 {
		y1[i] = y0[i] + h0*f0[i]
	}
	f1 := make([]float64, n)
	if err := sys.Derive(t0+h0, y1, f1); err != nil {
		return 0, err
	}
	stats.RHSEvals++
	for i := range f1 {
		f1[i] -= f0[i]
	}
	d2 := dynamo.WeightedRMS(f1, scale) / h0

	var h1 float64
	if d1 <= 1e-15 && d2 <= 1e-15 {
		h1 = math.Max(1e-6, h0*1e-3)
	} else {
		h1 = math.Pow(0.01/math.Max(d1, d2), 1/float64(order+1))
	}
	return math.Min(math.Min(100*h0, h1), t1-t0), nil
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
