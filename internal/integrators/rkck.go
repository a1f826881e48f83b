package integrators

import (
	"context"
	"math"

	"github.com/san-kum/cosmic/internal/dynamo"
)

// Cash-Karp coefficients (RKCK 4(5))
var (
	ck2 = 1.0 / 5.0
	ck3 = 3.0 / 10.0
	ck4 = 3.0 / 5.0
	ck5 = 1.0
	ck6 = 7.0 / 8.0

	ck21 = 1.0 / 5.0
	ck31 = 3.0 / 40.0
	ck32 = 9.0 / 40.0
	ck41 = 3.0 / 10.0
	ck42 = -9.0 / 10.0
	ck43 = 6.0 / 5.0
	ck51 = -11.0 / 54.0
	ck52 = 5.0 / 2.0
	ck53 = -70.0 / 27.0
	ck54 = 35.0 / 27.0
	ck61 = 1631.0 / 55296.0
	ck62 = 175.0 / 512.0
	ck63 = 575.0 / 13824.0
	ck64 = 44275.0 / 110592.0
	ck65 = 253.0 / 4096.0

	cw1 = 37.0 / 378.0
	cw3 = 250.0 / 621.0
	cw4 = 125.0 / 594.0
	cw6 = 512.0 / 1771.0

	ce1 = cw1 - 2825.0/27648.0
	ce3 = cw3 - 18575.0/48384.0
	ce4 = cw4 - 13525.0/55296.0
	ce5 = -277.0 / 14336.0
	ce6 = cw6 - 1.0/4.0
)

// RKCK is an explicit adaptive Runge-Kutta-Cash-Karp evolver. It propagates
// the fifth-order solution and sizes steps from the embedded fourth-order
// difference. There is no linear solve, so it suits non-stiff stretches.
type RKCK struct {
	safety   float64
	minScale float64
	maxScale float64
}

func NewRKCK() *RKCK {
	return &RKCK{
		safety:   0.9,
		minScale: 0.2,
		maxScale: 5.0,
	}
}

func (*RKCK) Name() string { return "rkck" }

type rkckWork struct {
	k1, k2, k3, k4, k5, k6 []float64
	ytmp, yNew, yErr, w    []float64
}

func newRKCKWork(n int) *rkckWork {
	alloc := func() []float64 { return make([]float64, n) }
	return &rkckWork{
		k1: alloc(), k2: alloc(), k3: alloc(), k4: alloc(), k5: alloc(), k6: alloc(),
		ytmp: alloc(), yNew: alloc(), yErr: alloc(), w: alloc(),
	}
}

// step takes one trial step of size h from (t, y); k1 must hold f(t, y).
// The candidate lands in w.yNew and its error estimate in w.yErr.
func (r *RKCK) step(sys dynamo.System, w *rkckWork, t float64, y []float64, h float64) error {
	n := len(y)

	for i := 0; i < n; i++ {
		w.ytmp[i] = y[i] + h*ck21*w.k1[i]
	}
	if err := sys.Derive(t+ck2*h, w.ytmp, w.k2); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		w.ytmp[i] = y[i] + h*(ck31*w.k1[i]+ck32*w.k2[i])
	}
	if err := sys.Derive(t+ck3*h, w.ytmp, w.k3); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		w.ytmp[i] = y[i] + h*(ck41*w.k1[i]+ck42*w.k2[i]+ck43*w.k3[i])
	}
	if err := sys.Derive(t+ck4*h, w.ytmp, w.k4); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		w.ytmp[i] = y[i] + h*(ck51*w.k1[i]+ck52*w.k2[i]+ck53*w.k3[i]+ck54*w.k4[i])
	}
	if err := sys.Derive(t+ck5*h, w.ytmp, w.k5); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		w.ytmp[i] = y[i] + h*(ck61*w.k1[i]+ck62*w.k2[i]+ck63*w.k3[i]+ck64*w.k4[i]+ck65*w.k5[i])
	}
	if err := sys.Derive(t+ck6*h, w.ytmp, w.k6); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		w.yNew[i] = y[i] + h*(cw1*w.k1[i]+cw3*w.k3[i]+cw4*w.k4[i]+cw6*w.k6[i])
		w.yErr[i] = h * (ce1*w.k1[i] + ce3*w.k3[i] + ce4*w.k4[i] + ce5*w.k5[i] + ce6*w.k6[i])
	}
	return nil
}

func (r *RKCK) Evolve(ctx context.Context, sys dynamo.System, t0 float64, y0 dynamo.State, t1 float64, opts Options) (*dynamo.Output, error) {
	n := sys.Dim()
	if err := opts.validate(n, t0, y0, t1); err != nil {
		return nil, err
	}

	var stats dynamo.Stats
	w := newRKCKWork(n)
	y := y0.Clone()

	if err := sys.Derive(t0, y, w.k1); err != nil {
		return nil, failure(r.Name(), 0, t0, -1, err)
	}
	stats.RHSEvals++
	if !finite(w.k1) {
		return nil, failure(r.Name(), 0, t0, -1, dynamo.ErrInvalidState)
	}

	h := opts.InitialStep
	if h == 0 {
		var err error
		if h, err = initialStep(sys, t0, t1, y, w.k1, opts.Tol, 4, &stats); err != nil {
			return nil, failure(r.Name(), 0, t0, -1, err)
		}
	}
	maxStep := opts.maxStep(t0, t1)
	maxSteps := opts.maxSteps()
	h = math.Min(h, maxStep)

	out := newCollector(opts.Outputs, t0, t1, y0)
	t := t0
	for t < t1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if stats.Steps >= maxSteps {
			return nil, failure(r.Name(), stats.Steps, t, -1, dynamo.ErrMaxSteps)
		}

		// Land exactly on the next tabulation point.
		target, _ := out.pending()
		hTry, clipped := h, false
		if t+hTry >= target {
			hTry, clipped = target-t, true
		}

		minStep := opts.minStep(t, t1)
		for {
			if hTry < minStep && !clipped {
				return nil, failure(r.Name(), stats.Steps, t, -1, dynamo.ErrStepTooSmall)
			}
			if err := r.step(sys, w, t, y, hTry); err != nil {
				return nil, failure(r.Name(), stats.Steps, t, -1, err)
			}
			stats.RHSEvals += 5

			opts.Tol.Weights(y, w.yNew, w.w)
			errRatio := dynamo.WeightedMax(w.yErr, w.w)
			if math.IsNaN(errRatio) || !finite(w.yNew) {
				errRatio = math.Inf(1)
			}
			if errRatio <= 1 {
				var grow float64
				if errRatio > 0 {
					grow = math.Min(r.maxScale, r.safety*math.Pow(errRatio, -0.2))
				} else {
					grow = r.maxScale
				}
				if !clipped || hTry*grow > h {
					h = math.Min(hTry*grow, maxStep)
				}
				break
			}
			stats.Rejected++
			shrink := math.Max(r.minScale, r.safety*math.Pow(errRatio, -0.25))
			hTry *= shrink
			h = hTry
			clipped = false
		}

		stats.Steps++
		if clipped {
			t = target
		} else {
			t += hTry
		}
		copy(y, w.yNew)

		if err := sys.Derive(t, y, w.k1); err != nil {
			return nil, failure(r.Name(), stats.Steps, t, -1, err)
		}
		stats.RHSEvals++

		for {
			tp, ok := out.pending()
			if !ok || tp > t {
				break
			}
			out.record(y.Clone())
		}
	}

	out.out.Stats = stats
	return out.out, nil
}
