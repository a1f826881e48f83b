package integrators

import (
	"math"

	"github.com/san-kum/cosmic/internal/dynamo"
	"github.com/san-kum/cosmic/internal/sparse"
)

// FiniteDifference fills J with column-wise forward differences of f around
// (t, y). f0 must hold f(t, y). Only entries in J's pattern are written, so a
// sparse pattern still needs one evaluation of f per column. floor is the
// smallest magnitude used to size the perturbation of a component; yp and fp
// are scratch vectors of the system's dimension.
func FiniteDifference(sys dynamo.System, t float64, y, f0 []float64, floor float64, J *sparse.Matrix, yp, fp []float64) (int, error) {
	n := len(y)
	copy(yp, y)
	sqrtEps := math.Sqrt(eps)
	evals := 0
	for j := 0; j < n; j++ {
		yj := y[j]
		yp[j] = yj + sqrtEps*math.Max(math.Abs(yj), floor)
		delta := yp[j] - yj
		if err := sys.Derive(t, yp, fp); err != nil {
			return evals, err
		}
		evals++
		yp[j] = yj
		for _, i := range J.Pattern().Column(j) {
			J.Set(i, j, (fp[i]-f0[i])/delta)
		}
	}
	return evals, nil
}

// jacobianSource evaluates J either analytically or by finite differences.
type jacobianSource struct {
	sys     dynamo.System
	exact   dynamo.Jacobian
	pattern *sparse.Pattern
	floor   float64
	f0      []float64
	yp, fp  []float64
}

func newJacobianSource(sys dynamo.System, tol dynamo.Tolerance) *jacobianSource {
	n := sys.Dim()
	js := &jacobianSource{sys: sys}
	if jac, ok := sys.(dynamo.Jacobian); ok {
		js.exact = jac
		js.pattern = jac.Pattern()
		return js
	}
	js.pattern = sparse.DensePattern(n)
	js.floor = tol.Abs
	if tol.AbsVec != nil {
		js.floor = math.Inf(1)
		for _, a := range tol.AbsVec {
			js.floor = math.Min(js.floor, a)
		}
	}
	js.f0 = make([]float64, n)
	js.yp = make([]float64, n)
	js.fp = make([]float64, n)
	return js
}

func (js *jacobianSource) eval(t float64, y []float64, J *sparse.Matrix, stats *dynamo.Stats) error {
	stats.JacobianEvals++
	if js.exact != nil {
		J.Zero()
		return js.exact.Jacobian(t, y, J)
	}
	if err := js.sys.Derive(t, y, js.f0); err != nil {
		return err
	}
	evals, err := FiniteDifference(js.sys, t, y, js.f0, js.floor, J, js.yp, js.fp)
	stats.RHSEvals += evals + 1
	return err
}
