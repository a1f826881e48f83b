package integrators

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/cosmic/internal/dynamo"
	"github.com/san-kum/cosmic/internal/sparse"
)

const (
	maxNDFOrder   = 5
	newtonMaxIter = 4
	minFactor     = 0.2
	maxFactor     = 10
	newtonShrink  = 0.3
)

// Klopfenstein-Shampine NDF coefficients, indexed by order.
var (
	ndfKappa    = [maxNDFOrder + 1]float64{0, -0.1850, -1.0 / 9, -0.0823, -0.0415, 0}
	ndfGamma    [maxNDFOrder + 1]float64
	ndfAlpha    [maxNDFOrder + 1]float64
	ndfErrConst [maxNDFOrder + 1]float64
)

func init() {
	for k := 1; k <= maxNDFOrder; k++ {
		ndfGamma[k] = ndfGamma[k-1] + 1/float64(k)
	}
	for k := 0; k <= maxNDFOrder; k++ {
		ndfAlpha[k] = (1 - ndfKappa[k]) * ndfGamma[k]
		ndfErrConst[k] = ndfKappa[k]*ndfGamma[k] + 1/float64(k+1)
	}
}

// NDF is a variable-order (1-5), variable-step implicit multistep evolver
// built on the numerical differentiation formulas. The solution history is
// kept as backward differences; the corrector is a modified Newton iteration
// whose iteration matrix I - c·J is factorized with the sparse LU and reused
// until the step size changes or Newton stalls.
type NDF struct {
	MaxOrder int
}

func NewNDF() *NDF {
	return &NDF{MaxOrder: maxNDFOrder}
}

func (*NDF) Name() string { return "ndf" }

type ndfRun struct {
	sys   dynamo.System
	tol   dynamo.Tolerance
	n     int
	stats dynamo.Stats

	jac        *jacobianSource
	sym        *sparse.Symbolic
	J          *sparse.Matrix
	M          *sparse.Matrix
	lu         *sparse.Numeric
	luC        float64
	jacCurrent bool

	// D[j] is the j-th backward difference of the solution, D[0] = y.
	D   [][]float64
	tmp [][]float64

	yPred, psi, scale, d, dy, rhs, yNew, f []float64
	newtonTol                              float64
}

func (e *NDF) Evolve(ctx context.Context, sys dynamo.System, t0 float64, y0 dynamo.State, t1 float64, opts Options) (*dynamo.Output, error) {
	n := sys.Dim()
	if err := opts.validate(n, t0, y0, t1); err != nil {
		return nil, err
	}
	maxOrder := maxNDFOrder
	if opts.MaxOrder > 0 && opts.MaxOrder < maxOrder {
		maxOrder = opts.MaxOrder
	}
	if e.MaxOrder > 0 && e.MaxOrder < maxOrder {
		maxOrder = e.MaxOrder
	}

	r, err := newNDFRun(sys, n, opts)
	if err != nil {
		return nil, err
	}

	f0 := make([]float64, n)
	if err := sys.Derive(t0, y0, f0); err != nil {
		return nil, failure(e.Name(), 0, t0, -1, err)
	}
	r.stats.RHSEvals++
	if !finite(f0) {
		return nil, failure(e.Name(), 0, t0, -1, dynamo.ErrInvalidState)
	}

	h := opts.InitialStep
	if h == 0 {
		if h, err = initialStep(sys, t0, t1, y0, f0, opts.Tol, 1, &r.stats); err != nil {
			return nil, failure(e.Name(), 0, t0, -1, err)
		}
	}
	h = math.Min(h, opts.maxStep(t0, t1))

	if err := r.jac.eval(t0, y0, r.J, &r.stats); err != nil {
		return nil, failure(e.Name(), 0, t0, -1, err)
	}
	r.jacCurrent = true

	copy(r.D[0], y0)
	for i := range f0 {
		r.D[1][i] = h * f0[i]
	}

	out := newCollector(opts.Outputs, t0, t1, y0)
	t := t0
	order := 1
	nEqual := 0
	maxStep := opts.maxStep(t0, t1)
	maxSteps := opts.maxSteps()

	for t < t1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.stats.Steps >= maxSteps {
			return nil, failure(e.Name(), r.stats.Steps, t, -1, dynamo.ErrMaxSteps)
		}

		minStep := opts.minStep(t, t1)
		if h > maxStep {
			r.changeD(order, maxStep/h)
			h = maxStep
			nEqual = 0
		} else if h < minStep {
			r.changeD(order, minStep/h)
			h = minStep
			nEqual = 0
		}

		var (
			tNew     float64
			errNorm  float64
			safety   float64
			rejected int
			stalled  bool
		)
		for {
			if h < minStep {
				cause := dynamo.ErrStepTooSmall
				if stalled {
					cause = fmt.Errorf("%w: %w", dynamo.ErrStepTooSmall, dynamo.ErrNewtonDiverged)
				}
				return nil, failure(e.Name(), r.stats.Steps, t, -1, cause)
			}
			tNew = t + h
			if tNew >= t1 || t1-tNew < minStep {
				tNew = t1
				r.changeD(order, (t1-t)/h)
				h = t1 - t
				nEqual = 0
			}

			r.predict(order)
			c := h / ndfAlpha[order]

			converged, iters, err := r.correct(tNew, c)
			if err != nil {
				return nil, failure(e.Name(), r.stats.Steps, tNew, singularColumn(err), err)
			}
			stalled = !converged
			if !converged {
				r.stats.NewtonFailures++
				r.changeD(order, newtonShrink)
				h *= newtonShrink
				nEqual = 0
				continue
			}

			safety = 0.9 * float64(2*newtonMaxIter+1) / float64(2*newtonMaxIter+iters)
			r.tol.Weights(r.yNew, r.yNew, r.scale)
			errNorm = ndfErrConst[order] * dynamo.WeightedRMS(r.d, r.scale)
			if errNorm <= 1 {
				break
			}

			r.stats.Rejected++
			rejected++
			if rejected >= 2 && order > 1 {
				order--
			}
			factor := math.Max(minFactor, safety*math.Pow(errNorm, -1/float64(order+1)))
			r.changeD(order, factor)
			h *= factor
			nEqual = 0
		}

		r.stats.Steps++
		nEqual++
		r.accept(order)
		t = tNew
		r.jacCurrent = false

		for {
			tp, ok := out.pending()
			if !ok || tp > t {
				break
			}
			out.record(r.interpolate(order, t, h, tp))
		}

		if nEqual < order+1 {
			continue
		}

		// Estimate the step admissible at orders k-1, k and k+1 and move to
		// whichever allows the largest one.
		errM, errP := math.Inf(1), math.Inf(1)
		if order > 1 {
			errM = ndfErrConst[order-1] * dynamo.WeightedRMS(r.D[order], r.scale)
		}
		if order < maxOrder {
			errP = ndfErrConst[order+1] * dynamo.WeightedRMS(r.D[order+2], r.scale)
		}
		best, delta := math.Pow(errNorm, -1/float64(order+1)), 0
		if fm := math.Pow(errM, -1/float64(order)); fm > best {
			best, delta = fm, -1
		}
		if fp := math.Pow(errP, -1/float64(order+2)); fp > best {
			best, delta = fp, 1
		}
		order += delta

		factor := math.Min(maxFactor, safety*best)
		r.changeD(order, factor)
		h *= factor
		nEqual = 0
	}

	out.out.Stats = r.stats
	return out.out, nil
}

func newNDFRun(sys dynamo.System, n int, opts Options) (*ndfRun, error) {
	r := &ndfRun{
		sys:   sys,
		tol:   opts.Tol,
		n:     n,
		jac:   newJacobianSource(sys, opts.Tol),
		D:     make([][]float64, maxNDFOrder+3),
		tmp:   make([][]float64, maxNDFOrder+1),
		yPred: make([]float64, n),
		psi:   make([]float64, n),
		scale: make([]float64, n),
		d:     make([]float64, n),
		dy:    make([]float64, n),
		rhs:   make([]float64, n),
		yNew:  make([]float64, n),
		f:     make([]float64, n),
	}
	for i := range r.D {
		r.D[i] = make([]float64, n)
	}
	for i := range r.tmp {
		r.tmp[i] = make([]float64, n)
	}
	rtol := opts.Tol.Rel
	r.newtonTol = math.Max(10*eps/rtol, math.Min(0.03, math.Sqrt(rtol)))

	pattern := r.jac.pattern
	if pattern.N() != n {
		return nil, fmt.Errorf("%w: jacobian pattern is %d×%d for %d unknowns", dynamo.ErrDimensionMismatch, pattern.N(), pattern.N(), n)
	}
	if opts.Symbolic != nil && opts.Symbolic.Pattern() == pattern {
		r.sym = opts.Symbolic
	} else {
		sym, err := sparse.Analyze(pattern)
		if err != nil {
			return nil, failure("ndf", 0, 0, -1, fmt.Errorf("%w: %w", dynamo.ErrSingularJacobian, err))
		}
		r.sym = sym
	}
	r.J = sparse.NewMatrix(pattern)
	r.M = sparse.NewMatrix(pattern)
	return r, nil
}

// ndfRescale returns the (order+1)×(order+1) matrix R with
// R[i][j] = prod_{m=1..i} (m - 1 - factor·j)/m and R[0][j] = 1.
func ndfRescale(order int, factor float64) [][]float64 {
	r := make([][]float64, order+1)
	for i := range r {
		r[i] = make([]float64, order+1)
	}
	for j := 0; j <= order; j++ {
		r[0][j] = 1
	}
	for i := 1; i <= order; i++ {
		for j := 0; j <= order; j++ {
			r[i][j] = r[i-1][j] * (float64(i-1) - factor*float64(j)) / float64(i)
		}
	}
	return r
}

// changeD rewrites the difference history for a step size scaled by factor.
func (r *ndfRun) changeD(order int, factor float64) {
	if factor == 1 {
		return
	}
	R := ndfRescale(order, factor)
	U := ndfRescale(order, 1)
	for j := 0; j <= order; j++ {
		row := r.tmp[j]
		for x := range row {
			row[x] = 0
		}
		for i := 0; i <= order; i++ {
			ru := 0.0
			for m := 0; m <= order; m++ {
				ru += R[i][m] * U[m][j]
			}
			if ru == 0 {
				continue
			}
			for x, v := range r.D[i] {
				row[x] += ru * v
			}
		}
	}
	for j := 0; j <= order; j++ {
		copy(r.D[j], r.tmp[j])
	}
}

func (r *ndfRun) predict(order int) {
	for x := range r.yPred {
		sum := 0.0
		for j := 0; j <= order; j++ {
			sum += r.D[j][x]
		}
		r.yPred[x] = sum
		psi := 0.0
		for j := 1; j <= order; j++ {
			psi += ndfGamma[j] * r.D[j][x]
		}
		r.psi[x] = psi / ndfAlpha[order]
	}
}

// correct runs the modified Newton iteration for the step ending at tNew.
// It refreshes the Jacobian once when the iteration stalls with a stale one.
func (r *ndfRun) correct(tNew, c float64) (bool, int, error) {
	for {
		if r.lu == nil || r.luC != c {
			if err := r.factor(c); err != nil {
				if !errors.Is(err, sparse.ErrSingular) || r.jacCurrent {
					return false, 0, fmt.Errorf("%w: %w", dynamo.ErrSingularJacobian, err)
				}
				if err := r.refreshJacobian(tNew); err != nil {
					return false, 0, err
				}
				continue
			}
		}
		converged, iters, err := r.newton(tNew, c)
		if err != nil || converged || r.jacCurrent {
			return converged, iters, err
		}
		if err := r.refreshJacobian(tNew); err != nil {
			return false, iters, err
		}
	}
}

func (r *ndfRun) refreshJacobian(tNew float64) error {
	if err := r.jac.eval(tNew, r.yPred, r.J, &r.stats); err != nil {
		return err
	}
	r.jacCurrent = true
	r.luC = 0
	return nil
}

func (r *ndfRun) factor(c float64) error {
	r.M.ShiftScale(1, -c, r.J)
	r.stats.Factorizations++
	r.luC = 0
	if r.lu == nil {
		lu, err := r.sym.Factor(r.M)
		if err != nil {
			return err
		}
		r.lu = lu
	} else if err := r.lu.Refactor(r.M); err != nil {
		return err
	}
	r.luC = c
	return nil
}

func (r *ndfRun) newton(tNew, c float64) (bool, int, error) {
	r.tol.Weights(r.yPred, r.yPred, r.scale)
	copy(r.yNew, r.yPred)
	for x := range r.d {
		r.d[x] = 0
	}

	var normOld float64
	for k := 0; k < newtonMaxIter; k++ {
		if err := r.sys.Derive(tNew, r.yNew, r.f); err != nil {
			return false, k + 1, err
		}
		r.stats.RHSEvals++
		if !finite(r.f) {
			return false, k + 1, nil
		}
		for x := range r.rhs {
			r.rhs[x] = c*r.f[x] - r.psi[x] - r.d[x]
		}
		if err := r.lu.Solve(r.rhs, r.dy); err != nil {
			return false, k + 1, err
		}
		norm := dynamo.WeightedRMS(r.dy, r.scale)

		rate := -1.0
		if k > 0 {
			rate = norm / normOld
			if rate >= 1 || math.Pow(rate, float64(newtonMaxIter-k))/(1-rate)*norm > r.newtonTol {
				return false, k + 1, nil
			}
		}
		for x := range r.yNew {
			r.yNew[x] += r.dy[x]
			r.d[x] += r.dy[x]
		}
		if norm == 0 || (rate >= 0 && rate/(1-rate)*norm < r.newtonTol) {
			return true, k + 1, nil
		}
		normOld = norm
	}
	return false, newtonMaxIter, nil
}

// accept folds the corrector increment d = ∇^{k+1}y into the history.
func (r *ndfRun) accept(order int) {
	for x, dx := range r.d {
		r.D[order+2][x] = dx - r.D[order+1][x]
		r.D[order+1][x] = dx
	}
	for i := order; i >= 0; i-- {
		for x := range r.D[i] {
			r.D[i][x] += r.D[i+1][x]
		}
	}
}

// interpolate evaluates the backward-difference polynomial through the last
// order+1 solution points at tp. t is the end of the step and h its size.
func (r *ndfRun) interpolate(order int, t, h, tp float64) dynamo.State {
	y := make(dynamo.State, r.n)
	copy(y, r.D[0])
	p := 1.0
	for j := 1; j <= order; j++ {
		m := float64(j - 1)
		p *= (tp - (t - m*h)) / ((m + 1) * h)
		if p == 0 {
			break
		}
		for x := range y {
			y[x] += r.D[j][x] * p
		}
	}
	return y
}

func singularColumn(err error) int {
	var se *sparse.SingularError
	if errors.As(err, &se) {
		return se.Column
	}
	return -1
}
