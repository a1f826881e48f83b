package cosmo

import (
	"context"
	"math"

	"github.com/san-kum/cosmic/internal/config"
	"github.com/san-kum/cosmic/internal/ctxlog"
	"github.com/san-kum/cosmic/internal/fault"
	"github.com/san-kum/cosmic/internal/numeric"
)

const (
	// smoothing radii searched for σ(R) = 1, in Mpc
	nlRMin, nlRMax = 0.01, 100.0
	// logarithmic slope the power spectrum is extrapolated with at most
	// beyond the last tabulated wavenumber
	maxTailSlope = -1.0
	boostIndex   = 1.5
)

// Nonlinear is the matter power spectrum today: the linear spectrum, its
// top-hat variance and the optional phenomenological small-scale boost.
type Nonlinear struct {
	method  string
	quadTol float64
	h       float64

	lnK, lnP       []float64
	spline         *numeric.Spline
	slopeLo, slope float64

	sigma8, kNL float64
}

func NewNonlinear(ctx context.Context, cfg *config.Snapshot, bg *Background, pt *Perturbations, pm *Primordial) (*Nonlinear, error) {
	c := cfg.Config()
	nl := &Nonlinear{method: c.Nonlinear, quadTol: c.QuadRTol, h: bg.H()}

	n := pt.Len()
	nl.lnK = make([]float64, n)
	nl.lnP = make([]float64, n)
	for i, k := range pt.k {
		p := 2 * math.Pi * math.Pi / (k * k * k) * pm.CurvaturePower(k) * sq(pt.DeltaM0(i))
		if !(p > 0) {
			return nil, fault.Numerical("linear matter power is %g at k=%g", p, k)
		}
		nl.lnK[i], nl.lnP[i] = math.Log(k), math.Log(p)
	}
	var err error
	if nl.spline, err = numeric.NewSpline(nl.lnK, nl.lnP); err != nil {
		return nil, fault.Invariant("matter power table: %w", err)
	}
	nl.slopeLo = nl.spline.Deriv(nl.lnK[0])
	nl.slope = math.Min(nl.spline.Deriv(nl.lnK[n-1]), maxTailSlope)

	if nl.sigma8, err = nl.Sigma(8 / nl.h); err != nil {
		return nil, err
	}
	if nl.kNL, err = nl.nonlinearScale(); err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Debug("Nonlinear ready.", "sigma8", nl.sigma8, "k_nl", nl.kNL, "method", nl.method)
	return nl, nil
}

// LinearPower returns P_lin(k) in Mpc³, extrapolated as a power law
// outside the tabulated range.
func (nl *Nonlinear) LinearPower(k float64) float64 {
	lk := math.Log(k)
	lo, hi := nl.lnK[0], nl.lnK[len(nl.lnK)-1]
	switch {
	case lk < lo:
		return math.Exp(nl.lnP[0] + nl.slopeLo*(lk-lo))
	case lk > hi:
		return math.Exp(nl.lnP[len(nl.lnP)-1] + nl.slope*(lk-hi))
	}
	return math.Exp(nl.spline.Eval(lk))
}

// Boost is P/P_lin.
func (nl *Nonlinear) Boost(k float64) float64 {
	if nl.method != "boost" || nl.kNL == 0 {
		return 1
	}
	return 1 + math.Pow(k/nl.kNL, boostIndex)
}

func (nl *Nonlinear) Power(k float64) float64 { return nl.LinearPower(k) * nl.Boost(k) }

func topHat(x float64) float64 {
	if x < 1e-3 {
		return 1 - x*x/10
	}
	return 3 * (math.Sin(x) - x*math.Cos(x)) / (x * x * x)
}

// Sigma is the rms linear density contrast in spheres of radius R Mpc.
func (nl *Nonlinear) Sigma(R float64) (float64, error) {
	integrand := func(lk float64) float64 {
		k := math.Exp(lk)
		return k * k * k * nl.LinearPower(k) / (2 * math.Pi * math.Pi) * sq(topHat(k*R))
	}
	lo := math.Min(nl.lnK[0], math.Log(1e-3/R))
	hi := math.Log(200 / R)
	v, err := numeric.Integrate(integrand, lo, hi, 0, nl.quadTol)
	if err != nil {
		return 0, fault.Numerical("sigma(R=%g): %w", R, err)
	}
	return math.Sqrt(v), nil
}

// nonlinearScale bisects ln R for σ(R) = 1; it returns 0 when the spectrum
// stays linear on every scale searched.
func (nl *Nonlinear) nonlinearScale() (float64, error) {
	lo, hi := math.Log(nlRMin), math.Log(nlRMax)
	sLo, err := nl.Sigma(nlRMin)
	if err != nil {
		return 0, err
	}
	if sLo < 1 {
		return 0, nil
	}
	sHi, err := nl.Sigma(nlRMax)
	if err != nil {
		return 0, err
	}
	if sHi > 1 {
		return 1 / nlRMax, nil
	}
	for hi-lo > 1e-6 {
		mid := 0.5 * (lo + hi)
		s, err := nl.Sigma(math.Exp(mid))
		if err != nil {
			return 0, err
		}
		if s > 1 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return math.Exp(-0.5 * (lo + hi)), nil
}

func (nl *Nonlinear) Sigma8() float64     { return nl.sigma8 }
func (nl *Nonlinear) KNonlinear() float64 { return nl.kNL }
func (nl *Nonlinear) Method() string      { return nl.method }

// LinearSpectrum tabulates P_lin on the perturbation k grid.
func (nl *Nonlinear) LinearSpectrum() []Point {
	out := make([]Point, len(nl.lnK))
	for i, lk := range nl.lnK {
		out[i] = Point{X: math.Exp(lk), Y: math.Exp(nl.lnP[i])}
	}
	return out
}

// Spectrum tabulates P, including the boost when enabled.
func (nl *Nonlinear) Spectrum() []Point {
	out := nl.LinearSpectrum()
	for i := range out {
		out[i].Y *= nl.Boost(out[i].X)
	}
	return out
}
