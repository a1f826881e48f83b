package cosmo

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/cosmic/internal/config"
	"github.com/san-kum/cosmic/internal/ctxlog"
	"github.com/san-kum/cosmic/internal/dynamo"
	"github.com/san-kum/cosmic/internal/fault"
	"github.com/san-kum/cosmic/internal/integrators"
	"github.com/san-kum/cosmic/internal/numeric"
)

const (
	backgroundAStart = 1e-10
	backgroundSize   = 2000
)

// Fractions are the density parameters Ω_i(a) = ρ_i(a)/ρ_crit(a). They sum
// to one.
type Fractions struct {
	Photon    float64
	Neutrino  float64
	Baryon    float64
	CDM       float64
	Curvature float64
	Lambda    float64
}

func (f Fractions) Radiation() float64 { return f.Photon + f.Neutrino }
func (f Fractions) Matter() float64    { return f.Baryon + f.CDM }

// Background is the homogeneous expansion history.
type Background struct {
	h, h0 float64

	omegaB, omegaCDM   float64
	omegaGamma, omegaNu float64
	omegaK, omegaLambda float64
	ratioR              float64 // R(a)/a

	lnA    []float64
	lnTau  []float64
	tauOfA *numeric.Spline // ln τ(ln a)
	aOfTau *numeric.Spline // ln a(ln τ)
	tOfA   *numeric.Spline
	rsOfA  *numeric.Spline

	tau0, age float64
	stats          dynamo.Stats
}

func NewBackground(ctx context.Context, cfg *config.Snapshot) (*Background, error) {
	c := cfg.Config()
	h2 := c.H * c.H
	omegaGammaPhys := omegaGammaH2 * math.Pow(c.TCMB/tcmbRef, 4)

	bg := &Background{
		h:          c.H,
		h0:         c.H * 100 / cKms,
		omegaB:     c.OmegaB / h2,
		omegaCDM:   c.OmegaCDM / h2,
		omegaGamma: omegaGammaPhys / h2,
		omegaNu:    c.NEff * neutrinoRatio * omegaGammaPhys / h2,
		omegaK:     c.OmegaK,
		ratioR:     0.75 * c.OmegaB / omegaGammaPhys,
	}
	bg.omegaLambda = 1 - bg.OmegaM() - bg.OmegaR() - bg.omegaK

	bg.lnA = numeric.Linspace(math.Log(backgroundAStart), 0, backgroundSize)
	for _, la := range bg.lnA {
		if e2 := bg.e2(math.Exp(la)); !(e2 > 0) {
			return nil, fault.Configuration("expansion history has H^2 <= 0 at a=%.3g (omega_k=%g, omega_lambda=%.4g)",
				math.Exp(la), bg.omegaK, bg.omegaLambda)
		}
	}
	if err := bg.integrate(ctx); err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Debug("Background ready.",
		"tau0", bg.tau0, "age_gyr", bg.age, "omega_lambda", bg.omegaLambda, "steps", bg.stats.Steps)
	return bg, nil
}

// integrate tabulates τ, t and r_s over ln a. The right-hand side does not
// depend on the state, so this is a quadrature carried out by the explicit
// evolver so the grid points are hit exactly.
func (bg *Background) integrate(ctx context.Context) error {
	a0 := backgroundAStart
	om, or := bg.OmegaM(), bg.OmegaR()
	// exact for radiation plus matter
	tau := 2 / (bg.h0 * om) * (math.Sqrt(or+om*a0) - math.Sqrt(or))
	y0 := dynamo.State{tau, a0 * a0 / (2 * bg.h0 * math.Sqrt(or)), tau / math.Sqrt(3)}

	sys := dynamo.SystemFunc{N: 3, F: func(x float64, _, dy []float64) error {
		a := math.Exp(x)
		ah := a * bg.Hubble(a)
		dy[0] = 1 / ah
		dy[1] = 1 / bg.Hubble(a)
		dy[2] = bg.SoundSpeed(a) / ah
		return nil
	}}
	out, err := integrators.NewRKCK().Evolve(ctx, sys, bg.lnA[0], y0, 0, integrators.Options{
		Tol:     dynamo.Tolerance{Rel: 1e-9, Abs: 1e-15},
		Outputs: bg.lnA,
	})
	if err != nil {
		return fmt.Errorf("integrating expansion history: %w", err)
	}
	bg.stats = out.Stats

	n := len(bg.lnA)
	bg.lnTau = make([]float64, n)
	t := make([]float64, n)
	rs := make([]float64, n)
	for i := range bg.lnA {
		y := out.Y[i]
		bg.lnTau[i] = math.Log(y[0])
		t[i] = y[1]
		rs[i] = y[2]
	}
	if bg.tauOfA, err = numeric.NewSpline(bg.lnA, bg.lnTau); err != nil {
		return fault.Invariant("conformal time table: %w", err)
	}
	if bg.aOfTau, err = numeric.NewSpline(bg.lnTau, bg.lnA); err != nil {
		return fault.Invariant("conformal time is not monotonic: %w", err)
	}
	if bg.tOfA, err = numeric.NewSpline(bg.lnA, t); err != nil {
		return fault.Invariant("proper time table: %w", err)
	}
	if bg.rsOfA, err = numeric.NewSpline(bg.lnA, rs); err != nil {
		return fault.Invariant("sound horizon table: %w", err)
	}
	bg.tau0 = math.Exp(bg.lnTau[n-1])
	bg.age = t[n-1] * mpcToGyr
	return nil
}

// e2 is (H/H0)².
func (bg *Background) e2(a float64) float64 {
	return bg.OmegaR()/(a*a*a*a) + bg.OmegaM()/(a*a*a) + bg.omegaK/(a*a) + bg.omegaLambda
}

// Hubble returns H(a) in 1/Mpc.
func (bg *Background) Hubble(a float64) float64 { return bg.h0 * math.Sqrt(bg.e2(a)) }

// ConformalHubble returns ℋ = aH in 1/Mpc.
func (bg *Background) ConformalHubble(a float64) float64 { return a * bg.Hubble(a) }

// Tau returns the conformal time at scale factor a, clamped to the table.
func (bg *Background) Tau(a float64) float64 {
	la := clamp(math.Log(a), bg.lnA[0], 0)
	return math.Exp(bg.tauOfA.Eval(la))
}

// ScaleFactor inverts Tau.
func (bg *Background) ScaleFactor(tau float64) float64 {
	lt := clamp(math.Log(tau), bg.lnTau[0], bg.lnTau[len(bg.lnTau)-1])
	return math.Exp(math.Min(bg.aOfTau.Eval(lt), 0))
}

// ProperTime returns the age of the universe at a in Gyr.
func (bg *Background) ProperTime(a float64) float64 {
	la := clamp(math.Log(a), bg.lnA[0], 0)
	return bg.tOfA.Eval(la) * mpcToGyr
}

// SoundHorizon returns the comoving sound horizon r_s(a) in Mpc.
func (bg *Background) SoundHorizon(a float64) float64 {
	la := clamp(math.Log(a), bg.lnA[0], 0)
	return bg.rsOfA.Eval(la)
}

// BaryonPhotonRatio is R = 3ρ_b/(4ρ_γ).
func (bg *Background) BaryonPhotonRatio(a float64) float64 { return bg.ratioR * a }

// SoundSpeed of the photon-baryon fluid.
func (bg *Background) SoundSpeed(a float64) float64 {
	return 1 / math.Sqrt(3*(1+bg.BaryonPhotonRatio(a)))
}

func (bg *Background) Fractions(a float64) Fractions {
	e2 := bg.e2(a)
	a2 := a * a
	return Fractions{
		Photon:    bg.omegaGamma / (a2 * a2) / e2,
		Neutrino:  bg.omegaNu / (a2 * a2) / e2,
		Baryon:    bg.omegaB / (a2 * a) / e2,
		CDM:       bg.omegaCDM / (a2 * a) / e2,
		Curvature: bg.omegaK / a2 / e2,
		Lambda:    bg.omegaLambda / e2,
	}
}

// sourceWeights returns 4πGa²ρ_i for CDM, baryons and radiation.
func (bg *Background) sourceWeights(a float64) (wc, wb, wr float64) {
	k := 1.5 * bg.h0 * bg.h0
	return k * bg.omegaCDM / a, k * bg.omegaB / a, k * bg.OmegaR() / (a * a)
}

func (bg *Background) H() float64           { return bg.h }
func (bg *Background) H0() float64          { return bg.h0 }
func (bg *Background) Tau0() float64        { return bg.tau0 }
func (bg *Background) TauStart() float64    { return math.Exp(bg.lnTau[0]) }
func (bg *Background) Age() float64         { return bg.age }
func (bg *Background) OmegaB() float64      { return bg.omegaB }
func (bg *Background) OmegaCDM() float64    { return bg.omegaCDM }
func (bg *Background) OmegaM() float64      { return bg.omegaB + bg.omegaCDM }
func (bg *Background) OmegaGamma() float64  { return bg.omegaGamma }
func (bg *Background) OmegaNu() float64     { return bg.omegaNu }
func (bg *Background) OmegaR() float64      { return bg.omegaGamma + bg.omegaNu }
func (bg *Background) OmegaK() float64      { return bg.omegaK }
func (bg *Background) OmegaLambda() float64 { return bg.omegaLambda }
func (bg *Background) Stats() dynamo.Stats  { return bg.stats }

// Equality returns the scale factor of matter-radiation equality.
func (bg *Background) Equality() float64 { return bg.OmegaR() / bg.OmegaM() }
