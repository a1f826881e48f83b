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
	thermoSize = 4000

	// hydrogen recombination and first helium recombination, tanh in z
	recZ, recWidth     = 1089.0, 70.0
	heliumZ, heliumWid = 3500.0, 300.0
	// residual ionisation after freeze-out
	freezeOut = 2e-4
	// second helium reionization, tanh in z
	heReioZ, heReioWidth = 3.5, 0.5

	// m_He/m_H
	heliumMass = 3.9715

	// κ'τ below which photons stream freely
	decouplingTrigger = 0.2
)

// Thermodynamics is the ionisation history: free electron fraction, Thomson
// scattering rate, optical depth and visibility.
type Thermodynamics struct {
	bg *Background

	fHe       float64
	kappaDot0 float64 // κ' today per unit x_e, a = 1
	reio      bool
	yReio     float64
	dyReio    float64

	lnA      []float64
	kappa    []float64
	kappaOfA *numeric.Spline

	aRec, zRec, tauRec, rsRec float64
	widthRec                  float64
	tauDec                    float64
	tauReio                   float64
}

func NewThermodynamics(ctx context.Context, cfg *config.Snapshot, bg *Background) (*Thermodynamics, error) {
	c := cfg.Config()
	th := &Thermodynamics{
		bg:        bg,
		fHe:       c.YHe / (heliumMass * (1 - c.YHe)),
		kappaDot0: thomsonRate * c.OmegaB * (1 - c.YHe),
		reio:      c.ZReio > 0,
	}
	if th.reio {
		th.yReio = math.Pow(1+c.ZReio, 1.5)
		th.dyReio = 1.5 * math.Sqrt(1+c.ZReio) * c.ReioWidth
	}
	if th.kappaDot0 == 0 {
		return nil, fault.Configuration("no baryons: Thomson scattering rate is zero")
	}

	th.lnA = numeric.Linspace(math.Log(backgroundAStart), 0, thermoSize)
	n := len(th.lnA)
	rate := make([]float64, n)
	for i, la := range th.lnA {
		a := math.Exp(la)
		rate[i] = th.KappaDot(a) / bg.ConformalHubble(a)
	}
	// κ(a) = ∫_a^1 κ' dτ, accumulated from today backwards
	th.kappa = make([]float64, n)
	for i := n - 2; i >= 0; i-- {
		th.kappa[i] = th.kappa[i+1] + 0.5*(th.lnA[i+1]-th.lnA[i])*(rate[i]+rate[i+1])
	}
	var err error
	if th.kappaOfA, err = numeric.NewSpline(th.lnA, th.kappa); err != nil {
		return nil, fault.Invariant("optical depth table: %w", err)
	}

	if err := th.findRecombination(); err != nil {
		return nil, err
	}
	th.tauDec = th.findDecoupling()
	if th.reio {
		zStart := math.Pow(th.yReio+5*th.dyReio, 2.0/3) - 1
		th.tauReio = th.Kappa(1 / (1 + zStart))
	}

	ctxlog.FromContext(ctx).Debug("Thermodynamics ready.",
		"z_rec", th.zRec, "tau_rec", th.tauRec, "rs_rec", th.rsRec, "tau_reio", th.tauReio)
	return th, nil
}

// findRecombination locates the visibility maximum on the grid and refines
// it with a parabola through the neighbouring samples.
func (th *Thermodynamics) findRecombination() error {
	best, gBest := -1, 0.0
	g := make([]float64, len(th.lnA))
	for i, la := range th.lnA {
		a := math.Exp(la)
		// visibility per unit ln a; the peak in τ is at the same place to
		// within the grid spacing
		g[i] = th.Visibility(a)
		if g[i] > gBest {
			best, gBest = i, g[i]
		}
	}
	if best <= 0 || best >= len(g)-1 {
		return fault.Numerical("visibility has no interior maximum")
	}
	x0, x1 := th.lnA[best-1], th.lnA[best]
	g0, g1, g2 := g[best-1], g[best], g[best+1]
	lnRec := x1
	if den := g0 - 2*g1 + g2; den < 0 {
		lnRec = x1 + 0.5*(x1-x0)*(g0-g2)/den
	}
	th.aRec = math.Exp(lnRec)
	th.zRec = 1/th.aRec - 1
	th.tauRec = th.bg.Tau(th.aRec)
	th.rsRec = th.bg.SoundHorizon(th.aRec)

	lo, hi := best, best
	for lo > 0 && g[lo] > gBest/2 {
		lo--
	}
	for hi < len(g)-1 && g[hi] > gBest/2 {
		hi++
	}
	tLo, tHi := th.bg.Tau(math.Exp(th.lnA[lo])), th.bg.Tau(math.Exp(th.lnA[hi]))
	th.widthRec = (tHi - tLo) / (2 * math.Sqrt(2*math.Ln2))
	return nil
}

func (th *Thermodynamics) findDecoupling() float64 {
	for _, la := range th.lnA {
		a := math.Exp(la)
		if a <= th.aRec {
			continue
		}
		if tau := th.bg.Tau(a); th.KappaDot(a)*tau < decouplingTrigger {
			return tau
		}
	}
	return th.bg.Tau0()
}

// Xe is the free electron fraction per hydrogen nucleus.
func (th *Thermodynamics) Xe(a float64) float64 {
	z := 1/a - 1
	full := 1 + th.fHe
	x := 0.5*full*(1+math.Tanh((z-recZ)/recWidth)) +
		0.5*th.fHe*(1+math.Tanh((z-heliumZ)/heliumWid))
	x = math.Max(x, freezeOut)
	if th.reio {
		y := math.Pow(1+z, 1.5)
		xr := 0.5*full*(1+math.Tanh((th.yReio-y)/th.dyReio)) +
			0.5*th.fHe*(1+math.Tanh((heReioZ-z)/heReioWidth))
		x = math.Max(x, xr)
	}
	return x
}

// KappaDot is the Thomson scattering rate dκ/dτ in 1/Mpc.
func (th *Thermodynamics) KappaDot(a float64) float64 {
	return th.kappaDot0 * th.Xe(a) / (a * a)
}

// Kappa is the optical depth from a to today.
func (th *Thermodynamics) Kappa(a float64) float64 {
	la := math.Log(a)
	if la >= 0 {
		return 0
	}
	return math.Max(th.kappaOfA.Eval(math.Max(la, th.lnA[0])), 0)
}

func (th *Thermodynamics) ExpMinusKappa(a float64) float64 { return math.Exp(-th.Kappa(a)) }

// Visibility is g = κ' e^{-κ} in 1/Mpc; it integrates to one over τ.
func (th *Thermodynamics) Visibility(a float64) float64 {
	k := th.Kappa(a)
	if k > 700 {
		return 0
	}
	return th.KappaDot(a) * math.Exp(-k)
}

// HeliumFraction is n_He/n_H.
func (th *Thermodynamics) HeliumFraction() float64 { return th.fHe }

func (th *Thermodynamics) ZRec() float64   { return th.zRec }
func (th *Thermodynamics) TauRec() float64 { return th.tauRec }
func (th *Thermodynamics) RsRec() float64  { return th.rsRec }

// RecombinationWidth is the Gaussian-equivalent width of the visibility in
// conformal time.
func (th *Thermodynamics) RecombinationWidth() float64 { return th.widthRec }

// TauDecoupled is the conformal time after recombination from which photons
// stream freely (κ'τ below the trigger).
func (th *Thermodynamics) TauDecoupled() float64 { return th.tauDec }

// TauReio is the optical depth to reionization.
func (th *Thermodynamics) TauReio() float64 { return th.tauReio }
