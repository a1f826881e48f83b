package cosmo

import (
	"context"
	"math"

	"github.com/san-kum/cosmic/internal/config"
	"github.com/san-kum/cosmic/internal/ctxlog"
	"github.com/san-kum/cosmic/internal/fault"
	"github.com/san-kum/cosmic/internal/numeric"
)

// Spectra holds the angular temperature spectrum and the matter power
// spectrum of one run.
type Spectra struct {
	lmax    int
	tcmb    float64
	dl      []float64 // l(l+1)C_l/2π in μK², indexed by l
	sampled []int
	pk, pkl []Point
	geo     *Geometry
}

// Geometry is what Spectra exposes to Lensing: conformal distances and the
// matter density contrast along the source grid, so that no module further
// down needs the Background.
type Geometry struct {
	Tau0       float64
	TauRec     float64
	OmegaMH0Sq float64 // Ω_m H0² in 1/Mpc²

	Tau []float64
	A   []float64
	K   []float64

	lnK    []float64
	pr     []float64
	deltaM []*numeric.Spline // per τ, over ln k
	kMin   float64
	kMax   float64
}

// MatterPower returns the linear P_δ(k) at the it-th grid time. Wavenumbers
// below the table follow Δ_m ∝ k², those above it contribute nothing.
func (g *Geometry) MatterPower(k float64, it int) float64 {
	if k > g.kMax {
		return 0
	}
	var d, pr float64
	if k < g.kMin {
		d = g.deltaM[it].Eval(g.lnK[0]) * sq(k/g.kMin)
		pr = g.pr[0]
	} else {
		lk := math.Log(k)
		d = g.deltaM[it].Eval(lk)
		pr = numeric.Linear(g.lnK, g.pr, lk)
	}
	return 2 * math.Pi * math.Pi / (k * k * k) * pr * d * d
}

func NewSpectra(ctx context.Context, cfg *config.Snapshot, pt *Perturbations, pm *Primordial, nl *Nonlinear, tr *Transfer) (*Spectra, error) {
	c := cfg.Config()
	sp := &Spectra{
		lmax:    c.LMax,
		tcmb:    c.TCMB * microKelvin,
		sampled: tr.Multipoles(),
		pk:      nl.Spectrum(),
		pkl:     nl.LinearSpectrum(),
	}

	lnQ := make([]float64, len(tr.q))
	pq := make([]float64, len(tr.q))
	for iq, q := range tr.q {
		lnQ[iq] = math.Log(q)
		pq[iq] = pm.CurvaturePower(q)
	}
	ls := make([]float64, len(sp.sampled))
	dl := make([]float64, len(sp.sampled))
	integrand := make([]float64, len(tr.q))
	for il, l := range sp.sampled {
		for iq := range tr.q {
			integrand[iq] = pq[iq] * sq(tr.delta[iq][il])
		}
		cl, err := numeric.Trapz(lnQ, integrand)
		if err != nil {
			return nil, fault.Invariant("C_l quadrature: %w", err)
		}
		cl *= 4 * math.Pi
		fl := float64(l)
		ls[il] = fl
		dl[il] = fl * (fl + 1) * cl / (2 * math.Pi) * sq(sp.tcmb)
	}

	sp.dl = make([]float64, c.LMax+1)
	if len(ls) == 1 {
		sp.dl[sp.sampled[0]] = dl[0]
	} else {
		s, err := numeric.NewSpline(ls, dl)
		if err != nil {
			return nil, fault.Invariant("C_l interpolation: %w", err)
		}
		for l := 2; l <= c.LMax; l++ {
			sp.dl[l] = math.Max(s.Eval(float64(l)), 0)
		}
	}

	geo, err := newGeometry(cfg, pt, pm)
	if err != nil {
		return nil, err
	}
	sp.geo = geo

	ctxlog.FromContext(ctx).Debug("Spectra ready.", "l_max", c.LMax, "sampled", len(sp.sampled), "D_220", sp.D(min(220, c.LMax)))
	return sp, nil
}

func newGeometry(cfg *config.Snapshot, pt *Perturbations, pm *Primordial) (*Geometry, error) {
	c := cfg.Config()
	g := &Geometry{
		Tau0:       pt.tau0,
		TauRec:     pt.tauRec,
		OmegaMH0Sq: (c.OmegaB + c.OmegaCDM) * sq(100/cKms),
		Tau:        pt.Tau(),
		A:          pt.ScaleFactors(),
		K:          pt.K(),
		kMin:       pt.k[0],
		kMax:       pt.k[len(pt.k)-1],
	}
	g.lnK = make([]float64, len(g.K))
	g.pr = make([]float64, len(g.K))
	for i, k := range g.K {
		g.lnK[i] = math.Log(k)
		g.pr[i] = pm.CurvaturePower(k)
	}
	g.deltaM = make([]*numeric.Spline, len(g.Tau))
	col := make([]float64, len(g.K))
	for it := range g.Tau {
		for ik := range g.K {
			col[ik] = pt.deltaM[ik][it]
		}
		var err error
		if g.deltaM[it], err = numeric.NewSpline(g.lnK, col); err != nil {
			return nil, fault.Invariant("matter contrast interpolation: %w", err)
		}
	}
	return g, nil
}

// D returns l(l+1)C_l/2π in μK².
func (sp *Spectra) D(l int) float64 {
	if l < 2 || l > sp.lmax {
		return 0
	}
	return sp.dl[l]
}

// Cl returns the dimensionless C_l^TT.
func (sp *Spectra) Cl(l int) float64 {
	if l < 2 || l > sp.lmax {
		return 0
	}
	fl := float64(l)
	return sp.dl[l] * 2 * math.Pi / (fl * (fl + 1)) / sq(sp.tcmb)
}

// TT lists D_l for every l from 2 to l_max.
func (sp *Spectra) TT() []Point {
	out := make([]Point, 0, sp.lmax-1)
	for l := 2; l <= sp.lmax; l++ {
		out = append(out, Point{X: float64(l), Y: sp.dl[l]})
	}
	return out
}

func (sp *Spectra) LMax() int                  { return sp.lmax }
func (sp *Spectra) TCMB() float64              { return sp.tcmb }
func (sp *Spectra) Sampled() []int             { return append([]int(nil), sp.sampled...) }
func (sp *Spectra) MatterPower() []Point       { return append([]Point(nil), sp.pk...) }
func (sp *Spectra) LinearMatterPower() []Point { return append([]Point(nil), sp.pkl...) }
func (sp *Spectra) Geometry() *Geometry        { return sp.geo }
