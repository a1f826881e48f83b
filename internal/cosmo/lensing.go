package cosmo

import (
	"context"
	"math"

	"github.com/san-kum/cosmic/internal/config"
	"github.com/san-kum/cosmic/internal/ctxlog"
	"github.com/san-kum/cosmic/internal/fault"
)

const radToArcmin = 180 * 60 / math.Pi

// Lensing holds the CMB lensing potential spectrum in the Limber
// approximation and the temperature spectrum smoothed by it.
type Lensing struct {
	enabled bool
	lmax    int
	clpp    []float64 // C_l^φφ, indexed by l
	lensed  []float64 // lensed D_l in μK², indexed by l

	deflection, convergence float64
}

func NewLensing(ctx context.Context, cfg *config.Snapshot, sp *Spectra) (*Lensing, error) {
	c := cfg.Config()
	ln := &Lensing{
		enabled: c.Lensing,
		lmax:    sp.lmax,
		clpp:    make([]float64, sp.lmax+1),
		lensed:  make([]float64, sp.lmax+1),
	}
	copy(ln.lensed, sp.dl)
	if !ln.enabled {
		return ln, nil
	}

	geo := sp.Geometry()
	chiStar := geo.Tau0 - geo.TauRec
	if !(chiStar > 0) {
		return nil, fault.Invariant("last scattering at tau=%g is not before today (%g)", geo.TauRec, geo.Tau0)
	}
	// trapezoid on the part of the grid between last scattering and today
	var idx []int
	for it, tau := range geo.Tau {
		if tau >= geo.TauRec && tau < geo.Tau0 {
			idx = append(idx, it)
		}
	}
	weight := make([]float64, len(idx))
	for n := 1; n < len(idx); n++ {
		h := 0.5 * (geo.Tau[idx[n]] - geo.Tau[idx[n-1]])
		weight[n-1] += h
		weight[n] += h
	}

	pre := 2.25 * sq(geo.OmegaMH0Sq)
	var d2, k2 float64
	for l := 2; l <= ln.lmax; l++ {
		fl := float64(l)
		sum := 0.0
		for n, it := range idx {
			chi := geo.Tau0 - geo.Tau[it]
			k := (fl + 0.5) / chi
			pd := geo.MatterPower(k, it)
			if pd == 0 {
				continue
			}
			w := 2 * (chiStar - chi) / (chiStar * chi)
			ppsi := pre * pd / (sq(geo.A[it]) * sq(k*k))
			sum += weight[n] * w * w / (chi * chi) * ppsi
		}
		if math.IsNaN(sum) || math.IsInf(sum, 0) {
			return nil, fault.Numerical("lensing potential at l=%d is not finite", l)
		}
		ln.clpp[l] = sum
		ll := fl * (fl + 1)
		d2 += (2*fl + 1) / (4 * math.Pi) * ll * sum
		k2 += (2*fl + 1) / (4 * math.Pi) * sq(ll/2) * sum
	}
	ln.deflection = math.Sqrt(d2)
	ln.convergence = math.Sqrt(k2)

	ln.smooth(sp.dl)
	ctxlog.FromContext(ctx).Debug("Lensing ready.",
		"deflection_arcmin", ln.DeflectionRMS(), "convergence_rms", ln.convergence)
	return ln, nil
}

// smooth convolves D_l with a Gaussian in l whose width follows the rms
// dilation of the acoustic scale, σ_l = l·σ_κ.
func (ln *Lensing) smooth(dl []float64) {
	for l := 2; l <= ln.lmax; l++ {
		sigma := float64(l) * ln.convergence
		if sigma < 0.5 {
			ln.lensed[l] = dl[l]
			continue
		}
		lo := max(2, l-int(4*sigma))
		hi := min(ln.lmax, l+int(4*sigma))
		var sum, norm float64
		for lp := lo; lp <= hi; lp++ {
			w := math.Exp(-0.5 * sq(float64(lp-l)/sigma))
			sum += w * dl[lp]
			norm += w
		}
		ln.lensed[l] = sum / norm
	}
}

func (ln *Lensing) Enabled() bool { return ln.enabled }

// PhiPhi lists [l(l+1)]²C_l^φφ/2π for l from 2 to l_max.
func (ln *Lensing) PhiPhi() []Point {
	out := make([]Point, 0, ln.lmax-1)
	for l := 2; l <= ln.lmax; l++ {
		fl := float64(l)
		out = append(out, Point{X: fl, Y: sq(fl*(fl+1)) * ln.clpp[l] / (2 * math.Pi)})
	}
	return out
}

// LensedTT lists the lensed D_l in μK² for l from 2 to l_max.
func (ln *Lensing) LensedTT() []Point {
	out := make([]Point, 0, ln.lmax-1)
	for l := 2; l <= ln.lmax; l++ {
		out = append(out, Point{X: float64(l), Y: ln.lensed[l]})
	}
	return out
}

// ClPhiPhi returns C_l^φφ.
func (ln *Lensing) ClPhiPhi(l int) float64 {
	if l < 2 || l > ln.lmax {
		return 0
	}
	return ln.clpp[l]
}

// DeflectionRMS is the rms lensing deflection in arcmin.
func (ln *Lensing) DeflectionRMS() float64 { return ln.deflection * radToArcmin }

// ConvergenceRMS is the rms lensing convergence.
func (ln *Lensing) ConvergenceRMS() float64 { return ln.convergence }
