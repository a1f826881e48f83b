package cosmo

import (
	"context"
	"math"

	"github.com/san-kum/cosmic/internal/config"
	"github.com/san-kum/cosmic/internal/fault"
)

// Primordial is the power spectrum of the curvature perturbation,
// P_R(k) = A_s (k/k_pivot)^(n_s - 1 + α_s/2·ln(k/k_pivot)).
type Primordial struct {
	as, ns, alpha, pivot float64
	k, power             []float64
}

func NewPrimordial(_ context.Context, cfg *config.Snapshot, pt *Perturbations) (*Primordial, error) {
	c := cfg.Config()
	pm := &Primordial{as: c.As, ns: c.Ns, alpha: c.AlphaS, pivot: c.KPivot}
	pm.k = pt.K()
	pm.power = make([]float64, len(pm.k))
	for i, k := range pm.k {
		pm.power[i] = pm.CurvaturePower(k)
		if !(pm.power[i] > 0) || math.IsInf(pm.power[i], 0) {
			return nil, fault.Configuration("primordial power is %g at k=%g (A_s=%g, n_s=%g, alpha_s=%g)",
				pm.power[i], k, c.As, c.Ns, c.AlphaS)
		}
	}
	return pm, nil
}

// CurvaturePower returns the dimensionless P_R(k).
func (pm *Primordial) CurvaturePower(k float64) float64 {
	lk := math.Log(k / pm.pivot)
	return pm.as * math.Exp((pm.ns-1+0.5*pm.alpha*lk)*lk)
}

// Spectrum tabulates P_R on the perturbation k grid.
func (pm *Primordial) Spectrum() []Point { return points(pm.k, pm.power) }

func (pm *Primordial) As() float64 { return pm.as }
func (pm *Primordial) Ns() float64 { return pm.ns }
