package cosmo

import (
	"context"
	"math"
	"testing"

	"github.com/san-kum/cosmic/internal/config"
	"github.com/san-kum/cosmic/internal/numeric"
)

func newThermo(t *testing.T, cfg *config.Config) (*Background, *Thermodynamics) {
	t.Helper()
	snap := freeze(t, cfg)
	bg, err := NewBackground(context.Background(), snap)
	if err != nil {
		t.Fatalf("NewBackground: %v", err)
	}
	th, err := NewThermodynamics(context.Background(), snap, bg)
	if err != nil {
		t.Fatalf("NewThermodynamics: %v", err)
	}
	return bg, th
}

func TestRecombination(t *testing.T) {
	_, th := newThermo(t, config.DefaultConfig())

	if z := th.ZRec(); z < 1000 || z > 1200 {
		t.Errorf("z_rec = %.1f", z)
	}
	if rs := th.RsRec(); rs < 120 || rs > 170 {
		t.Errorf("r_s(rec) = %.1f Mpc", rs)
	}
	if w := th.RecombinationWidth(); w <= 0 || w > 100 {
		t.Errorf("recombination width = %g Mpc", w)
	}
	if th.TauDecoupled() <= th.TauRec() {
		t.Errorf("decoupling at %g before recombination at %g", th.TauDecoupled(), th.TauRec())
	}
	if tr := th.TauReio(); tr < 0.03 || tr > 0.09 {
		t.Errorf("tau_reio = %g", tr)
	}
}

func TestIonisationLimits(t *testing.T) {
	_, th := newThermo(t, config.DefaultConfig())
	full := 1 + 2*th.HeliumFraction()

	tests := []struct {
		name string
		z    float64
		want float64
		tol  float64
	}{
		{"fully ionised", 5000, full, 1e-3},
		{"neutral", 300, freezeOut, 1e-6},
		{"reionised", 0, full, 1e-3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := th.Xe(1 / (1 + tt.z)); math.Abs(got-tt.want) > tt.tol {
				t.Errorf("Xe(z=%g) = %g, want %g", tt.z, got, tt.want)
			}
		})
	}
	if got := th.Kappa(1); got != 0 {
		t.Errorf("Kappa(1) = %g", got)
	}
}

func TestNoReionization(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ZReio = 0
	_, th := newThermo(t, cfg)
	if th.TauReio() != 0 {
		t.Errorf("tau_reio = %g without reionization", th.TauReio())
	}
	if got := th.Xe(1); got != freezeOut {
		t.Errorf("Xe today = %g, want freeze-out %g", got, freezeOut)
	}
}

func TestVisibilityNormalised(t *testing.T) {
	bg, th := newThermo(t, config.DefaultConfig())
	tau := numeric.Linspace(0.2*th.TauRec(), bg.Tau0(), 40000)
	g := make([]float64, len(tau))
	for i, tt := range tau {
		g[i] = th.Visibility(bg.ScaleFactor(tt))
	}
	total, err := numeric.Trapz(tau, g)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(total-1) > 1e-2 {
		t.Errorf("∫g dτ = %g, want 1", total)
	}
}
