package cosmo

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCurvaturePower(t *testing.T) {
	c := coarse(t)
	cfg := c.cfg.Config()
	if got := c.pm.CurvaturePower(cfg.KPivot); math.Abs(got-cfg.As) > 1e-15*cfg.As {
		t.Errorf("P_R(k_pivot) = %g, want A_s = %g", got, cfg.As)
	}
	k := 10 * cfg.KPivot
	want := cfg.As * math.Pow(10, cfg.Ns-1)
	if got := c.pm.CurvaturePower(k); math.Abs(got-want) > 1e-12*want {
		t.Errorf("P_R(10 k_pivot) = %g, want %g", got, want)
	}

	cfg.AlphaS = -0.01
	pm, err := NewPrimordial(context.Background(), freeze(t, &cfg), c.pt)
	if err != nil {
		t.Fatal(err)
	}
	lk := math.Log(10)
	want = cfg.As * math.Exp((cfg.Ns-1-0.005*lk)*lk)
	if got := pm.CurvaturePower(k); math.Abs(got-want) > 1e-12*want {
		t.Errorf("with running: P_R = %g, want %g", got, want)
	}
	if n := len(pm.Spectrum()); n != c.pt.Len() {
		t.Errorf("Spectrum has %d points", n)
	}
}

func TestTopHat(t *testing.T) {
	if topHat(0) != 1 {
		t.Errorf("W(0) = %g", topHat(0))
	}
	// series and closed form agree where they meet
	x := 1e-3
	closed := 3 * (math.Sin(x) - x*math.Cos(x)) / (x * x * x)
	if math.Abs(topHat(x*0.999)-closed) > 1e-6 {
		t.Errorf("series %g, closed form %g", topHat(x*0.999), closed)
	}
	if math.Abs(topHat(4.4934094579)) > 1e-9 {
		t.Errorf("W at first zero = %g", topHat(4.4934094579))
	}
}

func TestSigmaScalesWithAmplitude(t *testing.T) {
	c := coarse(t)
	cfg := c.cfg.Config()
	cfg.As *= 4
	snap := freeze(t, &cfg)
	ctx := context.Background()
	pm, err := NewPrimordial(ctx, snap, c.pt)
	if err != nil {
		t.Fatal(err)
	}
	nl, err := NewNonlinear(ctx, snap, c.bg, c.pt, pm)
	if err != nil {
		t.Fatal(err)
	}
	if c.nl.Sigma8() <= 0 {
		t.Fatalf("sigma8 = %g", c.nl.Sigma8())
	}
	if got, want := nl.Sigma8(), 2*c.nl.Sigma8(); math.Abs(got-want) > 1e-9*want {
		t.Errorf("sigma8 with 4 A_s = %g, want %g", got, want)
	}
	if before, after := c.nl.KNonlinear(), nl.KNonlinear(); before > 0 && after > before {
		t.Errorf("k_nl grew with amplitude: %g -> %g", before, after)
	}
}

func TestNonlinearBoost(t *testing.T) {
	c := coarse(t)
	if c.nl.Method() != "none" {
		t.Fatalf("method %q", c.nl.Method())
	}
	for _, k := range []float64{1e-3, 0.01, 0.05} {
		if c.nl.Power(k) != c.nl.LinearPower(k) {
			t.Errorf("k=%g: boost applied with method none", k)
		}
	}

	cfg := c.cfg.Config()
	cfg.Nonlinear = "boost"
	nl, err := NewNonlinear(context.Background(), freeze(t, &cfg), c.bg, c.pt, c.pm)
	if err != nil {
		t.Fatal(err)
	}
	if nl.KNonlinear() == 0 {
		t.Skip("spectrum is linear on every scale searched")
	}
	k := nl.KNonlinear()
	if got := nl.Power(k) / nl.LinearPower(k); math.Abs(got-2) > 1e-12 {
		t.Errorf("boost at k_nl = %g, want 2", got)
	}
}

func TestMultipoles(t *testing.T) {
	tests := []struct {
		lmax, step int
		want       []int
	}{
		{30, 50, []int{2, 3, 4, 5, 6, 7, 8, 10, 12, 15, 20, 25, 30}},
		{9, 50, []int{2, 3, 4, 5, 6, 7, 8, 9}},
		{250, 100, append(append([]int(nil), lowMultipoles...), 200, 250)},
		{300, 100, append(append([]int(nil), lowMultipoles...), 200, 300)},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, Multipoles(tt.lmax, tt.step)); diff != "" {
			t.Errorf("Multipoles(%d, %d) (-want +got):\n%s", tt.lmax, tt.step, diff)
		}
	}
}

func TestTrapezoidWeights(t *testing.T) {
	x := []float64{0, 1, 3, 6}
	w := trapezoidWeights(x)
	if diff := cmp.Diff([]float64{0.5, 1.5, 2.5, 1.5}, w); diff != "" {
		t.Errorf("weights (-want +got):\n%s", diff)
	}
}

func TestTemperatureSpectrum(t *testing.T) {
	c := coarse(t)
	tt := c.sp.TT()
	if len(tt) != c.sp.LMax()-1 {
		t.Fatalf("TT has %d points for l_max %d", len(tt), c.sp.LMax())
	}
	for i, p := range tt {
		if int(p.X) != i+2 {
			t.Fatalf("point %d has l=%g", i, p.X)
		}
		if math.IsNaN(p.Y) || p.Y < 0 {
			t.Fatalf("D_%d = %g", i+2, p.Y)
		}
	}
	if c.sp.D(10) <= 0 {
		t.Errorf("D_10 = %g", c.sp.D(10))
	}
	l := 50
	fl := float64(l)
	want := c.sp.D(l) * 2 * math.Pi / (fl * (fl + 1)) / sq(c.sp.TCMB())
	if got := c.sp.Cl(l); math.Abs(got-want) > 1e-12*want {
		t.Errorf("Cl(50) = %g, want %g", got, want)
	}
	if n := len(c.sp.MatterPower()); n != c.pt.Len() {
		t.Errorf("MatterPower has %d points", n)
	}
}

func TestSingleMultipoleSpectrum(t *testing.T) {
	c := coarse(t)
	cfg := c.cfg.Config()
	cfg.LMax = 2
	snap := freeze(t, &cfg)
	ctx := context.Background()

	tr, err := NewTransfer(ctx, snap, c.bg, c.th, c.pt, testPool(2))
	if err != nil {
		t.Fatalf("NewTransfer: %v", err)
	}
	if diff := cmp.Diff([]int{2}, tr.Multipoles()); diff != "" {
		t.Fatalf("multipoles (-want +got):\n%s", diff)
	}
	sp, err := NewSpectra(ctx, snap, c.pt, c.pm, c.nl, tr)
	if err != nil {
		t.Fatalf("NewSpectra: %v", err)
	}
	tt := sp.TT()
	if len(tt) != 1 || tt[0].X != 2 {
		t.Fatalf("TT = %v, want one point at l=2", tt)
	}
	if !(tt[0].Y > 0) {
		t.Errorf("D_2 = %g, want positive", tt[0].Y)
	}
	if got, want := tt[0].Y, c.sp.D(2); math.Abs(got-want) > 1e-6*want {
		t.Errorf("D_2 = %g, full run sampled it as %g", got, want)
	}
}

func TestTransferDimensions(t *testing.T) {
	c := coarse(t)
	ls := c.tr.Multipoles()
	if ls[len(ls)-1] != c.cfg.Config().LMax {
		t.Errorf("last multipole %d", ls[len(ls)-1])
	}
	q := c.tr.Q()
	if q[0] != c.pt.K()[0] {
		t.Errorf("q grid starts at %g", q[0])
	}
	nonzero := false
	for iq := range q {
		if c.tr.Delta(0, iq) != 0 {
			nonzero = true
		}
	}
	if !nonzero {
		t.Error("Δ_2(q) vanishes everywhere")
	}
}

func TestLensing(t *testing.T) {
	c := coarse(t)
	if !c.ln.Enabled() {
		t.Fatal("lensing disabled in the default configuration")
	}
	if d := c.ln.DeflectionRMS(); !(d > 0) {
		t.Errorf("deflection rms = %g arcmin", d)
	}
	var lensed, unlensed float64
	tt := c.sp.TT()
	for i, p := range c.ln.LensedTT() {
		if math.IsNaN(p.Y) || p.Y < 0 {
			t.Fatalf("lensed D_%g = %g", p.X, p.Y)
		}
		lensed += p.Y
		unlensed += tt[i].Y
	}
	if math.Abs(lensed-unlensed) > 0.1*unlensed {
		t.Errorf("lensing changed the summed spectrum from %g to %g", unlensed, lensed)
	}
	if n := len(c.ln.PhiPhi()); n != c.sp.LMax()-1 {
		t.Errorf("PhiPhi has %d points", n)
	}
}

func TestLensingDisabled(t *testing.T) {
	c := coarse(t)
	cfg := c.cfg.Config()
	cfg.Lensing = false
	ln, err := NewLensing(context.Background(), freeze(t, &cfg), c.sp)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c.sp.TT(), ln.LensedTT()); diff != "" {
		t.Errorf("lensed spectrum differs with lensing off (-want +got):\n%s", diff)
	}
	if ln.DeflectionRMS() != 0 {
		t.Errorf("deflection %g with lensing off", ln.DeflectionRMS())
	}
}

func TestGeometryFromSpectra(t *testing.T) {
	c := coarse(t)
	g := c.sp.Geometry()
	if g.Tau0 != c.bg.Tau0() {
		t.Errorf("geometry tau0 %g, background %g", g.Tau0, c.bg.Tau0())
	}
	want := c.bg.OmegaM() * sq(c.bg.H0())
	if math.Abs(g.OmegaMH0Sq-want) > 1e-12*want {
		t.Errorf("Ω_m H0² = %g, want %g", g.OmegaMH0Sq, want)
	}
	if p := g.MatterPower(10, len(g.Tau)-1); p != 0 {
		t.Errorf("P(k beyond table) = %g", p)
	}
	last := len(g.Tau) - 1
	k := g.K[3]
	if got, want := g.MatterPower(k, last), c.nl.LinearPower(k); math.Abs(got-want) > 1e-6*want {
		t.Errorf("P(k=%g) today %g, Nonlinear says %g", k, got, want)
	}
}
