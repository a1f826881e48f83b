package numeric

import (
	"errors"
	"math"
	"testing"
)

func TestIntegrate(t *testing.T) {
	tests := []struct {
		name string
		f    func(float64) float64
		a, b float64
		want float64
	}{
		{"polynomial", func(x float64) float64 { return 3 * x * x }, 0, 2, 8},
		{"exp", math.Exp, 0, 1, math.E - 1},
		{"oscillatory", func(x float64) float64 { return math.Sin(50 * x) }, 0, math.Pi, 0},
		{"peaked", func(x float64) float64 { return 1 / (1e-4 + x*x) }, -1, 1, 2 * math.Atan(100) / 1e-2},
		{"reversed", func(x float64) float64 { return x }, 1, 0, -0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Integrate(tt.f, tt.a, tt.b, 1e-12, 1e-10)
			if err != nil {
				t.Fatalf("Integrate: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-8*math.Max(1, math.Abs(tt.want)) {
				t.Errorf("got %.12g, want %.12g", got, tt.want)
			}
		})
	}
}

func TestIntegrate_NonConvergent(t *testing.T) {
	f := func(x float64) float64 {
		if x == 0 {
			return 0
		}
		return math.Sin(1/x) / (x * x)
	}
	_, err := Integrate(f, 0, 1, 1e-14, 1e-14)
	if !errors.Is(err, ErrQuadrature) {
		t.Errorf("expected ErrQuadrature, got %v", err)
	}
}

func TestTrapz(t *testing.T) {
	x := Linspace(0, 1, 1001)
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = v * v
	}
	got, err := Trapz(x, y)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-1.0/3) > 1e-6 {
		t.Errorf("Trapz = %g", got)
	}

	cum, _ := CumTrapz(x, y)
	if cum[0] != 0 || math.Abs(cum[len(cum)-1]-got) > 1e-15 {
		t.Errorf("CumTrapz end %g != Trapz %g", cum[len(cum)-1], got)
	}
	if _, err := Trapz(x, y[:3]); !errors.Is(err, ErrLength) {
		t.Errorf("expected ErrLength, got %v", err)
	}
}

func TestSpline(t *testing.T) {
	x := Linspace(0, 2*math.Pi, 60)
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = math.Sin(v)
	}
	s, err := NewSpline(x, y)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []float64{0.3, 1.7, 3.3, 5.9} {
		if d := math.Abs(s.Eval(v) - math.Sin(v)); d > 1e-4 {
			t.Errorf("Eval(%g) error %e", v, d)
		}
		if d := math.Abs(s.Deriv(v) - math.Cos(v)); d > 1e-3 {
			t.Errorf("Deriv(%g) error %e", v, d)
		}
	}
	// knots are reproduced exactly
	if s.Eval(x[10]) != y[10] {
		t.Errorf("knot value %g != %g", s.Eval(x[10]), y[10])
	}
}

func TestSpline_BadGrid(t *testing.T) {
	if _, err := NewSpline([]float64{0, 0, 1}, []float64{1, 2, 3}); !errors.Is(err, ErrGrid) {
		t.Errorf("expected ErrGrid, got %v", err)
	}
	if _, err := NewSpline([]float64{0}, []float64{1}); !errors.Is(err, ErrGrid) {
		t.Errorf("expected ErrGrid, got %v", err)
	}
}

func TestHermite(t *testing.T) {
	x := Linspace(0, 3, 31)
	y := make([]float64, len(x))
	dy := make([]float64, len(x))
	for i, v := range x {
		y[i] = math.Exp(-v)
		dy[i] = -math.Exp(-v)
	}
	h, err := NewHermite(x, y, dy)
	if err != nil {
		t.Fatal(err)
	}
	if d := math.Abs(h.Eval(1.234) - math.Exp(-1.234)); d > 1e-6 {
		t.Errorf("Hermite error %e", d)
	}
}

func TestLocate(t *testing.T) {
	xs := []float64{0, 1, 2, 3}
	tests := []struct {
		x    float64
		want int
	}{
		{-1, 0}, {0, 0}, {0.5, 0}, {1, 1}, {2.9, 2}, {3, 2}, {10, 2},
	}
	for _, tt := range tests {
		if got := Locate(xs, tt.x); got != tt.want {
			t.Errorf("Locate(%g) = %d, want %d", tt.x, got, tt.want)
		}
	}
}

func TestLogspace(t *testing.T) {
	g := Logspace(1e-4, 1, 5)
	want := []float64{1e-4, 1e-3, 1e-2, 1e-1, 1}
	for i := range g {
		if math.Abs(g[i]-want[i]) > 1e-12*want[i] {
			t.Errorf("g[%d] = %g, want %g", i, g[i], want[i])
		}
	}
}

func TestMergeSorted(t *testing.T) {
	got := MergeSorted(1e-12, []float64{3, 1}, []float64{2, 1, 4})
	want := []float64{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("got %v", got)
		}
	}
}

func closedFormBessel(l int, x float64) float64 {
	s, c := math.Sin(x), math.Cos(x)
	switch l {
	case 0:
		return s / x
	case 1:
		return s/(x*x) - c/x
	case 2:
		return (3/(x*x)-1)*s/x - 3*c/(x*x)
	}
	panic("unsupported")
}

func TestSphericalBessel_ClosedForms(t *testing.T) {
	out := make([]float64, 3)
	for _, x := range []float64{0.01, 0.5, 1, 2.5, 3.14159, 10, 40} {
		SphericalBessel(x, out)
		for l := 0; l <= 2; l++ {
			want := closedFormBessel(l, x)
			if math.Abs(out[l]-want) > 1e-9*math.Max(1e-3, math.Abs(want)) && math.Abs(out[l]-want) > 1e-10 {
				t.Errorf("j_%d(%g) = %.12g, want %.12g", l, x, out[l], want)
			}
		}
	}
}

func TestSphericalBessel_HighOrderConsistency(t *testing.T) {
	// Downward and upward recurrences must agree where both are valid.
	small := make([]float64, 31)
	large := make([]float64, 201)
	x := 35.0
	SphericalBessel(x, small) // upward, x > lmax
	SphericalBessel(x, large) // downward, x < lmax
	for l := 0; l <= 30; l++ {
		if math.Abs(small[l]-large[l]) > 1e-9 {
			t.Errorf("l=%d: upward %g downward %g", l, small[l], large[l])
		}
	}
	if math.Abs(large[200]) > 1e-30 {
		t.Errorf("j_200(35) should be negligible, got %g", large[200])
	}
}

func TestBesselTable(t *testing.T) {
	ls := []int{0, 2, 10, 50}
	tab, err := NewBesselTable(ls, 120, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	ref := make([]float64, 52)
	for _, x := range []float64{0.37, 4.02, 13.3, 60.1, 99.99} {
		SphericalBessel(x, ref)
		for li, l := range ls {
			j, dj := tab.Eval(li, x)
			if math.Abs(j-ref[l]) > 1e-6 {
				t.Errorf("j_%d(%g): table %g direct %g", l, x, j, ref[l])
			}
			var want float64
			if l == 0 {
				want = -ref[1]
			} else {
				want = (float64(l)*ref[l-1] - float64(l+1)*ref[l+1]) / float64(2*l+1)
			}
			if math.Abs(dj-want) > 1e-5 {
				t.Errorf("j'_%d(%g): table %g direct %g", l, x, dj, want)
			}
		}
	}
	if tab.XMin(3) < 10 {
		t.Errorf("xmin for l=50 too small: %g", tab.XMin(3))
	}
	if j, _ := tab.Eval(3, 1); j != 0 {
		t.Errorf("j_50(1) should be cut to zero, got %g", j)
	}
}

func TestBesselTable_Invalid(t *testing.T) {
	if _, err := NewBesselTable(nil, 10, 0.1); !errors.Is(err, ErrGrid) {
		t.Errorf("expected ErrGrid, got %v", err)
	}
	if _, err := NewBesselTable([]int{2, 1}, 10, 0.1); !errors.Is(err, ErrGrid) {
		t.Errorf("expected ErrGrid, got %v", err)
	}
}

func TestIntegrate_NonFiniteIsAnError(t *testing.T) {
	tests := []struct {
		name string
		f    func(float64) float64
	}{
		{"pole", func(x float64) float64 { return 1 / (x * x) }},
		{"nan", func(x float64) float64 { return math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v, err := Integrate(tt.f, 0, 1, 1e-10, 1e-10); !errors.Is(err, ErrQuadrature) {
				t.Errorf("Integrate = %g, %v; want ErrQuadrature", v, err)
			}
		})
	}
}
