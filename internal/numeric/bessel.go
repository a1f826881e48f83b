package numeric

import (
	"fmt"
	"math"
)

// SphericalBessel fills out[l] = j_l(x) for l = 0..len(out)-1.
// Orders below x use upward recurrence; otherwise Miller's downward
// recurrence normalised to j_0 or j_1, whichever is larger in magnitude.
func SphericalBessel(x float64, out []float64) {
	lmax := len(out) - 1
	if lmax < 0 {
		return
	}
	if x == 0 {
		out[0] = 1
		for l := 1; l <= lmax; l++ {
			out[l] = 0
		}
		return
	}
	sx, cx := math.Sin(x), math.Cos(x)
	j0 := sx / x
	j1 := sx/(x*x) - cx/x

	if x > float64(lmax) {
		out[0] = j0
		if lmax >= 1 {
			out[1] = j1
		}
		for l := 1; l < lmax; l++ {
			out[l+1] = float64(2*l+1)/x*out[l] - out[l-1]
		}
		return
	}

	start := lmax + 20 + int(math.Sqrt(40*float64(lmax+1)))
	jp1, jl := 0.0, 1e-300
	for l := start; l >= 1; l-- {
		jm1 := float64(2*l+1)/x*jl - jp1
		if l <= lmax {
			out[l] = jl
		}
		jp1, jl = jl, jm1
		if math.Abs(jl) > 1e200 {
			jl *= 1e-200
			jp1 *= 1e-200
			for k := l; k <= lmax; k++ {
				out[k] *= 1e-200
			}
		}
	}
	out[0] = jl

	var scale float64
	if math.Abs(j0) >= math.Abs(j1) || lmax == 0 {
		scale = j0 / out[0]
	} else {
		scale = j1 / out[1]
	}
	for l := range out {
		out[l] *= scale
	}
}

// besselCutoff is the magnitude below which j_l is treated as zero for
// x left of the first rise.
const besselCutoff = 1e-10

// BesselTable tabulates j_l(x) and j_l'(x) for a fixed list of multipoles on
// a uniform grid in x, interpolated with cubic Hermite polynomials.
type BesselTable struct {
	ls   []int
	dx   float64
	xmax float64
	xmin []float64
	j    [][]float64
	dj   [][]float64
	d2j  [][]float64
}

// NewBesselTable builds the table for multipoles ls (ascending) on [0, xmax]
// with spacing dx.
func NewBesselTable(ls []int, xmax, dx float64) (*BesselTable, error) {
	if len(ls) == 0 {
		return nil, fmt.Errorf("%w: empty multipole list", ErrGrid)
	}
	if dx <= 0 || xmax <= dx {
		return nil, fmt.Errorf("%w: xmax=%g dx=%g", ErrGrid, xmax, dx)
	}
	for i := 1; i < len(ls); i++ {
		if ls[i] <= ls[i-1] {
			return nil, fmt.Errorf("%w: multipoles must increase", ErrGrid)
		}
	}
	lmax := ls[len(ls)-1]
	nx := int(math.Ceil(xmax/dx)) + 1

	t := &BesselTable{
		ls:   append([]int(nil), ls...),
		dx:   dx,
		xmax: float64(nx-1) * dx,
		xmin: make([]float64, len(ls)),
		j:    make([][]float64, len(ls)),
		dj:   make([][]float64, len(ls)),
		d2j:  make([][]float64, len(ls)),
	}
	for li := range ls {
		t.j[li] = make([]float64, nx)
		t.dj[li] = make([]float64, nx)
		t.d2j[li] = make([]float64, nx)
		t.xmin[li] = -1
	}

	buf := make([]float64, lmax+2)
	for i := 0; i < nx; i++ {
		x := float64(i) * dx
		SphericalBessel(x, buf)
		for li, l := range ls {
			jl := buf[l]
			var djl float64
			if l == 0 {
				djl = -buf[1]
			} else {
				djl = (float64(l)*buf[l-1] - float64(l+1)*buf[l+1]) / float64(2*l+1)
			}
			var d2 float64
			if x == 0 {
				// limits of the Bessel equation at the origin
				switch l {
				case 0:
					d2 = -1.0 / 3
				case 2:
					d2 = 2.0 / 15
				}
			} else {
				d2 = -2/x*djl - (1-float64(l*(l+1))/(x*x))*jl
			}
			t.j[li][i], t.dj[li][i], t.d2j[li][i] = jl, djl, d2
			if t.xmin[li] < 0 && math.Abs(jl) > besselCutoff {
				t.xmin[li] = math.Max(0, x-dx)
			}
		}
	}
	for li := range ls {
		if t.xmin[li] < 0 {
			t.xmin[li] = t.xmax
		}
	}
	return t, nil
}

func (t *BesselTable) Multipoles() []int { return t.ls }
func (t *BesselTable) XMax() float64     { return t.xmax }

// XMin returns the argument below which j_l is negligible for the li-th multipole.
func (t *BesselTable) XMin(li int) float64 { return t.xmin[li] }

// Eval returns j_l(x) and j_l'(x) for the li-th multipole in the table.
// Arguments outside [XMin, XMax] return zeros.
func (t *BesselTable) Eval(li int, x float64) (j, dj float64) {
	if x < t.xmin[li] || x > t.xmax {
		return 0, 0
	}
	i := int(x / t.dx)
	if i >= len(t.j[li])-1 {
		i = len(t.j[li]) - 2
	}
	x0 := float64(i) * t.dx
	x1 := x0 + t.dx
	jj, dd, d2 := t.j[li], t.dj[li], t.d2j[li]
	j = hermite(x0, x1, jj[i], jj[i+1], dd[i], dd[i+1], x)
	dj = hermite(x0, x1, dd[i], dd[i+1], d2[i], d2[i+1], x)
	return j, dj
}
