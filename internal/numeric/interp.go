package numeric

// Spline is a natural cubic spline through (x, y).
type Spline struct {
	x, y, d2 []float64
}

func NewSpline(x, y []float64) (*Spline, error) {
	if len(x) != len(y) {
		return nil, ErrLength
	}
	if err := checkGrid(x); err != nil {
		return nil, err
	}
	n := len(x)
	s := &Spline{
		x:  append([]float64(nil), x...),
		y:  append([]float64(nil), y...),
		d2: make([]float64, n),
	}
	if n == 2 {
		return s, nil
	}

	u := make([]float64, n)
	for i := 1; i < n-1; i++ {
		sig := (x[i] - x[i-1]) / (x[i+1] - x[i-1])
		p := sig*s.d2[i-1] + 2
		s.d2[i] = (sig - 1) / p
		u[i] = (y[i+1]-y[i])/(x[i+1]-x[i]) - (y[i]-y[i-1])/(x[i]-x[i-1])
		u[i] = (6*u[i]/(x[i+1]-x[i-1]) - sig*u[i-1]) / p
	}
	s.d2[n-1] = 0
	for k := n - 2; k >= 0; k-- {
		s.d2[k] = s.d2[k]*s.d2[k+1] + u[k]
	}
	return s, nil
}

// Eval evaluates the spline; outside the table it extrapolates with the end
// cubic.
func (s *Spline) Eval(x float64) float64 {
	i := Locate(s.x, x)
	h := s.x[i+1] - s.x[i]
	a := (s.x[i+1] - x) / h
	b := (x - s.x[i]) / h
	return a*s.y[i] + b*s.y[i+1] + ((a*a*a-a)*s.d2[i]+(b*b*b-b)*s.d2[i+1])*h*h/6
}

func (s *Spline) Deriv(x float64) float64 {
	i := Locate(s.x, x)
	h := s.x[i+1] - s.x[i]
	a := (s.x[i+1] - x) / h
	b := (x - s.x[i]) / h
	return (s.y[i+1]-s.y[i])/h - (3*a*a-1)*h*s.d2[i]/6 + (3*b*b-1)*h*s.d2[i+1]/6
}

func (s *Spline) Domain() (lo, hi float64) { return s.x[0], s.x[len(s.x)-1] }

// Hermite is a piecewise cubic Hermite interpolant with given derivatives.
type Hermite struct {
	x, y, dy []float64
}

func NewHermite(x, y, dy []float64) (*Hermite, error) {
	if len(x) != len(y) || len(x) != len(dy) {
		return nil, ErrLength
	}
	if err := checkGrid(x); err != nil {
		return nil, err
	}
	return &Hermite{
		x:  append([]float64(nil), x...),
		y:  append([]float64(nil), y...),
		dy: append([]float64(nil), dy...),
	}, nil
}

func (h *Hermite) Eval(x float64) float64 {
	i := Locate(h.x, x)
	return hermite(h.x[i], h.x[i+1], h.y[i], h.y[i+1], h.dy[i], h.dy[i+1], x)
}

// hermite evaluates the cubic through (x0,y0,d0) and (x1,y1,d1) at x.
func hermite(x0, x1, y0, y1, d0, d1, x float64) float64 {
	h := x1 - x0
	t := (x - x0) / h
	t2 := t * t
	t3 := t2 * t
	h00 := 2*t3 - 3*t2 + 1
	h10 := t3 - 2*t2 + t
	h01 := -2*t3 + 3*t2
	h11 := t3 - t2
	return h00*y0 + h10*h*d0 + h01*y1 + h11*h*d1
}

// Linear interpolates y(x) linearly, clamping outside the table.
func Linear(xs, ys []float64, x float64) float64 {
	if x <= xs[0] {
		return ys[0]
	}
	n := len(xs)
	if x >= xs[n-1] {
		return ys[n-1]
	}
	i := Locate(xs, x)
	t := (x - xs[i]) / (xs[i+1] - xs[i])
	return ys[i] + t*(ys[i+1]-ys[i])
}
