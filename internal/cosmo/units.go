package cosmo

import "math"

const (
	// speed of light in km/s
	cKms = 299792.458

	// Mpc/c in Gyr
	mpcToGyr = 3.0856775814913673e19 / cKms / 3.15576e16

	// ω_γ at T = 2.7255 K
	omegaGammaH2 = 2.4728e-5
	tcmbRef      = 2.7255

	// Thomson rate today per unit ω_b(1−Y_He) and x_e, in 1/Mpc:
	// σ_T · ρ_crit/(m_H h²) · Mpc
	thomsonRate = 2.3041e-5

	// ρ_ν/ρ_γ per effective species, 7/8·(4/11)^(4/3)
	neutrinoRatio = 0.22710731766

	// CMB temperature today in μK is T_cmb·1e6.
	microKelvin = 1e6
)

// Point is one sample of a tabulated output sequence.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func points(xs, ys []float64) []Point {
	out := make([]Point, len(xs))
	for i := range xs {
		out[i] = Point{X: xs[i], Y: ys[i]}
	}
	return out
}

func sq(x float64) float64 { return x * x }

func clamp(x, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, x)) }
