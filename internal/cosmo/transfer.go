package cosmo

import (
	"context"
	"math"
	"time"

	"github.com/san-kum/cosmic/internal/config"
	"github.com/san-kum/cosmic/internal/ctxlog"
	"github.com/san-kum/cosmic/internal/fault"
	"github.com/san-kum/cosmic/internal/numeric"
	"github.com/san-kum/cosmic/internal/pool"
)

var lowMultipoles = []int{2, 3, 4, 5, 6, 7, 8, 10, 12, 15, 20, 25, 30, 40, 50, 60, 70, 80, 90, 100}

// Multipoles returns the sampled l values: a fixed dense list at low l,
// then every step up to lmax, which is always included.
func Multipoles(lmax, step int) []int {
	var ls []int
	for _, l := range lowMultipoles {
		if l <= lmax {
			ls = append(ls, l)
		}
	}
	for l := lowMultipoles[len(lowMultipoles)-1] + step; l <= lmax; l += step {
		ls = append(ls, l)
	}
	if ls[len(ls)-1] != lmax {
		ls = append(ls, lmax)
	}
	return ls
}

// Transfer holds the temperature transfer functions Δ_l(q) obtained by
// line-of-sight integration of the perturbation sources.
type Transfer struct {
	ls    []int
	q     []float64
	delta [][]float64 // [q][l]
	tau0  float64
}

type transferRun struct {
	pt     *Perturbations
	ls     []int
	q      []float64
	bessel *numeric.BesselTable
	s0, s1 []*numeric.Spline // per τ, over ln k
	weight []float64         // trapezoid weights on the τ grid
}

type transferWork struct {
	s0, s1 []float64
}

func NewTransfer(ctx context.Context, cfg *config.Snapshot, bg *Background, th *Thermodynamics, pt *Perturbations, p *pool.Pool) (*Transfer, error) {
	c := cfg.Config()
	start := time.Now()
	kMin, kMax := pt.k[0], pt.k[len(pt.k)-1]
	nLog := max(c.QSize/4, 2)
	q := numeric.MergeSorted(1e-10,
		numeric.Logspace(kMin, kMax, nLog),
		numeric.Linspace(kMin, kMax, max(c.QSize-nLog, 2)))

	tau0 := bg.Tau0()
	if math.Abs(tau0-pt.tau0) > 1e-9*tau0 {
		return nil, fault.Invariant("perturbations end at tau=%g, background at %g", pt.tau0, tau0)
	}
	run := &transferRun{
		pt:     pt,
		ls:     Multipoles(c.LMax, c.LLinStep),
		q:      q,
		weight: trapezoidWeights(pt.tau),
	}
	xmax := kMax*(tau0-pt.tau[0]) + 2*c.BesselDx
	var err error
	if run.bessel, err = numeric.NewBesselTable(run.ls, xmax, c.BesselDx); err != nil {
		return nil, fault.Configuration("bessel table: %w", err)
	}

	lnK := make([]float64, len(pt.k))
	for i, k := range pt.k {
		lnK[i] = math.Log(k)
	}
	nt := len(pt.tau)
	run.s0 = make([]*numeric.Spline, nt)
	run.s1 = make([]*numeric.Spline, nt)
	col0 := make([]float64, len(pt.k))
	col1 := make([]float64, len(pt.k))
	for it := range pt.tau {
		for ik := range pt.k {
			col0[ik], col1[ik] = pt.s0[ik][it], pt.s1[ik][it]
		}
		if run.s0[it], err = numeric.NewSpline(lnK, col0); err != nil {
			return nil, fault.Invariant("source interpolation: %w", err)
		}
		if run.s1[it], err = numeric.NewSpline(lnK, col1); err != nil {
			return nil, fault.Invariant("source interpolation: %w", err)
		}
	}

	newWork := func() *transferWork {
		return &transferWork{s0: make([]float64, nt), s1: make([]float64, nt)}
	}
	batch := pool.Run(ctx, p.Named("transfer"), len(q), newWork, run.integrate)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	delta, err := batch.Values()
	if err != nil {
		return nil, fault.Wrap(fault.KindNumerical, err)
	}

	ctxlog.FromContext(ctx).Debug("Transfer ready.",
		"multipoles", len(run.ls), "q_points", len(q), "x_max", xmax, "tau_rec", th.TauRec(), "elapsed", time.Since(start))
	return &Transfer{ls: run.ls, q: q, delta: delta, tau0: tau0}, nil
}

// integrate computes Δ_l(q) for every l of the list at one wavenumber.
func (r *transferRun) integrate(ctx context.Context, iq int, w *transferWork) ([]float64, error) {
	q := r.q[iq]
	lq := math.Log(q)
	tau := r.pt.tau
	tau0 := r.pt.tau0
	for it := range tau {
		w.s0[it] = r.s0[it].Eval(lq) * r.weight[it]
		w.s1[it] = r.s1[it].Eval(lq) * r.weight[it]
	}

	out := make([]float64, len(r.ls))
	for li := range r.ls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		xmin := r.bessel.XMin(li)
		sum := 0.0
		for it := range tau {
			x := q * (tau0 - tau[it])
			if x < xmin {
				// x decreases along the grid
				break
			}
			j, dj := r.bessel.Eval(li, x)
			sum += w.s0[it]*j + w.s1[it]*dj
		}
		if math.IsNaN(sum) || math.IsInf(sum, 0) {
			return nil, fault.Numerical("transfer l=%d q=%.5g is not finite", r.ls[li], q)
		}
		out[li] = sum
	}
	return out, nil
}

func trapezoidWeights(x []float64) []float64 {
	w := make([]float64, len(x))
	for i := 1; i < len(x); i++ {
		h := 0.5 * (x[i] - x[i-1])
		w[i-1] += h
		w[i] += h
	}
	return w
}

// Multipoles returns the sampled l values.
func (tr *Transfer) Multipoles() []int { return append([]int(nil), tr.ls...) }

// Q returns the wavenumbers the transfer functions are sampled at.
func (tr *Transfer) Q() []float64 { return append([]float64(nil), tr.q...) }

// Delta returns Δ_l(q) for the il-th multipole and iq-th wavenumber.
func (tr *Transfer) Delta(il, iq int) float64 { return tr.delta[iq][il] }

func (tr *Transfer) Tau0() float64 { return tr.tau0 }
