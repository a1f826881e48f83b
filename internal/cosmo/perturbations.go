package cosmo

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/san-kum/cosmic/internal/config"
	"github.com/san-kum/cosmic/internal/ctxlog"
	"github.com/san-kum/cosmic/internal/dynamo"
	"github.com/san-kum/cosmic/internal/fault"
	"github.com/san-kum/cosmic/internal/integrators"
	"github.com/san-kum/cosmic/internal/numeric"
	"github.com/san-kum/cosmic/internal/pool"
	"github.com/san-kum/cosmic/internal/sparse"
	"github.com/san-kum/cosmic/internal/telemetry"
)

// Perturbations holds the linear evolution of every wavenumber on the k
// grid: source functions on a shared conformal-time grid and the comoving
// matter density contrast.
type Perturbations struct {
	k   []float64
	tau []float64
	a   []float64

	tau0, tauRec float64
	evolver      string

	s0, s1    [][]float64
	deltaM    [][]float64
	tauSwitch []float64
	stats     []dynamo.Stats
	total     dynamo.Stats
}

// perturbationRun is the read-only state shared by the tasks of one build.
type perturbationRun struct {
	bg      *Background
	th      *Thermodynamics
	evolver integrators.Evolver
	stream  integrators.Evolver
	metrics *telemetry.Metrics

	lmax    int
	pattern *sparse.Pattern
	sym     *sparse.Symbolic
	tol     dynamo.Tolerance

	k, tau       []float64
	coeffs       []modeCoeffs
	vis, expK    []float64
	tauIniMax    float64
	tauIniMin    float64
	tau0, tauDec float64
}

type modeWork struct {
	full *modeSystem
	rsa  *rsaSystem
}

type modeResult struct {
	s0, s1, deltaM []float64
	tauSwitch      float64
	stats          dynamo.Stats
}

func NewPerturbations(ctx context.Context, cfg *config.Snapshot, bg *Background, th *Thermodynamics, p *pool.Pool) (*Perturbations, error) {
	c := cfg.Config()
	ev, err := integrators.New(c.Evolver)
	if err != nil {
		return nil, err
	}
	pattern, err := modePattern(c.PhotonLMax)
	if err != nil {
		return nil, fault.Invariant("mode jacobian pattern: %w", err)
	}
	sym, err := sparse.Analyze(pattern)
	if err != nil {
		return nil, fault.Invariant("mode jacobian pattern: %w", err)
	}

	run := &perturbationRun{
		bg:        bg,
		th:        th,
		evolver:   ev,
		stream:    integrators.NewRKCK(),
		metrics:   p.Metrics(),
		lmax:      c.PhotonLMax,
		pattern:   pattern,
		sym:       sym,
		tol:       dynamo.Tolerance{Rel: c.RTol, Abs: c.ATol},
		k:         numeric.Logspace(c.KMin, c.KMax, c.KSize),
		tau:       sourceGrid(bg, th, c.TauSize),
		tauIniMax: bg.Tau(1e-6),
		tauIniMin: 2 * bg.TauStart(),
		tau0:      bg.Tau0(),
		tauDec:    th.TauDecoupled(),
	}
	n := len(run.tau)
	run.coeffs = make([]modeCoeffs, n)
	run.vis = make([]float64, n)
	run.expK = make([]float64, n)
	a := make([]float64, n)
	for i, tau := range run.tau {
		run.coeffs[i] = coeffsAt(bg, th, tau)
		a[i] = run.coeffs[i].a
		run.vis[i] = th.Visibility(a[i])
		run.expK[i] = th.ExpMinusKappa(a[i])
	}

	start := time.Now()
	newWork := func() *modeWork {
		return &modeWork{
			full: &modeSystem{bg: bg, th: th, pattern: pattern, lmax: run.lmax},
			rsa:  &rsaSystem{bg: bg, th: th},
		}
	}
	batch := pool.Run(ctx, p.Named("perturbations"), len(run.k), newWork, run.evolve)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failed := batch.Failed(); len(failed) > 0 {
		i := failed[0]
		return nil, fault.Wrap(fault.KindNumerical, fmt.Errorf("%d of %d wavenumbers failed, first k[%d]=%.5g: %w",
			len(failed), len(run.k), i, run.k[i], batch.Combined()))
	}

	pt := &Perturbations{
		k:         run.k,
		tau:       run.tau,
		a:         a,
		tau0:      run.tau0,
		tauRec:    th.TauRec(),
		evolver:   ev.Name(),
		s0:        make([][]float64, len(run.k)),
		s1:        make([][]float64, len(run.k)),
		deltaM:    make([][]float64, len(run.k)),
		tauSwitch: make([]float64, len(run.k)),
		stats:     make([]dynamo.Stats, len(run.k)),
	}
	for i := range run.k {
		r := batch.Result(i)
		pt.s0[i], pt.s1[i], pt.deltaM[i] = r.s0, r.s1, r.deltaM
		pt.tauSwitch[i] = r.tauSwitch
		pt.stats[i] = r.stats
		pt.total.Merge(r.stats)
	}

	ctxlog.FromContext(ctx).Debug("Perturbations ready.",
		"modes", len(pt.k), "tau_points", n, "evolver", pt.evolver,
		"steps", pt.total.Steps, "rejected", pt.total.Rejected,
		"jacobians", pt.total.JacobianEvals, "factorizations", pt.total.Factorizations,
		"elapsed", time.Since(start))
	return pt, nil
}

// sourceGrid samples recombination densely and the rest of the history
// linearly up to today.
func sourceGrid(bg *Background, th *Thermodynamics, size int) []float64 {
	tauRec, w := th.TauRec(), th.RecombinationWidth()
	start := math.Max(tauRec-8*w, 0.3*tauRec)
	end := math.Min(tauRec+12*w, 0.5*(tauRec+bg.Tau0()))
	nRec := size / 2
	rec := numeric.Linspace(start, end, nRec)
	late := numeric.Linspace(end, bg.Tau0(), size-nRec+1)
	return numeric.MergeSorted(1e-12, rec, late)
}

// evolve is the Integration Task of wavenumber ik.
func (r *perturbationRun) evolve(ctx context.Context, ik int, w *modeWork) (modeResult, error) {
	k := r.k[ik]
	w.full.k, w.rsa.k = k, k
	n := len(r.tau)
	res := modeResult{
		s0:     make([]float64, n),
		s1:     make([]float64, n),
		deltaM: make([]float64, n),
	}

	tauIni := math.Max(math.Min(1e-3/k, r.tauIniMax), r.tauIniMin)
	y0 := make(dynamo.State, w.full.Dim())
	adiabaticInitial(k, tauIni, y0)

	end := math.Min(math.Max(r.tauDec, rsaTrigger/k), r.tau0)
	nFull := sort.Search(n, func(i int) bool { return r.tau[i] > end })

	out, err := r.evolver.Evolve(ctx, w.full, tauIni, y0, end, integrators.Options{
		Tol:      r.tol,
		Outputs:  r.tau[:nFull],
		Symbolic: r.sym,
	})
	if err != nil {
		return res, fmt.Errorf("k=%.5g: %w", k, err)
	}
	res.stats.Merge(out.Stats)
	r.metrics.ObserveEvolution(r.evolver.Name(), out.Stats)

	k2 := k * k
	for j := 0; j < nFull; j++ {
		y, c := out.Y[j], r.coeffs[j]
		dphi := phiPrime(c, k2, y)
		res.s0[j] = r.vis[j]*(y[iDeltaG]/4+y[iPhi]) + 2*r.expK[j]*dphi
		res.s1[j] = r.vis[j] * y[iThetaB] / k
		res.deltaM[j] = comovingMatter(c, k, y[iDeltaC], y[iThetaC], y[iDeltaB], y[iThetaB])
	}
	res.tauSwitch = end

	if nFull < n {
		yr := make(dynamo.State, rsaDim)
		reduce(out.Final(), yr)
		late, err := r.stream.Evolve(ctx, w.rsa, end, yr, r.tau0, integrators.Options{
			Tol:     r.tol,
			Outputs: r.tau[nFull:],
		})
		if err != nil {
			return res, fmt.Errorf("k=%.5g after streaming switch at tau=%.1f: %w", k, end, err)
		}
		res.stats.Merge(late.Stats)
		r.metrics.ObserveEvolution(r.stream.Name(), late.Stats)

		for j := nFull; j < n; j++ {
			y, c := late.Y[j-nFull], r.coeffs[j]
			_, dphi := w.rsa.potential(c, y)
			res.s0[j] = 2 * r.expK[j] * dphi
			res.s1[j] = r.vis[j] * y[rThetaB] / k
			res.deltaM[j] = comovingMatter(c, k, y[rDeltaC], y[rThetaC], y[rDeltaB], y[rThetaB])
		}
	}

	if !finiteAll(res.s0) || !finiteAll(res.s1) || !finiteAll(res.deltaM) {
		return res, fault.Numerical("k=%.5g: non-finite source function", k)
	}
	ctxlog.FromContext(ctx).Debug("Mode evolved.",
		"k", k, "tau_switch", end, "steps", res.stats.Steps, "rejected", res.stats.Rejected,
		"jacobians", res.stats.JacobianEvals, "factorizations", res.stats.Factorizations)
	return res, nil
}

// K returns the wavenumber grid.
func (pt *Perturbations) K() []float64 { return append([]float64(nil), pt.k...) }

// Tau returns the conformal-time grid the sources are tabulated on; its
// last point is today.
func (pt *Perturbations) Tau() []float64 { return append([]float64(nil), pt.tau...) }

// ScaleFactors returns a(τ) on the source grid.
func (pt *Perturbations) ScaleFactors() []float64 { return append([]float64(nil), pt.a...) }

func (pt *Perturbations) Tau0() float64   { return pt.tau0 }
func (pt *Perturbations) TauRec() float64 { return pt.tauRec }
func (pt *Perturbations) Evolver() string { return pt.evolver }
func (pt *Perturbations) Len() int        { return len(pt.k) }

// Source0 is the temperature source multiplying j_l for mode ik.
func (pt *Perturbations) Source0(ik int) []float64 { return append([]float64(nil), pt.s0[ik]...) }

// Source1 is the Doppler source multiplying j_l' for mode ik.
func (pt *Perturbations) Source1(ik int) []float64 { return append([]float64(nil), pt.s1[ik]...) }

// DeltaM is the comoving matter density contrast of mode ik on the source
// grid.
func (pt *Perturbations) DeltaM(ik int) []float64 { return append([]float64(nil), pt.deltaM[ik]...) }

// DeltaM0 is the comoving matter density contrast of mode ik today.
func (pt *Perturbations) DeltaM0(ik int) float64 {
	d := pt.deltaM[ik]
	return d[len(d)-1]
}

// TauSwitch is where mode ik left the full photon hierarchy; it equals
// Tau0 when it never did.
func (pt *Perturbations) TauSwitch(ik int) float64 { return pt.tauSwitch[ik] }

func (pt *Perturbations) Stats(ik int) dynamo.Stats { return pt.stats[ik] }
func (pt *Perturbations) TotalStats() dynamo.Stats  { return pt.total }
