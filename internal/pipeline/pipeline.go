// Package pipeline builds the module graph: it runs the physics modules in
// dependency order from one frozen configuration, annotates failures with
// the module they came from and stops at the first one.
package pipeline

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/san-kum/cosmic/internal/config"
	"github.com/san-kum/cosmic/internal/cosmo"
	"github.com/san-kum/cosmic/internal/ctxlog"
	"github.com/san-kum/cosmic/internal/fault"
	"github.com/san-kum/cosmic/internal/pool"
	"github.com/san-kum/cosmic/internal/telemetry"
)

// Graph holds the modules of one run. Modules past the last built stage are
// nil. A Graph is read-only and safe for concurrent readers.
type Graph struct {
	cfg      *config.Snapshot
	initial  *config.Snapshot
	last     Stage
	complete bool

	bg *cosmo.Background
	th *cosmo.Thermodynamics
	pt *cosmo.Perturbations
	pm *cosmo.Primordial
	nl *cosmo.Nonlinear
	tr *cosmo.Transfer
	sp *cosmo.Spectra
	ln *cosmo.Lensing
}

// Config is the snapshot the final modules were built from. It differs from
// the requested one when σ8 normalisation rescaled A_s.
func (g *Graph) Config() *config.Snapshot { return g.cfg }

// Requested is the snapshot Run was called with.
func (g *Graph) Requested() *config.Snapshot { return g.initial }

// LastStage is the last stage that was built.
func (g *Graph) LastStage() Stage { return g.last }

// Complete reports whether every stage was built.
func (g *Graph) Complete() bool { return g.complete }

func (g *Graph) Background() *cosmo.Background         { return g.bg }
func (g *Graph) Thermodynamics() *cosmo.Thermodynamics { return g.th }
func (g *Graph) Perturbations() *cosmo.Perturbations   { return g.pt }
func (g *Graph) Primordial() *cosmo.Primordial         { return g.pm }
func (g *Graph) Nonlinear() *cosmo.Nonlinear           { return g.nl }
func (g *Graph) Transfer() *cosmo.Transfer             { return g.tr }
func (g *Graph) Spectra() *cosmo.Spectra               { return g.sp }
func (g *Graph) Lensing() *cosmo.Lensing               { return g.ln }

type options struct {
	workers   int
	observers []Observer
	stopAfter Stage
	evolver   string
	metrics   *telemetry.Metrics
	hooks     map[Stage]func(context.Context) error
}

type Option func(*options)

// WithWorkers sets the worker pool size; 0 uses one worker per CPU. It
// overrides the workers setting of the configuration.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithStopAfter builds only the stages up to and including stage.
func WithStopAfter(stage Stage) Option {
	return func(o *options) { o.stopAfter = stage }
}

// WithEvolver overrides the evolver named by the configuration.
func WithEvolver(name string) Option {
	return func(o *options) { o.evolver = name }
}

// WithMetrics records stage, task and evolver metrics on m instead of
// telemetry.Default().
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

type runner struct {
	g         *Graph
	pool      *pool.Pool
	observers []Observer
	metrics   *telemetry.Metrics
	hooks     map[Stage]func(context.Context) error
}

// Run builds a fresh graph from cfg. On failure it returns a
// *fault.ModuleError naming the stage that failed; later stages are never
// started.
func Run(ctx context.Context, cfg *config.Snapshot, opts ...Option) (*Graph, error) {
	c := cfg.Config()
	o := options{workers: c.Workers, stopAfter: Lensing}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = telemetry.Default()
	}
	if o.stopAfter < Background || o.stopAfter > Lensing {
		return nil, fault.Configuration("cannot stop after %s", o.stopAfter)
	}
	if o.evolver != "" && o.evolver != c.Evolver {
		var err error
		if cfg, err = cfg.With(func(c *config.Config) { c.Evolver = o.evolver }); err != nil {
			return nil, err
		}
	}

	r := &runner{
		g:         &Graph{cfg: cfg, initial: cfg},
		pool:      pool.New(o.workers, pool.WithMetrics(o.metrics)),
		observers: o.observers,
		metrics:   o.metrics,
		hooks:     o.hooks,
	}
	log := ctxlog.FromContext(ctx)
	log.Info("Building module graph.", "config", cfg.Digest(), "stop_after", o.stopAfter, "workers", r.pool.Workers())
	start := time.Now()

	for _, stage := range Stages() {
		if stage > o.stopAfter {
			break
		}
		if err := r.build(ctx, stage); err != nil {
			return nil, err
		}
		r.g.last = stage
		if stage == Nonlinear && c.Sigma8 > 0 {
			if err := r.normalise(ctx, c.Sigma8); err != nil {
				return nil, err
			}
		}
	}
	r.g.complete = r.g.last == Lensing

	log.Info("Module graph built.", "config", r.g.cfg.Digest(), "last", r.g.last, "duration", time.Since(start))
	return r.g, nil
}

// normalise rescales A_s so that σ8 hits target and rebuilds the stages
// that depend on the amplitude from a derived snapshot.
func (r *runner) normalise(ctx context.Context, target float64) error {
	g := r.g
	s8 := g.nl.Sigma8()
	if !(s8 > 0) || math.IsInf(s8, 0) {
		return r.annotate(Nonlinear, fault.Numerical("cannot normalise: sigma8 = %g", s8))
	}
	scale := (target / s8) * (target / s8)
	snap, err := g.cfg.With(func(c *config.Config) { c.As *= scale })
	if err != nil {
		return r.annotate(Primordial, err)
	}
	g.cfg = snap
	ctxlog.FromContext(ctx).Info("Normalising amplitude to sigma8.",
		"target", target, "sigma8", s8, "A_s", snap.Config().As, "config", snap.Digest())

	for _, stage := range []Stage{Primordial, Nonlinear} {
		if err := r.build(ctx, stage); err != nil {
			return err
		}
	}
	return nil
}

// build is the single boundary every module constructor goes through.
func (r *runner) build(ctx context.Context, stage Stage) (err error) {
	for _, o := range r.observers {
		o.StageStarted(stage)
	}
	log := ctxlog.FromContext(ctx).With("module", stage.String())
	log.Debug("Stage started.")
	start := time.Now()

	err = r.construct(ctx, stage)
	elapsed := time.Since(start)
	if err != nil {
		err = r.annotate(stage, err)
		log.Error("Stage failed.", "duration", elapsed, "error", err)
	} else {
		log.Info("Stage finished.", "duration", elapsed)
	}
	r.metrics.ObserveStage(stage.String(), elapsed, err)
	for _, o := range r.observers {
		o.StageFinished(stage, elapsed, err)
	}
	return err
}

func (r *runner) construct(ctx context.Context, stage Stage) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fault.FromPanic(v)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	if hook := r.hooks[stage]; hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	g, cfg := r.g, r.g.cfg
	switch stage {
	case Background:
		g.bg, err = cosmo.NewBackground(ctx, cfg)
	case Thermodynamics:
		g.th, err = cosmo.NewThermodynamics(ctx, cfg, g.bg)
	case Perturbations:
		g.pt, err = cosmo.NewPerturbations(ctx, cfg, g.bg, g.th, r.pool)
	case Primordial:
		g.pm, err = cosmo.NewPrimordial(ctx, cfg, g.pt)
	case Nonlinear:
		g.nl, err = cosmo.NewNonlinear(ctx, cfg, g.bg, g.pt, g.pm)
	case Transfer:
		g.tr, err = cosmo.NewTransfer(ctx, cfg, g.bg, g.th, g.pt, r.pool)
	case Spectra:
		g.sp, err = cosmo.NewSpectra(ctx, cfg, g.pt, g.pm, g.nl, g.tr)
	case Lensing:
		g.ln, err = cosmo.NewLensing(ctx, cfg, g.sp)
	default:
		err = fault.Invariant("no constructor for %s", stage)
	}
	return err
}

func (r *runner) annotate(stage Stage, err error) error {
	var me *fault.ModuleError
	if errors.As(err, &me) {
		return err
	}
	kind := fault.KindOf(err)
	if kind == fault.KindUnknown {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = fault.KindResource
		} else {
			kind = fault.KindInvariant
		}
	}
	return &fault.ModuleError{Module: stage.String(), Kind: kind, Digest: r.g.cfg.Digest(), Err: err}
}
