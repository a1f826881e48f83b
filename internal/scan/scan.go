// Package scan evaluates one observable over a grid of cosmological
// parameters. Every grid point gets its own snapshot and module graph.
package scan

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/cosmic/internal/config"
	"github.com/san-kum/cosmic/internal/ctxlog"
	"github.com/san-kum/cosmic/internal/fault"
	"github.com/san-kum/cosmic/internal/pipeline"
	"github.com/san-kum/cosmic/internal/telemetry"
)

var setters = map[string]func(*config.Config, float64){
	"h":         func(c *config.Config, v float64) { c.H = v },
	"omega_b":   func(c *config.Config, v float64) { c.OmegaB = v },
	"omega_cdm": func(c *config.Config, v float64) { c.OmegaCDM = v },
	"n_s":       func(c *config.Config, v float64) { c.Ns = v },
	"A_s":       func(c *config.Config, v float64) { c.As = v },
	"z_reio":    func(c *config.Config, v float64) { c.ZReio = v },
	"YHe":       func(c *config.Config, v float64) { c.YHe = v },
}

// Parameters lists the names a grid may vary.
func Parameters() []string {
	names := make([]string, 0, len(setters))
	for name := range setters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Observable is a derived scalar read off a built graph.
type Observable string

const (
	Sigma8  Observable = "sigma8"
	ZRec    Observable = "z_rec"
	TauReio Observable = "tau_reio"
	Age     Observable = "age"
)

// stage is the last stage the observable needs.
func (o Observable) stage() (pipeline.Stage, error) {
	switch o {
	case Sigma8:
		return pipeline.Nonlinear, nil
	case ZRec, TauReio:
		return pipeline.Thermodynamics, nil
	case Age:
		return pipeline.Background, nil
	}
	return 0, fault.Configuration("unknown observable %q", string(o))
}

func (o Observable) read(g *pipeline.Graph) float64 {
	switch o {
	case Sigma8:
		return g.Nonlinear().Sigma8()
	case ZRec:
		return g.Thermodynamics().ZRec()
	case TauReio:
		return g.Thermodynamics().TauReio()
	default:
		return g.Background().Age()
	}
}

type Parameter struct {
	Name   string
	Values []float64
}

// ParseParameter reads "name=v1,v2,...".
func ParseParameter(s string) (Parameter, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok {
		return Parameter{}, fault.Configuration("parameter %q: want name=v1,v2,...", s)
	}
	p := Parameter{Name: strings.TrimSpace(name)}
	for _, f := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Parameter{}, fault.Configuration("parameter %s: %w", p.Name, err)
		}
		p.Values = append(p.Values, v)
	}
	return p, nil
}

// Grid is the cartesian product of its parameters, first parameter
// slowest.
type Grid struct {
	params []Parameter
}

func NewGrid(params ...Parameter) (*Grid, error) {
	if len(params) == 0 {
		return nil, fault.Configuration("scan grid has no parameters")
	}
	seen := make(map[string]bool)
	for _, p := range params {
		if _, ok := setters[p.Name]; !ok {
			return nil, fault.Configuration("cannot scan %q (want one of %v)", p.Name, Parameters())
		}
		if seen[p.Name] {
			return nil, fault.Configuration("parameter %s listed twice", p.Name)
		}
		if len(p.Values) == 0 {
			return nil, fault.Configuration("parameter %s has no values", p.Name)
		}
		seen[p.Name] = true
	}
	return &Grid{params: params}, nil
}

func (g *Grid) Len() int {
	n := 1
	for _, p := range g.params {
		n *= len(p.Values)
	}
	return n
}

// Names returns the parameter names in grid order.
func (g *Grid) Names() []string {
	names := make([]string, len(g.params))
	for i, p := range g.params {
		names[i] = p.Name
	}
	return names
}

// Points enumerates the grid in order.
func (g *Grid) Points() []map[string]float64 {
	out := make([]map[string]float64, 0, g.Len())
	g.expand(0, map[string]float64{}, &out)
	return out
}

func (g *Grid) expand(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.params) {
		*out = append(*out, current)
		return
	}
	p := g.params[depth]
	for _, v := range p.Values {
		next := make(map[string]float64, len(current)+1)
		for k, cv := range current {
			next[k] = cv
		}
		next[p.Name] = v
		g.expand(depth+1, next, out)
	}
}

// Point is one evaluated grid point. Err is set when the point's graph
// failed; Value is then NaN.
type Point struct {
	Index  int
	Params map[string]float64
	Digest string
	Value  float64
	Err    error
}

type Result struct {
	Observable Observable
	Names      []string
	Points     []Point
}

// Best returns the successful point whose value is closest to target.
func (r *Result) Best(target float64) (Point, bool) {
	best, found := Point{}, false
	for _, p := range r.Points {
		if p.Err != nil || math.IsNaN(p.Value) {
			continue
		}
		if !found || math.Abs(p.Value-target) < math.Abs(best.Value-target) {
			best, found = p, true
		}
	}
	return best, found
}

type options struct {
	limit   int
	workers int
	metrics *telemetry.Metrics
}

type Option func(*options)

// WithLimit bounds the number of graphs built concurrently.
func WithLimit(n int) Option {
	return func(o *options) { o.limit = n }
}

// WithWorkers sets the worker pool size of each graph.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Run builds one graph per grid point on top of base. Points that fail keep
// their error; the returned error joins them in grid order and is nil only
// when every point succeeded. Cancellation aborts the scan.
func Run(ctx context.Context, base *config.Snapshot, grid *Grid, obs Observable, opts ...Option) (*Result, error) {
	stop, err := obs.stage()
	if err != nil {
		return nil, err
	}
	o := options{limit: 2, workers: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.limit < 1 {
		o.limit = 1
	}
	if o.metrics == nil {
		o.metrics = telemetry.Default()
	}

	log := ctxlog.FromContext(ctx).With("observable", string(obs))
	params := grid.Points()
	res := &Result{Observable: obs, Names: grid.Names(), Points: make([]Point, len(params))}
	log.Info("Starting scan.", "points", len(params), "limit", o.limit)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.limit)
	for i, values := range params {
		res.Points[i] = Point{Index: i, Params: values, Value: math.NaN()}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			pt := &res.Points[i]
			snap, err := base.With(func(c *config.Config) {
				for name, v := range values {
					setters[name](c, v)
				}
			})
			if err != nil {
				pt.Err = err
				return nil
			}
			pt.Digest = snap.Digest()
			graph, err := pipeline.Run(gctx, snap,
				pipeline.WithStopAfter(stop),
				pipeline.WithWorkers(o.workers),
				pipeline.WithMetrics(o.metrics))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				pt.Err = err
				log.Warn("Scan point failed.", "index", i, "config", pt.Digest, "error", err)
				return nil
			}
			pt.Value = obs.read(graph)
			log.Debug("Scan point done.", "index", i, "config", pt.Digest, "value", pt.Value)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fault.Wrap(fault.KindResource, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(fault.KindResource, err)
	}

	var errs error
	for _, p := range res.Points {
		if p.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("point %d %v: %w", p.Index, p.Params, p.Err))
		}
	}
	return res, errs
}
