// Package pool runs batches of independent tasks on a fixed number of
// workers. Every worker owns one workspace for the whole batch; results are
// stored by task index so the outcome does not depend on scheduling.
package pool

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/cosmic/internal/ctxlog"
	"github.com/san-kum/cosmic/internal/fault"
	"github.com/san-kum/cosmic/internal/telemetry"
)

type Pool struct {
	workers int
	name    string
	metrics *telemetry.Metrics
}

type Option func(*Pool)

// WithMetrics records task durations and failures on m instead of
// telemetry.Default().
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// New creates a pool of n workers; n <= 0 uses one worker per CPU.
func New(n int, opts ...Option) *Pool {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	p := &Pool{workers: n, name: "default", metrics: telemetry.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) Workers() int { return p.workers }

func (p *Pool) Metrics() *telemetry.Metrics { return p.metrics }

// Named returns a pool sharing p's settings whose batches are labelled name
// in logs and metrics.
func (p *Pool) Named(name string) *Pool {
	c := *p
	c.name = name
	return &c
}

// Task computes result index of a batch. ws belongs to the calling worker
// for the duration of the call and must not escape it.
type Task[W, R any] func(ctx context.Context, index int, ws W) (R, error)

// Run executes task for every index in [0, n) and returns once all of them
// finished. A failing or panicking task does not stop its siblings; after
// ctx is cancelled the remaining tasks are recorded as failed without
// running.
func Run[W, R any](ctx context.Context, p *Pool, n int, newWorkspace func() W, task Task[W, R]) *Batch[R] {
	start := time.Now()
	n = max(n, 0)
	b := &Batch[R]{
		results:   make([]R, n),
		errs:      make([]error, n),
		durations: make([]time.Duration, n),
	}
	workers := min(p.workers, n)

	indices := make(chan int, n)
	for i := 0; i < n; i++ {
		indices <- i
	}
	close(indices)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			ws, werr := workspace(newWorkspace)
			for i := range indices {
				if werr != nil {
					b.errs[i] = &fault.TaskError{Index: i, Err: werr}
					continue
				}
				if err := ctx.Err(); err != nil {
					b.errs[i] = &fault.TaskError{Index: i, Err: err}
					continue
				}
				t0 := time.Now()
				res, err := call(ctx, i, ws, task)
				b.durations[i] = time.Since(t0)
				p.metrics.ObserveTask(p.name, b.durations[i], err)
				if err != nil {
					b.errs[i] = &fault.TaskError{Index: i, Err: err}
					continue
				}
				b.results[i] = res
			}
			return nil
		})
	}
	_ = g.Wait()

	b.stats = BatchStats{
		Tasks:   n,
		Workers: workers,
		Failed:  len(b.Failed()),
		Elapsed: time.Since(start),
	}
	for _, d := range b.durations {
		b.stats.Busy += d
	}
	ctxlog.FromContext(ctx).Debug("Batch finished.",
		"batch", p.name, "tasks", n, "workers", workers, "failed", b.stats.Failed, "elapsed", b.stats.Elapsed)
	return b
}

func call[W, R any](ctx context.Context, i int, ws W, task Task[W, R]) (res R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.FromPanic(r)
		}
	}()
	return task(ctx, i, ws)
}

func workspace[W any](newWorkspace func() W) (ws W, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.FromPanic(r)
		}
	}()
	return newWorkspace(), nil
}

type BatchStats struct {
	Tasks   int
	Workers int
	Failed  int
	// Elapsed is wall-clock time; Busy sums the time spent inside tasks.
	Elapsed time.Duration
	Busy    time.Duration
}

// Batch holds exactly one outcome per task index.
type Batch[R any] struct {
	results   []R
	errs      []error
	durations []time.Duration
	stats     BatchStats
}

func (b *Batch[R]) Len() int { return len(b.results) }

// Result returns the value of task i; it is the zero value when Err(i) != nil.
func (b *Batch[R]) Result(i int) R { return b.results[i] }

// Err returns the *fault.TaskError of task i, or nil.
func (b *Batch[R]) Err(i int) error { return b.errs[i] }

// Failed lists the indices of failed tasks in increasing order.
func (b *Batch[R]) Failed() []int {
	var out []int
	for i, err := range b.errs {
		if err != nil {
			out = append(out, i)
		}
	}
	return out
}

// Values returns all results when every task succeeded.
func (b *Batch[R]) Values() ([]R, error) {
	if err := b.Combined(); err != nil {
		return nil, err
	}
	out := make([]R, len(b.results))
	copy(out, b.results)
	return out, nil
}

// Combined joins the task errors in index order, or returns nil.
func (b *Batch[R]) Combined() error {
	var err error
	for _, e := range b.errs {
		err = multierr.Append(err, e)
	}
	return err
}

func (b *Batch[R]) Stats() BatchStats { return b.stats }
