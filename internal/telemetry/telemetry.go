// Package telemetry exposes evolver, pool and pipeline diagnostics as
// prometheus metrics on a registry owned by the process, not the global one.
package telemetry

import (
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/san-kum/cosmic/internal/dynamo"
)

type Metrics struct {
	registry *prometheus.Registry

	evolverSteps    *prometheus.CounterVec
	evolverRejected *prometheus.CounterVec
	jacobianEvals   *prometheus.CounterVec
	factorizations  *prometheus.CounterVec
	newtonFailures  *prometheus.CounterVec

	taskDuration *prometheus.HistogramVec
	taskFailures *prometheus.CounterVec

	stageDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		evolverSteps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cosmo_evolver_steps_total",
			Help: "Accepted evolver steps",
		}, []string{"evolver"}),
		evolverRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cosmo_evolver_rejected_steps_total",
			Help: "Evolver steps rejected by the error test",
		}, []string{"evolver"}),
		jacobianEvals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cosmo_evolver_jacobian_evaluations_total",
			Help: "Jacobian evaluations",
		}, []string{"evolver"}),
		factorizations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cosmo_evolver_factorizations_total",
			Help: "Sparse LU factorizations of the iteration matrix",
		}, []string{"evolver"}),
		newtonFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cosmo_evolver_newton_failures_total",
			Help: "Corrector iterations that did not converge",
		}, []string{"evolver"}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cosmo_pool_task_duration_seconds",
			Help:    "Worker pool task duration",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
		}, []string{"batch"}),
		taskFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cosmo_pool_task_failures_total",
			Help: "Worker pool tasks that returned an error or panicked",
		}, []string{"batch"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cosmo_pipeline_stage_duration_seconds",
			Help:    "Module construction time by stage and outcome",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 100},
		}, []string{"stage", "result"}),
	}
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default is the process-wide instance used when no Metrics is injected.
func Default() *Metrics {
	defaultOnce.Do(func() { defaultMetrics = New() })
	return defaultMetrics
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveEvolution(evolver string, s dynamo.Stats) {
	m.evolverSteps.WithLabelValues(evolver).Add(float64(s.Steps))
	m.evolverRejected.WithLabelValues(evolver).Add(float64(s.Rejected))
	m.jacobianEvals.WithLabelValues(evolver).Add(float64(s.JacobianEvals))
	m.factorizations.WithLabelValues(evolver).Add(float64(s.Factorizations))
	m.newtonFailures.WithLabelValues(evolver).Add(float64(s.NewtonFailures))
}

func (m *Metrics) ObserveTask(batch string, d time.Duration, err error) {
	m.taskDuration.WithLabelValues(batch).Observe(d.Seconds())
	if err != nil {
		m.taskFailures.WithLabelValues(batch).Inc()
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stageDuration.WithLabelValues(stage, result).Observe(d.Seconds())
}

// Dump writes every metric in the prometheus text exposition format.
func (m *Metrics) Dump(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
