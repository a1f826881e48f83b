package pipeline_test

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/cosmic/internal/config"
	"github.com/san-kum/cosmic/internal/fault"
	"github.com/san-kum/cosmic/internal/pipeline"
	"github.com/san-kum/cosmic/internal/telemetry"
)

func coarseConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.KMin = 1e-4
	cfg.KMax = 0.05
	cfg.KSize = 8
	cfg.TauSize = 100
	cfg.PhotonLMax = 6
	cfg.RTol = 1e-4
	cfg.ATol = 1e-8
	cfg.LMax = 120
	cfg.LLinStep = 20
	cfg.QSize = 60
	return cfg
}

func freeze(cfg *config.Config) *config.Snapshot {
	snap, err := cfg.Freeze()
	Expect(err).NotTo(HaveOccurred())
	return snap
}

func run(snap *config.Snapshot, opts ...pipeline.Option) (*pipeline.Graph, error) {
	opts = append([]pipeline.Option{pipeline.WithMetrics(telemetry.New())}, opts...)
	return pipeline.Run(context.Background(), snap, opts...)
}

var _ = Describe("Stage", func() {
	It("round-trips names", func() {
		for _, s := range pipeline.Stages() {
			got, err := pipeline.ParseStage(s.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(s))
		}
		_, err := pipeline.ParseStage("inflation")
		Expect(err).To(HaveOccurred())
	})

	It("orders stages by dependency", func() {
		Expect(pipeline.Stages()).To(HaveLen(8))
		Expect(pipeline.Stages()[0]).To(Equal(pipeline.Background))
		Expect(pipeline.Stages()[7]).To(Equal(pipeline.Lensing))
	})
})

var _ = Describe("Run", func() {
	var snap *config.Snapshot

	BeforeEach(func() {
		snap = freeze(coarseConfig())
	})

	Context("with a complete build", func() {
		var (
			graph *pipeline.Graph
			rec   *pipeline.Recorder
		)

		BeforeEach(func() {
			rec = &pipeline.Recorder{}
			var err error
			graph, err = run(snap, pipeline.WithObserver(rec), pipeline.WithWorkers(2))
			Expect(err).NotTo(HaveOccurred())
		})

		It("builds every module", func() {
			Expect(graph.Complete()).To(BeTrue())
			Expect(graph.LastStage()).To(Equal(pipeline.Lensing))
			Expect(graph.Background()).NotTo(BeNil())
			Expect(graph.Thermodynamics()).NotTo(BeNil())
			Expect(graph.Perturbations()).NotTo(BeNil())
			Expect(graph.Primordial()).NotTo(BeNil())
			Expect(graph.Nonlinear()).NotTo(BeNil())
			Expect(graph.Transfer()).NotTo(BeNil())
			Expect(graph.Spectra()).NotTo(BeNil())
			Expect(graph.Lensing()).NotTo(BeNil())
			Expect(graph.Config()).To(BeIdenticalTo(snap))
		})

		It("notifies observers in build order", func() {
			Expect(rec.Started()).To(Equal(pipeline.Stages()))
			for _, e := range rec.Events() {
				if e.Finished {
					Expect(e.Err).NotTo(HaveOccurred())
				}
			}
		})

		It("produces a positive temperature spectrum", func() {
			tt := graph.Spectra().TT()
			Expect(tt).NotTo(BeEmpty())
			for _, p := range tt {
				Expect(p.Y).To(BeNumerically(">", 0))
			}
		})

		It("is deterministic across worker counts", func() {
			again, err := run(snap, pipeline.WithWorkers(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(cmp.Diff(graph.Spectra().TT(), again.Spectra().TT())).To(BeEmpty())
		})
	})

	It("stops after the requested stage", func() {
		graph, err := run(snap, pipeline.WithStopAfter(pipeline.Thermodynamics))
		Expect(err).NotTo(HaveOccurred())
		Expect(graph.Complete()).To(BeFalse())
		Expect(graph.LastStage()).To(Equal(pipeline.Thermodynamics))
		Expect(graph.Thermodynamics()).NotTo(BeNil())
		Expect(graph.Perturbations()).To(BeNil())
	})

	It("overrides the evolver through a derived snapshot", func() {
		graph, err := run(snap, pipeline.WithStopAfter(pipeline.Thermodynamics), pipeline.WithEvolver("rkck"))
		Expect(err).NotTo(HaveOccurred())
		Expect(graph.Config().Digest()).NotTo(Equal(snap.Digest()))
		Expect(graph.Config().Config().Evolver).To(Equal("rkck"))
		Expect(graph.Requested()).To(BeIdenticalTo(snap))
		Expect(snap.Config().Evolver).To(Equal("ndf"))
	})

	It("reports an explicit evolver on the stiff photon system as a numerical failure", func() {
		cfg := coarseConfig()
		cfg.KSize = 2
		_, err := run(freeze(cfg), pipeline.WithStopAfter(pipeline.Perturbations), pipeline.WithEvolver("rkck"))
		var me *fault.ModuleError
		Expect(errors.As(err, &me)).To(BeTrue())
		Expect(me.Module).To(Equal("perturbations"))
		Expect(me.Kind).To(Equal(fault.KindNumerical))
	})

	Context("when a stage fails", func() {
		boom := errors.New("boom")

		It("annotates the error and never starts later stages", func() {
			rec := &pipeline.Recorder{}
			_, err := run(snap,
				pipeline.WithObserver(rec),
				pipeline.WithStageHook(pipeline.Primordial, func(context.Context) error {
					return fault.Numerical("primordial failed: %w", boom)
				}))
			Expect(err).To(HaveOccurred())

			var me *fault.ModuleError
			Expect(errors.As(err, &me)).To(BeTrue())
			Expect(me.Module).To(Equal("primordial"))
			Expect(me.Kind).To(Equal(fault.KindNumerical))
			Expect(me.Digest).To(Equal(snap.Digest()))
			Expect(err).To(MatchError(boom))
			Expect(rec.Started()).To(Equal([]pipeline.Stage{
				pipeline.Background, pipeline.Thermodynamics, pipeline.Perturbations, pipeline.Primordial,
			}))
		})

		It("turns a panic into an invariant violation", func() {
			_, err := run(snap,
				pipeline.WithStopAfter(pipeline.Thermodynamics),
				pipeline.WithStageHook(pipeline.Thermodynamics, func(context.Context) error {
					panic("index out of range")
				}))
			Expect(err).To(MatchError(fault.ErrInvariant))
			var me *fault.ModuleError
			Expect(errors.As(err, &me)).To(BeTrue())
			Expect(me.Module).To(Equal("thermodynamics"))
			Expect(me.Kind).To(Equal(fault.KindInvariant))
		})

		It("classifies unknown errors as invariant violations", func() {
			_, err := run(snap,
				pipeline.WithStopAfter(pipeline.Background),
				pipeline.WithStageHook(pipeline.Background, func(context.Context) error { return boom }))
			Expect(fault.KindOf(err)).To(Equal(fault.KindInvariant))
		})

		It("reports configuration errors from the first module", func() {
			cfg := coarseConfig()
			cfg.OmegaK = -2
			snap, err := cfg.Freeze()
			if err != nil {
				Expect(err).To(MatchError(fault.ErrConfiguration))
				return
			}
			_, err = run(snap)
			var me *fault.ModuleError
			Expect(errors.As(err, &me)).To(BeTrue())
			Expect(me.Module).To(Equal("background"))
			Expect(me.Kind).To(Equal(fault.KindConfiguration))
		})

		It("stops on cancellation", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := pipeline.Run(ctx, snap, pipeline.WithMetrics(telemetry.New()))
			Expect(err).To(MatchError(context.Canceled))
			Expect(fault.KindOf(err)).To(Equal(fault.KindResource))
		})
	})

	It("normalises the amplitude to sigma8", func() {
		cfg := coarseConfig()
		cfg.Sigma8 = 0.7
		snap := freeze(cfg)
		graph, err := run(snap, pipeline.WithStopAfter(pipeline.Nonlinear))
		Expect(err).NotTo(HaveOccurred())
		Expect(graph.Nonlinear().Sigma8()).To(BeNumerically("~", 0.7, 1e-6))
		Expect(graph.Config().Digest()).NotTo(Equal(snap.Digest()))
		Expect(graph.Config().Config().As).NotTo(Equal(snap.Config().As))
		Expect(graph.Primordial().As()).To(Equal(graph.Config().Config().As))
	})

	It("sweeps four wavenumbers on four workers in stage order", func() {
		cfg := coarseConfig()
		cfg.KSize = 4
		snap := freeze(cfg)
		build := func(workers int) (*pipeline.Graph, *pipeline.Recorder, time.Duration) {
			rec := &pipeline.Recorder{}
			start := time.Now()
			graph, err := run(snap,
				pipeline.WithStopAfter(pipeline.Perturbations),
				pipeline.WithWorkers(workers),
				pipeline.WithObserver(rec))
			Expect(err).NotTo(HaveOccurred())
			return graph, rec, time.Since(start)
		}

		graph, rec, _ := build(4)
		Expect(rec.Started()).To(Equal([]pipeline.Stage{
			pipeline.Background, pipeline.Thermodynamics, pipeline.Perturbations,
		}))
		pt := graph.Perturbations()
		k := pt.K()
		Expect(k).To(HaveLen(4))
		for i := 1; i < len(k); i++ {
			Expect(k[i]).To(BeNumerically(">", k[i-1]))
		}

		serialGraph, _, serial := build(1)
		for i := range k {
			Expect(cmp.Diff(serialGraph.Perturbations().Source0(i), pt.Source0(i))).To(BeEmpty())
		}

		// Speed-up is only observable with the cores to run on.
		if runtime.NumCPU() >= 4 {
			_, _, parallel := build(4)
			Expect(parallel).To(BeNumerically("<", serial))
		}
	})
})
