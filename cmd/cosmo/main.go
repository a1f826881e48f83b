package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/cosmic/internal/config"
	"github.com/san-kum/cosmic/internal/ctxlog"
	"github.com/san-kum/cosmic/internal/pipeline"
	"github.com/san-kum/cosmic/internal/scan"
	"github.com/san-kum/cosmic/internal/storage"
	"github.com/san-kum/cosmic/internal/telemetry"
	"github.com/san-kum/cosmic/internal/tui"
)

var (
	dataDir    string
	logLevel   string
	logFormat  string
	configFile string
	preset     string
	workers    int
	evolver    string
	kSize      int
	lMax       int
	sigma8     float64
	progress   bool
	metrics    bool
	noSave     bool
	jsonOut    string
	stopAfter  string

	scanParams []string
	observable string
	target     float64
	scanLimit  int

	plotHeight int
	plotWidth  int
	benchRuns  int
)

// main registers the commands and runs the root command. It exits with
// status 1 when the command fails.
func main() {
	rootCmd := &cobra.Command{
		Use:           "cosmo",
		Short:         "linear cosmological Boltzmann pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(os.Stderr, logLevel, logFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".cosmo", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "build every module and save the spectra",
		Args:  cobra.NoArgs,
		RunE:  runPipeline,
	}
	addConfigFlags(runCmd)
	runCmd.Flags().BoolVar(&progress, "progress", false, "show stage progress")
	runCmd.Flags().BoolVar(&metrics, "metrics", false, "dump prometheus metrics after the run")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not write the run to the data directory")
	runCmd.Flags().StringVar(&jsonOut, "json", "", "also export the run as JSON (- for stdout)")
	runCmd.Flags().StringVar(&stopAfter, "stop-after", "", "build stages up to this one only")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show run metadata and derived quantities",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showRun,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id] [tt|lensed|phiphi|pk|pk_lin]",
		Short: "plot a stored spectrum",
		Args:  cobra.MaximumNArgs(2),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&plotHeight, "height", 15, "plot height")
	plotCmd.Flags().IntVar(&plotWidth, "width", 80, "plot width")

	exportCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export a stored run as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE:  exportRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list configuration presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range config.ListPresets() {
				fmt.Printf("  %s\n", name)
			}
			return nil
		},
	}

	configCmd := &cobra.Command{
		Use:   "config [file.yaml|file.hcl]",
		Short: "write the resolved configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE:  writeConfig,
	}
	addConfigFlags(configCmd)

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "evaluate an observable over a parameter grid",
		Args:  cobra.NoArgs,
		RunE:  runScan,
	}
	addConfigFlags(scanCmd)
	scanCmd.Flags().StringArrayVar(&scanParams, "param", nil, "grid axis as name=v1,v2,... (repeatable)")
	scanCmd.Flags().StringVar(&observable, "observable", string(scan.Sigma8), "sigma8, z_rec, tau_reio or age")
	scanCmd.Flags().Float64Var(&target, "target", math.NaN(), "pick the point closest to this value")
	scanCmd.Flags().IntVar(&scanLimit, "limit", 2, "graphs built concurrently")

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "time the perturbation stage with one worker and with many",
		Args:  cobra.NoArgs,
		RunE:  benchPipeline,
	}
	addConfigFlags(benchCmd)
	benchCmd.Flags().IntVar(&benchRuns, "runs", 1, "repetitions per worker count")

	rootCmd.AddCommand(runCmd, listCmd, showCmd, plotCmd, exportCmd, presetsCmd, configCmd, scanCmd, benchCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file (yaml or hcl)")
	cmd.Flags().StringVar(&preset, "preset", "", "start from a preset")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (0 = one per CPU)")
	cmd.Flags().StringVar(&evolver, "evolver", "", "evolver (ndf, or rkck for non-stiff configurations only)")
	cmd.Flags().IntVar(&kSize, "k-size", 0, "number of wavenumbers")
	cmd.Flags().IntVar(&lMax, "l-max", 0, "largest multipole")
	cmd.Flags().Float64Var(&sigma8, "sigma8", 0, "normalise A_s to this sigma8")
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("bad --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("bad --log-format %q (want text or json)", format)
}

// resolveConfig layers preset, config file and flags, in that order, and
// freezes the result.
func resolveConfig(cmd *cobra.Command) (*config.Snapshot, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("evolver") {
		cfg.Evolver = evolver
	}
	if flags.Changed("k-size") {
		cfg.KSize = kSize
	}
	if flags.Changed("l-max") {
		cfg.LMax = lMax
	}
	if flags.Changed("sigma8") {
		cfg.Sigma8 = sigma8
	}
	return cfg.Freeze()
}

func runPipeline(cmd *cobra.Command, args []string) error {
	snap, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	opts := []pipeline.Option{pipeline.WithWorkers(snap.Config().Workers)}
	if stopAfter != "" {
		stage, err := pipeline.ParseStage(stopAfter)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithStopAfter(stage))
	}

	fmt.Printf("config %s\n", snap.Digest())
	start := time.Now()
	var graph *pipeline.Graph
	if progress {
		graph, err = tui.Run(cmd.Context(), func(ctx context.Context, obs pipeline.Observer) (*pipeline.Graph, error) {
			return pipeline.Run(ctx, snap, append(opts, pipeline.WithObserver(obs))...)
		})
	} else {
		graph, err = pipeline.Run(cmd.Context(), snap, opts...)
	}
	if err != nil {
		return err
	}
	fmt.Printf("completed in %v\n", time.Since(start).Round(time.Millisecond))

	if metrics {
		defer telemetry.Default().Dump(os.Stdout)
	}
	if !graph.Complete() {
		fmt.Printf("stopped after %s\n", graph.LastStage())
		return nil
	}

	out, err := storage.FromGraph(graph)
	if err != nil {
		return err
	}
	printDerived(os.Stdout, out.Meta.Derived)
	if jsonOut != "" {
		if err := storage.ExportJSONFile(jsonOut, out); err != nil {
			return err
		}
	}
	if noSave {
		return nil
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(out)
	if err != nil {
		return err
	}
	fmt.Printf("run id: %s\n", runID)
	return nil
}

func printDerived(w io.Writer, derived map[string]float64) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, name := range []string{"age", "tau0", "z_rec", "rs_rec", "tau_reio", "A_s", "sigma8", "k_nl", "deflection_rms"} {
		if v, ok := derived[name]; ok {
			fmt.Fprintf(tw, "  %s\t%.6g\n", name, v)
		}
	}
	tw.Flush()
}

// runID returns args[0], or the latest run when no ID is given.
func runID(st *storage.Store, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" && args[0] != "latest" {
		return args[0], nil
	}
	return st.Latest()
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tEVOLVER\tH\tOMEGA_CDM\tSIGMA8\tZ_REC")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\t%.4f\t%.4f\t%.1f\n",
			run.ID,
			run.Timestamp.Local().Format("2006-01-02 15:04:05"),
			run.Evolver,
			run.Config.H,
			run.Config.OmegaCDM,
			run.Derived["sigma8"],
			run.Derived["z_rec"],
		)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	id, err := runID(st, args)
	if err != nil {
		return err
	}
	meta, err := st.Load(id)
	if err != nil {
		return err
	}
	c := meta.Config
	fmt.Printf("run:      %s\n", meta.ID)
	fmt.Printf("time:     %s\n", meta.Timestamp.Local().Format(time.RFC3339))
	fmt.Printf("config:   %s\n", meta.Digest)
	fmt.Printf("evolver:  %s\n", meta.Evolver)
	fmt.Printf("cosmology h=%.4f omega_b=%.5f omega_cdm=%.4f n_s=%.4f A_s=%.4g\n", c.H, c.OmegaB, c.OmegaCDM, c.Ns, c.As)
	fmt.Printf("grids     k=[%g, %g]x%d l_max=%d lensing=%v\n\n", c.KMin, c.KMax, c.KSize, c.LMax, meta.Lensing)
	printDerived(os.Stdout, meta.Derived)
	return nil
}

var plotCaptions = map[string]string{
	storage.SeriesTT:     "l(l+1)C_l/2π [μK²] vs l",
	storage.SeriesLensed: "lensed l(l+1)C_l/2π [μK²] vs l",
	storage.SeriesPhiPhi: "[l(l+1)]²C_l^φφ/2π vs l",
	storage.SeriesPk:     "log10 P(k) [Mpc³] vs log k",
	storage.SeriesPkLin:  "log10 P_lin(k) [Mpc³] vs log k",
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	id, err := runID(st, args)
	if err != nil {
		return err
	}
	series := storage.SeriesTT
	if len(args) > 1 {
		series = args[1]
	}
	points, err := st.LoadSeries(id, series)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return fmt.Errorf("no data to plot")
	}

	data := make([]float64, len(points))
	logScale := series == storage.SeriesPk || series == storage.SeriesPkLin
	for i, p := range points {
		data[i] = p.Y
		if logScale {
			data[i] = math.Log10(p.Y)
		}
	}

	fmt.Printf("run: %s\n", id)
	fmt.Printf("samples: %d, x from %g to %g\n\n", len(points), points[0].X, points[len(points)-1].X)
	fmt.Println(asciigraph.Plot(data,
		asciigraph.Height(plotHeight),
		asciigraph.Width(plotWidth),
		asciigraph.Caption(plotCaptions[series]),
	))
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	id, err := runID(st, args)
	if err != nil {
		return err
	}
	out, err := st.LoadOutput(id)
	if err != nil {
		return err
	}
	return storage.ExportJSON(os.Stdout, out)
}

func writeConfig(cmd *cobra.Command, args []string) error {
	snap, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	cfg := snap.Config()
	if err := config.Save(args[0], &cfg); err != nil {
		return err
	}
	fmt.Printf("wrote %s (config %s)\n", args[0], snap.Digest())
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	snap, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if len(scanParams) == 0 {
		return fmt.Errorf("no --param given (scannable: %v)", scan.Parameters())
	}
	params := make([]scan.Parameter, 0, len(scanParams))
	for _, s := range scanParams {
		p, err := scan.ParseParameter(s)
		if err != nil {
			return err
		}
		params = append(params, p)
	}
	grid, err := scan.NewGrid(params...)
	if err != nil {
		return err
	}

	fmt.Printf("scanning %d points of %s\n\n", grid.Len(), observable)
	start := time.Now()
	res, err := scan.Run(cmd.Context(), snap, grid, scan.Observable(observable),
		scan.WithLimit(scanLimit), scan.WithWorkers(snap.Config().Workers))
	if res == nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(append(res.Names, observable), "\t")))
	for _, p := range res.Points {
		for _, name := range res.Names {
			fmt.Fprintf(w, "%g\t", p.Params[name])
		}
		if p.Err != nil {
			fmt.Fprintln(w, "failed")
		} else {
			fmt.Fprintf(w, "%.6g\n", p.Value)
		}
	}
	w.Flush()
	fmt.Printf("\n%d points in %v\n", len(res.Points), time.Since(start).Round(time.Millisecond))

	if !math.IsNaN(target) {
		if best, ok := res.Best(target); ok {
			fmt.Printf("closest to %g: %v -> %.6g\n", target, best.Params, best.Value)
		}
	}
	return err
}

func benchPipeline(cmd *cobra.Command, args []string) error {
	snap, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	counts := []int{1}
	if n := runtime.NumCPU(); n > 1 {
		counts = append(counts, n)
	}

	fmt.Printf("benchmarking perturbations, %d wavenumbers, evolver %s\n\n", snap.Config().KSize, snap.Config().Evolver)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WORKERS\tTIME\tSTEPS\tREJECTED\tMODES/SEC\tSPEEDUP")

	var serial time.Duration
	for _, n := range counts {
		var best time.Duration
		var steps, rejected int
		for r := 0; r < max(benchRuns, 1); r++ {
			start := time.Now()
			graph, err := pipeline.Run(cmd.Context(), snap,
				pipeline.WithWorkers(n),
				pipeline.WithStopAfter(pipeline.Perturbations),
				pipeline.WithMetrics(telemetry.New()))
			if err != nil {
				return err
			}
			elapsed := time.Since(start)
			if best == 0 || elapsed < best {
				best = elapsed
			}
			total := graph.Perturbations().TotalStats()
			steps, rejected = total.Steps, total.Rejected
		}
		if n == 1 {
			serial = best
		}
		fmt.Fprintf(w, "%d\t%v\t%d\t%d\t%.1f\t%.2fx\n",
			n, best.Round(time.Millisecond), steps, rejected,
			float64(snap.Config().KSize)/best.Seconds(), serial.Seconds()/best.Seconds())
	}
	return w.Flush()
}
