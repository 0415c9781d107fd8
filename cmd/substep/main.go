package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"substep/internal/config"
	"substep/internal/diffusion"
	"substep/internal/driver"
	"substep/internal/export"
	"substep/internal/models"
	"substep/internal/odesolve"
	"substep/internal/samplers"
	"substep/internal/storage"
	"substep/internal/viz"
)

var (
	dbPath     string
	configFile string
	sampler    string
	steps      int
	sigmaMin   float64
	sigmaMax   float64
	rho        float64
	seed       int64
	dim        int
	batchSize  int
	eta        float64
	sNoise     float64
	cfgppScale float64
	svgPath    string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "substep",
		Short: "diffusion sampling integrator lab",
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", ".substep.db", "sqlite database path")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run [sampler]",
		Short: "run one sampling trajectory",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSampling,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().IntVar(&steps, "steps", config.DefaultSteps, "schedule steps")
	runCmd.Flags().Float64Var(&sigmaMin, "sigma-min", config.DefaultSigmaMin, "lowest noise level")
	runCmd.Flags().Float64Var(&sigmaMax, "sigma-max", config.DefaultSigmaMax, "highest noise level")
	runCmd.Flags().Float64Var(&rho, "rho", config.DefaultRho, "karras rho")
	runCmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	runCmd.Flags().IntVar(&dim, "dim", config.DefaultDim, "sample dimension")
	runCmd.Flags().IntVar(&batchSize, "batch", 1, "batch size")
	runCmd.Flags().Float64Var(&eta, "eta", 1.0, "ancestral stochasticity")
	runCmd.Flags().Float64Var(&sNoise, "s-noise", 1.0, "noise scale factor")
	runCmd.Flags().Float64Var(&cfgppScale, "cfgpp", 0.0, "guidance blend scale")

	liveCmd := &cobra.Command{
		Use:   "live [sampler]",
		Short: "run with a live terminal view",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	liveCmd.Flags().IntVar(&steps, "steps", config.DefaultSteps, "schedule steps")
	liveCmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	liveCmd.Flags().IntVar(&dim, "dim", config.DefaultDim, "sample dimension")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list samplers and solver backends",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("samplers:")
			for _, name := range samplers.Names() {
				fmt.Printf("  %s\n", name)
			}
			fmt.Println("ode backends:")
			for _, name := range odesolve.Names() {
				fmt.Printf("  %s\n", name)
			}
		},
	}

	plotCmd := &cobra.Command{
		Use:   "plot",
		Short: "plot the noise schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := buildConfig("")
			sigmas, err := cfg.Sigmas()
			if err != nil {
				return err
			}
			fmt.Println(viz.PlotSchedule(sigmas, 70, 12))
			return nil
		},
	}
	plotCmd.Flags().IntVar(&steps, "steps", config.DefaultSteps, "schedule steps")
	plotCmd.Flags().Float64Var(&sigmaMin, "sigma-min", config.DefaultSigmaMin, "lowest noise level")
	plotCmd.Flags().Float64Var(&sigmaMax, "sigma-max", config.DefaultSigmaMax, "highest noise level")
	plotCmd.Flags().Float64Var(&rho, "rho", config.DefaultRho, "karras rho")

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	traceCmd := &cobra.Command{
		Use:   "trace [run-id]",
		Short: "plot a stored run's trace",
		Args:  cobra.ExactArgs(1),
		RunE:  plotTrace,
	}
	traceCmd.Flags().StringVar(&svgPath, "svg", "", "also export the trace as an SVG file")

	rootCmd.AddCommand(runCmd, liveCmd, listCmd, plotCmd, runsCmd, traceCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func buildConfig(samplerName string) *config.Config {
	cfg := config.DefaultConfig()
	if samplerName != "" {
		cfg.Sampler = samplerName
	}
	cfg.Schedule.Steps = steps
	cfg.Schedule.SigmaMin = sigmaMin
	cfg.Schedule.SigmaMax = sigmaMax
	cfg.Schedule.Rho = rho
	cfg.Seed = seed
	cfg.Dim = dim
	cfg.BatchSize = batchSize
	cfg.Options.Eta = eta
	cfg.Options.SNoise = sNoise
	cfg.Options.CFGPPScale = cfgppScale
	return cfg
}

func buildModel(cfg *config.Config) (diffusion.Model, error) {
	var m diffusion.Model
	switch cfg.Model.Kind {
	case "gaussian", "":
		m = models.NewGaussianModel(cfg.Model.Variance)
	case "point":
		target := diffusion.Tensor(cfg.Model.Target)
		if len(target) == 0 {
			target = diffusion.Zeros(cfg.Dim * max(cfg.BatchSize, 1))
		}
		m = models.NewPointModel(target)
	default:
		return nil, fmt.Errorf("unknown model kind %q", cfg.Model.Kind)
	}
	if cfg.Model.GuidanceScale != 0 && cfg.Model.GuidanceScale != 1 {
		m = models.NewGuidedModel(m, models.NewGaussianModel(cfg.Model.Variance*2), cfg.Model.GuidanceScale)
	}
	return m, nil
}

func setup(samplerName string) (*config.Config, *driver.Driver, diffusion.Tensor, error) {
	cfg := buildConfig(samplerName)
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, nil, nil, err
		}
		cfg = loaded
	}
	sigmas, err := cfg.Sigmas()
	if err != nil {
		return nil, nil, nil, err
	}
	model, err := buildModel(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	smp, err := samplers.New(cfg.Sampler, cfg.Options)
	if err != nil {
		return nil, nil, nil, err
	}

	noise := diffusion.NewGaussianNoise(cfg.Seed)
	bs := cfg.BatchSize
	if bs < 1 {
		bs = 1
	}
	x0 := noise.Sample(sigmas[0], 0, cfg.Dim*bs).Scale(sigmas[0])

	d := driver.New(model, noise, smp, sigmas, driver.Config{
		HistoryCap: cfg.HistoryCap,
		BatchSize:  bs,
	}, newLogger())
	return cfg, d, x0, nil
}

func runSampling(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	cfg, d, x0, err := setup(name)
	if err != nil {
		return err
	}

	ctx := context.Background()
	res, err := d.Run(ctx, x0)
	if err != nil {
		return err
	}
	fmt.Println(viz.SummarizeTrace(res.Steps))
	fmt.Println(viz.PlotTrace(res.Steps, 70, 10))

	store := storage.New(dbPath)
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()
	id, err := store.SaveRun(ctx, cfg.Sampler, cfg.Seed, res)
	if err != nil {
		return err
	}
	fmt.Printf("saved run %s\n", id)
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	cfg, d, x0, err := setup(name)
	if err != nil {
		return err
	}
	res, err := viz.RunLive(context.Background(), d, cfg.Sampler, x0)
	if err != nil {
		return err
	}
	if res != nil {
		fmt.Println(viz.SummarizeTrace(res.Steps))
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store := storage.New(dbPath)
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSAMPLER\tSTEPS\tFINAL NORM")
	for _, m := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.4f\n",
			m.ID, m.CreatedAt.Format(time.RFC3339), m.Sampler, m.Steps, m.FinalNorm)
	}
	return w.Flush()
}

func plotTrace(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store := storage.New(dbPath)
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()

	steps, err := store.LoadTrace(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(viz.SummarizeTrace(steps))
	fmt.Println(viz.PlotTrace(steps, 70, 10))
	if svgPath != "" {
		if err := export.WriteTraceSVG(svgPath, steps, 800, 400); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", svgPath)
	}
	return nil
}
