package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"dnfit/internal/config"
	"dnfit/internal/model"
	"dnfit/internal/plotting"
	"dnfit/internal/storage"
	dnapi "dnfit/pkg/dnfit"
)

const exportsDir = "exports"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "fit":
		return runFit(ctx, args[1:])
	case "simulate":
		return runSimulate(ctx, args[1:])
	case "cost":
		return runCost(ctx, args[1:])
	case "plot":
		return runPlot(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "delete":
		return runDelete(ctx, args[1:])
	case "compare":
		return runCompare(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "params":
		return runParams(ctx, args[1:])
	case "config":
		return runConfig(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", config.DefaultDBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := dnapi.New(dnapi.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runFit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	defaults := config.Default()
	configPath := fs.String("config", "", "optional fit config path (.toml or .json)")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	variant := fs.String("variant", defaults.Variant, "model variant: single|difference")
	normalization := fs.String("normalization", defaults.Normalization, "divisive normalization: delayed|static")
	sampleRate := fs.Float64("sample-rate", defaults.SampleRate, "sample rate in Hz")
	stimulusPath := fs.String("stimulus", "", "stimulus matrix file (samples x timepoints)")
	dataPath := fs.String("data", "", "observed response matrix file (samples x timepoints)")
	delimiter := fs.String("delimiter", defaults.Delimiter, "data file delimiter: space|tab|comma|semicolon")
	solver := fs.String("solver", defaults.Solver, "solver: nelder-mead|hillclimb")
	maxEvals := fs.Int("max-evals", defaults.MaxEvaluations, "objective evaluation budget")
	tolerance := fs.Float64("tolerance", defaults.Tolerance, "absolute cost change treated as converged")
	seed := fs.Int64("seed", defaults.Seed, "rng seed for stochastic solvers")
	candidateSelection := fs.String("candidate-selection", "", "hillclimb bases: best_so_far|original|dynamic|dynamic_random")
	steps := fs.Int("steps", 0, "hillclimb perturbation steps per attempt (0 keeps the default)")
	stepSize := fs.Float64("step-size", 0, "hillclimb spread as a fraction of bound width (0 keeps the default)")
	workers := fs.Int("workers", 0, "samples simulated concurrently per evaluation (0 or 1 runs serially)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaults.DBPath, "sqlite database path")
	artifactsDir := fs.String("artifacts-dir", defaults.ArtifactsDir, "run artifacts directory")
	plotPath := fs.String("plot", "", "optional fit plot output path (.png|.svg|.pdf)")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}

	cfg := defaults
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}
	// Flags only replace config file values when given explicitly.
	if err := overrideFromFlags(&cfg, setFlags, map[string]any{
		"run-id":              *runID,
		"variant":             *variant,
		"normalization":       *normalization,
		"sample-rate":         *sampleRate,
		"stimulus":            *stimulusPath,
		"data":                *dataPath,
		"delimiter":           *delimiter,
		"solver":              *solver,
		"max-evals":           *maxEvals,
		"tolerance":           *tolerance,
		"seed":                *seed,
		"candidate-selection": *candidateSelection,
		"steps":               *steps,
		"step-size":           *stepSize,
		"workers":             *workers,
		"store":               *storeKind,
		"db-path":             *dbPath,
		"artifacts-dir":       *artifactsDir,
	}); err != nil {
		return err
	}

	req, err := dnapi.RequestFromConfig(cfg)
	if err != nil {
		return err
	}
	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Fit(ctx, req)
	if err != nil {
		return err
	}
	if *plotPath != "" {
		predicted, err := client.Simulate(ctx, dnapi.SimulateRequest{
			Params:        summary.Params,
			Normalization: req.Normalization,
			SampleRate:    req.SampleRate,
			Stimuli:       req.Stimuli,
		})
		if err != nil {
			return err
		}
		if err := plotting.PlotFit(*plotPath, req.Observed, predicted, req.SampleRate, summary.RunID, plotting.Size{}); err != nil {
			return err
		}
	}

	fmt.Printf("run_id=%s variant=%s solver=%s status=%s evaluations=%d initial_cost=%.6g cost=%.6g r_squared=%.4f\n",
		summary.RunID,
		req.Variant,
		cfg.Solver,
		summary.Status,
		summary.Evaluations,
		summary.InitialCost,
		summary.Cost,
		summary.Summary.RSquared,
	)
	fmt.Println(plotting.ParamsLabel(summary.Params))
	if summary.ArtifactsDir != "" {
		fmt.Printf("artifacts=%s\n", summary.ArtifactsDir)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	artifactsDir := fs.String("artifacts-dir", config.DefaultArtifactsDir, "run artifacts directory")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := dnapi.New(dnapi.Options{StoreKind: "memory", ArtifactsDir: *artifactsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, dnapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("run_id=%s created_at=%s variant=%s normalization=%s solver=%s samples=%d evaluations=%d cost=%.6g r_squared=%.4f\n",
			r.RunID,
			r.CreatedAtUTC,
			r.Variant,
			r.Normalization,
			r.Solver,
			r.NumSamples,
			r.Evaluations,
			r.Cost,
			r.RSquared,
		)
	}
	return nil
}

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", config.DefaultDBPath, "sqlite database path")
	artifactsDir := fs.String("artifacts-dir", config.DefaultArtifactsDir, "run artifacts directory")
	jsonOut := fs.Bool("json", false, "emit the fit record as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("show requires --run-id")
	}

	client, err := dnapi.New(dnapi.Options{StoreKind: *storeKind, DBPath: *dbPath, ArtifactsDir: *artifactsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	record, err := client.Show(ctx, *runID)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}

	fmt.Printf("run_id=%s created_at=%s variant=%s normalization=%s solver=%s sample_rate=%g samples=%d timepoints=%d\n",
		record.ID,
		record.CreatedAtUTC,
		record.Variant,
		record.Normalization,
		record.Solver,
		record.SampleRate,
		record.NumSamples,
		record.NumTimepoints,
	)
	fmt.Printf("status=%s evaluations=%d initial_cost=%.6g cost=%.6g\n",
		record.Status,
		record.Evaluations,
		record.InitialCost,
		record.Cost,
	)
	params, err := record.FitParams()
	if err != nil {
		return err
	}
	fmt.Println(plotting.ParamsLabel(params))
	return nil
}

func runDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", config.DefaultDBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("delete requires --run-id")
	}

	client, err := dnapi.New(dnapi.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	deleted, err := client.Delete(ctx, *runID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("fit not found: %s", *runID)
	}
	fmt.Printf("deleted run_id=%s\n", *runID)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	artifactsDir := fs.String("artifacts-dir", config.DefaultArtifactsDir, "run artifacts directory")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := dnapi.New(dnapi.Options{StoreKind: "memory", ArtifactsDir: *artifactsDir, ExportsDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, dnapi.ExportRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func runCompare(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	runIDs := fs.String("run-ids", "", "comma separated run ids")
	latest := fs.Int("latest", 0, "compare the N most recent runs when --run-ids is empty")
	name := fs.String("name", "", "report name (default: generated)")
	artifactsDir := fs.String("artifacts-dir", config.DefaultArtifactsDir, "run artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := dnapi.New(dnapi.Options{StoreKind: "memory", ArtifactsDir: *artifactsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	var ids []string
	for _, id := range strings.Split(*runIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	comparison, path, err := client.Compare(ctx, dnapi.CompareRequest{Name: *name, RunIDs: ids, Latest: *latest})
	if err != nil {
		return err
	}
	for _, r := range comparison.Runs {
		fmt.Printf("run_id=%s solver=%s status=%s evaluations=%d cost=%.6g r_squared=%.4f\n",
			r.RunID, r.Solver, r.Status, r.Evaluations, r.Cost, r.RSquared)
	}
	fmt.Printf("best_run_id=%s cost_mean=%.6g cost_std=%.6g cost_min=%.6g cost_max=%.6g report=%s\n",
		comparison.BestRunID,
		comparison.Cost.Mean,
		comparison.Cost.Std,
		comparison.Cost.Min,
		comparison.Cost.Max,
		path,
	)
	return nil
}

func runParams(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("params", flag.ContinueOnError)
	variantName := fs.String("variant", config.Default().Variant, "model variant: single|difference")
	if err := fs.Parse(args); err != nil {
		return err
	}
	v, err := model.ParseVariant(*variantName)
	if err != nil {
		return err
	}
	bounds, err := model.DefaultBounds(v)
	if err != nil {
		return err
	}
	for _, spec := range bounds.Specs {
		fmt.Printf("name=%s init=%g lower=%g upper=%g\n", spec.Name, spec.Init, spec.Lower, spec.Upper)
	}
	return nil
}

// runConfig prints the resolved configuration as TOML, optionally writing it
// to a file as a starting point.
func runConfig(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional fit config path to resolve")
	outPath := fs.String("out", "", "write the resolved config to this path (.toml or .json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if *outPath != "" {
		if err := config.Save(*outPath, cfg); err != nil {
			return err
		}
		fmt.Printf("wrote config=%s\n", *outPath)
		return nil
	}
	return config.Encode(os.Stdout, cfg)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: dnfitctl <init|fit|simulate|cost|plot|runs|show|delete|compare|export|params|config> [flags]", msg)
}
