package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/vg"

	"dnfit/internal/config"
	"dnfit/internal/dataset"
	"dnfit/internal/plotting"
	"dnfit/internal/response"
	"dnfit/internal/stats"
	"dnfit/internal/storage"
	dnapi "dnfit/pkg/dnfit"
)

// modelFlags are shared by the commands that evaluate one parameter set.
type modelFlags struct {
	params        *string
	variant       *string
	runID         *string
	normalization *string
	sampleRate    *float64
	stimulus      *string
	delimiter     *string
	timepoints    *int
	onset         *int
	offset        *int
	storeKind     *string
	dbPath        *string
	artifactsDir  *string
}

func registerModelFlags(fs *flag.FlagSet) *modelFlags {
	defaults := config.Default()
	return &modelFlags{
		params:        fs.String("params", "", "comma separated name=value overrides, e.g. tau=0.05,scale=2"),
		variant:       fs.String("variant", defaults.Variant, "model variant: single|difference"),
		runID:         fs.String("run-id", "", "start from the fitted params of this run"),
		normalization: fs.String("normalization", defaults.Normalization, "divisive normalization: delayed|static"),
		sampleRate:    fs.Float64("sample-rate", defaults.SampleRate, "sample rate in Hz"),
		stimulus:      fs.String("stimulus", "", "stimulus matrix file (default: generated step)"),
		delimiter:     fs.String("delimiter", defaults.Delimiter, "data file delimiter: space|tab|comma|semicolon"),
		timepoints:    fs.Int("timepoints", 512, "generated step length in samples"),
		onset:         fs.Int("onset", 64, "generated step onset sample"),
		offset:        fs.Int("offset", 320, "generated step offset sample (exclusive)"),
		storeKind:     fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:        fs.String("db-path", config.DefaultDBPath, "sqlite database path"),
		artifactsDir:  fs.String("artifacts-dir", config.DefaultArtifactsDir, "run artifacts directory"),
	}
}

func (m *modelFlags) client() (*dnapi.Client, error) {
	return dnapi.New(dnapi.Options{StoreKind: *m.storeKind, DBPath: *m.dbPath, ArtifactsDir: *m.artifactsDir})
}

func (m *modelFlags) normalizationMode() (response.Normalization, error) {
	return response.ParseNormalization(*m.normalization)
}

func (m *modelFlags) loadStimuli() (*mat.Dense, error) {
	if *m.stimulus != "" {
		return loadMatrix(*m.stimulus, *m.delimiter)
	}
	if *m.timepoints <= 0 {
		return nil, errors.New("timepoints must be > 0")
	}
	if *m.onset < 0 || *m.offset <= *m.onset {
		return nil, fmt.Errorf("invalid step [%d, %d)", *m.onset, *m.offset)
	}
	return dataset.Repeat(dataset.Step(*m.timepoints, *m.onset, *m.offset, 1), 1), nil
}

func loadMatrix(path, delimiterName string) (*mat.Dense, error) {
	delimiter, err := dataset.ParseDelimiter(delimiterName)
	if err != nil {
		return nil, err
	}
	return dataset.LoadMatrix(path, delimiter)
}

func runSimulate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	mf := registerModelFlags(fs)
	outPath := fs.String("out", "", "write predicted responses to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := mf.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	params, err := resolveParams(ctx, client, *mf.runID, *mf.variant, *mf.params)
	if err != nil {
		return err
	}
	norm, err := mf.normalizationMode()
	if err != nil {
		return err
	}
	stimuli, err := mf.loadStimuli()
	if err != nil {
		return err
	}
	predicted, err := client.Simulate(ctx, dnapi.SimulateRequest{
		Params:        params,
		Normalization: norm,
		SampleRate:    *mf.sampleRate,
		Stimuli:       stimuli,
	})
	if err != nil {
		return err
	}
	if *outPath != "" {
		delimiter, err := dataset.ParseDelimiter(*mf.delimiter)
		if err != nil {
			return err
		}
		if err := dataset.WriteMatrix(*outPath, predicted, delimiter); err != nil {
			return err
		}
	}

	rows, cols := predicted.Dims()
	for i := 0; i < rows; i++ {
		row := mat.Row(nil, i, predicted)
		peak := floats.Max(row)
		fmt.Printf("sample=%d timepoints=%d peak=%.6g peak_time_s=%.4f\n",
			i, cols, peak, float64(floats.MaxIdx(row))/(*mf.sampleRate))
	}
	fmt.Println(plotting.ParamsLabel(params))
	if *outPath != "" {
		fmt.Printf("wrote predictions=%s\n", *outPath)
	}
	return nil
}

func runCost(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cost", flag.ContinueOnError)
	mf := registerModelFlags(fs)
	dataPath := fs.String("data", "", "observed response matrix file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataPath == "" {
		return errors.New("cost requires --data")
	}

	client, err := mf.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	params, err := resolveParams(ctx, client, *mf.runID, *mf.variant, *mf.params)
	if err != nil {
		return err
	}
	norm, err := mf.normalizationMode()
	if err != nil {
		return err
	}
	stimuli, err := mf.loadStimuli()
	if err != nil {
		return err
	}
	observed, err := loadMatrix(*dataPath, *mf.delimiter)
	if err != nil {
		return err
	}
	cost, err := client.Cost(ctx, params, stimuli, observed, *mf.sampleRate, norm)
	if err != nil {
		return err
	}

	fmt.Printf("cost=%.6g\n", cost)
	fmt.Println(plotting.ParamsLabel(params))
	return nil
}

func runPlot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	mf := registerModelFlags(fs)
	kind := fs.String("kind", "stages", "plot kind: stages|fit|cost")
	row := fs.Int("row", 0, "stimulus row to plot for --kind stages")
	outPath := fs.String("out", "", "output path (.png|.svg|.pdf)")
	width := fs.Float64("width-in", 10, "plot width in inches")
	height := fs.Float64("height-in", 5, "plot height in inches")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *outPath == "" {
		return errors.New("plot requires --out")
	}
	size := plotting.Size{Width: vg.Length(*width) * vg.Inch, Height: vg.Length(*height) * vg.Inch}

	client, err := mf.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	switch strings.ToLower(*kind) {
	case "stages":
		params, err := resolveParams(ctx, client, *mf.runID, *mf.variant, *mf.params)
		if err != nil {
			return err
		}
		stimuli, err := mf.loadStimuli()
		if err != nil {
			return err
		}
		rows, cols := stimuli.Dims()
		if *row < 0 || *row >= rows {
			return fmt.Errorf("row %d out of range [0, %d)", *row, rows)
		}
		p, err := response.New(cols, *mf.sampleRate, params)
		if err != nil {
			return err
		}
		if err := plotting.PlotStages(*outPath, p, mat.Row(nil, *row, stimuli), size); err != nil {
			return err
		}
	case "fit":
		if *mf.runID == "" {
			return errors.New("plot --kind fit requires --run-id")
		}
		if err := plotRunFit(ctx, client, *mf.artifactsDir, *mf.runID, *mf.delimiter, *outPath, size); err != nil {
			return err
		}
	case "cost":
		if *mf.runID == "" {
			return errors.New("plot --kind cost requires --run-id")
		}
		history, err := client.CostHistory(ctx, *mf.runID)
		if err != nil {
			return err
		}
		if err := plotting.PlotCostHistory(*outPath, history, size); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported plot kind: %s", *kind)
	}

	fmt.Printf("wrote plot=%s kind=%s\n", *outPath, strings.ToLower(*kind))
	return nil
}

// plotRunFit reloads the data files a run was fitted on and overlays the
// fitted predictions. The delimiter recorded with the run wins over the flag.
func plotRunFit(ctx context.Context, client *dnapi.Client, artifactsDir, runID, delimiter, outPath string, size plotting.Size) error {
	record, err := client.Show(ctx, runID)
	if err != nil {
		return err
	}
	runCfg, ok, err := stats.ReadFitConfig(artifactsDir, runID)
	if err != nil {
		return err
	}
	if !ok || runCfg.StimulusPath == "" || runCfg.DataPath == "" {
		return fmt.Errorf("run %s has no recorded data files", runID)
	}
	if runCfg.Delimiter != "" {
		delimiter = runCfg.Delimiter
	}
	stimuli, err := loadMatrix(runCfg.StimulusPath, delimiter)
	if err != nil {
		return err
	}
	observed, err := loadMatrix(runCfg.DataPath, delimiter)
	if err != nil {
		return err
	}
	params, err := record.FitParams()
	if err != nil {
		return err
	}
	norm, err := response.ParseNormalization(record.Normalization)
	if err != nil {
		return err
	}
	predicted, err := client.Simulate(ctx, dnapi.SimulateRequest{
		Params:        params,
		Normalization: norm,
		SampleRate:    record.SampleRate,
		Stimuli:       stimuli,
	})
	if err != nil {
		return err
	}
	return plotting.PlotFit(outPath, observed, predicted, record.SampleRate, runID, size)
}
