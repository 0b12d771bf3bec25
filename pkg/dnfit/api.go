// Package dnfit is the programmatic entry point for fitting temporal response
// models and inspecting stored fits.
package dnfit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"dnfit/internal/config"
	"dnfit/internal/dataset"
	"dnfit/internal/fit"
	"dnfit/internal/model"
	"dnfit/internal/objective"
	"dnfit/internal/response"
	"dnfit/internal/stats"
	"dnfit/internal/storage"
)

const (
	defaultExportsDir = "exports"
	defaultRunsLimit  = 20
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
}

type Client struct {
	store  storage.Store
	logger *slog.Logger

	artifactsDir string
	exportsDir   string

	initOnce sync.Once
	initErr  error
}

// FitRequest describes one fit. Zero values take the defaults of
// config.Default; a nil Bounds uses the variant's default table.
type FitRequest struct {
	RunID          string
	Variant        model.Variant
	Normalization  response.Normalization
	SampleRate     float64
	Stimuli        mat.Matrix
	Observed       mat.Matrix
	Bounds         *model.Bounds
	Solver         string
	MaxEvaluations int
	Tolerance      float64
	Seed           int64
	Workers        int
	// CandidateSelection, Steps and StepSize tune the hill climber.
	CandidateSelection string
	Steps              int
	StepSize           float64
	// StimulusPath, DataPath and Delimiter are recorded in the run config
	// only.
	StimulusPath string
	DataPath     string
	Delimiter    string
	// SkipArtifacts stores the fit without writing a run directory.
	SkipArtifacts bool
}

type FitSummary struct {
	RunID        string
	ArtifactsDir string
	Params       model.Params
	InitialCost  float64
	Cost         float64
	Evaluations  int
	Status       string
	CostHistory  []float64
	Summary      stats.Summary
}

type SimulateRequest struct {
	Params        model.Params
	Normalization response.Normalization
	SampleRate    float64
	Stimuli       mat.Matrix
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID         string
	CreatedAtUTC  string
	Variant       string
	Normalization string
	Solver        string
	NumSamples    int
	Evaluations   int
	Cost          float64
	RSquared      float64
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type CompareRequest struct {
	Name   string
	RunIDs []string
	// Latest compares the newest runs of the run index when RunIDs is empty.
	Latest int
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = config.DefaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = config.DefaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Init prepares the backing store. Other methods call it as needed.
func (c *Client) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

// RequestFromConfig loads the data files a config names and builds the
// matching request.
func RequestFromConfig(cfg config.Config) (FitRequest, error) {
	if err := cfg.ValidateForFit(); err != nil {
		return FitRequest{}, err
	}
	v, _ := cfg.ModelVariant()
	norm, _ := cfg.NormalizationMode()
	delimiter, _ := cfg.DelimiterRune()
	bounds, err := cfg.Bounds()
	if err != nil {
		return FitRequest{}, err
	}
	stimuli, err := dataset.LoadMatrix(cfg.StimulusPath, delimiter)
	if err != nil {
		return FitRequest{}, fmt.Errorf("load stimulus: %w", err)
	}
	observed, err := dataset.LoadMatrix(cfg.DataPath, delimiter)
	if err != nil {
		return FitRequest{}, fmt.Errorf("load data: %w", err)
	}
	return FitRequest{
		RunID:              cfg.RunID,
		Variant:            v,
		Normalization:      norm,
		SampleRate:         cfg.SampleRate,
		Stimuli:            stimuli,
		Observed:           observed,
		Bounds:             &bounds,
		Solver:             cfg.Solver,
		MaxEvaluations:     cfg.MaxEvaluations,
		Tolerance:          cfg.Tolerance,
		Seed:               cfg.Seed,
		Workers:            cfg.Workers,
		CandidateSelection: cfg.CandidateSelection,
		Steps:              cfg.Steps,
		StepSize:           cfg.StepSize,
		StimulusPath:       cfg.StimulusPath,
		DataPath:           cfg.DataPath,
		Delimiter:          cfg.Delimiter,
	}, nil
}

// Fit minimizes the objective of req, stores the fit and its cost history,
// and writes the run directory.
func (c *Client) Fit(ctx context.Context, req FitRequest) (FitSummary, error) {
	defaults := config.Default()
	if req.Variant == 0 {
		if req.Bounds != nil {
			req.Variant = req.Bounds.Variant
		} else {
			req.Variant, _ = model.ParseVariant(defaults.Variant)
		}
	}
	if req.SampleRate == 0 {
		req.SampleRate = defaults.SampleRate
	}
	if req.Solver == "" {
		req.Solver = defaults.Solver
	}
	if req.MaxEvaluations <= 0 {
		req.MaxEvaluations = defaults.MaxEvaluations
	}
	if req.Tolerance <= 0 {
		req.Tolerance = defaults.Tolerance
	}
	if req.Stimuli == nil || req.Observed == nil {
		return FitSummary{}, errors.New("stimuli and observed responses are required")
	}

	var bounds model.Bounds
	if req.Bounds != nil {
		bounds = *req.Bounds
	} else {
		b, err := model.DefaultBounds(req.Variant)
		if err != nil {
			return FitSummary{}, err
		}
		bounds = b
	}

	obj, err := objective.New(req.Stimuli, req.Observed, req.SampleRate, req.Variant, objective.Options{
		Normalization: req.Normalization,
		Workers:       req.Workers,
	})
	if err != nil {
		return FitSummary{}, err
	}
	solver, err := fit.NewSolver(req.Solver, fit.SolverConfig{
		MaxEvaluations:     req.MaxEvaluations,
		Tolerance:          req.Tolerance,
		Seed:               req.Seed,
		CandidateSelection: req.CandidateSelection,
		Steps:              req.Steps,
		StepSize:           req.StepSize,
		Logger:             c.logger,
	})
	if err != nil {
		return FitSummary{}, err
	}
	if err := c.Init(ctx); err != nil {
		return FitSummary{}, err
	}

	now := time.Now().UTC()
	runID := req.RunID
	if runID == "" {
		runID = fmt.Sprintf("%s-%s", req.Variant, uuid.NewString())
	}
	c.logger.Info("fit started",
		"run_id", runID,
		"variant", req.Variant.String(),
		"normalization", req.Normalization.String(),
		"solver", solver.Name(),
		"samples", obj.NumSamples(),
		"timepoints", obj.NumTimepoints(),
	)

	result, err := solver.Minimize(ctx, fit.Problem{Bounds: bounds, Objective: obj})
	if err != nil {
		return FitSummary{}, err
	}
	predicted, err := obj.Predict(result.Params)
	if err != nil {
		return FitSummary{}, err
	}

	record := model.FitRecord{
		VersionedRecord: storage.Versioned(),
		ID:              runID,
		CreatedAtUTC:    now.Format(time.RFC3339Nano),
		Variant:         req.Variant,
		Normalization:   req.Normalization.String(),
		Solver:          solver.Name(),
		SampleRate:      req.SampleRate,
		NumSamples:      obj.NumSamples(),
		NumTimepoints:   obj.NumTimepoints(),
		Params:          model.ToMap(result.Params),
		Bounds:          append([]model.ParamSpec(nil), bounds.Specs...),
		InitialCost:     result.InitialCost,
		Cost:            result.Cost,
		Evaluations:     result.Evaluations,
		Status:          result.Status,
	}
	if err := c.store.SaveFit(ctx, record); err != nil {
		return FitSummary{}, err
	}
	if err := c.store.SaveCostHistory(ctx, runID, result.History); err != nil {
		return FitSummary{}, err
	}

	summary := FitSummary{
		RunID:       runID,
		Params:      result.Params,
		InitialCost: result.InitialCost,
		Cost:        result.Cost,
		Evaluations: result.Evaluations,
		Status:      result.Status,
		CostHistory: append([]float64(nil), result.History...),
	}
	if s, err := stats.Summarize(req.Observed, predicted); err == nil {
		summary.Summary = s
	}
	if req.SkipArtifacts {
		return summary, nil
	}

	runDir, err := stats.WriteFitArtifacts(c.artifactsDir, stats.FitArtifacts{
		Config: stats.FitConfig{
			RunID:          runID,
			Variant:        req.Variant.String(),
			Normalization:  req.Normalization.String(),
			Solver:         solver.Name(),
			SampleRate:     req.SampleRate,
			StimulusPath:   req.StimulusPath,
			DataPath:       req.DataPath,
			Delimiter:      req.Delimiter,
			MaxEvaluations: req.MaxEvaluations,
			Tolerance:      req.Tolerance,
			Seed:           req.Seed,
			Workers:        req.Workers,
			Bounds:         record.Bounds,
		},
		Fit:         record,
		CostHistory: result.History,
		Stimuli:     req.Stimuli,
		Observed:    req.Observed,
		Predicted:   predicted,
	})
	if err != nil {
		return FitSummary{}, err
	}
	summary.ArtifactsDir = runDir
	return summary, nil
}

// Simulate runs the response pipeline on every row of req.Stimuli.
func (c *Client) Simulate(_ context.Context, req SimulateRequest) (*mat.Dense, error) {
	if req.Params == nil {
		return nil, errors.New("params are required")
	}
	if req.Stimuli == nil {
		return nil, errors.New("stimuli are required")
	}
	rows, cols := req.Stimuli.Dims()
	p, err := response.New(cols, req.SampleRate, req.Params)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		out.SetRow(i, p.Simulate(mat.Row(nil, i, req.Stimuli), req.Normalization))
	}
	return out, nil
}

// Cost evaluates the objective at params.
func (c *Client) Cost(_ context.Context, params model.Params, stimuli, observed mat.Matrix, sampleRate float64, norm response.Normalization) (float64, error) {
	if params == nil {
		return 0, errors.New("params are required")
	}
	return objective.Cost(params.Vector(), stimuli, observed, sampleRate, params.Variant(), objective.Options{Normalization: norm})
}

// Runs lists the run index of the artifacts directory, newest first.
func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:         e.RunID,
			CreatedAtUTC:  e.CreatedAtUTC,
			Variant:       e.Variant,
			Normalization: e.Normalization,
			Solver:        e.Solver,
			NumSamples:    e.NumSamples,
			Evaluations:   e.Evaluations,
			Cost:          e.Cost,
			RSquared:      e.RSquared,
		})
	}
	return out, nil
}

// Fits lists the fits held by the store, oldest first.
func (c *Client) Fits(ctx context.Context) ([]model.FitRecord, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.ListFits(ctx)
}

// Show returns a stored fit, falling back to the run directory when the
// store does not hold it.
func (c *Client) Show(ctx context.Context, runID string) (model.FitRecord, error) {
	if runID == "" {
		return model.FitRecord{}, errors.New("run id is required")
	}
	if err := c.Init(ctx); err != nil {
		return model.FitRecord{}, err
	}
	record, ok, err := c.store.GetFit(ctx, runID)
	if err != nil {
		return model.FitRecord{}, err
	}
	if ok {
		return record, nil
	}
	record, ok, err = stats.ReadFitRecord(c.artifactsDir, runID)
	if err != nil {
		return model.FitRecord{}, err
	}
	if !ok {
		return model.FitRecord{}, fmt.Errorf("fit not found: %s", runID)
	}
	return record, nil
}

// CostHistory returns the best cost per solver iteration of a fit.
func (c *Client) CostHistory(ctx context.Context, runID string) ([]float64, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetCostHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if ok {
		return history, nil
	}
	history, ok, err = stats.ReadCostHistory(c.artifactsDir, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cost history not found: %s", runID)
	}
	return history, nil
}

// Delete removes a fit from the store. Run directories are left in place.
func (c *Client) Delete(ctx context.Context, runID string) (bool, error) {
	if err := c.Init(ctx); err != nil {
		return false, err
	}
	return c.store.DeleteFit(ctx, runID)
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Compare summarizes several runs side by side and writes the report under
// the artifacts directory.
func (c *Client) Compare(_ context.Context, req CompareRequest) (stats.Comparison, string, error) {
	runIDs := req.RunIDs
	if len(runIDs) == 0 {
		if req.Latest <= 0 {
			return stats.Comparison{}, "", errors.New("compare requires run ids or latest")
		}
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return stats.Comparison{}, "", err
		}
		for i := 0; i < len(entries) && i < req.Latest; i++ {
			runIDs = append(runIDs, entries[i].RunID)
		}
	}
	name := req.Name
	if name == "" {
		name = "compare-" + uuid.NewString()
	}
	comparison, err := stats.CompareRuns(c.artifactsDir, name, runIDs)
	if err != nil {
		return stats.Comparison{}, "", err
	}
	path, err := stats.WriteComparison(c.artifactsDir, comparison)
	if err != nil {
		return stats.Comparison{}, "", err
	}
	return comparison, path, nil
}
