package stats

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const comparisonsDir = "comparisons"

// SeriesStats summarizes one metric across runs.
type SeriesStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

type ComparedRun struct {
	RunID       string  `json:"run_id"`
	Variant     string  `json:"variant"`
	Solver      string  `json:"solver"`
	Status      string  `json:"status"`
	Evaluations int     `json:"evaluations"`
	Cost        float64 `json:"cost"`
	RSquared    float64 `json:"r_squared,omitempty"`
}

type CurvePoint struct {
	Iteration int     `json:"iteration"`
	Cost      float64 `json:"cost"`
}

// Comparison reports several fits of the same data side by side, for
// example one per seed or solver.
type Comparison struct {
	Name        string        `json:"name"`
	GeneratedAt string        `json:"generated_at_utc"`
	Runs        []ComparedRun `json:"runs"`
	BestRunID   string        `json:"best_run_id"`
	Cost        SeriesStats   `json:"cost"`
	Evaluations SeriesStats   `json:"evaluations"`
	// MeanCurve averages the best-cost histories iteration by iteration over
	// the runs still going at that iteration.
	MeanCurve []CurvePoint `json:"mean_curve"`
}

// CompareRuns reads the run directories of runIDs under baseDir.
func CompareRuns(baseDir, name string, runIDs []string) (Comparison, error) {
	if len(runIDs) == 0 {
		return Comparison{}, fmt.Errorf("at least one run id is required")
	}
	out := Comparison{
		Name: name,
		Runs: make([]ComparedRun, 0, len(runIDs)),
	}
	costs := make([]float64, 0, len(runIDs))
	evals := make([]float64, 0, len(runIDs))
	histories := make([][]float64, 0, len(runIDs))
	for _, runID := range runIDs {
		record, ok, err := ReadFitRecord(baseDir, runID)
		if err != nil {
			return Comparison{}, err
		}
		if !ok {
			return Comparison{}, fmt.Errorf("fit not found for run id: %s", runID)
		}
		history, _, err := ReadCostHistory(baseDir, runID)
		if err != nil {
			return Comparison{}, err
		}
		run := ComparedRun{
			RunID:       runID,
			Variant:     record.Variant.String(),
			Solver:      record.Solver,
			Status:      record.Status,
			Evaluations: record.Evaluations,
			Cost:        record.Cost,
		}
		if summary, ok, err := ReadSummary(baseDir, runID); err != nil {
			return Comparison{}, err
		} else if ok {
			run.RSquared = summary.RSquared
		}
		out.Runs = append(out.Runs, run)
		costs = append(costs, record.Cost)
		evals = append(evals, float64(record.Evaluations))
		histories = append(histories, history)
	}
	out.BestRunID = out.Runs[floats.MinIdx(costs)].RunID
	out.Cost = seriesStats(costs)
	out.Evaluations = seriesStats(evals)
	out.MeanCurve = MeanCurve(histories)
	return out, nil
}

// MeanCurve averages histories position by position. Shorter histories drop
// out once exhausted.
func MeanCurve(histories [][]float64) []CurvePoint {
	longest := 0
	for _, h := range histories {
		longest = max(longest, len(h))
	}
	points := make([]CurvePoint, 0, longest)
	values := make([]float64, 0, len(histories))
	for i := 0; i < longest; i++ {
		values = values[:0]
		for _, h := range histories {
			if i < len(h) {
				values = append(values, h[i])
			}
		}
		points = append(points, CurvePoint{Iteration: i + 1, Cost: stat.Mean(values, nil)})
	}
	return points
}

func seriesStats(values []float64) SeriesStats {
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		std = 0
	}
	return SeriesStats{Mean: mean, Std: std, Min: floats.Min(values), Max: floats.Max(values)}
}

// WriteComparison writes comparisons/<name>.json under baseDir. Non-finite
// statistics are rejected by encoding/json, so degenerate runs must be
// filtered by the caller.
func WriteComparison(baseDir string, c Comparison) (string, error) {
	if c.Name == "" {
		return "", fmt.Errorf("comparison name is required")
	}
	for _, v := range []float64{c.Cost.Mean, c.Cost.Std, c.Cost.Min, c.Cost.Max} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", fmt.Errorf("comparison %s has non-finite cost statistics", c.Name)
		}
	}
	dir := filepath.Join(baseDir, comparisonsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if c.GeneratedAt == "" {
		c.GeneratedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	path := filepath.Join(dir, c.Name+".json")
	if err := writeJSON(path, c); err != nil {
		return "", err
	}
	return path, nil
}
