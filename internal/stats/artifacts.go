package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"dnfit/internal/model"
)

const runIndexFile = "run_index.json"

// FitConfig is the resolved configuration a fit ran with.
type FitConfig struct {
	RunID          string            `json:"run_id"`
	Variant        string            `json:"variant"`
	Normalization  string            `json:"normalization"`
	Solver         string            `json:"solver"`
	SampleRate     float64           `json:"sample_rate"`
	StimulusPath   string            `json:"stimulus_path,omitempty"`
	DataPath       string            `json:"data_path,omitempty"`
	Delimiter      string            `json:"delimiter,omitempty"`
	MaxEvaluations int               `json:"max_evaluations"`
	Tolerance      float64           `json:"tolerance"`
	Seed           int64             `json:"seed"`
	Workers        int               `json:"workers"`
	Bounds         []model.ParamSpec `json:"bounds"`
}

// FitArtifacts is everything written to a run directory. Stimuli, Observed
// and Predicted are optional but must share a shape when present.
type FitArtifacts struct {
	Config      FitConfig
	Fit         model.FitRecord
	CostHistory []float64
	Stimuli     mat.Matrix
	Observed    mat.Matrix
	Predicted   mat.Matrix
}

type RunIndexEntry struct {
	RunID         string  `json:"run_id"`
	Variant       string  `json:"variant"`
	Normalization string  `json:"normalization"`
	Solver        string  `json:"solver"`
	NumSamples    int     `json:"num_samples"`
	Evaluations   int     `json:"evaluations"`
	Cost          float64 `json:"cost"`
	RSquared      float64 `json:"r_squared"`
	CreatedAtUTC  string  `json:"created_at_utc"`
}

// WriteFitArtifacts writes the run directory for a fit and records it in the
// run index of baseDir.
func WriteFitArtifacts(baseDir string, artifacts FitArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "fit.json"), artifacts.Fit); err != nil {
		return "", err
	}
	if err := WriteCostHistory(runDir, artifacts.CostHistory); err != nil {
		return "", err
	}

	entry := RunIndexEntry{
		RunID:         artifacts.Config.RunID,
		Variant:       artifacts.Config.Variant,
		Normalization: artifacts.Config.Normalization,
		Solver:        artifacts.Config.Solver,
		NumSamples:    artifacts.Fit.NumSamples,
		Evaluations:   artifacts.Fit.Evaluations,
		Cost:          artifacts.Fit.Cost,
		CreatedAtUTC:  artifacts.Fit.CreatedAtUTC,
	}
	if artifacts.Observed != nil && artifacts.Predicted != nil {
		if err := writePredictions(filepath.Join(runDir, "predictions.csv"), artifacts); err != nil {
			return "", err
		}
		summary, err := Summarize(artifacts.Observed, artifacts.Predicted)
		if err != nil {
			return "", err
		}
		// A degenerate best fit has non-finite predictions and no summary.
		if summary.Finite() {
			if err := writeJSON(filepath.Join(runDir, "summary.json"), summary); err != nil {
				return "", err
			}
			entry.RSquared = summary.RSquared
		}
	}

	if err := AppendRunIndex(baseDir, entry); err != nil {
		return "", err
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the run index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ReadFitConfig(baseDir, runID string) (FitConfig, bool, error) {
	var cfg FitConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	return cfg, ok, err
}

func ReadFitRecord(baseDir, runID string) (model.FitRecord, bool, error) {
	var fit model.FitRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, "fit.json"), &fit)
	return fit, ok, err
}

func ReadSummary(baseDir, runID string) (Summary, bool, error) {
	var summary Summary
	ok, err := readJSON(filepath.Join(baseDir, runID, "summary.json"), &summary)
	return summary, ok, err
}

func WriteCostHistory(runDir string, history []float64) error {
	path := filepath.Join(runDir, "cost_history.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"iteration", "best_cost"}); err != nil {
		return err
	}
	for i, cost := range history {
		if err := writer.Write([]string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(cost, 'g', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadCostHistory(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "cost_history.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("cost history header must have at least 2 columns")
	}

	history := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("cost history row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		history = append(history, value)
	}
	return history, true, nil
}

// ExportRunArtifacts copies a run directory's files into outDir/runID.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{"config.json", "fit.json", "cost_history.csv"} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{"predictions.csv", "summary.json"} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
	return dst, nil
}

func writePredictions(path string, artifacts FitArtifacts) error {
	rows, cols := artifacts.Observed.Dims()
	if pr, pc := artifacts.Predicted.Dims(); pr != rows || pc != cols {
		return fmt.Errorf("predictions are %dx%d but observed responses are %dx%d", pr, pc, rows, cols)
	}
	if artifacts.Stimuli != nil {
		if sr, sc := artifacts.Stimuli.Dims(); sr != rows || sc != cols {
			return fmt.Errorf("stimuli are %dx%d but observed responses are %dx%d", sr, sc, rows, cols)
		}
	}
	rate := artifacts.Config.SampleRate
	if rate <= 0 {
		rate = 1
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"sample", "index", "time_s", "stimulus", "observed", "predicted"}); err != nil {
		return err
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			stim := ""
			if artifacts.Stimuli != nil {
				stim = format(artifacts.Stimuli.At(i, j))
			}
			if err := writer.Write([]string{
				strconv.Itoa(i),
				strconv.Itoa(j),
				format(float64(j) / rate),
				stim,
				format(artifacts.Observed.At(i, j)),
				format(artifacts.Predicted.At(i, j)),
			}); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
