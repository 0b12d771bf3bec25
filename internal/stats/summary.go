package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Summary describes how well predictions match observations over a whole
// batch.
type Summary struct {
	Points   int     `json:"points"`
	SSE      float64 `json:"sse"`
	RMSE     float64 `json:"rmse"`
	RSquared float64 `json:"r_squared"`
	// PerSampleRSquared holds R^2 of each batch row.
	PerSampleRSquared []float64 `json:"per_sample_r_squared"`
}

// Summarize compares observed and predicted batches of equal shape. R^2 is
// reported as 0 for observations with no variance.
func Summarize(observed, predicted mat.Matrix) (Summary, error) {
	rows, cols := observed.Dims()
	if pr, pc := predicted.Dims(); pr != rows || pc != cols {
		return Summary{}, fmt.Errorf("predictions are %dx%d but observed responses are %dx%d", pr, pc, rows, cols)
	}
	if rows == 0 || cols == 0 {
		return Summary{}, fmt.Errorf("empty batch")
	}

	allObserved := make([]float64, 0, rows*cols)
	allPredicted := make([]float64, 0, rows*cols)
	perSample := make([]float64, rows)
	for i := 0; i < rows; i++ {
		obs := mat.Row(nil, i, observed)
		pred := mat.Row(nil, i, predicted)
		perSample[i] = rSquared(pred, obs)
		allObserved = append(allObserved, obs...)
		allPredicted = append(allPredicted, pred...)
	}

	residual := make([]float64, len(allObserved))
	floats.SubTo(residual, allPredicted, allObserved)
	sse := floats.Dot(residual, residual)
	return Summary{
		Points:            len(allObserved),
		SSE:               sse,
		RMSE:              math.Sqrt(sse / float64(len(allObserved))),
		RSquared:          rSquared(allPredicted, allObserved),
		PerSampleRSquared: perSample,
	}, nil
}

func rSquared(predicted, observed []float64) float64 {
	if stat.Variance(observed, nil) == 0 {
		return 0
	}
	return stat.RSquaredFrom(predicted, observed, nil)
}

// Finite reports whether every statistic is a finite number, which JSON
// encoding requires.
func (s Summary) Finite() bool {
	values := append([]float64{s.SSE, s.RMSE, s.RSquared}, s.PerSampleRSquared...)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
