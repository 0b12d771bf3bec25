package stats

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestSummarizePerfectFit(t *testing.T) {
	observed := mat.NewDense(2, 3, []float64{1, 2, 3, 0, 1, 0})
	s, err := Summarize(observed, observed)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if s.SSE != 0 || s.RMSE != 0 || s.RSquared != 1 || s.Points != 6 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	for i, r := range s.PerSampleRSquared {
		if r != 1 {
			t.Fatalf("sample %d: R^2=%v", i, r)
		}
	}
}

func TestSummarizeErrors(t *testing.T) {
	observed := mat.NewDense(1, 4, []float64{0, 1, 0, 1})
	predicted := mat.NewDense(1, 4, []float64{0, 0, 0, 0})
	s, err := Summarize(observed, predicted)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if s.SSE != 2 {
		t.Fatalf("expected SSE 2, got %v", s.SSE)
	}
	if math.Abs(s.RMSE-math.Sqrt(0.5)) > 1e-12 {
		t.Fatalf("unexpected RMSE %v", s.RMSE)
	}
	// SSE of 2 against a total sum of squares of 1.
	if math.Abs(s.RSquared+1) > 1e-12 {
		t.Fatalf("expected R^2 of -1, got %v", s.RSquared)
	}

	if _, err := Summarize(observed, mat.NewDense(1, 3, nil)); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestSummaryFinite(t *testing.T) {
	flat := mat.NewDense(1, 3, []float64{2, 2, 2})
	s, err := Summarize(flat, flat)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if !s.Finite() || s.RSquared != 0 {
		t.Fatalf("constant observations should give a finite summary, got %+v", s)
	}
	s, err = Summarize(flat, mat.NewDense(1, 3, []float64{math.NaN(), 0, 0}))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if s.Finite() {
		t.Fatal("expected non-finite summary for NaN predictions")
	}
}
