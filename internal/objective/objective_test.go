package objective

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"dnfit/internal/model"
	"dnfit/internal/response"
)

func stepBatch(samples, n int) *mat.Dense {
	stim := mat.NewDense(samples, n, nil)
	for s := 0; s < samples; s++ {
		onset := 5 + 3*s
		for i := onset; i < onset+20 && i < n; i++ {
			stim.Set(s, i, 1)
		}
	}
	return stim
}

func simulateBatch(t *testing.T, stim *mat.Dense, rate float64, params model.Params, norm response.Normalization) *mat.Dense {
	t.Helper()
	rows, cols := stim.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		pred, err := response.ComputeModel(mat.Row(nil, i, stim), rate, params, norm)
		if err != nil {
			t.Fatalf("compute model: %v", err)
		}
		out.SetRow(i, pred)
	}
	return out
}

func TestCostIsZeroAgainstOwnSimulation(t *testing.T) {
	stim := stepBatch(3, 80)
	for _, tc := range []struct {
		name   string
		params model.Params
	}{
		{"single", model.SingleKernelParams{Tau: 0.05, Weight: 0, Shift: 0.02, Scale: 1.5, N: 2, Sigma: 0.1, TauA: 0.1}},
		{"difference", model.DifferenceKernelParams{TauPos: 0.03, TauNeg: 0.05, NIRF: 3, Weight: 0.3, Shift: 0.01, Scale: 2, N: 1.5, Sigma: 0.2, TauA: 0.07}},
	} {
		for _, norm := range []response.Normalization{response.Delayed, response.Static} {
			observed := simulateBatch(t, stim, 100, tc.params, norm)
			cost, err := Cost(tc.params.Vector(), stim, observed, 100, tc.params.Variant(), Options{Normalization: norm})
			if err != nil {
				t.Fatalf("%s/%s: cost: %v", tc.name, norm, err)
			}
			if cost > 1e-20 {
				t.Fatalf("%s/%s: expected zero cost, got %g", tc.name, norm, cost)
			}
		}
	}
}

func TestCostSumsSquaredErrors(t *testing.T) {
	stim := stepBatch(2, 50)
	params := model.SingleKernelParams{Tau: 0.05, Weight: 0, Shift: 0, Scale: 1, N: 2, Sigma: 0.1, TauA: 0.1}
	observed := mat.NewDense(2, 50, nil)
	observed.Set(0, 10, 0.5)

	want := 0.0
	for i := 0; i < 2; i++ {
		pred, _ := response.ComputeModel(mat.Row(nil, i, stim), 100, params, response.Delayed)
		for j := range pred {
			d := pred[j] - observed.At(i, j)
			want += d * d
		}
	}

	got, err := Cost(params.Vector(), stim, observed, 100, model.SingleKernel, Options{})
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	if math.Abs(got-want) > 1e-9*math.Max(1, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestShapeMismatchFailsFast(t *testing.T) {
	stim := stepBatch(2, 50)
	x := model.SingleKernelParams{Tau: 0.05, Scale: 1, N: 2, Sigma: 0.1, TauA: 0.1}.Vector()

	if _, err := Cost(x, stim, mat.NewDense(2, 49, nil), 100, model.SingleKernel, Options{}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch for columns, got %v", err)
	}
	if _, err := Cost(x, stim, mat.NewDense(3, 50, nil), 100, model.SingleKernel, Options{}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch for rows, got %v", err)
	}
	if _, err := Rows([][]float64{{1, 2, 3}, {1, 2}}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch for ragged rows, got %v", err)
	}
	if _, err := Cost(x[:4], stim, mat.NewDense(2, 50, nil), 100, model.SingleKernel, Options{}); !errors.Is(err, model.ErrParamCount) {
		t.Fatalf("expected param count error, got %v", err)
	}
}

func TestDegenerateParametersYieldSentinel(t *testing.T) {
	stim := stepBatch(2, 60)
	observed := mat.NewDense(2, 60, nil)
	o, err := New(stim, observed, 100, model.DifferenceKernel, Options{})
	if err != nil {
		t.Fatalf("new objective: %v", err)
	}
	for name, x := range map[string][]float64{
		"negative tau_pos": {-0.01, 0.05, 3, 0.2, 0, 1, 2, 0.1, 0.1},
		"zero tau_neg":     {0.01, 0, 3, 0.2, 0, 1, 2, 0.1, 0.1},
		"zero tau_a":       {0.01, 0.05, 3, 0.2, 0, 1, 2, 0.1, 0},
		"nan shift":        {0.01, 0.05, 3, 0.2, math.NaN(), 1, 2, 0.1, 0.1},
		"zero sigma":       {0.01, 0.05, 3, 0.2, 0, 1, 2, 0, 0.1},
	} {
		cost, err := o.Evaluate(x)
		if err != nil {
			t.Fatalf("%s: evaluate: %v", name, err)
		}
		if cost != DegenerateCost {
			t.Fatalf("%s: expected sentinel cost, got %g", name, cost)
		}
		if f := o.Func(x); f != DegenerateCost {
			t.Fatalf("%s: Func returned %g", name, f)
		}
	}
}

func TestCostNonNegativeForRandomVectors(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	stim := stepBatch(2, 64)
	observed := mat.NewDense(2, 64, nil)
	for i := 0; i < 2; i++ {
		for j := 0; j < 64; j++ {
			observed.Set(i, j, rng.NormFloat64())
		}
	}
	o, err := New(stim, observed, 128, model.SingleKernel, Options{})
	if err != nil {
		t.Fatalf("new objective: %v", err)
	}
	for trial := 0; trial < 200; trial++ {
		x := make([]float64, model.SingleKernel.NumParams())
		for i := range x {
			x[i] = rng.NormFloat64() * 2
		}
		cost := o.Func(x)
		if math.IsNaN(cost) || cost < 0 || math.IsInf(cost, 0) {
			t.Fatalf("trial %d: invalid cost %v for %v", trial, cost, x)
		}
	}
}

func TestWorkersMatchSerialEvaluation(t *testing.T) {
	stim := stepBatch(6, 90)
	params := model.DifferenceKernelParams{TauPos: 0.02, TauNeg: 0.04, NIRF: 2, Weight: 0.5, Shift: 0.03, Scale: 3, N: 1.2, Sigma: 0.1, TauA: 0.2}
	observed := simulateBatch(t, stim, 100, params, response.Delayed)
	observed.Set(2, 40, observed.At(2, 40)+0.25)

	x := []float64{0.03, 0.05, 3, 0.1, 0.02, 2, 1.5, 0.2, 0.1}
	serial, err := Cost(x, stim, observed, 100, model.DifferenceKernel, Options{Workers: 1})
	if err != nil {
		t.Fatalf("serial cost: %v", err)
	}
	parallel, err := Cost(x, stim, observed, 100, model.DifferenceKernel, Options{Workers: 4})
	if err != nil {
		t.Fatalf("parallel cost: %v", err)
	}
	if serial != parallel {
		t.Fatalf("serial %v != parallel %v", serial, parallel)
	}
}

func TestPredictMatchesComputeModel(t *testing.T) {
	stim := stepBatch(2, 40)
	params := model.SingleKernelParams{Tau: 0.04, Shift: 0.01, Scale: 1, N: 2, Sigma: 0.1, TauA: 0.1}
	o, err := New(stim, mat.NewDense(2, 40, nil), 100, model.SingleKernel, Options{Normalization: response.Static})
	if err != nil {
		t.Fatalf("new objective: %v", err)
	}
	pred, err := o.Predict(params)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	want := simulateBatch(t, stim, 100, params, response.Static)
	if !mat.Equal(pred, want) {
		t.Fatal("predictions differ from per-sample simulation")
	}
	if _, err := o.ResidualsFor(model.DifferenceKernelParams{}); err == nil {
		t.Fatal("expected variant mismatch error")
	}
}

func TestTotal(t *testing.T) {
	if got := Total([]float64{1, 2, 3}); got != 6 {
		t.Fatalf("expected 6, got %v", got)
	}
	if got := Total([]float64{1, DegenerateCost}); got != DegenerateCost {
		t.Fatalf("expected sentinel, got %v", got)
	}
	if got := Total([]float64{DegenerateCost / 2, DegenerateCost / 2}); got != DegenerateCost {
		t.Fatalf("expected sentinel on overflow past the ceiling, got %v", got)
	}
}
