// Package objective scores a parameter vector against a batch of observed
// responses as the sum of squared prediction errors.
package objective

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"dnfit/internal/kernel"
	"dnfit/internal/model"
	"dnfit/internal/response"
)

// DegenerateCost replaces the cost of any evaluation whose simulation
// produced NaN or Inf, or whose total overflowed. It is finite so that
// solvers comparing or averaging costs keep working, and larger than any
// cost a sane parameter set can reach.
const DegenerateCost = math.MaxFloat32

var ErrShapeMismatch = errors.New("stimulus and response shapes do not match")

// Options tunes how a batch is evaluated.
type Options struct {
	Normalization response.Normalization
	// Workers > 1 simulates batch samples concurrently. Per-sample costs are
	// still summed in batch order.
	Workers int
}

// Objective is the cost function of one fitting problem. It is safe for
// concurrent use.
type Objective struct {
	variant    model.Variant
	sampleRate float64
	opts       Options
	stimuli    [][]float64
	observed   [][]float64
	numPoints  int
}

// New validates the batch shapes and captures the batch rows.
func New(stimuli, observed mat.Matrix, sampleRate float64, v model.Variant, opts Options) (*Objective, error) {
	if stimuli == nil || observed == nil {
		return nil, fmt.Errorf("%w: stimuli and observed responses are required", ErrShapeMismatch)
	}
	sr, sc := stimuli.Dims()
	or, oc := observed.Dims()
	if sr != or || sc != oc {
		return nil, fmt.Errorf("%w: stimuli %dx%d, observed %dx%d", ErrShapeMismatch, sr, sc, or, oc)
	}
	if sr == 0 || sc == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrShapeMismatch)
	}
	if !(sampleRate > 0) || math.IsInf(sampleRate, 1) {
		return nil, fmt.Errorf("sample rate must be > 0 (got %g)", sampleRate)
	}
	if !v.Valid() {
		return nil, fmt.Errorf("unsupported model variant: %d", int(v))
	}
	o := &Objective{
		variant:    v,
		sampleRate: sampleRate,
		opts:       opts,
		stimuli:    make([][]float64, sr),
		observed:   make([][]float64, sr),
		numPoints:  sc,
	}
	for i := 0; i < sr; i++ {
		o.stimuli[i] = mat.Row(nil, i, stimuli)
		o.observed[i] = mat.Row(nil, i, observed)
	}
	return o, nil
}

// Cost evaluates the objective once. It is the single-call form of
// New(...).Evaluate(x).
func Cost(x []float64, stimuli, observed mat.Matrix, sampleRate float64, v model.Variant, opts Options) (float64, error) {
	o, err := New(stimuli, observed, sampleRate, v, opts)
	if err != nil {
		return 0, err
	}
	return o.Evaluate(x)
}

func (o *Objective) Variant() model.Variant { return o.variant }
func (o *Objective) SampleRate() float64    { return o.sampleRate }
func (o *Objective) NumSamples() int        { return len(o.stimuli) }
func (o *Objective) NumTimepoints() int     { return o.numPoints }
func (o *Objective) Options() Options       { return o.opts }

// Evaluate returns the summed squared error of x, or DegenerateCost when any
// simulation is non-finite. The only error is a parameter count mismatch.
func (o *Objective) Evaluate(x []float64) (float64, error) {
	residuals, err := o.Residuals(x)
	if err != nil {
		return 0, err
	}
	return Total(residuals), nil
}

// Func adapts Evaluate to the plain signature solvers expect. A malformed
// vector scores DegenerateCost.
func (o *Objective) Func(x []float64) float64 {
	cost, err := o.Evaluate(x)
	if err != nil {
		return DegenerateCost
	}
	return cost
}

// Residuals returns the per-sample sums of squared errors in batch order.
// Samples whose simulation is non-finite score DegenerateCost.
func (o *Objective) Residuals(x []float64) ([]float64, error) {
	params, err := model.FromVector(o.variant, x)
	if err != nil {
		return nil, err
	}
	return o.ResidualsFor(params)
}

// ResidualsFor is Residuals for a parameter record.
func (o *Objective) ResidualsFor(params model.Params) ([]float64, error) {
	if params == nil || params.Variant() != o.variant {
		return nil, fmt.Errorf("objective expects %s params", o.variant)
	}
	// Kernels depend only on the parameters and the sample rate, so one
	// pipeline serves the whole batch.
	p, err := response.New(o.numPoints, o.sampleRate, params)
	if err != nil {
		return nil, err
	}

	costs := make([]float64, len(o.stimuli))
	workerCount := o.opts.Workers
	if workerCount > len(o.stimuli) {
		workerCount = len(o.stimuli)
	}
	if workerCount <= 1 {
		for i := range o.stimuli {
			costs[i] = o.sampleCost(p, i)
		}
		return costs, nil
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				costs[idx] = o.sampleCost(p, idx)
			}
		}()
	}
	for i := range o.stimuli {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return costs, nil
}

// Predict simulates every stimulus of the batch.
func (o *Objective) Predict(params model.Params) (*mat.Dense, error) {
	p, err := response.New(o.numPoints, o.sampleRate, params)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(o.stimuli), o.numPoints, nil)
	for i, stim := range o.stimuli {
		out.SetRow(i, p.Simulate(stim, o.opts.Normalization))
	}
	return out, nil
}

// Observed returns a copy of sample i's observed response.
func (o *Objective) Observed(i int) []float64 {
	return append([]float64(nil), o.observed[i]...)
}

// Stimulus returns a copy of sample i's stimulus.
func (o *Objective) Stimulus(i int) []float64 {
	return append([]float64(nil), o.stimuli[i]...)
}

func (o *Objective) sampleCost(p *response.Pipeline, idx int) float64 {
	pred := p.Simulate(o.stimuli[idx], o.opts.Normalization)
	if !kernel.Finite(pred) {
		return DegenerateCost
	}
	floats.Sub(pred, o.observed[idx])
	cost := floats.Dot(pred, pred)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return DegenerateCost
	}
	return cost
}

// Total sums per-sample costs in order. Any degenerate sample, or an
// overflowing sum, yields DegenerateCost.
func Total(costs []float64) float64 {
	var total float64
	for _, c := range costs {
		if c >= DegenerateCost || math.IsNaN(c) {
			return DegenerateCost
		}
		total += c
	}
	if math.IsInf(total, 0) || total >= DegenerateCost {
		return DegenerateCost
	}
	return total
}

// Rows packs equal-length rows into a matrix, failing on ragged input.
func Rows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrShapeMismatch)
	}
	cols := len(rows[0])
	out := mat.NewDense(len(rows), cols, nil)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d timepoints, expected %d", ErrShapeMismatch, i, len(row), cols)
		}
		out.SetRow(i, row)
	}
	return out, nil
}
