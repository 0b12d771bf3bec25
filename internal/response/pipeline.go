// Package response simulates the delayed divisive normalization model: a
// stimulus is delayed, linearly filtered by an impulse response, rectified,
// exponentiated and divided by a semi-saturated (optionally temporally
// pooled) copy of the linear response.
package response

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"dnfit/internal/kernel"
	"dnfit/internal/model"
)

// Normalization selects the denominator of the divisive stage.
type Normalization int

const (
	// Delayed pools the linear response with an exponential decay kernel
	// before normalizing.
	Delayed Normalization = iota
	// Static normalizes by the instantaneous linear response.
	Static
)

func (n Normalization) String() string {
	switch n {
	case Delayed:
		return "delayed"
	case Static:
		return "static"
	default:
		return fmt.Sprintf("normalization(%d)", int(n))
	}
}

func ParseNormalization(name string) (Normalization, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "delayed", "delay", "norm_delay":
		return Delayed, nil
	case "static", "norm":
		return Static, nil
	default:
		return 0, fmt.Errorf("unsupported normalization: %q", name)
	}
}

// Pipeline holds the kernels of one parameter set. It is immutable after New
// and safe for concurrent use.
type Pipeline struct {
	numTimepoints int
	sampleRate    float64
	params        model.Params
	common        model.Common
	t             []float64
	irf           []float64
	poolIRF       []float64
}

// New builds the time axis, impulse response and pooling kernel. Degenerate
// parameter values are accepted; they surface as NaN in the outputs.
func New(numTimepoints int, sampleRate float64, params model.Params) (*Pipeline, error) {
	if numTimepoints <= 0 {
		return nil, fmt.Errorf("number of timepoints must be > 0 (got %d)", numTimepoints)
	}
	if !(sampleRate > 0) || math.IsInf(sampleRate, 1) {
		return nil, fmt.Errorf("sample rate must be > 0 (got %g)", sampleRate)
	}
	if params == nil {
		return nil, errors.New("params are required")
	}
	t := kernel.Timepoints(numTimepoints, sampleRate)
	common := params.Common()
	return &Pipeline{
		numTimepoints: numTimepoints,
		sampleRate:    sampleRate,
		params:        params,
		common:        common,
		t:             t,
		irf:           params.IRF(t),
		poolIRF:       kernel.ExponentialDecay(t, common.TauA),
	}, nil
}

func (p *Pipeline) NumTimepoints() int    { return p.numTimepoints }
func (p *Pipeline) SampleRate() float64   { return p.sampleRate }
func (p *Pipeline) Params() model.Params  { return p.params }
func (p *Pipeline) Timepoints() []float64 { return append([]float64(nil), p.t...) }
func (p *Pipeline) IRF() []float64        { return append([]float64(nil), p.irf...) }
func (p *Pipeline) PoolingIRF() []float64 { return append([]float64(nil), p.poolIRF...) }

// ShiftSamples is the stimulus delay in samples, round(shift*sampleRate)
// with ties to even, clamped at zero. ok is false for a non-finite shift.
func (p *Pipeline) ShiftSamples() (samples int, ok bool) {
	s := p.common.Shift * p.sampleRate
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, false
	}
	s = math.RoundToEven(s)
	if s <= 0 {
		return 0, true
	}
	if s >= float64(p.numTimepoints) {
		return p.numTimepoints, true
	}
	return int(s), true
}

// Shift delays input by ShiftSamples, padding with zeros on the left and
// truncating to the pipeline length.
func (p *Pipeline) Shift(input []float64) []float64 {
	out := make([]float64, p.numTimepoints)
	samples, ok := p.ShiftSamples()
	if !ok {
		return fillNaN(out)
	}
	for i := samples; i < p.numTimepoints; i++ {
		j := i - samples
		if j >= len(input) {
			break
		}
		out[i] = input[j]
	}
	return out
}

// Lin convolves input with the impulse response.
func (p *Pipeline) Lin(input []float64) []float64 {
	return kernel.Convolve(input, p.irf, p.numTimepoints)
}

// Rectf is full-wave rectification.
func (p *Pipeline) Rectf(input []float64) []float64 {
	out := make([]float64, len(input))
	for i, v := range input {
		out[i] = math.Abs(v)
	}
	return out
}

// Exp raises every element to the power n. Input is expected to be
// non-negative; negative values with a fractional exponent give NaN.
func (p *Pipeline) Exp(input []float64) []float64 {
	out := make([]float64, len(input))
	for i, v := range input {
		out[i] = math.Pow(v, p.common.N)
	}
	return out
}

// Norm divides input by sigma^n + |linear|^n.
func (p *Pipeline) Norm(input, linear []float64) []float64 {
	return p.divide(input, linear)
}

// NormDelay divides input by sigma^n + |pool|^n, where pool is linear
// convolved with the exponential decay kernel.
func (p *Pipeline) NormDelay(input, linear []float64) []float64 {
	pool := kernel.Convolve(linear, p.poolIRF, p.numTimepoints)
	return p.divide(input, pool)
}

func (p *Pipeline) divide(input, denom []float64) []float64 {
	semi := math.Pow(p.common.Sigma, p.common.N)
	out := make([]float64, len(input))
	for i, v := range input {
		d := semi
		if i < len(denom) {
			d += math.Pow(math.Abs(denom[i]), p.common.N)
		}
		out[i] = v / d
	}
	return out
}

// Simulate runs shift, lin, rectf, exp and the selected normalization, then
// applies the gain.
func (p *Pipeline) Simulate(stim []float64, norm Normalization) []float64 {
	linear := p.Lin(p.Shift(stim))
	numerator := p.Exp(p.Rectf(linear))
	var out []float64
	if norm == Static {
		out = p.Norm(numerator, linear)
	} else {
		out = p.NormDelay(numerator, linear)
	}
	floats.Scale(p.common.Scale, out)
	return out
}

// Stages holds every intermediate signal of one simulation.
type Stages struct {
	Stimulus      []float64 `json:"stimulus"`
	Shifted       []float64 `json:"shifted"`
	Linear        []float64 `json:"linear"`
	Rectified     []float64 `json:"rectified"`
	Exponentiated []float64 `json:"exponentiated"`
	Normalized    []float64 `json:"normalized"`
	NormDelayed   []float64 `json:"norm_delayed"`
}

// Stages runs the pipeline once and keeps every intermediate, computing both
// normalizations side by side. Neither normalized output is scaled.
func (p *Pipeline) Stages(stim []float64) Stages {
	shifted := p.Shift(stim)
	linear := p.Lin(shifted)
	rectified := p.Rectf(linear)
	exponentiated := p.Exp(rectified)
	return Stages{
		Stimulus:      append([]float64(nil), stim...),
		Shifted:       shifted,
		Linear:        linear,
		Rectified:     rectified,
		Exponentiated: exponentiated,
		Normalized:    p.Norm(exponentiated, linear),
		NormDelayed:   p.NormDelay(exponentiated, linear),
	}
}

// ComputeModel builds a pipeline sized to stim and simulates it.
func ComputeModel(stim []float64, sampleRate float64, params model.Params, norm Normalization) ([]float64, error) {
	p, err := New(len(stim), sampleRate, params)
	if err != nil {
		return nil, err
	}
	return p.Simulate(stim, norm), nil
}

func fillNaN(y []float64) []float64 {
	nan := math.NaN()
	for i := range y {
		y[i] = nan
	}
	return y
}
