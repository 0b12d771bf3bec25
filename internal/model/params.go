package model

import (
	"errors"
	"fmt"

	"dnfit/internal/kernel"
)

// SingleKernelOrder is the fixed gamma order of the single-kernel variant.
const SingleKernelOrder = 2

var ErrParamCount = errors.New("parameter vector length does not match variant")

// Common holds the parameters shared by every variant downstream of the
// impulse response.
type Common struct {
	Shift float64 // seconds between stimulus onset and cortical response
	Scale float64 // response gain
	N     float64 // exponent
	Sigma float64 // semi-saturation constant
	TauA  float64 // adaptation (pooling) time constant
}

// Params is a named parameter set for one model variant.
type Params interface {
	Variant() Variant
	// Vector returns the values in the variant's positional ordering.
	Vector() []float64
	Common() Common
	// IRF builds the impulse response kernel on the time axis t.
	IRF(t []float64) []float64
}

// SingleKernelParams parameterizes the single gamma kernel variant.
// Weight is part of the fitted vector but does not shape the kernel.
type SingleKernelParams struct {
	Tau    float64 `json:"tau"`
	Weight float64 `json:"weight"`
	Shift  float64 `json:"shift"`
	Scale  float64 `json:"scale"`
	N      float64 `json:"n"`
	Sigma  float64 `json:"sigma"`
	TauA   float64 `json:"tau_a"`
}

func (p SingleKernelParams) Variant() Variant { return SingleKernel }

func (p SingleKernelParams) Vector() []float64 {
	return []float64{p.Tau, p.Weight, p.Shift, p.Scale, p.N, p.Sigma, p.TauA}
}

func (p SingleKernelParams) Common() Common {
	return Common{Shift: p.Shift, Scale: p.Scale, N: p.N, Sigma: p.Sigma, TauA: p.TauA}
}

func (p SingleKernelParams) IRF(t []float64) []float64 {
	return kernel.Gamma(t, p.Tau, SingleKernelOrder)
}

// DifferenceKernelParams parameterizes the gamma-difference variant. NIRF is
// the shared order of both lobes and is rounded to a positive integer when
// the kernel is built.
type DifferenceKernelParams struct {
	TauPos float64 `json:"tau_pos"`
	TauNeg float64 `json:"tau_neg"`
	NIRF   float64 `json:"n_irf"`
	Weight float64 `json:"weight"`
	Shift  float64 `json:"shift"`
	Scale  float64 `json:"scale"`
	N      float64 `json:"n"`
	Sigma  float64 `json:"sigma"`
	TauA   float64 `json:"tau_a"`
}

func (p DifferenceKernelParams) Variant() Variant { return DifferenceKernel }

func (p DifferenceKernelParams) Vector() []float64 {
	return []float64{p.TauPos, p.TauNeg, p.NIRF, p.Weight, p.Shift, p.Scale, p.N, p.Sigma, p.TauA}
}

func (p DifferenceKernelParams) Common() Common {
	return Common{Shift: p.Shift, Scale: p.Scale, N: p.N, Sigma: p.Sigma, TauA: p.TauA}
}

func (p DifferenceKernelParams) IRF(t []float64) []float64 {
	return kernel.Difference(t, p.TauPos, p.TauNeg, kernel.Order(p.NIRF), p.Weight)
}

// FromVector maps a positional parameter vector onto the variant's record.
func FromVector(v Variant, x []float64) (Params, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("unsupported model variant: %d", int(v))
	}
	if len(x) != v.NumParams() {
		return nil, fmt.Errorf("%w: %s expects %d values, got %d", ErrParamCount, v, v.NumParams(), len(x))
	}
	switch v {
	case SingleKernel:
		return SingleKernelParams{
			Tau: x[0], Weight: x[1], Shift: x[2], Scale: x[3],
			N: x[4], Sigma: x[5], TauA: x[6],
		}, nil
	default:
		return DifferenceKernelParams{
			TauPos: x[0], TauNeg: x[1], NIRF: x[2], Weight: x[3], Shift: x[4],
			Scale: x[5], N: x[6], Sigma: x[7], TauA: x[8],
		}, nil
	}
}

// FromMap builds a parameter record from name/value pairs. Every name of the
// variant must be present.
func FromMap(v Variant, values map[string]float64) (Params, error) {
	names := v.ParamNames()
	if names == nil {
		return nil, fmt.Errorf("unsupported model variant: %d", int(v))
	}
	x := make([]float64, len(names))
	for i, name := range names {
		value, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("missing parameter %q for %s variant", name, v)
		}
		x[i] = value
	}
	return FromVector(v, x)
}

// ToMap returns the parameters keyed by name.
func ToMap(p Params) map[string]float64 {
	names := p.Variant().ParamNames()
	values := p.Vector()
	out := make(map[string]float64, len(names))
	for i, name := range names {
		out[name] = values[i]
	}
	return out
}
