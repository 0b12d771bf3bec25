// Package kernel builds the unit-sum impulse response and pooling kernels
// used by the response pipeline.
//
// Degenerate inputs (non-positive or non-finite time constants, or kernels
// with no mass on the time axis) produce kernels filled with NaN. Callers
// are expected to detect the NaN downstream rather than treat it as an error.
package kernel

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// NegativeLobeScale stretches the time constant of the negative lobe of a
// difference kernel.
const NegativeLobeScale = 1.5

// Timepoints returns the sample times i/sampleRate for i in [0, n).
func Timepoints(n int, sampleRate float64) []float64 {
	if n <= 0 {
		return []float64{}
	}
	t := make([]float64, n)
	for i := range t {
		t[i] = float64(i) / sampleRate
	}
	return t
}

// Order coerces a real-valued gamma order to the nearest integer >= 1.
// Ties round to even. NaN maps to 0, which Gamma treats as degenerate.
func Order(n float64) int {
	if math.IsNaN(n) {
		return 0
	}
	if math.IsInf(n, 1) || n > math.MaxInt32 {
		return math.MaxInt32
	}
	order := int(math.RoundToEven(n))
	if order < 1 {
		return 1
	}
	return order
}

// Gamma returns the gamma-shaped impulse response
//
//	y = (t/tau)^(n-1) * exp(-t/tau) / (tau * (n-1)!)
//
// normalized to unit sum. The constant factor cancels under normalization, so
// the shape is evaluated in log space relative to its peak and stays finite
// for large orders and tiny time constants. order is expected to come from
// Order; values below one yield a NaN kernel.
func Gamma(t []float64, tau float64, order int) []float64 {
	y := make([]float64, len(t))
	if !validTau(tau) || order < 1 || len(t) == 0 {
		return fillNaN(y)
	}
	n := float64(order)
	for i, ti := range t {
		x := ti / tau
		switch {
		case x > 0:
			y[i] = (n-1)*math.Log(x) - x
		case order == 1:
			y[i] = 0
		default:
			y[i] = math.Inf(-1)
		}
	}
	peak := floats.Max(y)
	if math.IsInf(peak, -1) {
		return fillNaN(y)
	}
	for i := range y {
		y[i] = math.Exp(y[i] - peak)
	}
	return normalize(y)
}

// ExponentialDecay returns exp(-t/tau) normalized to unit sum.
func ExponentialDecay(t []float64, tau float64) []float64 {
	y := make([]float64, len(t))
	if !validTau(tau) {
		return fillNaN(y)
	}
	for i, ti := range t {
		y[i] = math.Exp(-ti / tau)
	}
	return normalize(y)
}

// Difference returns Gamma(t, tauPos, n) - weight*Gamma(t, 1.5*tauNeg, n).
// The result has unit sum only when weight is zero.
func Difference(t []float64, tauPos, tauNeg float64, order int, weight float64) []float64 {
	pos := Gamma(t, tauPos, order)
	neg := Gamma(t, NegativeLobeScale*tauNeg, order)
	floats.AddScaled(pos, -weight, neg)
	return pos
}

// Convolve returns the full discrete convolution of input and kernel
// truncated to its first n samples. Index 0 of both sequences is lag zero, so
// the output is causal: out[i] only depends on input[0..i].
func Convolve(input, kernel []float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		var acc float64
		for k := 0; k <= i && k < len(input); k++ {
			j := i - k
			if j >= len(kernel) {
				continue
			}
			acc += input[k] * kernel[j]
		}
		out[i] = acc
	}
	return out
}

// Finite reports whether every element of xs is a finite number.
func Finite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func validTau(tau float64) bool {
	return tau > 0 && !math.IsInf(tau, 1)
}

func normalize(y []float64) []float64 {
	sum := floats.Sum(y)
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return fillNaN(y)
	}
	floats.Scale(1/sum, y)
	return y
}

func fillNaN(y []float64) []float64 {
	nan := math.NaN()
	for i := range y {
		y[i] = nan
	}
	return y
}
