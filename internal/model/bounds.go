package model

import (
	"errors"
	"fmt"
	"math"
)

// ParamSpec is the initial value and closed search interval of one parameter.
type ParamSpec struct {
	Name  string  `json:"name" toml:"name"`
	Init  float64 `json:"init" toml:"init"`
	Lower float64 `json:"lower" toml:"lower"`
	Upper float64 `json:"upper" toml:"upper"`
}

// Bounds is the per-variant parameter table, index-aligned with
// Variant.ParamNames.
type Bounds struct {
	Variant Variant     `json:"variant"`
	Specs   []ParamSpec `json:"specs"`
}

var sharedSpecs = []ParamSpec{
	{Name: "weight", Init: 0, Lower: 0, Upper: 1},
	{Name: "shift", Init: 0.06, Lower: 0, Upper: 0.1},
	{Name: "scale", Init: 2, Lower: 0.1, Upper: 200},
	{Name: "n", Init: 2, Lower: 0.1, Upper: 3},
	{Name: "sigma", Init: 0.15, Lower: 0.01, Upper: 1},
	{Name: "tau_a", Init: 0.07, Lower: 0.01, Upper: 2},
}

// DefaultBounds returns the stock starting point and search box of a variant.
func DefaultBounds(v Variant) (Bounds, error) {
	var specs []ParamSpec
	switch v {
	case SingleKernel:
		specs = []ParamSpec{{Name: "tau", Init: 0.005, Lower: 0.001, Upper: 1}}
	case DifferenceKernel:
		specs = []ParamSpec{
			{Name: "tau_pos", Init: 0.005, Lower: 0.001, Upper: 1},
			{Name: "tau_neg", Init: 0.005, Lower: 0.001, Upper: 1},
			{Name: "n_irf", Init: 3, Lower: 2, Upper: 10},
		}
	default:
		return Bounds{}, fmt.Errorf("unsupported model variant: %d", int(v))
	}
	specs = append(specs, sharedSpecs...)
	return Bounds{Variant: v, Specs: specs}, nil
}

// Override replaces the spec of a named parameter.
func (b *Bounds) Override(spec ParamSpec) error {
	for i := range b.Specs {
		if b.Specs[i].Name == spec.Name {
			b.Specs[i] = spec
			return nil
		}
	}
	return fmt.Errorf("unknown parameter %q for %s variant", spec.Name, b.Variant)
}

// Validate checks the table matches the variant ordering and that every
// interval is well formed and contains its initial value.
func (b Bounds) Validate() error {
	names := b.Variant.ParamNames()
	if names == nil {
		return fmt.Errorf("unsupported model variant: %d", int(b.Variant))
	}
	if len(b.Specs) != len(names) {
		return fmt.Errorf("%w: %s expects %d specs, got %d", ErrParamCount, b.Variant, len(names), len(b.Specs))
	}
	for i, spec := range b.Specs {
		if spec.Name != names[i] {
			return fmt.Errorf("spec %d: expected %q, got %q", i, names[i], spec.Name)
		}
		if anyNaN(spec.Init, spec.Lower, spec.Upper) {
			return fmt.Errorf("spec %q: values must not be NaN", spec.Name)
		}
		if spec.Lower > spec.Upper {
			return fmt.Errorf("spec %q: lower bound %g exceeds upper bound %g", spec.Name, spec.Lower, spec.Upper)
		}
		if spec.Init < spec.Lower || spec.Init > spec.Upper {
			return fmt.Errorf("spec %q: initial value %g outside [%g, %g]", spec.Name, spec.Init, spec.Lower, spec.Upper)
		}
	}
	return nil
}

func (b Bounds) Initial() []float64 { return b.column(func(s ParamSpec) float64 { return s.Init }) }
func (b Bounds) Lower() []float64   { return b.column(func(s ParamSpec) float64 { return s.Lower }) }
func (b Bounds) Upper() []float64   { return b.column(func(s ParamSpec) float64 { return s.Upper }) }

// Clamp projects x into the box in place and returns it.
func (b Bounds) Clamp(x []float64) []float64 {
	for i := range x {
		if i >= len(b.Specs) {
			break
		}
		x[i] = math.Max(b.Specs[i].Lower, math.Min(b.Specs[i].Upper, x[i]))
	}
	return x
}

// Contains reports whether x lies inside the box.
func (b Bounds) Contains(x []float64) bool {
	if len(x) != len(b.Specs) {
		return false
	}
	for i, spec := range b.Specs {
		if x[i] < spec.Lower || x[i] > spec.Upper {
			return false
		}
	}
	return true
}

func (b Bounds) column(get func(ParamSpec) float64) []float64 {
	out := make([]float64, len(b.Specs))
	for i, spec := range b.Specs {
		out[i] = get(spec)
	}
	return out
}

var errEmptyBounds = errors.New("bounds table is empty")

// InitialParams returns the initial values as a parameter record.
func (b Bounds) InitialParams() (Params, error) {
	if len(b.Specs) == 0 {
		return nil, errEmptyBounds
	}
	return FromVector(b.Variant, b.Initial())
}

func anyNaN(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}
