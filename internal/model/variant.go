package model

import (
	"fmt"
	"strings"
)

// Variant selects the impulse response family of a temporal model.
type Variant int

const (
	// SingleKernel convolves the stimulus with one gamma kernel driven by a
	// single time constant (Zhou et al. lineage).
	SingleKernel Variant = iota + 1
	// DifferenceKernel convolves with a positive gamma lobe minus a weighted,
	// slower negative lobe (Groen et al. lineage).
	DifferenceKernel
)

var (
	singleKernelNames     = []string{"tau", "weight", "shift", "scale", "n", "sigma", "tau_a"}
	differenceKernelNames = []string{"tau_pos", "tau_neg", "n_irf", "weight", "shift", "scale", "n", "sigma", "tau_a"}
)

func (v Variant) String() string {
	switch v {
	case SingleKernel:
		return "single"
	case DifferenceKernel:
		return "difference"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// ParamNames returns the positional parameter ordering of the variant.
func (v Variant) ParamNames() []string {
	switch v {
	case SingleKernel:
		return append([]string(nil), singleKernelNames...)
	case DifferenceKernel:
		return append([]string(nil), differenceKernelNames...)
	default:
		return nil
	}
}

// NumParams is len(v.ParamNames()).
func (v Variant) NumParams() int {
	switch v {
	case SingleKernel:
		return len(singleKernelNames)
	case DifferenceKernel:
		return len(differenceKernelNames)
	default:
		return 0
	}
}

func (v Variant) Valid() bool {
	return v == SingleKernel || v == DifferenceKernel
}

// ParseVariant accepts the variant names plus the lineage aliases used by
// existing fit scripts.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "single", "single_kernel", "zhou", "a":
		return SingleKernel, nil
	case "difference", "difference_kernel", "groen", "b":
		return DifferenceKernel, nil
	default:
		return 0, fmt.Errorf("unsupported model variant: %q", name)
	}
}

func (v Variant) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("unsupported model variant: %d", int(v))
	}
	return []byte(v.String()), nil
}

func (v *Variant) UnmarshalText(text []byte) error {
	parsed, err := ParseVariant(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
