// Package config loads fit configurations from TOML or JSON files.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"dnfit/internal/dataset"
	"dnfit/internal/fit"
	"dnfit/internal/model"
	"dnfit/internal/response"
)

const (
	DefaultSampleRate     = 512
	DefaultMaxEvaluations = 2000
	DefaultTolerance      = 1e-10
	DefaultDBPath         = "dnfit.db"
	DefaultArtifactsDir   = "dnfit_artifacts"
)

// ParamOverride replaces any of a parameter's initial value and bounds.
// Unset fields keep the variant default.
type ParamOverride struct {
	Init  *float64 `json:"init,omitempty" toml:"init,omitempty"`
	Lower *float64 `json:"lower,omitempty" toml:"lower,omitempty"`
	Upper *float64 `json:"upper,omitempty" toml:"upper,omitempty"`
}

// Config describes one fit run.
type Config struct {
	RunID          string                   `json:"run_id,omitempty" toml:"run_id,omitempty"`
	Variant        string                   `json:"variant" toml:"variant"`
	Normalization  string                   `json:"normalization" toml:"normalization"`
	SampleRate     float64                  `json:"sample_rate" toml:"sample_rate"`
	StimulusPath   string                   `json:"stimulus_path,omitempty" toml:"stimulus_path,omitempty"`
	DataPath       string                   `json:"data_path,omitempty" toml:"data_path,omitempty"`
	Delimiter      string                   `json:"delimiter" toml:"delimiter"`
	Solver         string                   `json:"solver" toml:"solver"`
	MaxEvaluations int                      `json:"max_evaluations" toml:"max_evaluations"`
	Tolerance      float64                  `json:"tolerance" toml:"tolerance"`
	Seed           int64                    `json:"seed" toml:"seed"`
	Workers        int                      `json:"workers" toml:"workers"`
	Store          string                   `json:"store,omitempty" toml:"store,omitempty"`
	DBPath         string                   `json:"db_path" toml:"db_path"`
	ArtifactsDir   string                   `json:"artifacts_dir" toml:"artifacts_dir"`
	Params         map[string]ParamOverride `json:"params,omitempty" toml:"params,omitempty"`
	// Hill climber settings; zero values keep the solver defaults.
	CandidateSelection string  `json:"candidate_selection,omitempty" toml:"candidate_selection,omitempty"`
	Steps              int     `json:"steps,omitempty" toml:"steps,omitempty"`
	StepSize           float64 `json:"step_size,omitempty" toml:"step_size,omitempty"`
}

// Default mirrors the stock fitting script: the difference-of-gammas
// variant sampled at 512 Hz.
func Default() Config {
	return Config{
		Variant:        model.DifferenceKernel.String(),
		Normalization:  response.Delayed.String(),
		SampleRate:     DefaultSampleRate,
		Delimiter:      "space",
		Solver:         fit.SolverNelderMead,
		MaxEvaluations: DefaultMaxEvaluations,
		Tolerance:      DefaultTolerance,
		Seed:           1,
		DBPath:         DefaultDBPath,
		ArtifactsDir:   DefaultArtifactsDir,
	}
}

// Load reads path on top of Default. The format follows the extension:
// .toml, or .json. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, key := range undecoded {
				keys[i] = key.String()
			}
			return Config{}, fmt.Errorf("decode %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q (want .toml or .json)", filepath.Ext(path))
	}
	return cfg, nil
}

// Encode writes cfg as TOML.
func Encode(w io.Writer, cfg Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// Save writes cfg to path in the format its extension names.
func Save(path string, cfg Config) error {
	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := Encode(&buf, cfg); err != nil {
			return err
		}
	case ".json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		buf.Write(append(data, '\n'))
	default:
		return fmt.Errorf("unsupported config format %q (want .toml or .json)", filepath.Ext(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func (c Config) ModelVariant() (model.Variant, error) {
	return model.ParseVariant(c.Variant)
}

func (c Config) NormalizationMode() (response.Normalization, error) {
	return response.ParseNormalization(c.Normalization)
}

func (c Config) DelimiterRune() (rune, error) {
	return dataset.ParseDelimiter(c.Delimiter)
}

// Bounds returns the variant defaults with Params applied.
func (c Config) Bounds() (model.Bounds, error) {
	v, err := c.ModelVariant()
	if err != nil {
		return model.Bounds{}, err
	}
	bounds, err := model.DefaultBounds(v)
	if err != nil {
		return model.Bounds{}, err
	}
	names := make([]string, 0, len(c.Params))
	for name := range c.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec, ok := specFor(bounds, name)
		if !ok {
			return model.Bounds{}, fmt.Errorf("unknown parameter %q for %s variant", name, v)
		}
		override := c.Params[name]
		if override.Init != nil {
			spec.Init = *override.Init
		}
		if override.Lower != nil {
			spec.Lower = *override.Lower
		}
		if override.Upper != nil {
			spec.Upper = *override.Upper
		}
		if err := bounds.Override(spec); err != nil {
			return model.Bounds{}, err
		}
	}
	if err := bounds.Validate(); err != nil {
		return model.Bounds{}, err
	}
	return bounds, nil
}

// SolverConfig returns the solver settings carried by c.
func (c Config) SolverConfig() fit.SolverConfig {
	return fit.SolverConfig{
		MaxEvaluations:     c.MaxEvaluations,
		Tolerance:          c.Tolerance,
		Seed:               c.Seed,
		CandidateSelection: c.CandidateSelection,
		Steps:              c.Steps,
		StepSize:           c.StepSize,
	}
}

// Validate checks every field that does not depend on the data files.
func (c Config) Validate() error {
	if _, err := c.ModelVariant(); err != nil {
		return err
	}
	if _, err := c.NormalizationMode(); err != nil {
		return err
	}
	if _, err := c.DelimiterRune(); err != nil {
		return err
	}
	if !(c.SampleRate > 0) {
		return fmt.Errorf("sample_rate must be > 0 (got %g)", c.SampleRate)
	}
	if _, err := fit.NewSolver(c.Solver, c.SolverConfig()); err != nil {
		return err
	}
	if c.MaxEvaluations < 0 {
		return errors.New("max_evaluations must be >= 0")
	}
	if c.Tolerance < 0 {
		return errors.New("tolerance must be >= 0")
	}
	if c.Workers < 0 {
		return errors.New("workers must be >= 0")
	}
	if _, err := c.Bounds(); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	return nil
}

// ValidateForFit additionally requires the data files a fit reads.
func (c Config) ValidateForFit() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.StimulusPath) == "" {
		return errors.New("stimulus_path is required")
	}
	if strings.TrimSpace(c.DataPath) == "" {
		return errors.New("data_path is required")
	}
	return nil
}

func specFor(b model.Bounds, name string) (model.ParamSpec, bool) {
	for _, spec := range b.Specs {
		if spec.Name == name {
			return spec, true
		}
	}
	return model.ParamSpec{}, false
}
