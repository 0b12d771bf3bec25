package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"dnfit/internal/config"
	"dnfit/internal/model"
	"dnfit/internal/storage"
	dnapi "dnfit/pkg/dnfit"
)

func overrideFromFlags(cfg *config.Config, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			cfg.RunID = v.(string)
		case "variant":
			cfg.Variant = v.(string)
		case "normalization":
			cfg.Normalization = v.(string)
		case "sample-rate":
			cfg.SampleRate = v.(float64)
		case "stimulus":
			cfg.StimulusPath = v.(string)
		case "data":
			cfg.DataPath = v.(string)
		case "delimiter":
			cfg.Delimiter = v.(string)
		case "solver":
			cfg.Solver = v.(string)
		case "max-evals":
			cfg.MaxEvaluations = v.(int)
		case "tolerance":
			cfg.Tolerance = v.(float64)
		case "seed":
			cfg.Seed = v.(int64)
		case "candidate-selection":
			cfg.CandidateSelection = v.(string)
		case "steps":
			cfg.Steps = v.(int)
		case "step-size":
			cfg.StepSize = v.(float64)
		case "workers":
			cfg.Workers = v.(int)
		case "store":
			cfg.Store = v.(string)
		case "db-path":
			cfg.DBPath = v.(string)
		case "artifacts-dir":
			cfg.ArtifactsDir = v.(string)
		default:
			return fmt.Errorf("unsupported override flag: %s", name)
		}
	}
	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func newClient(cfg config.Config, logger *slog.Logger) (*dnapi.Client, error) {
	storeKind := cfg.Store
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	return dnapi.New(dnapi.Options{
		StoreKind:    storeKind,
		DBPath:       cfg.DBPath,
		ArtifactsDir: cfg.ArtifactsDir,
		Logger:       logger,
	})
}

// parseParams starts from the variant's default initial values and applies
// comma separated name=value pairs.
func parseParams(v model.Variant, spec string) (model.Params, error) {
	bounds, err := model.DefaultBounds(v)
	if err != nil {
		return nil, err
	}
	base, err := bounds.InitialParams()
	if err != nil {
		return nil, err
	}
	return applyParamOverrides(base, spec)
}

func applyParamOverrides(base model.Params, spec string) (model.Params, error) {
	values := model.ToMap(base)
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid param %q (want name=value)", pair)
		}
		name = strings.TrimSpace(name)
		if _, known := values[name]; !known {
			return nil, fmt.Errorf("unknown parameter %q for %s variant", name, base.Variant())
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", name, err)
		}
		values[name] = value
	}
	return model.FromMap(base.Variant(), values)
}

// resolveParams takes the fitted values of runID when set, otherwise the
// variant defaults, and applies the overrides in spec on top.
func resolveParams(ctx context.Context, client *dnapi.Client, runID, variantName, spec string) (model.Params, error) {
	if runID != "" {
		record, err := client.Show(ctx, runID)
		if err != nil {
			return nil, err
		}
		params, err := record.FitParams()
		if err != nil {
			return nil, err
		}
		return applyParamOverrides(params, spec)
	}
	v, err := model.ParseVariant(variantName)
	if err != nil {
		return nil, err
	}
	return parseParams(v, spec)
}
