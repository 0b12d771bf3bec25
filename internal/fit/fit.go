// Package fit drives a bounded minimizer over the objective of a fitting
// problem.
package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"dnfit/internal/model"
	"dnfit/internal/objective"
)

const (
	SolverNelderMead = "nelder-mead"
	SolverHillClimb  = "hillclimb"
)

// Problem pairs a parameter table with the objective it is fitted against.
type Problem struct {
	Bounds    model.Bounds
	Objective *objective.Objective
}

func (p Problem) Validate() error {
	if p.Objective == nil {
		return errors.New("objective is required")
	}
	if err := p.Bounds.Validate(); err != nil {
		return fmt.Errorf("bounds: %w", err)
	}
	if p.Bounds.Variant != p.Objective.Variant() {
		return fmt.Errorf("bounds are for %s variant, objective is %s", p.Bounds.Variant, p.Objective.Variant())
	}
	return nil
}

// Result is the outcome of one minimization. X always lies inside the
// problem bounds.
type Result struct {
	Params      model.Params
	X           []float64
	Cost        float64
	InitialCost float64
	Evaluations int
	Iterations  int
	Status      string
	// History is the best cost seen after each solver iteration.
	History []float64
}

// Solver minimizes a problem's objective inside its bounds.
type Solver interface {
	Name() string
	Minimize(ctx context.Context, problem Problem) (Result, error)
}

// SolverConfig carries the knobs shared by the solver factory.
// CandidateSelection, Steps and StepSize only apply to the hill climber; zero
// values keep its defaults.
type SolverConfig struct {
	MaxEvaluations     int
	Tolerance          float64
	Seed               int64
	CandidateSelection string
	Steps              int
	StepSize           float64
	Logger             *slog.Logger
}

// NewSolver builds a solver by name.
func NewSolver(name string, cfg SolverConfig) (Solver, error) {
	if !validCandidateSelection(cfg.CandidateSelection) {
		return nil, fmt.Errorf("unsupported candidate selection: %s", cfg.CandidateSelection)
	}
	if cfg.Steps < 0 {
		return nil, fmt.Errorf("steps must be non-negative, got %d", cfg.Steps)
	}
	if cfg.StepSize < 0 || math.IsNaN(cfg.StepSize) || math.IsInf(cfg.StepSize, 0) {
		return nil, fmt.Errorf("step size must be finite and non-negative, got %v", cfg.StepSize)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SolverNelderMead, "neldermead", "nm":
		return &NelderMead{
			MaxEvaluations: cfg.MaxEvaluations,
			Tolerance:      cfg.Tolerance,
			Logger:         cfg.Logger,
		}, nil
	case SolverHillClimb, "hill-climb", "exoself":
		h := NewHillClimb(cfg.Seed, cfg.MaxEvaluations, cfg.Logger)
		h.CandidateSelection = cfg.CandidateSelection
		if cfg.Steps > 0 {
			h.Steps = cfg.Steps
		}
		if cfg.StepSize > 0 {
			h.StepSize = cfg.StepSize
		}
		return h, nil
	default:
		return nil, fmt.Errorf("unsupported solver: %s", name)
	}
}

// tracker counts evaluations and remembers the best in-box point.
type tracker struct {
	problem  Problem
	evals    int
	best     []float64
	bestCost float64
	history  []float64
	logger   *slog.Logger
}

func newTracker(problem Problem, logger *slog.Logger) *tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &tracker{problem: problem, bestCost: math.Inf(1), logger: logger}
}

// eval scores an in-box vector and records it if it improves on the best.
func (t *tracker) eval(x []float64) float64 {
	t.evals++
	cost := t.problem.Objective.Func(x)
	if cost < t.bestCost {
		t.bestCost = cost
		t.best = append(t.best[:0], x...)
		t.logger.Debug("fit improved", "evaluation", t.evals, "cost", cost)
	}
	return cost
}

func (t *tracker) endIteration() {
	t.history = append(t.history, t.bestCost)
}

func (t *tracker) result(initialCost float64, iterations int, status string) (Result, error) {
	if t.best == nil {
		return Result{}, errors.New("solver finished without evaluating the objective")
	}
	x := append([]float64(nil), t.best...)
	params, err := model.FromVector(t.problem.Bounds.Variant, x)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Params:      params,
		X:           x,
		Cost:        t.bestCost,
		InitialCost: initialCost,
		Evaluations: t.evals,
		Iterations:  iterations,
		Status:      status,
		History:     append([]float64(nil), t.history...),
	}, nil
}
