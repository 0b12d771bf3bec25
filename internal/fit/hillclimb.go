package fit

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"sync"
)

const (
	CandidateSelectBestSoFar = "best_so_far"
	CandidateSelectOriginal  = "original"
	CandidateSelectDynamic   = "dynamic"
	CandidateSelectDynamicRd = "dynamic_random"
)

func validCandidateSelection(name string) bool {
	switch name {
	case "", CandidateSelectBestSoFar, CandidateSelectOriginal, CandidateSelectDynamic, CandidateSelectDynamicRd:
		return true
	}
	return false
}

// HillClimb is an annealed random-perturbation search. Each attempt perturbs
// one or more base vectors coordinate by coordinate, with a spread that
// shrinks by AnnealingFactor per step, and keeps a candidate only when it
// beats the best cost by more than MinImprovement. Candidates are clamped to
// the bounds before they are scored.
type HillClimb struct {
	Rand     *rand.Rand
	Attempts int
	Steps    int
	// StepSize and PerturbationRange scale the spread as a fraction of each
	// parameter's bound width.
	StepSize           float64
	PerturbationRange  float64
	AnnealingFactor    float64
	MinImprovement     float64
	MaxEvaluations     int
	CandidateSelection string
	Logger             *slog.Logger
	mu                 sync.Mutex
}

// NewHillClimb returns a HillClimb with the defaults used by the CLI.
func NewHillClimb(seed int64, maxEvaluations int, logger *slog.Logger) *HillClimb {
	if maxEvaluations <= 0 {
		maxEvaluations = defaultMaxEvaluations
	}
	return &HillClimb{
		Rand:              rand.New(rand.NewSource(seed)),
		Attempts:          maxEvaluations,
		Steps:             3,
		StepSize:          0.1,
		PerturbationRange: 1,
		AnnealingFactor:   0.9,
		MaxEvaluations:    maxEvaluations,
		Logger:            logger,
	}
}

func (h *HillClimb) Name() string {
	return SolverHillClimb
}

func (h *HillClimb) Minimize(ctx context.Context, problem Problem) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if h == nil || h.Rand == nil {
		return Result{}, errors.New("random source is required")
	}
	if h.Attempts <= 0 {
		return Result{}, errors.New("attempts must be > 0")
	}
	if h.Steps <= 0 {
		return Result{}, errors.New("steps must be > 0")
	}
	if h.StepSize <= 0 {
		return Result{}, errors.New("step size must be > 0")
	}
	if h.PerturbationRange < 0 {
		return Result{}, errors.New("perturbation range must be >= 0")
	}
	if h.AnnealingFactor < 0 {
		return Result{}, errors.New("annealing factor must be >= 0")
	}
	if h.MinImprovement < 0 {
		return Result{}, errors.New("min improvement must be >= 0")
	}
	if err := problem.Validate(); err != nil {
		return Result{}, err
	}
	perturbationRange := h.PerturbationRange
	if perturbationRange == 0 {
		perturbationRange = 1.0
	}
	annealingFactor := h.AnnealingFactor
	if annealingFactor == 0 {
		annealingFactor = 1.0
	}

	track := newTracker(problem, h.Logger)
	original := problem.Bounds.Initial()
	problem.Bounds.Clamp(original)
	initialCost := track.eval(original)

	best := append([]float64(nil), original...)
	bestCost := initialCost
	recent := append([]float64(nil), best...)
	span := spans(problem.Bounds.Lower(), problem.Bounds.Upper())
	iterations := 0
	status := "IterationLimit"

	for a := 0; a < h.Attempts; a++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if h.MaxEvaluations > 0 && track.evals >= h.MaxEvaluations {
			status = "FunctionEvaluationLimit"
			break
		}
		bases, err := h.candidateBases(best, original, recent)
		if err != nil {
			return Result{}, err
		}
		localBest := append([]float64(nil), best...)
		localBestCost := bestCost
		for _, base := range bases {
			candidate := h.perturb(base, span, perturbationRange, annealingFactor)
			problem.Bounds.Clamp(candidate)
			cost := track.eval(candidate)
			if cost < localBestCost-h.MinImprovement {
				localBest = candidate
				localBestCost = cost
			}
		}
		recent = append(recent[:0], localBest...)
		if localBestCost < bestCost-h.MinImprovement {
			best = localBest
			bestCost = localBestCost
		}
		iterations++
		track.endIteration()
	}

	out, err := track.result(initialCost, iterations, status)
	if err != nil {
		return Result{}, err
	}
	track.logger.Info("fit finished",
		"solver", h.Name(),
		"status", out.Status,
		"initial_cost", out.InitialCost,
		"cost", out.Cost,
		"evaluations", out.Evaluations,
		"iterations", out.Iterations,
	)
	return out, nil
}

func (h *HillClimb) candidateBases(best, original, recent []float64) ([][]float64, error) {
	switch h.CandidateSelection {
	case "", CandidateSelectBestSoFar:
		return [][]float64{best}, nil
	case CandidateSelectOriginal:
		return [][]float64{original}, nil
	case CandidateSelectDynamic:
		return [][]float64{best, original, recent}, nil
	case CandidateSelectDynamicRd:
		pool := [][]float64{best, original, recent}
		mutationP := 1 / math.Sqrt(float64(len(pool)))
		chosen := make([][]float64, 0, len(pool))
		for _, base := range pool {
			if h.randFloat64() < mutationP {
				chosen = append(chosen, base)
			}
		}
		if len(chosen) == 0 {
			chosen = append(chosen, pool[h.randIntn(len(pool))])
		}
		return chosen, nil
	default:
		return nil, errors.New("unsupported candidate selection")
	}
}

func (h *HillClimb) perturb(base, span []float64, perturbationRange, annealingFactor float64) []float64 {
	candidate := append([]float64(nil), base...)
	for s := 0; s < h.Steps; s++ {
		idx := h.randIntn(len(candidate))
		spread := h.StepSize * perturbationRange * math.Pow(annealingFactor, float64(s))
		candidate[idx] += (h.randFloat64()*2 - 1) * spread * span[idx]
	}
	return candidate
}

func (h *HillClimb) randIntn(n int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Rand.Intn(n)
}

func (h *HillClimb) randFloat64() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Rand.Float64()
}

func spans(lower, upper []float64) []float64 {
	out := make([]float64, len(lower))
	for i := range lower {
		out[i] = upper[i] - lower[i]
	}
	return out
}
