package fit

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"dnfit/internal/model"
	"dnfit/internal/objective"
	"dnfit/internal/response"
)

var truth = model.SingleKernelParams{Tau: 0.03, Weight: 0, Shift: 0.02, Scale: 3, N: 2, Sigma: 0.1, TauA: 0.1}

func syntheticObjective(t *testing.T, params model.Params) *objective.Objective {
	t.Helper()
	const samples, n, rate = 3, 80, 100.0
	stim := mat.NewDense(samples, n, nil)
	observed := mat.NewDense(samples, n, nil)
	for s := 0; s < samples; s++ {
		for i := 5 + 4*s; i < 30+4*s; i++ {
			stim.Set(s, i, 1)
		}
		pred, err := response.ComputeModel(mat.Row(nil, s, stim), rate, params, response.Delayed)
		if err != nil {
			t.Fatalf("simulate: %v", err)
		}
		observed.SetRow(s, pred)
	}
	o, err := objective.New(stim, observed, rate, params.Variant(), objective.Options{})
	if err != nil {
		t.Fatalf("new objective: %v", err)
	}
	return o
}

// scaleOnlyBounds pins every parameter to the truth except scale.
func scaleOnlyBounds(t *testing.T) model.Bounds {
	t.Helper()
	b, err := model.DefaultBounds(model.SingleKernel)
	if err != nil {
		t.Fatalf("default bounds: %v", err)
	}
	for name, v := range model.ToMap(truth) {
		spec := model.ParamSpec{Name: name, Init: v, Lower: v, Upper: v}
		if name == "scale" {
			spec = model.ParamSpec{Name: name, Init: 1, Lower: 0.1, Upper: 10}
		}
		if err := b.Override(spec); err != nil {
			t.Fatalf("override %s: %v", name, err)
		}
	}
	return b
}

func TestNelderMeadRecoversScale(t *testing.T) {
	problem := Problem{Bounds: scaleOnlyBounds(t), Objective: syntheticObjective(t, truth)}
	solver := &NelderMead{MaxEvaluations: 2000}
	res, err := solver.Minimize(context.Background(), problem)
	if err != nil {
		t.Fatalf("minimize: %v", err)
	}
	got := res.Params.(model.SingleKernelParams)
	if math.Abs(got.Scale-truth.Scale) > 1e-3 {
		t.Fatalf("expected scale near %v, got %v", truth.Scale, got.Scale)
	}
	if res.Cost >= res.InitialCost {
		t.Fatalf("expected cost to drop: initial=%v final=%v", res.InitialCost, res.Cost)
	}
	if got.Tau != truth.Tau || got.TauA != truth.TauA {
		t.Fatalf("pinned parameters moved: %+v", got)
	}
	if res.Evaluations == 0 || len(res.History) == 0 {
		t.Fatalf("expected evaluations and history, got %d and %d", res.Evaluations, len(res.History))
	}
	for i := 1; i < len(res.History); i++ {
		if res.History[i] > res.History[i-1] {
			t.Fatalf("best-cost history increased at %d", i)
		}
	}
}

func TestNelderMeadStaysInBounds(t *testing.T) {
	// The optimum scale of 3 lies above the upper bound.
	b := scaleOnlyBounds(t)
	if err := b.Override(model.ParamSpec{Name: "scale", Init: 1, Lower: 0.5, Upper: 2}); err != nil {
		t.Fatalf("override: %v", err)
	}
	problem := Problem{Bounds: b, Objective: syntheticObjective(t, truth)}
	res, err := (&NelderMead{MaxEvaluations: 1000}).Minimize(context.Background(), problem)
	if err != nil {
		t.Fatalf("minimize: %v", err)
	}
	if !b.Contains(res.X) {
		t.Fatalf("result outside bounds: %v", res.X)
	}
	if got := res.Params.(model.SingleKernelParams).Scale; math.Abs(got-2) > 1e-3 {
		t.Fatalf("expected scale pinned at upper bound, got %v", got)
	}
}

func TestHillClimbImproves(t *testing.T) {
	problem := Problem{Bounds: scaleOnlyBounds(t), Objective: syntheticObjective(t, truth)}
	solver := NewHillClimb(11, 400, nil)
	res, err := solver.Minimize(context.Background(), problem)
	if err != nil {
		t.Fatalf("minimize: %v", err)
	}
	if res.Cost >= res.InitialCost {
		t.Fatalf("expected cost to drop: initial=%v final=%v", res.InitialCost, res.Cost)
	}
	if got := res.Params.(model.SingleKernelParams).Scale; math.Abs(got-truth.Scale) > 0.1 {
		t.Fatalf("expected scale near %v, got %v", truth.Scale, got)
	}
	if !problem.Bounds.Contains(res.X) {
		t.Fatalf("result outside bounds: %v", res.X)
	}
	if res.Evaluations > solver.MaxEvaluations+1 {
		t.Fatalf("evaluation budget exceeded: %d", res.Evaluations)
	}
}

func TestHillClimbValidation(t *testing.T) {
	problem := Problem{Bounds: scaleOnlyBounds(t), Objective: syntheticObjective(t, truth)}
	cases := map[string]*HillClimb{
		"nil rand":  {Attempts: 1, Steps: 1, StepSize: 0.1},
		"no steps":  {Rand: rand.New(rand.NewSource(1)), Attempts: 1, StepSize: 0.1},
		"step size": {Rand: rand.New(rand.NewSource(1)), Attempts: 1, Steps: 1},
		"selection": {Rand: rand.New(rand.NewSource(1)), Attempts: 1, Steps: 1, StepSize: 0.1, CandidateSelection: "bogus"},
	}
	for name, h := range cases {
		if _, err := h.Minimize(context.Background(), problem); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestHillClimbCandidateSelections(t *testing.T) {
	problem := Problem{Bounds: scaleOnlyBounds(t), Objective: syntheticObjective(t, truth)}
	for _, mode := range []string{CandidateSelectBestSoFar, CandidateSelectOriginal, CandidateSelectDynamic, CandidateSelectDynamicRd} {
		h := NewHillClimb(3, 50, nil)
		h.CandidateSelection = mode
		res, err := h.Minimize(context.Background(), problem)
		if err != nil {
			t.Fatalf("%s: minimize: %v", mode, err)
		}
		if res.Cost > res.InitialCost {
			t.Fatalf("%s: best cost worse than initial", mode)
		}
	}
}

func TestMinimizeHonoursCancellation(t *testing.T) {
	problem := Problem{Bounds: scaleOnlyBounds(t), Objective: syntheticObjective(t, truth)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, s := range []Solver{&NelderMead{}, NewHillClimb(1, 10, nil)} {
		if _, err := s.Minimize(ctx, problem); !errors.Is(err, context.Canceled) {
			t.Fatalf("%s: expected context.Canceled, got %v", s.Name(), err)
		}
	}
}

func TestProblemValidation(t *testing.T) {
	if err := (Problem{Bounds: scaleOnlyBounds(t)}).Validate(); err == nil {
		t.Fatal("expected missing objective error")
	}
	diff, err := model.DefaultBounds(model.DifferenceKernel)
	if err != nil {
		t.Fatalf("default bounds: %v", err)
	}
	if err := (Problem{Bounds: diff, Objective: syntheticObjective(t, truth)}).Validate(); err == nil {
		t.Fatal("expected variant mismatch error")
	}
}

func TestNewSolver(t *testing.T) {
	for name, want := range map[string]string{"": SolverNelderMead, "Nelder-Mead": SolverNelderMead, "hillclimb": SolverHillClimb, "exoself": SolverHillClimb} {
		s, err := NewSolver(name, SolverConfig{Seed: 1})
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if s.Name() != want {
			t.Fatalf("%q: got %s want %s", name, s.Name(), want)
		}
	}
	if _, err := NewSolver("bfgs", SolverConfig{}); err == nil {
		t.Fatal("expected unsupported solver error")
	}
}

func TestNewSolverAppliesHillClimbSettings(t *testing.T) {
	s, err := NewSolver(SolverHillClimb, SolverConfig{
		Seed:               1,
		CandidateSelection: CandidateSelectDynamicRd,
		Steps:              5,
		StepSize:           0.25,
	})
	if err != nil {
		t.Fatalf("new solver: %v", err)
	}
	h, ok := s.(*HillClimb)
	if !ok {
		t.Fatalf("expected *HillClimb, got %T", s)
	}
	if h.CandidateSelection != CandidateSelectDynamicRd || h.Steps != 5 || h.StepSize != 0.25 {
		t.Fatalf("settings not applied: selection=%s steps=%d step_size=%v", h.CandidateSelection, h.Steps, h.StepSize)
	}

	s, err = NewSolver(SolverHillClimb, SolverConfig{Seed: 1})
	if err != nil {
		t.Fatalf("new solver: %v", err)
	}
	h = s.(*HillClimb)
	if h.Steps != 3 || h.StepSize != 0.1 {
		t.Fatalf("zero settings should keep defaults: steps=%d step_size=%v", h.Steps, h.StepSize)
	}

	for _, cfg := range []SolverConfig{
		{CandidateSelection: "tournament"},
		{Steps: -1},
		{StepSize: -0.1},
	} {
		if _, err := NewSolver(SolverHillClimb, cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}

func TestUnitBoxProjection(t *testing.T) {
	box := newUnitBox([]float64{0, 10, 5}, []float64{1, 20, 5})
	x := make([]float64, 3)
	if d := box.toX(x, []float64{0.5, 0.25, 0.7}); d != 0 {
		t.Fatalf("in-box point penalised: %v", d)
	}
	if x[0] != 0.5 || x[1] != 12.5 || x[2] != 5 {
		t.Fatalf("unexpected mapping %v", x)
	}
	if d := box.toX(x, []float64{-0.5, 1.5, 0}); math.Abs(d-0.5) > 1e-12 {
		t.Fatalf("expected squared distance 0.5, got %v", d)
	}
	if x[0] != 0 || x[1] != 20 {
		t.Fatalf("expected projection onto the box, got %v", x)
	}
	u := box.toU([]float64{0.25, 15, 5})
	if u[0] != 0.25 || u[1] != 0.5 || u[2] != 0 {
		t.Fatalf("unexpected inverse mapping %v", u)
	}
}
