package fit

import (
	"context"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/optimize"
)

const (
	defaultMaxEvaluations = 2000
	defaultTolerance      = 1e-10
	defaultSimplexSize    = 0.1
)

// NelderMead runs gonum's simplex search in unit-box coordinates
// u in [0,1]^k, mapped to lower + u*(upper-lower). Points the simplex places
// outside the box are projected onto it and pay a quadratic penalty, so every
// objective evaluation uses an in-bounds parameter vector.
type NelderMead struct {
	MaxEvaluations int
	// Tolerance is the absolute change in best cost below which the search
	// counts as converged.
	Tolerance   float64
	SimplexSize float64
	Logger      *slog.Logger
}

func (n *NelderMead) Name() string {
	return SolverNelderMead
}

func (n *NelderMead) Minimize(ctx context.Context, problem Problem) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := problem.Validate(); err != nil {
		return Result{}, err
	}
	maxEvals := n.MaxEvaluations
	if maxEvals <= 0 {
		maxEvals = defaultMaxEvaluations
	}
	tolerance := n.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	simplexSize := n.SimplexSize
	if simplexSize <= 0 {
		simplexSize = defaultSimplexSize
	}

	box := newUnitBox(problem.Bounds.Lower(), problem.Bounds.Upper())
	track := newTracker(problem, n.Logger)
	initialCost := track.eval(problem.Bounds.Initial())

	x := make([]float64, box.dim())
	p := optimize.Problem{
		Func: func(u []float64) float64 {
			dist := box.toX(x, u)
			cost := track.eval(x)
			if dist > 0 {
				cost += (1 + math.Abs(cost)) * dist
			}
			return cost
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: maxEvals,
		Converger: &contextConverger{
			ctx: ctx,
			inner: &optimize.FunctionConverge{
				Absolute:   tolerance,
				Iterations: 50,
			},
			onIteration: track.endIteration,
		},
	}

	res, err := optimize.Minimize(p, box.toU(problem.Bounds.Initial()), settings, &optimize.NelderMead{SimplexSize: simplexSize})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	status := "unknown"
	iterations := 0
	if res != nil {
		status = res.Status.String()
		iterations = res.Stats.MajorIterations
	}
	if err != nil {
		if track.best == nil {
			return Result{}, err
		}
		track.logger.Warn("nelder-mead stopped early", "status", status, "err", err)
	}

	out, err := track.result(initialCost, iterations, status)
	if err != nil {
		return Result{}, err
	}
	track.logger.Info("fit finished",
		"solver", n.Name(),
		"status", out.Status,
		"initial_cost", out.InitialCost,
		"cost", out.Cost,
		"evaluations", out.Evaluations,
		"iterations", out.Iterations,
	)
	return out, nil
}

// contextConverger stops the search when ctx is done and otherwise defers to
// inner.
type contextConverger struct {
	ctx         context.Context
	inner       optimize.Converger
	onIteration func()
}

func (c *contextConverger) Init(dim int) {
	c.inner.Init(dim)
}

func (c *contextConverger) Converged(loc *optimize.Location) optimize.Status {
	if c.onIteration != nil {
		c.onIteration()
	}
	if c.ctx.Err() != nil {
		return optimize.Failure
	}
	return c.inner.Converged(loc)
}

type unitBox struct {
	lower []float64
	span  []float64
}

func newUnitBox(lower, upper []float64) unitBox {
	return unitBox{lower: lower, span: spans(lower, upper)}
}

func (b unitBox) dim() int { return len(b.lower) }

func (b unitBox) toU(x []float64) []float64 {
	u := make([]float64, len(x))
	for i := range x {
		if b.span[i] == 0 {
			continue
		}
		u[i] = (x[i] - b.lower[i]) / b.span[i]
	}
	return u
}

// toX writes the projected parameter vector for u into dst and returns the
// squared distance between u and the unit box.
func (b unitBox) toX(dst, u []float64) float64 {
	var dist float64
	for i := range u {
		ui := u[i]
		clamped := math.Max(0, math.Min(1, ui))
		if math.IsNaN(ui) {
			clamped = 0.5
			dist += 1
		} else {
			dist += (ui - clamped) * (ui - clamped)
		}
		dst[i] = b.lower[i] + clamped*b.span[i]
	}
	return dist
}
