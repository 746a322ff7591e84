// Package design searches a bounded design space for the point that maximises a
// discrimination objective, using local searches from several starting points.
package design

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/GoSim-25-26J-441/doe-core/internal/metrics"
	"github.com/GoSim-25-26J-441/doe-core/internal/tracing"
	"github.com/GoSim-25-26J-441/doe-core/pkg/logger"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// StartResult is the outcome of the local search from one start
type StartResult struct {
	Index      int
	Start      models.DesignPoint
	Design     models.DesignPoint
	Score      float64
	Iterations int
	Converged  bool
	Reason     string
	Err        error
	History    []Step
}

// Failed reports whether the start did not converge
func (r StartResult) Failed() bool {
	return r.Err != nil
}

// Result is the outcome of a multistart optimisation
type Result struct {
	Design     models.DesignPoint
	Score      float64
	StartIndex int
	Method     Method
	Starts     []StartResult
	Duration   time.Duration
}

// FailedStarts returns the indices of starts that failed or did not converge
func (r *Result) FailedStarts() []int {
	var out []int
	for _, s := range r.Starts {
		if s.Failed() {
			out = append(out, s.Index)
		}
	}
	return out
}

// Option configures an Optimizer
type Option func(*Optimizer)

// WithLogger sets the optimizer logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) { o.logger = l }
}

// WithMetrics sets the collectors the optimizer reports to
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Optimizer) { o.metrics = m }
}

// Optimizer maximises an objective with multistart local search. It holds no
// per-run state and may be shared between goroutines.
type Optimizer struct {
	settings Settings
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewOptimizer creates an optimizer; zero settings fields take their defaults
func NewOptimizer(settings Settings, opts ...Option) (*Optimizer, error) {
	settings = settings.withDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	o := &Optimizer{settings: settings, logger: logger.Component("design")}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Settings returns the effective settings
func (o *Optimizer) Settings() Settings {
	return o.settings
}

// StartPoints returns the unit-cube starting points: the centre first, then a
// seeded Latin hypercube sample
func (o *Optimizer) StartPoints(dim int) [][]float64 {
	n := o.settings.Starts
	rng := utils.NewRandSource(o.settings.Seed)
	points := rng.LatinHypercube(n, dim)
	center := make([]float64, dim)
	for j := range center {
		center[j] = 0.5
	}
	points[0] = center
	return points
}

func (o *Optimizer) resolveMethod(obj Objective) (Method, GradientObjective, error) {
	g, ok := obj.(GradientObjective)
	differentiable := ok && g.Differentiable()
	switch o.settings.Method {
	case MethodAuto:
		if differentiable {
			return MethodGradient, g, nil
		}
		return MethodPattern, nil, nil
	case MethodGradient:
		if !differentiable {
			return "", nil, fmt.Errorf("gradient method requested but the objective is not differentiable")
		}
		return MethodGradient, g, nil
	case MethodPattern:
		return MethodPattern, nil, nil
	default:
		return "", nil, &UnknownMethodError{Method: string(o.settings.Method)}
	}
}

// Optimize runs every start to completion and returns the best converged design.
// Starts are independent; ties within TieTolerance go to the lowest start index.
// A started batch is not interrupted by ctx.
func (o *Optimizer) Optimize(ctx context.Context, obj Objective, space *models.DesignSpace) (res *Result, err error) {
	if obj == nil || space == nil {
		return nil, fmt.Errorf("objective and design space are required")
	}
	_, span := tracing.Start(ctx, "design.optimize",
		attribute.Int("design.starts", o.settings.Starts),
		attribute.Int("design.dim", space.Dim()))
	defer func() { tracing.End(span, err) }()

	method, grad, err := o.resolveMethod(obj)
	if err != nil {
		return nil, err
	}
	problem := unitProblem{obj: obj, grad: grad, space: space}
	cfg := &ConvergenceConfig{
		GradientTolerance: o.settings.GradientTolerance,
		StepTolerance:     o.settings.StepTolerance,
		PlateauTolerance:  o.settings.PlateauTolerance,
		PlateauIterations: o.settings.PlateauIterations,
		MinIterations:     2,
	}

	began := time.Now()
	starts := o.StartPoints(space.Dim())
	results := make([]StartResult, len(starts))

	var g errgroup.Group
	g.SetLimit(o.settings.Workers)
	for i, u := range starts {
		g.Go(func() error {
			results[i] = o.runStart(problem, i, u, method, cfg)
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(began)
	o.metrics.ObserveOptimization(elapsed.Seconds())

	best := o.selectBest(results)
	if best < 0 {
		nf := &NoFeasibleDesignFoundError{FailedStarts: len(results)}
		fallback := -1
		for i, r := range results {
			nf.Errors = append(nf.Errors, r.Err)
			if !math.IsNaN(r.Score) && (fallback < 0 || r.Score > results[fallback].Score) {
				fallback = i
			}
		}
		if fallback >= 0 {
			fb := results[fallback]
			nf.Fallback = &fb
		}
		o.logger.Warn("no start converged", "starts", len(results), "method", string(method))
		return nil, nf
	}

	res = &Result{
		Design:     results[best].Design.Clone(),
		Score:      results[best].Score,
		StartIndex: best,
		Method:     method,
		Starts:     results,
		Duration:   elapsed,
	}
	if failed := res.FailedStarts(); len(failed) > 0 {
		o.logger.Warn("some starts failed", "failed_starts", failed, "method", string(method))
	}
	o.logger.Debug("design optimized",
		"design", []float64(res.Design),
		"score", res.Score,
		"start", best,
		"duration", elapsed)
	span.SetAttributes(attribute.Float64("design.score", res.Score), attribute.Int("design.best_start", best))
	return res, nil
}

func (o *Optimizer) runStart(p unitProblem, index int, u []float64, method Method, cfg *ConvergenceConfig) StartResult {
	var run localRun
	switch method {
	case MethodGradient:
		run = gradientAscent(p, u, o.settings, NewCombinedStrategy(cfg))
	default:
		// step halving already reacts to a flat poll, so the plateau rule is left out
		conv := &CombinedStrategy{}
		conv.AddStrategy(NewStepSizeStrategy(cfg))
		run = patternSearch(p, u, o.settings, conv)
	}

	r := StartResult{
		Index:      index,
		Start:      p.design(u),
		Design:     p.design(run.u),
		Score:      run.score,
		Iterations: run.iterations,
		Converged:  run.converged,
		Reason:     run.reason,
		History:    run.history,
	}
	switch {
	case run.err != nil:
		r.Score = math.NaN()
		r.Converged = false
		r.Reason = "scoring failed"
		r.Err = &StartFailedError{Start: index, Err: run.err}
		o.metrics.RecordStart("failed")
		o.logger.Debug("start failed", "start", index, "error", run.err)
	case !run.converged:
		r.Err = &OptimizationDidNotConvergeError{Start: index, Iterations: run.iterations, Score: run.score}
		o.metrics.RecordStart("not_converged")
		o.logger.Debug("start did not converge", "start", index, "iterations", run.iterations, "score", run.score)
	default:
		o.metrics.RecordStart("converged")
		o.logger.Debug("start converged", "start", index, "iterations", run.iterations, "score", run.score, "reason", run.reason)
	}
	return r
}

// selectBest returns the index of the best converged start, or -1
func (o *Optimizer) selectBest(results []StartResult) int {
	best := -1
	for i, r := range results {
		if r.Failed() {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		tol := o.settings.TieTolerance * math.Max(1, math.Abs(results[best].Score))
		if r.Score > results[best].Score+tol {
			best = i
		}
	}
	return best
}
