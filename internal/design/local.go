package design

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
	"gonum.org/v1/gonum/floats"
)

// unitProblem evaluates the objective on unit-cube coordinates of the design space
type unitProblem struct {
	obj   Objective
	grad  GradientObjective
	space *models.DesignSpace
}

func (p unitProblem) design(u []float64) models.DesignPoint {
	return p.space.Clamp(p.space.FromUnit(u))
}

func (p unitProblem) score(u []float64) (float64, error) {
	f, err := p.obj.Score(p.design(u))
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite score %g", f)
	}
	return f, nil
}

// gradient with respect to unit coordinates: dF/du_j = dF/dx_j * width_j
func (p unitProblem) gradient(u []float64) ([]float64, error) {
	g, err := p.grad.Gradient(p.design(u))
	if err != nil {
		return nil, err
	}
	if len(g) != len(u) {
		return nil, &models.DimensionMismatchError{What: "gradient", Expected: len(u), Got: len(g)}
	}
	out := make([]float64, len(g))
	for j, v := range g {
		out[j] = v * p.space.Bound(j).Width()
	}
	if !utils.AllFinite(out) {
		return nil, fmt.Errorf("non-finite gradient %v", g)
	}
	return out, nil
}

func projectUnit(u []float64) {
	for j, v := range u {
		u[j] = utils.Clamp(v, 0, 1)
	}
}

// projectedGradient zeroes components that push against an active bound
func projectedGradient(u, g []float64) []float64 {
	pg := make([]float64, len(g))
	for j, v := range g {
		if (u[j] <= 0 && v < 0) || (u[j] >= 1 && v > 0) {
			continue
		}
		pg[j] = v
	}
	return pg
}

type localRun struct {
	u          []float64
	score      float64
	iterations int
	converged  bool
	reason     string
	history    []Step
	err        error
}

// gradientAscent moves along the normalised projected gradient with a
// backtracking step that doubles after every accepted move
func gradientAscent(p unitProblem, u0 []float64, s Settings, conv ConvergenceStrategy) localRun {
	u := append([]float64(nil), u0...)
	f, err := p.score(u)
	if err != nil {
		return localRun{u: u, err: err}
	}
	run := localRun{u: u, score: f}
	alpha := s.StepSize
	cand := make([]float64, len(u))

	for it := 1; it <= s.MaxIterations; it++ {
		g, err := p.gradient(u)
		if err != nil {
			run.err = err
			return run
		}
		pg := projectedGradient(u, g)
		norm := floats.Norm(pg, 2)

		if norm > 0 {
			dir := append([]float64(nil), pg...)
			floats.Scale(1/norm, dir)
			accepted := false
			for alpha >= s.StepTolerance {
				floats.AddScaledTo(cand, u, alpha, dir)
				projectUnit(cand)
				fc, err := p.score(cand)
				if err != nil {
					run.err = err
					return run
				}
				if fc > f {
					copy(u, cand)
					f = fc
					accepted = true
					break
				}
				alpha /= 2
			}
			if accepted {
				alpha = math.Min(2*alpha, 1)
			}
		}

		run.iterations = it
		run.score = f
		run.history = append(run.history, Step{
			Iteration:    it,
			Score:        f,
			Design:       p.design(u),
			GradientNorm: norm,
			StepSize:     alpha,
		})
		if converged, reason := conv.CheckConvergence(run.history); converged {
			run.converged = true
			run.reason = reason
			return run
		}
	}
	run.reason = "max iterations reached"
	return run
}

// patternSearch polls ±step along every axis, moves to the best improving poll
// point and halves the step when none improves
func patternSearch(p unitProblem, u0 []float64, s Settings, conv ConvergenceStrategy) localRun {
	u := append([]float64(nil), u0...)
	f, err := p.score(u)
	if err != nil {
		return localRun{u: u, err: err}
	}
	run := localRun{u: u, score: f}
	step := s.StepSize

	for it := 1; it <= s.MaxIterations; it++ {
		var best []float64
		bestF := f
		for j := range u {
			for _, sign := range []float64{1, -1} {
				cand := append([]float64(nil), u...)
				cand[j] = utils.Clamp(u[j]+sign*step, 0, 1)
				if cand[j] == u[j] {
					continue
				}
				fc, err := p.score(cand)
				if err != nil {
					run.err = err
					return run
				}
				if fc > bestF {
					best, bestF = cand, fc
				}
			}
		}
		if best != nil {
			copy(u, best)
			f = bestF
		} else {
			step /= 2
		}

		run.iterations = it
		run.score = f
		run.history = append(run.history, Step{
			Iteration:    it,
			Score:        f,
			Design:       p.design(u),
			GradientNorm: math.NaN(),
			StepSize:     step,
		})
		if converged, reason := conv.CheckConvergence(run.history); converged {
			run.converged = true
			run.reason = reason
			return run
		}
	}
	run.reason = "max iterations reached"
	return run
}
