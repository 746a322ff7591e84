package design

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
)

// Step is one iteration of a local search
type Step struct {
	Iteration    int
	Score        float64
	Design       models.DesignPoint
	GradientNorm float64 // projected gradient norm; NaN for derivative-free search
	StepSize     float64
}

// ConvergenceStrategy decides whether a local search has converged
type ConvergenceStrategy interface {
	// CheckConvergence checks if the search has converged based on history
	CheckConvergence(history []Step) (bool, string)
	// Name returns the name of the convergence strategy
	Name() string
}

// ConvergenceConfig holds the thresholds used by the strategies
type ConvergenceConfig struct {
	// GradientTolerance stops gradient ascent once the projected gradient norm falls below it
	GradientTolerance float64
	// StepTolerance stops a search once its step size in unit coordinates falls below it
	StepTolerance float64
	// PlateauTolerance is the relative score range treated as flat
	PlateauTolerance float64
	// PlateauIterations is the number of trailing iterations checked for a plateau
	PlateauIterations int
	// MinIterations is the minimum number of iterations before a plateau can be detected
	MinIterations int
}

// DefaultConvergenceConfig returns a default convergence configuration
func DefaultConvergenceConfig() *ConvergenceConfig {
	return &ConvergenceConfig{
		GradientTolerance: 1e-6,
		StepTolerance:     1e-6,
		PlateauTolerance:  1e-9,
		PlateauIterations: 5,
		MinIterations:     2,
	}
}

// GradientStrategy converges when the projected gradient vanishes
type GradientStrategy struct {
	config *ConvergenceConfig
}

// NewGradientStrategy creates a gradient-norm convergence strategy
func NewGradientStrategy(config *ConvergenceConfig) *GradientStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &GradientStrategy{config: config}
}

func (s *GradientStrategy) Name() string {
	return "gradient_norm"
}

func (s *GradientStrategy) CheckConvergence(history []Step) (bool, string) {
	if len(history) == 0 {
		return false, ""
	}
	last := history[len(history)-1]
	if math.IsNaN(last.GradientNorm) {
		return false, ""
	}
	if last.GradientNorm < s.config.GradientTolerance {
		return true, fmt.Sprintf("projected gradient norm %.3g below %.3g", last.GradientNorm, s.config.GradientTolerance)
	}
	return false, ""
}

// StepSizeStrategy converges when the search step has collapsed
type StepSizeStrategy struct {
	config *ConvergenceConfig
}

// NewStepSizeStrategy creates a step-size convergence strategy
func NewStepSizeStrategy(config *ConvergenceConfig) *StepSizeStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &StepSizeStrategy{config: config}
}

func (s *StepSizeStrategy) Name() string {
	return "step_size"
}

func (s *StepSizeStrategy) CheckConvergence(history []Step) (bool, string) {
	if len(history) == 0 {
		return false, ""
	}
	last := history[len(history)-1]
	if last.StepSize < s.config.StepTolerance {
		return true, fmt.Sprintf("step size %.3g below %.3g", last.StepSize, s.config.StepTolerance)
	}
	return false, ""
}

// PlateauStrategy converges when the score has stopped changing
type PlateauStrategy struct {
	config *ConvergenceConfig
}

// NewPlateauStrategy creates a new plateau convergence strategy
func NewPlateauStrategy(config *ConvergenceConfig) *PlateauStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &PlateauStrategy{config: config}
}

func (s *PlateauStrategy) Name() string {
	return "plateau"
}

func (s *PlateauStrategy) CheckConvergence(history []Step) (bool, string) {
	if len(history) < s.config.MinIterations || len(history) < s.config.PlateauIterations {
		return false, ""
	}

	recent := history[len(history)-s.config.PlateauIterations:]
	lo, hi := recent[0].Score, recent[0].Score
	for _, step := range recent {
		lo = math.Min(lo, step.Score)
		hi = math.Max(hi, step.Score)
	}

	// relative to the score magnitude so large divergences plateau too
	scale := math.Max(1, math.Abs(hi))
	if hi-lo <= s.config.PlateauTolerance*scale {
		return true, fmt.Sprintf("score plateaued for %d iterations (range: %.6g)", s.config.PlateauIterations, hi-lo)
	}
	return false, ""
}

// CombinedStrategy converges as soon as any of its strategies does
type CombinedStrategy struct {
	strategies []ConvergenceStrategy
}

// NewCombinedStrategy combines the gradient, step size and plateau strategies
func NewCombinedStrategy(config *ConvergenceConfig) *CombinedStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &CombinedStrategy{
		strategies: []ConvergenceStrategy{
			NewGradientStrategy(config),
			NewStepSizeStrategy(config),
			NewPlateauStrategy(config),
		},
	}
}

func (s *CombinedStrategy) Name() string {
	return "combined"
}

func (s *CombinedStrategy) CheckConvergence(history []Step) (bool, string) {
	for _, strategy := range s.strategies {
		if converged, reason := strategy.CheckConvergence(history); converged {
			return true, fmt.Sprintf("%s: %s", strategy.Name(), reason)
		}
	}
	return false, ""
}

// AddStrategy adds a custom strategy to the combined strategy
func (s *CombinedStrategy) AddStrategy(strategy ConvergenceStrategy) {
	s.strategies = append(s.strategies, strategy)
}
