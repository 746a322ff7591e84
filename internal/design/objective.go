package design

import "github.com/GoSim-25-26J-441/doe-core/pkg/models"

// Objective is the function maximised over the design space
type Objective interface {
	Score(d models.DesignPoint) (float64, error)
}

// GradientObjective can also provide the score gradient
type GradientObjective interface {
	Objective
	Gradient(d models.DesignPoint) ([]float64, error)
	Differentiable() bool
}

// ObjectiveFunc adapts a plain function to Objective
type ObjectiveFunc func(d models.DesignPoint) (float64, error)

func (f ObjectiveFunc) Score(d models.DesignPoint) (float64, error) {
	return f(d)
}

// GradientFunc pairs a score function with its gradient
type GradientFunc struct {
	Func func(d models.DesignPoint) (float64, error)
	Grad func(d models.DesignPoint) ([]float64, error)
}

func (g GradientFunc) Score(d models.DesignPoint) (float64, error) {
	return g.Func(d)
}

func (g GradientFunc) Gradient(d models.DesignPoint) ([]float64, error) {
	return g.Grad(d)
}

func (g GradientFunc) Differentiable() bool {
	return g.Grad != nil
}
