package model

import (
	"context"
	"fmt"

	"github.com/GoSim-25-26J-441/doe-core/internal/metrics"
	"github.com/GoSim-25-26J-441/doe-core/internal/surrogate"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
)

// TrainingConfig controls how simulator samples are drawn to train a surrogate
type TrainingConfig struct {
	// Points is the number of (design, params) samples; raised to 10×input dim when smaller
	Points int
	// ParamSpread is the half-width of the parameter box in standard deviations
	ParamSpread float64
	Seed        int64
	Surrogate   surrogate.Options
	// Hyperparameters, when set, fix the kernel of each output instead of fitting it
	Hyperparameters []surrogate.Hyperparameters
}

func (c TrainingConfig) withDefaults(inputDim int) TrainingConfig {
	if c.Points < 10*inputDim {
		c.Points = 10 * inputDim
	}
	if c.ParamSpread <= 0 {
		c.ParamSpread = 3
	}
	return c
}

// SampleTrainingInputs draws a Latin hypercube over the design space and the
// parameter box (see ParameterDistribution.Box), returning [design..., params...] rows
func SampleTrainingInputs(space *models.DesignSpace, params models.ParameterDistribution, n int, spread float64, rng *utils.RandSource) [][]float64 {
	dd, pd := space.Dim(), params.Dim()
	lo, hi := params.Box(spread)
	unit := rng.LatinHypercube(n, dd+pd)
	rows := make([][]float64, n)
	for i, u := range unit {
		row := make([]float64, 0, dd+pd)
		row = append(row, space.FromUnit(u[:dd])...)
		for k := 0; k < pd; k++ {
			row = append(row, lo[k]+u[dd+k]*(hi[k]-lo[k]))
		}
		rows[i] = row
	}
	return rows
}

// EvaluateTrainingInputs runs sim on every [design..., params...] row
func EvaluateTrainingInputs(ctx context.Context, sim *RawSimulator, inputs [][]float64) ([][]float64, error) {
	dd := sim.DesignDim()
	outputs := make([][]float64, len(inputs))
	for i, x := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		y, err := sim.Evaluate(x[:dd], x[dd:])
		if err != nil {
			return nil, fmt.Errorf("training sample %d: %w", i, err)
		}
		outputs[i] = y
	}
	return outputs, nil
}

// TrainFromSimulator samples sim around the parameter distribution, fits a GP
// surrogate and returns it as an adapter
func TrainFromSimulator(ctx context.Context, sim *RawSimulator, space *models.DesignSpace, params models.ParameterDistribution, cfg TrainingConfig, m *metrics.Metrics) (*SurrogateBacked, error) {
	if space.Dim() != sim.DesignDim() {
		return nil, &models.DimensionMismatchError{What: "design space", Expected: sim.DesignDim(), Got: space.Dim()}
	}
	if err := checkParams(sim, params); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults(sim.DesignDim() + sim.ParamDim())
	rng := utils.NewRandSource(cfg.Seed)
	inputs := SampleTrainingInputs(space, params, cfg.Points, cfg.ParamSpread, rng)
	outputs, err := EvaluateTrainingInputs(ctx, sim, inputs)
	if err != nil {
		return nil, err
	}

	s := surrogate.New(cfg.Surrogate, m)
	if cfg.Hyperparameters != nil {
		s.LoadHyperparameters(cfg.Hyperparameters)
	}
	if err := s.FitData(ctx, inputs, outputs); err != nil {
		return nil, fmt.Errorf("train surrogate for %s: %w", sim.Name(), err)
	}
	b, err := NewSurrogateBacked(sim.Name(), sim.DesignDim(), sim.ParamDim(), s)
	if err != nil {
		return nil, err
	}
	b.source = sim
	return b, nil
}
