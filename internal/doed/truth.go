package doed

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoSim-25-26J-441/doe-core/internal/catalog"
	"github.com/GoSim-25-26J-441/doe-core/internal/model"
	"github.com/GoSim-25-26J-441/doe-core/pkg/config"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
)

// TruthRunner answers experiments offline by evaluating one catalog simulator
// at fixed parameters and adding seeded Gaussian noise
type TruthRunner struct {
	mu       sync.Mutex
	sim      *model.RawSimulator
	params   []float64
	noiseStd float64
	rng      *utils.RandSource
}

// NewTruthRunner builds the runner described by the truth section of cfg
func NewTruthRunner(cfg *config.Config) (*TruthRunner, error) {
	if cfg.Truth == nil {
		return nil, fmt.Errorf("configuration has no truth section")
	}
	mc, ok := cfg.Model(cfg.Truth.Model)
	if !ok {
		return nil, fmt.Errorf("truth references unknown model: %s", cfg.Truth.Model)
	}
	sim, err := catalog.New(mc.Simulator, len(cfg.DesignSpace))
	if err != nil {
		return nil, err
	}
	params := cfg.Truth.Params
	if len(params) == 0 {
		p, err := parameters(mc)
		if err != nil {
			return nil, err
		}
		params = p.Mean
	}
	if len(params) != sim.ParamDim() {
		return nil, &models.DimensionMismatchError{What: "truth params", Expected: sim.ParamDim(), Got: len(params)}
	}
	return &TruthRunner{
		sim:      sim,
		params:   append([]float64(nil), params...),
		noiseStd: cfg.Truth.NoiseStd,
		rng:      utils.NewRandSource(cfg.Truth.Seed),
	}, nil
}

func (r *TruthRunner) RunExperiment(ctx context.Context, d models.DesignPoint) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := r.sim.Evaluate(d, r.params)
	if err != nil {
		return nil, err
	}
	if r.noiseStd == 0 {
		return out, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range out {
		out[i] += r.rng.NormFloat64(0, r.noiseStd)
	}
	return out, nil
}
