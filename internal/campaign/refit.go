package campaign

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoSim-25-26J-441/doe-core/internal/model"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
)

// SimulatorRefitter augments a surrogate-backed candidate's training data with
// simulator runs at each newly observed design, across a Latin hypercube of
// parameter values around the current estimate, then refits the surrogate.
// Candidates without a surrogate or without a source simulator are skipped.
type SimulatorRefitter struct {
	// Samples is the number of parameter draws per new design
	Samples int
	// Spread is the half-width of the parameter box in standard deviations
	Spread float64
	Seed   int64

	mu        sync.Mutex
	refitted  map[string]int
	rngByName map[string]*utils.RandSource
}

// NewSimulatorRefitter creates a refitter; non-positive values take defaults (5 samples, spread 3)
func NewSimulatorRefitter(samples int, spread float64, seed int64) *SimulatorRefitter {
	if samples <= 0 {
		samples = 5
	}
	if spread <= 0 {
		spread = 3
	}
	return &SimulatorRefitter{
		Samples:   samples,
		Spread:    spread,
		Seed:      seed,
		refitted:  make(map[string]int),
		rngByName: make(map[string]*utils.RandSource),
	}
}

// Reset forgets which observations have been refitted and restarts the
// parameter draws from Seed. Campaign.Reset calls it.
func (r *SimulatorRefitter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refitted = make(map[string]int)
	r.rngByName = make(map[string]*utils.RandSource)
}

// Refit adds training data for the observations not yet seen for this candidate
func (r *SimulatorRefitter) Refit(ctx context.Context, cand *model.Candidate, state *models.CampaignState) error {
	backed, ok := cand.Adapter().(*model.SurrogateBacked)
	if !ok || backed.Source() == nil || state == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.refitted[cand.ID()]
	if done >= state.Len() {
		return nil
	}
	rng, ok := r.rngByName[cand.ID()]
	if !ok {
		rng = utils.NewRandSource(r.Seed)
		r.rngByName[cand.ID()] = rng
	}

	params := cand.Params()
	lo, hi := params.Box(r.Spread)
	var inputs [][]float64
	for _, d := range state.Designs()[done:] {
		for _, u := range rng.LatinHypercube(r.Samples, params.Dim()) {
			row := make([]float64, 0, len(d)+params.Dim())
			row = append(row, d...)
			for k := range params.Mean {
				row = append(row, lo[k]+u[k]*(hi[k]-lo[k]))
			}
			inputs = append(inputs, row)
		}
	}
	outputs, err := model.EvaluateTrainingInputs(ctx, backed.Source(), inputs)
	if err != nil {
		return err
	}

	s := backed.Surrogate()
	if err := s.AddTrainingData(inputs, outputs); err != nil {
		return fmt.Errorf("add training data: %w", err)
	}
	if err := s.Fit(ctx); err != nil {
		return err
	}
	r.refitted[cand.ID()] = state.Len()
	return nil
}
