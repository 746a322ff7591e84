package campaign

import (
	"context"
	"fmt"

	"github.com/GoSim-25-26J-441/doe-core/internal/model"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
)

// ExperimentRunner runs one experiment at a design and returns the observed outputs
type ExperimentRunner interface {
	RunExperiment(ctx context.Context, design models.DesignPoint) ([]float64, error)
}

// RunnerFunc adapts a function to ExperimentRunner
type RunnerFunc func(ctx context.Context, design models.DesignPoint) ([]float64, error)

func (f RunnerFunc) RunExperiment(ctx context.Context, design models.DesignPoint) ([]float64, error) {
	return f(ctx, design)
}

// Calibrator returns an updated parameter distribution for a model given every
// observation so far. The state must not be modified.
type Calibrator interface {
	UpdateParameters(ctx context.Context, modelID string, state *models.CampaignState) (models.ParameterDistribution, error)
}

// CalibratorFunc adapts a function to Calibrator
type CalibratorFunc func(ctx context.Context, modelID string, state *models.CampaignState) (models.ParameterDistribution, error)

func (f CalibratorFunc) UpdateParameters(ctx context.Context, modelID string, state *models.CampaignState) (models.ParameterDistribution, error) {
	return f(ctx, modelID, state)
}

// Refitter updates a candidate's surrogate after a new observation
type Refitter interface {
	Refit(ctx context.Context, cand *model.Candidate, state *models.CampaignState) error
}

// resetter is implemented by refitters that track which observations they have seen
type resetter interface {
	Reset()
}

// StaticCalibrator keeps every model's current parameter distribution
type StaticCalibrator struct {
	candidates map[string]*model.Candidate
}

// NewStaticCalibrator creates a calibrator over the given candidates
func NewStaticCalibrator(candidates []*model.Candidate) *StaticCalibrator {
	return &StaticCalibrator{candidates: indexCandidates(candidates)}
}

func (s *StaticCalibrator) UpdateParameters(_ context.Context, modelID string, _ *models.CampaignState) (models.ParameterDistribution, error) {
	c, ok := s.candidates[modelID]
	if !ok {
		return models.ParameterDistribution{}, fmt.Errorf("unknown model %q", modelID)
	}
	return c.Params(), nil
}

func indexCandidates(candidates []*model.Candidate) map[string]*model.Candidate {
	out := make(map[string]*model.Candidate, len(candidates))
	for _, c := range candidates {
		out[c.ID()] = c
	}
	return out
}
