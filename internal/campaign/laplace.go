package campaign

import (
	"context"
	"fmt"

	"github.com/GoSim-25-26J-441/doe-core/internal/linalg"
	"github.com/GoSim-25-26J-441/doe-core/internal/model"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
	"gonum.org/v1/gonum/mat"
)

// PointEstimator supplies a parameter point estimate from the observations
type PointEstimator interface {
	Estimate(ctx context.Context, cand *model.Candidate, state *models.CampaignState) ([]float64, error)
}

// LaplaceCalibrator keeps a point estimate and replaces the parameter covariance
// with the inverse Fisher information over every observed design:
//
//	Σθ = (Σ_k J_kᵀ R_k⁻¹ J_k)⁻¹
//
// where J_k is the output Jacobian at design k and R_k the model covariance plus
// measurement noise. The point estimate is the current mean unless an estimator is set.
type LaplaceCalibrator struct {
	candidates map[string]*model.Candidate
	estimator  PointEstimator
	jitter     utils.JitterSchedule
}

// NewLaplaceCalibrator creates a calibrator; est may be nil
func NewLaplaceCalibrator(candidates []*model.Candidate, est PointEstimator, sched utils.JitterSchedule) *LaplaceCalibrator {
	if sched.Attempts <= 0 {
		sched = utils.DefaultJitterSchedule()
	}
	return &LaplaceCalibrator{candidates: indexCandidates(candidates), estimator: est, jitter: sched}
}

func (l *LaplaceCalibrator) UpdateParameters(ctx context.Context, modelID string, state *models.CampaignState) (models.ParameterDistribution, error) {
	c, ok := l.candidates[modelID]
	if !ok {
		return models.ParameterDistribution{}, fmt.Errorf("unknown model %q", modelID)
	}
	current := c.Params()
	if state == nil || state.Len() == 0 || current.Dim() == 0 {
		return current, nil
	}

	mean := current.Mean
	if l.estimator != nil {
		est, err := l.estimator.Estimate(ctx, c, state)
		if err != nil {
			return models.ParameterDistribution{}, fmt.Errorf("point estimate: %w", err)
		}
		if len(est) != len(mean) {
			return models.ParameterDistribution{}, &models.DimensionMismatchError{What: "point estimate", Expected: len(mean), Got: len(est)}
		}
		mean = est
	}

	a := c.Adapter()
	p := len(mean)
	noise := c.MeasNoiseVar()
	fisher := mat.NewSymDense(p, nil)
	for i, obs := range state.Observations {
		if err := ctx.Err(); err != nil {
			return models.ParameterDistribution{}, err
		}
		pred, err := a.Predict(obs.Design, mean)
		if err != nil {
			return models.ParameterDistribution{}, fmt.Errorf("observation %d: %w", i, err)
		}
		j, err := model.ParamJacobian(a, obs.Design, mean)
		if err != nil {
			return models.ParameterDistribution{}, fmt.Errorf("observation %d: %w", i, err)
		}
		r := mat.NewSymDense(pred.Dim(), nil)
		r.CopySym(pred.Cov)
		linalg.AddDiag(r, noise)
		chol, _, err := linalg.Factorize(r, l.jitter)
		if err != nil {
			return models.ParameterDistribution{}, fmt.Errorf("observation %d noise covariance: %w", i, err)
		}
		rinv, err := linalg.Inverse(chol)
		if err != nil {
			return models.ParameterDistribution{}, err
		}
		fisher.AddSym(fisher, linalg.Sandwich(j.T(), rinv))
	}

	chol, _, err := linalg.Factorize(fisher, l.jitter)
	if err != nil {
		return models.ParameterDistribution{}, fmt.Errorf("fisher information: %w", err)
	}
	covSym, err := linalg.Inverse(chol)
	if err != nil {
		return models.ParameterDistribution{}, err
	}
	cov := make([][]float64, p)
	for i := range cov {
		cov[i] = make([]float64, p)
		for k := range cov[i] {
			cov[i][k] = covSym.At(i, k)
		}
	}
	return models.NewGaussianParameters(mean, cov)
}
