package discrimination

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/doe-core/internal/linalg"
	"github.com/GoSim-25-26J-441/doe-core/internal/model"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
	"gonum.org/v1/gonum/floats"
)

// LogLikelihood returns the Gaussian log-likelihood of the observations under a
// candidate's marginal predictive distribution (measurement noise included)
func LogLikelihood(cand *model.Candidate, state *models.CampaignState, mode model.MarginalMode, sched utils.JitterSchedule) (float64, error) {
	if state == nil {
		return 0, nil
	}
	var ll float64
	for i, obs := range state.Observations {
		pred, err := cand.Marginal(obs.Design, mode)
		if err != nil {
			return 0, fmt.Errorf("observation %d: %w", i, err)
		}
		if len(obs.Output) != pred.Dim() {
			return 0, &models.DimensionMismatchError{What: fmt.Sprintf("observation %d output", i), Expected: pred.Dim(), Got: len(obs.Output)}
		}
		chol, _, err := linalg.Factorize(pred.Cov, sched)
		if err != nil {
			return 0, err
		}
		diff := make([]float64, pred.Dim())
		floats.SubTo(diff, obs.Output, pred.Mean)
		m, err := linalg.Mahalanobis(diff, chol)
		if err != nil {
			return 0, err
		}
		ll += -0.5 * (m + chol.LogDet() + float64(pred.Dim())*math.Log(2*math.Pi))
	}
	return ll, nil
}

// ModelProbabilities normalises the candidates' likelihoods of the observations
// into posterior probabilities under a uniform prior. With no observations every
// candidate is equally likely.
func ModelProbabilities(candidates []*model.Candidate, state *models.CampaignState, mode model.MarginalMode, sched utils.JitterSchedule) ([]float64, error) {
	n := len(candidates)
	if n == 0 {
		return nil, nil
	}
	if sched.Attempts <= 0 {
		sched = utils.DefaultJitterSchedule()
	}
	logs := make([]float64, n)
	for i, c := range candidates {
		ll, err := LogLikelihood(c, state, mode, sched)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.ID(), err)
		}
		logs[i] = ll
	}
	norm := floats.LogSumExp(logs)
	probs := make([]float64, n)
	for i, l := range logs {
		probs[i] = math.Exp(l - norm)
	}
	return probs, nil
}
