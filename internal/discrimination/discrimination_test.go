package discrimination

import (
	"math"
	"math/rand"
	"testing"

	"github.com/GoSim-25-26J-441/doe-core/internal/model"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var unitSpace = models.MustDesignSpace(models.Bound{Name: "x", Lower: 0, Upper: 1})

func slopeCandidate(t *testing.T, id string, theta, noise float64) *model.Candidate {
	t.Helper()
	sim, err := model.NewRawSimulator(id, 1, 1, 1, func(d, p []float64) ([]float64, error) {
		return []float64{p[0] * d[0]}, nil
	}, model.WithSmooth())
	require.NoError(t, err)
	params, err := models.NewGaussianParameters([]float64{theta}, nil)
	require.NoError(t, err)
	c, err := model.NewCandidate(id, sim, params, []float64{noise})
	require.NoError(t, err)
	return c
}

func gaussian(mean []float64, cov []float64) models.Prediction {
	n := len(mean)
	return models.Prediction{Mean: mean, Cov: mat.NewSymDense(n, cov)}
}

func TestDivergencesSymmetricAndNonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	sched := utils.DefaultJitterSchedule()
	for _, div := range []Divergence{BuzziFerraris, SymmetricKL, Bhattacharyya} {
		for trial := 0; trial < 50; trial++ {
			a := gaussian([]float64{rng.NormFloat64(), rng.NormFloat64()}, randomCov(rng))
			b := gaussian([]float64{rng.NormFloat64(), rng.NormFloat64()}, randomCov(rng))
			ab, err := Pairwise(div, a, b, sched)
			require.NoError(t, err)
			ba, err := Pairwise(div, b, a, sched)
			require.NoError(t, err)
			assert.InDelta(t, ab, ba, 1e-9*math.Max(1, ab), "%s trial %d", div, trial)
			assert.GreaterOrEqual(t, ab, 0.0)
		}
	}
}

func randomCov(rng *rand.Rand) []float64 {
	a := mat.NewDense(2, 2, []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()})
	var s mat.Dense
	s.Mul(a, a.T())
	return []float64{s.At(0, 0) + 0.1, s.At(0, 1), s.At(1, 0), s.At(1, 1) + 0.1}
}

func TestDivergenceZeroForIdenticalPredictions(t *testing.T) {
	sched := utils.DefaultJitterSchedule()
	p := gaussian([]float64{1, 2}, []float64{0.5, 0.1, 0.1, 0.3})
	for _, div := range []Divergence{BuzziFerraris, SymmetricKL, Bhattacharyya} {
		v, err := Pairwise(div, p, p, sched)
		require.NoError(t, err)
		assert.InDelta(t, 0, v, 1e-9, string(div))
	}
}

func TestDivergenceKnownValues(t *testing.T) {
	sched := utils.DefaultJitterSchedule()
	a := gaussian([]float64{0}, []float64{1})
	b := gaussian([]float64{2}, []float64{1})

	v, err := Pairwise(BuzziFerraris, a, b, sched)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, v, 1e-12)

	v, err = Pairwise(SymmetricKL, a, b, sched)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, v, 1e-12)

	v, err = Pairwise(Bhattacharyya, a, b, sched)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, v, 1e-12)
}

func TestSingularCovarianceIsRegularised(t *testing.T) {
	sched := utils.DefaultJitterSchedule()
	a := gaussian([]float64{0, 0}, []float64{1, 1, 1, 1})
	b := gaussian([]float64{1, 0}, []float64{1, 1, 1, 1})
	for _, div := range []Divergence{BuzziFerraris, SymmetricKL, Bhattacharyya} {
		v, err := Pairwise(div, a, b, sched)
		require.NoError(t, err, string(div))
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), string(div))
	}
}

func TestCriterionLinearScenario(t *testing.T) {
	cands := []*model.Candidate{slopeCandidate(t, "two", 2, 1e-6), slopeCandidate(t, "three", 3, 1e-6)}
	crit, err := New(unitSpace, cands, DefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, crit.Differentiable())

	hi, err := crit.Score(models.DesignPoint{1})
	require.NoError(t, err)
	lo, err := crit.Score(models.DesignPoint{0.1})
	require.NoError(t, err)
	assert.Greater(t, hi, lo)

	grad, err := crit.Gradient(models.DesignPoint{1})
	require.NoError(t, err)
	assert.Greater(t, grad[0], 0.0)
}

func TestCriterionIdenticalModelsScoreZero(t *testing.T) {
	cands := []*model.Candidate{slopeCandidate(t, "a", 2, 0), slopeCandidate(t, "b", 2, 0)}
	crit, err := New(unitSpace, cands, DefaultConfig(), nil)
	require.NoError(t, err)
	for i := 0; i <= 10; i++ {
		v, err := crit.Score(models.DesignPoint{float64(i) / 10})
		require.NoError(t, err)
		assert.InDelta(t, 0, v, 1e-9)
	}
}

func TestCriterionPairSwapSymmetry(t *testing.T) {
	a, b := slopeCandidate(t, "a", 2, 0.01), slopeCandidate(t, "b", 3, 0.02)
	for _, div := range []Divergence{BuzziFerraris, SymmetricKL, Bhattacharyya} {
		cfg := DefaultConfig()
		cfg.Divergence = div
		ab, err := New(unitSpace, []*model.Candidate{a, b}, cfg, nil)
		require.NoError(t, err)
		ba, err := New(unitSpace, []*model.Candidate{b, a}, cfg, nil)
		require.NoError(t, err)
		s1, err := ab.Score(models.DesignPoint{0.6})
		require.NoError(t, err)
		s2, err := ba.Score(models.DesignPoint{0.6})
		require.NoError(t, err)
		assert.InDelta(t, s1, s2, 1e-9*math.Max(1, s1), string(div))
	}
}

func TestAggregation(t *testing.T) {
	pairs := mat.NewSymDense(3, []float64{
		0, 1, 4,
		1, 0, 7,
		4, 7, 0,
	})
	assert.Equal(t, 1.0, Aggregate(AggregateMin, pairs))
	assert.Equal(t, 12.0, Aggregate(AggregateSum, pairs))
	assert.Equal(t, 4.0, Aggregate(AggregateMean, pairs))
	assert.Equal(t, 0.0, Aggregate(AggregateMin, mat.NewSymDense(1, nil)))
}

func TestCriterionThreeModels(t *testing.T) {
	cands := []*model.Candidate{
		slopeCandidate(t, "a", 1, 0.01),
		slopeCandidate(t, "b", 2, 0.01),
		slopeCandidate(t, "c", 4, 0.01),
	}
	cfg := DefaultConfig()
	crit, err := New(unitSpace, cands, cfg, nil)
	require.NoError(t, err)
	pairs, err := crit.PairScores(models.DesignPoint{1})
	require.NoError(t, err)
	worst, err := crit.Score(models.DesignPoint{1})
	require.NoError(t, err)
	assert.InDelta(t, pairs.At(0, 1), worst, 1e-12)
	assert.InDelta(t, 1.0/0.02, pairs.At(0, 1), 1e-9)
}

func TestCriterionValidation(t *testing.T) {
	a := slopeCandidate(t, "a", 2, 0)
	_, err := New(unitSpace, []*model.Candidate{a}, DefaultConfig(), nil)
	assert.Error(t, err)
	_, err = New(unitSpace, []*model.Candidate{a, a}, DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Aggregation = "max"
	_, err = New(unitSpace, []*model.Candidate{a, slopeCandidate(t, "b", 3, 0)}, cfg, nil)
	assert.Error(t, err)

	crit, err := New(unitSpace, []*model.Candidate{a, slopeCandidate(t, "b", 3, 0)}, DefaultConfig(), nil)
	require.NoError(t, err)
	_, err = crit.Score(models.DesignPoint{1.5})
	var oob *models.OutOfBoundsError
	assert.ErrorAs(t, err, &oob)
	_, err = crit.Score(models.DesignPoint{0.5, 0.5})
	var dm *models.DimensionMismatchError
	assert.ErrorAs(t, err, &dm)
}

func TestParseNames(t *testing.T) {
	d, err := ParseDivergence("")
	require.NoError(t, err)
	assert.Equal(t, BuzziFerraris, d)
	_, err = ParseDivergence("hellinger")
	assert.Error(t, err)
	a, err := ParseAggregation("")
	require.NoError(t, err)
	assert.Equal(t, AggregateMin, a)
}

func TestModelProbabilitiesPreferGeneratingModel(t *testing.T) {
	cands := []*model.Candidate{slopeCandidate(t, "two", 2, 0.01), slopeCandidate(t, "three", 3, 0.01)}
	var state models.CampaignState
	probs, err := ModelProbabilities(cands, &state, model.MarginalAuto, utils.DefaultJitterSchedule())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, probs[0], 1e-12)

	for _, x := range []float64{0.5, 1} {
		state.Append(models.Observation{Design: models.DesignPoint{x}, Output: []float64{3 * x}})
	}
	probs, err = ModelProbabilities(cands, &state, model.MarginalAuto, utils.DefaultJitterSchedule())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, probs[0]+probs[1], 1e-12)
	assert.Greater(t, probs[1], 0.99)
}
