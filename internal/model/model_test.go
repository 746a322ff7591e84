package model

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/GoSim-25-26J-441/doe-core/internal/surrogate"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// y = theta * x
func slope(t *testing.T, opts ...RawOption) *RawSimulator {
	t.Helper()
	sim, err := NewRawSimulator("slope", 1, 1, 1, func(d, p []float64) ([]float64, error) {
		return []float64{p[0] * d[0]}, nil
	}, opts...)
	require.NoError(t, err)
	return sim
}

func TestRawSimulatorPredict(t *testing.T) {
	sim := slope(t)
	pred, err := sim.Predict(models.DesignPoint{0.5}, []float64{2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, pred.Mean)
	assert.Equal(t, 0.0, pred.Cov.At(0, 0))
	assert.False(t, IsSmooth(sim))
}

func TestRawSimulatorNoiseAndSmooth(t *testing.T) {
	sim := slope(t, WithSmooth(), WithNoise(func(d, p []float64) ([]float64, error) {
		return []float64{0.25}, nil
	}))
	pred, err := sim.Predict(models.DesignPoint{1}, []float64{3})
	require.NoError(t, err)
	assert.Equal(t, 0.25, pred.Cov.At(0, 0))
	assert.True(t, IsSmooth(sim))
}

func TestRawSimulatorErrors(t *testing.T) {
	sim := slope(t)
	_, err := sim.Predict(models.DesignPoint{1, 2}, []float64{3})
	var de *models.DimensionMismatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 1, de.Expected)

	boom := errors.New("boom")
	bad, err := NewRawSimulator("bad", 1, 0, 1, func(d, p []float64) ([]float64, error) { return nil, boom })
	require.NoError(t, err)
	_, err = bad.Predict(models.DesignPoint{0}, nil)
	assert.ErrorIs(t, err, boom)

	_, err = NewRawSimulator("nil", 1, 0, 1, nil)
	assert.Error(t, err)
}

func TestFiniteDifferenceJacobian(t *testing.T) {
	sim := slope(t)
	j, err := ParamJacobian(sim, models.DesignPoint{0.7}, []float64{2})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, j.At(0, 0), 1e-6)
}

func TestCandidateTaylorMarginal(t *testing.T) {
	params, err := models.NewGaussianParameters([]float64{2}, [][]float64{{0.04}})
	require.NoError(t, err)
	c, err := NewCandidate("m1", slope(t), params, []float64{0.01})
	require.NoError(t, err)

	pred, err := c.Marginal(models.DesignPoint{0.5}, MarginalTaylor)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pred.Mean[0], 1e-12)
	// x² σθ² + noise
	assert.InDelta(t, 0.25*0.04+0.01, pred.Cov.At(0, 0), 1e-9)
}

func TestCandidateSampledMarginal(t *testing.T) {
	params, err := models.NewSampledParameters([][]float64{{1}, {2}, {3}})
	require.NoError(t, err)
	c, err := NewCandidate("m1", slope(t), params, nil)
	require.NoError(t, err)

	pred, err := c.Marginal(models.DesignPoint{1}, MarginalAuto)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, pred.Mean[0], 1e-12)
	assert.InDelta(t, 1.0, pred.Cov.At(0, 0), 1e-12)

	_, err = c.Marginal(models.DesignPoint{1}, MarginalMode("bogus"))
	assert.Error(t, err)
}

func TestCandidateParameterDimensionIsFixed(t *testing.T) {
	params, err := models.NewGaussianParameters([]float64{2}, nil)
	require.NoError(t, err)
	c, err := NewCandidate("m1", slope(t), params, nil)
	require.NoError(t, err)

	wider, err := models.NewGaussianParameters([]float64{2, 1}, nil)
	require.NoError(t, err)
	var de *models.DimensionMismatchError
	assert.ErrorAs(t, c.SetParams(wider), &de)

	next, err := models.NewGaussianParameters([]float64{5}, [][]float64{{1}})
	require.NoError(t, err)
	require.NoError(t, c.SetParams(next))
	assert.Equal(t, []float64{5}, c.Params().Mean)

	_, err = NewCandidate("m2", slope(t), wider, nil)
	assert.ErrorAs(t, err, &de)
	_, err = NewCandidate("m3", slope(t), params, []float64{1, 2})
	assert.ErrorAs(t, err, &de)
}

func TestParseMarginalMode(t *testing.T) {
	for _, s := range []string{"", "taylor", "samples"} {
		_, err := ParseMarginalMode(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseMarginalMode("unscented")
	assert.Error(t, err)
}

func TestTrainFromSimulator(t *testing.T) {
	space := models.MustDesignSpace(models.Bound{Name: "x", Lower: 0, Upper: 1})
	params, err := models.NewGaussianParameters([]float64{2}, [][]float64{{0.01}})
	require.NoError(t, err)

	b, err := TrainFromSimulator(context.Background(), slope(t), space, params, TrainingConfig{Points: 30, Seed: 1}, nil)
	require.NoError(t, err)
	assert.True(t, b.Smooth())
	assert.Equal(t, "slope", b.Source().Name())
	assert.Equal(t, 1, b.NumOutputs())

	pred, err := b.Predict(models.DesignPoint{0.5}, []float64{2})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pred.Mean[0], 0.05)

	j, err := b.ParamJacobian(models.DesignPoint{0.5}, []float64{2})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, j.At(0, 0), 0.1)

	c, err := NewCandidate("m1", b, params, nil)
	require.NoError(t, err)
	marg, err := c.Marginal(models.DesignPoint{0.5}, MarginalAuto)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, marg.Mean[0], 0.05)
}

func TestSampleTrainingInputsCoversParameterSamples(t *testing.T) {
	space := models.MustDesignSpace(models.Bound{Name: "x", Lower: 0, Upper: 1})
	params, err := models.NewSampledParameters([][]float64{{1}, {2}, {3}})
	require.NoError(t, err)

	rows := SampleTrainingInputs(space, params, 20, 3, utils.NewRandSource(4))
	require.Len(t, rows, 20)
	distinct := map[float64]bool{}
	lo, hi := rows[0][1], rows[0][1]
	for _, r := range rows {
		require.Len(t, r, 2)
		distinct[r[1]] = true
		lo, hi = math.Min(lo, r[1]), math.Max(hi, r[1])
		// mean 2 ± 3 sample standard deviations
		assert.GreaterOrEqual(t, r[1], -1.0)
		assert.LessOrEqual(t, r[1], 5.0)
	}
	assert.Len(t, distinct, 20)
	assert.Less(t, lo, 1.0)
	assert.Greater(t, hi, 3.0)
}

func TestTrainFromSimulatorWithSampledParameters(t *testing.T) {
	space := models.MustDesignSpace(models.Bound{Name: "x", Lower: 0, Upper: 1})
	params, err := models.NewSampledParameters([][]float64{{1}, {2}, {3}})
	require.NoError(t, err)

	b, err := TrainFromSimulator(context.Background(), slope(t), space, params, TrainingConfig{Points: 30, Seed: 2}, nil)
	require.NoError(t, err)
	for _, theta := range []float64{1, 2, 3} {
		pred, err := b.Predict(models.DesignPoint{0.8}, []float64{theta})
		require.NoError(t, err)
		assert.InDelta(t, 0.8*theta, pred.Mean[0], 0.1, "theta=%g", theta)
	}

	raw, err := NewCandidate("raw", slope(t), params, nil)
	require.NoError(t, err)
	backed, err := NewCandidate("backed", b, params, nil)
	require.NoError(t, err)
	want, err := raw.Marginal(models.DesignPoint{0.8}, MarginalSamples)
	require.NoError(t, err)
	got, err := backed.Marginal(models.DesignPoint{0.8}, MarginalSamples)
	require.NoError(t, err)
	assert.InDelta(t, want.Mean[0], got.Mean[0], 0.1)
	assert.InDelta(t, want.Cov.At(0, 0), got.Cov.At(0, 0), 0.15)
}

func TestSurrogateBackedDimensionCheck(t *testing.T) {
	s := surrogate.New(surrogate.Options{}, nil)
	require.NoError(t, s.SetTrainingData([][]float64{{0, 0, 0}}, [][]float64{{1}}))
	_, err := NewSurrogateBacked("s", 1, 1, s)
	var de *models.DimensionMismatchError
	assert.ErrorAs(t, err, &de)
}
