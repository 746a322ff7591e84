package campaign

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/doe-core/internal/design"
	"github.com/GoSim-25-26J-441/doe-core/internal/discrimination"
	"github.com/GoSim-25-26J-441/doe-core/internal/metrics"
	"github.com/GoSim-25-26J-441/doe-core/internal/model"
	"github.com/GoSim-25-26J-441/doe-core/internal/store"
	"github.com/GoSim-25-26J-441/doe-core/pkg/logger"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slope(k float64) model.Simulator {
	return func(design, params []float64) ([]float64, error) {
		return []float64{k * params[0] * design[0]}, nil
	}
}

// linearCandidate is y = k·θ·x with θ fixed at 1
func linearCandidate(t *testing.T, id string, k float64) *model.Candidate {
	t.Helper()
	sim, err := model.NewRawSimulator(id, 1, 1, 1, slope(k))
	require.NoError(t, err)
	p, err := models.NewGaussianParameters([]float64{1}, nil)
	require.NoError(t, err)
	c, err := model.NewCandidate(id, sim, p, []float64{1e-4})
	require.NoError(t, err)
	return c
}

func unitSpace() *models.DesignSpace {
	return models.MustDesignSpace(models.Bound{Name: "x", Lower: 0, Upper: 1})
}

func testConfig(maxExperiments int) Config {
	return Config{
		MaxExperiments: maxExperiments,
		Threshold:      1e-3,
		Criterion:      discrimination.DefaultConfig(),
		Optimizer:      design.Settings{Starts: 4, Workers: 2, Seed: 1},
	}
}

func quietOptions(extra ...Option) []Option {
	clock := utils.NewManualClock(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	return append([]Option{WithLogger(logger.Discard()), WithClock(clock)}, extra...)
}

// halfway observes 2.5x, equally far from y=2x and y=3x
var halfway = RunnerFunc(func(_ context.Context, d models.DesignPoint) ([]float64, error) {
	return []float64{2.5 * d[0]}, nil
})

func TestCampaignReachesBudgetExhausted(t *testing.T) {
	cands := []*model.Candidate{linearCandidate(t, "two", 2), linearCandidate(t, "three", 3)}
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	c, err := New("cmp-budget", unitSpace(), cands, halfway, testConfig(3), quietOptions(WithMetrics(m))...)
	require.NoError(t, err)
	assert.Equal(t, StateInitialized, c.State())

	steps := 0
	for !c.State().Terminal() {
		require.NoError(t, c.Step(context.Background()))
		steps++
		require.Less(t, steps, 20, "campaign did not terminate")
	}

	assert.Equal(t, StateBudgetExhausted, c.State())
	assert.Equal(t, 1+2*3, steps)
	data := c.Data()
	require.Equal(t, 3, data.Len())
	for i, obs := range data.Observations {
		assert.Equal(t, i, obs.Round)
		assert.InDelta(t, 1.0, obs.Design[0], 1e-6)
	}
	probs := c.Probabilities()
	assert.InDelta(t, 0.5, probs[0], 1e-9)

	var invalid *InvalidTransitionError
	require.ErrorAs(t, c.Step(context.Background()), &invalid)
	assert.Equal(t, StateBudgetExhausted, invalid.State)

	reports := c.Reports()
	require.NotEmpty(t, reports)
	last := reports[len(reports)-1]
	assert.Equal(t, OutcomeBudgetExhausted, last.Outcome)
	assert.Equal(t, StateBudgetExhausted, last.State)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CampaignRounds.WithLabelValues(OutcomeDesignProposed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveCampaigns))
}

func TestCampaignConvergesImmediatelyForIdenticalModels(t *testing.T) {
	cands := []*model.Candidate{linearCandidate(t, "a", 2), linearCandidate(t, "b", 2)}
	var calls atomic.Int32
	runner := RunnerFunc(func(context.Context, models.DesignPoint) ([]float64, error) {
		calls.Add(1)
		return []float64{0}, nil
	})
	c, err := New("", unitSpace(), cands, runner, testConfig(5), quietOptions()...)
	require.NoError(t, err)
	assert.Regexp(t, `^cmp-\d{8}-\d{6}-`, c.ID())

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, StateConverged, c.State())
	assert.Equal(t, 0, c.Round())
	assert.Zero(t, calls.Load())
	_, _, ok := c.Pending()
	assert.False(t, ok)
}

func TestCampaignConvergesOnModelPreference(t *testing.T) {
	cands := []*model.Candidate{linearCandidate(t, "two", 2), linearCandidate(t, "three", 3)}
	truth := RunnerFunc(func(_ context.Context, d models.DesignPoint) ([]float64, error) {
		return []float64{2 * d[0]}, nil
	})
	cfg := testConfig(10)
	cfg.PreferenceThreshold = 0.99
	c, err := New("cmp-pref", unitSpace(), cands, truth, cfg, quietOptions()...)
	require.NoError(t, err)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, StateConverged, c.State())
	assert.Equal(t, 1, c.Round())
	probs := c.Probabilities()
	assert.Greater(t, probs[0], 0.99)
	assert.InDelta(t, 1.0, probs[0]+probs[1], 1e-12)
}

func TestCampaignExperimentFailureIsResumable(t *testing.T) {
	cands := []*model.Candidate{linearCandidate(t, "two", 2), linearCandidate(t, "three", 3)}
	boom := errors.New("rig offline")
	var calls atomic.Int32
	runner := RunnerFunc(func(_ context.Context, d models.DesignPoint) ([]float64, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return []float64{2.5 * d[0]}, nil
	})
	c, err := New("cmp-fail", unitSpace(), cands, runner, testConfig(2), quietOptions()...)
	require.NoError(t, err)

	require.NoError(t, c.Step(context.Background()))
	pending, score, ok := c.Pending()
	require.True(t, ok)
	assert.Greater(t, score, 0.0)

	err = c.Step(context.Background())
	var ee *ExperimentExecutionError
	require.ErrorAs(t, err, &ee)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, ee.Round)
	assert.Equal(t, StateAwaitingExperiment, c.State())
	again, _, ok := c.Pending()
	require.True(t, ok)
	assert.Equal(t, pending, again)
	assert.Equal(t, 0, c.Round())

	require.NoError(t, c.Step(context.Background()))
	assert.Equal(t, StateUpdating, c.State())
	assert.Equal(t, 1, c.Round())

	reports := c.Reports()
	assert.Equal(t, OutcomeExperimentFailed, reports[1].Outcome)
	assert.Contains(t, reports[1].Error, "rig offline")
}

func TestCampaignRejectsBadExperimentOutput(t *testing.T) {
	cands := []*model.Candidate{linearCandidate(t, "two", 2), linearCandidate(t, "three", 3)}
	runner := RunnerFunc(func(context.Context, models.DesignPoint) ([]float64, error) {
		return []float64{1, 2}, nil
	})
	c, err := New("cmp-shape", unitSpace(), cands, runner, testConfig(2), quietOptions()...)
	require.NoError(t, err)
	require.NoError(t, c.Step(context.Background()))

	err = c.Step(context.Background())
	var dm *models.DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, StateAwaitingExperiment, c.State())
}

func TestCampaignRunHonoursCancellation(t *testing.T) {
	cands := []*model.Candidate{linearCandidate(t, "two", 2), linearCandidate(t, "three", 3)}
	c, err := New("cmp-cancel", unitSpace(), cands, halfway, testConfig(3), quietOptions()...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Run(ctx), context.Canceled)
	assert.Equal(t, StateInitialized, c.State())
}

func TestCampaignWithChannelRunner(t *testing.T) {
	cands := []*model.Candidate{linearCandidate(t, "two", 2), linearCandidate(t, "three", 3)}
	runner := NewChannelRunner()
	c, err := New("cmp-chan", unitSpace(), cands, runner, testConfig(2), quietOptions()...)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	for i := 0; i < 2; i++ {
		var d models.DesignPoint
		require.Eventually(t, func() bool {
			var ok bool
			d, ok = runner.Pending()
			return ok
		}, 5*time.Second, time.Millisecond)
		snap := c.Snapshot()
		assert.Equal(t, StateAwaitingExperiment, snap.State)
		require.NoError(t, runner.Submit([]float64{2.5 * d[0]}))
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("campaign did not finish")
	}
	assert.Equal(t, StateBudgetExhausted, c.State())
	assert.Equal(t, 2, c.Round())
}

func TestCampaignCancelWhileAwaitingExperiment(t *testing.T) {
	cands := []*model.Candidate{linearCandidate(t, "two", 2), linearCandidate(t, "three", 3)}
	runner := NewChannelRunner()
	c, err := New("cmp-wait", unitSpace(), cands, runner, testConfig(2), quietOptions()...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, func() bool {
		_, ok := runner.Pending()
		return ok
	}, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.Equal(t, StateAwaitingExperiment, c.State())
	assert.Equal(t, 0, c.Round())
}

func TestCampaignResetRestoresInitialState(t *testing.T) {
	cands := []*model.Candidate{linearCandidate(t, "two", 2), linearCandidate(t, "three", 3)}
	cal := CalibratorFunc(func(_ context.Context, id string, state *models.CampaignState) (models.ParameterDistribution, error) {
		return models.NewGaussianParameters([]float64{1 + 0.1*float64(state.Len())}, [][]float64{{0.01}})
	})
	c, err := New("cmp-reset", unitSpace(), cands, halfway, testConfig(2), quietOptions(WithCalibrator(cal))...)
	require.NoError(t, err)

	require.NoError(t, c.Run(context.Background()))
	require.Equal(t, StateBudgetExhausted, c.State())
	assert.InDelta(t, 1.2, cands[0].Params().Mean[0], 1e-12)

	require.NoError(t, c.Reset())
	assert.Equal(t, StateInitialized, c.State())
	assert.Equal(t, 0, c.Round())
	assert.Empty(t, c.Reports())
	assert.Equal(t, []float64{1}, cands[0].Params().Mean)
	assert.Nil(t, cands[0].Params().Cov)
	assert.Equal(t, []float64{0.5, 0.5}, c.Probabilities())
}

func TestCampaignResetRefitsLaterObservations(t *testing.T) {
	sim, err := model.NewRawSimulator("two", 1, 1, 1, slope(2))
	require.NoError(t, err)
	params, err := models.NewGaussianParameters([]float64{1}, [][]float64{{0.01}})
	require.NoError(t, err)
	backed, err := model.TrainFromSimulator(context.Background(), sim, unitSpace(), params,
		model.TrainingConfig{Points: 20, Seed: 5}, nil)
	require.NoError(t, err)
	two, err := model.NewCandidate("two", backed, params, []float64{1e-4})
	require.NoError(t, err)
	cands := []*model.Candidate{two, linearCandidate(t, "three", 3)}

	refitter := NewSimulatorRefitter(3, 0, 1)
	c, err := New("cmp-refit", unitSpace(), cands, halfway, testConfig(1), quietOptions(WithRefitter(refitter))...)
	require.NoError(t, err)

	size := backed.Surrogate().TrainingSize()
	require.NoError(t, c.Run(context.Background()))
	require.Equal(t, StateBudgetExhausted, c.State())
	assert.Equal(t, size+3, backed.Surrogate().TrainingSize())

	require.NoError(t, c.Reset())
	require.NoError(t, c.Run(context.Background()))
	require.Equal(t, StateBudgetExhausted, c.State())
	assert.Equal(t, size+6, backed.Surrogate().TrainingSize())
	assert.False(t, backed.Surrogate().Stale())
}

func TestCampaignLaplaceWithParameterFreeModel(t *testing.T) {
	sim, err := model.NewRawSimulator("fixed", 1, 0, 1, func(d, _ []float64) ([]float64, error) {
		return []float64{2 * d[0]}, nil
	})
	require.NoError(t, err)
	fixed, err := model.NewCandidate("fixed", sim, models.ParameterDistribution{}, []float64{1e-4})
	require.NoError(t, err)
	cands := []*model.Candidate{fixed, linearCandidate(t, "three", 3)}

	cal := NewLaplaceCalibrator(cands, nil, utils.DefaultJitterSchedule())
	c, err := New("cmp-laplace", unitSpace(), cands, halfway, testConfig(2), quietOptions(WithCalibrator(cal))...)
	require.NoError(t, err)
	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, StateBudgetExhausted, c.State())
	assert.Equal(t, 0, fixed.Params().Dim())
	require.Len(t, cands[1].Params().Cov, 1)
}

func TestCampaignCalibrationFailureKeepsUpdating(t *testing.T) {
	cands := []*model.Candidate{linearCandidate(t, "two", 2), linearCandidate(t, "three", 3)}
	var fail atomic.Bool
	fail.Store(true)
	cal := CalibratorFunc(func(_ context.Context, id string, _ *models.CampaignState) (models.ParameterDistribution, error) {
		if fail.Load() {
			return models.ParameterDistribution{}, errors.New("solver diverged")
		}
		return models.NewGaussianParameters([]float64{1}, nil)
	})
	c, err := New("cmp-cal", unitSpace(), cands, halfway, testConfig(3), quietOptions(WithCalibrator(cal))...)
	require.NoError(t, err)
	require.NoError(t, c.Step(context.Background()))
	require.NoError(t, c.Step(context.Background()))

	err = c.Step(context.Background())
	var ce *CalibrationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "two", ce.ModelID)
	assert.Equal(t, StateUpdating, c.State())

	fail.Store(false)
	require.NoError(t, c.Step(context.Background()))
	assert.Equal(t, StateAwaitingExperiment, c.State())
}

func TestCampaignPersistsEveryTransition(t *testing.T) {
	cands := []*model.Candidate{linearCandidate(t, "two", 2), linearCandidate(t, "three", 3)}
	st := store.NewMemoryStore()
	c, err := New("cmp-store", unitSpace(), cands, halfway, testConfig(2), quietOptions(WithStore(st), WithConfigText("campaign: {}\n"))...)
	require.NoError(t, err)

	rec, err := st.Get(context.Background(), "cmp-store")
	require.NoError(t, err)
	assert.Equal(t, string(StateInitialized), rec.State)

	require.NoError(t, c.Step(context.Background()))
	rec, err = st.Get(context.Background(), "cmp-store")
	require.NoError(t, err)
	assert.Equal(t, string(StateAwaitingExperiment), rec.State)
	require.Len(t, rec.Pending, 1)
	assert.InDelta(t, 1.0, rec.Pending[0], 1e-6)

	require.NoError(t, c.Run(context.Background()))
	rec, err = st.Get(context.Background(), "cmp-store")
	require.NoError(t, err)
	assert.Equal(t, string(StateBudgetExhausted), rec.State)
	assert.Equal(t, 2, rec.Round)
	assert.Len(t, rec.Observations, 2)
	assert.Nil(t, rec.Pending)
	assert.Equal(t, "campaign: {}\n", rec.Config)
}

func TestNewValidatesConfig(t *testing.T) {
	cands := []*model.Candidate{linearCandidate(t, "two", 2), linearCandidate(t, "three", 3)}

	_, err := New("x", unitSpace(), cands, halfway, Config{MaxExperiments: 0}, quietOptions()...)
	assert.Error(t, err)
	_, err = New("x", unitSpace(), cands, halfway, Config{MaxExperiments: 1, PreferenceThreshold: 2}, quietOptions()...)
	assert.Error(t, err)
	_, err = New("x", unitSpace(), cands, nil, testConfig(1), quietOptions()...)
	assert.Error(t, err)
	_, err = New("x", unitSpace(), cands[:1], halfway, testConfig(1), quietOptions()...)
	assert.Error(t, err)
}

func TestParseState(t *testing.T) {
	for _, s := range []State{StateInitialized, StateAwaitingExperiment, StateUpdating, StateConverged, StateBudgetExhausted} {
		got, err := ParseState(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseState("running")
	assert.Error(t, err)
	assert.True(t, StateConverged.Terminal())
	assert.False(t, StateUpdating.Terminal())
}
