package design

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/GoSim-25-26J-441/doe-core/internal/metrics"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var unit1D = models.MustDesignSpace(models.Bound{Name: "x", Lower: 0, Upper: 1})

// separation of y=2x and y=3x under small pooled noise
func linearSeparation() GradientFunc {
	return GradientFunc{
		Func: func(d models.DesignPoint) (float64, error) { return d[0] * d[0] / 2e-6, nil },
		Grad: func(d models.DesignPoint) ([]float64, error) { return []float64{d[0] / 1e-6}, nil },
	}
}

func TestOptimizerSelectsUpperBoundForLinearModels(t *testing.T) {
	for _, method := range []Method{MethodGradient, MethodPattern} {
		t.Run(string(method), func(t *testing.T) {
			opt, err := NewOptimizer(Settings{Starts: 8, Method: method, Seed: 3})
			require.NoError(t, err)
			res, err := opt.Optimize(context.Background(), linearSeparation(), unit1D)
			require.NoError(t, err)
			assert.InDelta(t, 1.0, res.Design[0], 1e-6)
			assert.Equal(t, method, res.Method)

			at01, _ := linearSeparation().Score(models.DesignPoint{0.1})
			assert.Greater(t, res.Score, at01)
		})
	}
}

func TestOptimizerAutoMethod(t *testing.T) {
	opt, err := NewOptimizer(Settings{Starts: 2})
	require.NoError(t, err)

	res, err := opt.Optimize(context.Background(), linearSeparation(), unit1D)
	require.NoError(t, err)
	assert.Equal(t, MethodGradient, res.Method)

	plain := ObjectiveFunc(func(d models.DesignPoint) (float64, error) { return d[0], nil })
	res, err = opt.Optimize(context.Background(), plain, unit1D)
	require.NoError(t, err)
	assert.Equal(t, MethodPattern, res.Method)

	strict, err := NewOptimizer(Settings{Starts: 2, Method: MethodGradient})
	require.NoError(t, err)
	_, err = strict.Optimize(context.Background(), plain, unit1D)
	assert.Error(t, err)
}

func TestOptimizerFlatSurfacePrefersFirstStart(t *testing.T) {
	flat := GradientFunc{
		Func: func(models.DesignPoint) (float64, error) { return 0, nil },
		Grad: func(d models.DesignPoint) ([]float64, error) { return make([]float64, len(d)), nil },
	}
	space := models.MustDesignSpace(
		models.Bound{Name: "a", Lower: -2, Upper: 2},
		models.Bound{Name: "b", Lower: 10, Upper: 20},
	)
	opt, err := NewOptimizer(Settings{Starts: 6, Seed: 9})
	require.NoError(t, err)
	res, err := opt.Optimize(context.Background(), flat, space)
	require.NoError(t, err)
	assert.Equal(t, 0, res.StartIndex)
	assert.Equal(t, models.DesignPoint{0, 15}, res.Design)
	assert.Equal(t, 0.0, res.Score)
}

func TestOptimizerNeverLeavesBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 25; trial++ {
		dim := 1 + rng.Intn(3)
		bounds := make([]models.Bound, dim)
		for j := range bounds {
			lo := rng.Float64()*20 - 10
			bounds[j] = models.Bound{Lower: lo, Upper: lo + 0.1 + rng.Float64()*5}
		}
		space := models.MustDesignSpace(bounds...)
		surface := randomSurface(rng, space)

		for _, method := range []Method{MethodGradient, MethodPattern} {
			opt, err := NewOptimizer(Settings{Starts: 5, MaxIterations: 50, Method: method, Seed: int64(trial)})
			require.NoError(t, err)
			res, err := opt.Optimize(context.Background(), surface, space)
			var nf *NoFeasibleDesignFoundError
			if errors.As(err, &nf) {
				continue
			}
			require.NoError(t, err)
			assert.True(t, space.Contains(res.Design), "trial %d %s: %v outside bounds", trial, method, res.Design)
			for _, s := range res.Starts {
				assert.True(t, space.Contains(s.Design), "start %d outside bounds", s.Index)
			}
		}
	}
}

// sum of Gaussian bumps plus a linear tilt, with an analytic gradient
func randomSurface(rng *rand.Rand, space *models.DesignSpace) GradientFunc {
	dim := space.Dim()
	type bump struct {
		center []float64
		height float64
		width  float64
	}
	bumps := make([]bump, 3)
	for i := range bumps {
		c := make([]float64, dim)
		for j := range c {
			b := space.Bound(j)
			c[j] = b.Lower + rng.Float64()*b.Width()
		}
		bumps[i] = bump{center: c, height: rng.Float64() * 5, width: 0.2 + rng.Float64()}
	}
	tilt := make([]float64, dim)
	for j := range tilt {
		tilt[j] = rng.NormFloat64()
	}
	return GradientFunc{
		Func: func(d models.DesignPoint) (float64, error) {
			var f float64
			for j, v := range d {
				f += tilt[j] * v
			}
			for _, b := range bumps {
				var r2 float64
				for j, v := range d {
					r2 += (v - b.center[j]) * (v - b.center[j])
				}
				f += b.height * math.Exp(-r2/(2*b.width*b.width))
			}
			return f, nil
		},
		Grad: func(d models.DesignPoint) ([]float64, error) {
			g := append([]float64(nil), tilt...)
			for _, b := range bumps {
				var r2 float64
				for j, v := range d {
					r2 += (v - b.center[j]) * (v - b.center[j])
				}
				e := b.height * math.Exp(-r2/(2*b.width*b.width))
				for j, v := range d {
					g[j] -= e * (v - b.center[j]) / (b.width * b.width)
				}
			}
			return g, nil
		},
	}
}

func TestOptimizerAllStartsFail(t *testing.T) {
	boom := errors.New("simulator crashed")
	failing := ObjectiveFunc(func(models.DesignPoint) (float64, error) { return 0, boom })

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	opt, err := NewOptimizer(Settings{Starts: 4}, WithMetrics(m))
	require.NoError(t, err)

	_, err = opt.Optimize(context.Background(), failing, unit1D)
	var nf *NoFeasibleDesignFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, 4, nf.FailedStarts)
	assert.Len(t, nf.Errors, 4)
	assert.Nil(t, nf.Fallback)
	assert.ErrorIs(t, nf.Errors[0], boom)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.OptimizerStarts.WithLabelValues("failed")))
}

func TestOptimizerPartialFailureIsAbsorbed(t *testing.T) {
	// scoring fails on the right half of the space
	obj := ObjectiveFunc(func(d models.DesignPoint) (float64, error) {
		if d[0] > 0.6 {
			return 0, errors.New("unstable region")
		}
		return -(d[0] - 0.2) * (d[0] - 0.2), nil
	})
	opt, err := NewOptimizer(Settings{Starts: 8, Seed: 5})
	require.NoError(t, err)
	res, err := opt.Optimize(context.Background(), obj, unit1D)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, res.Design[0], 1e-3)
	assert.NotEmpty(t, res.FailedStarts())
	for _, i := range res.FailedStarts() {
		assert.Error(t, res.Starts[i].Err)
	}
}

func TestOptimizerIterationCap(t *testing.T) {
	// unbounded growth toward the upper corner never plateaus within one iteration
	obj := ObjectiveFunc(func(d models.DesignPoint) (float64, error) { return d[0], nil })
	opt, err := NewOptimizer(Settings{Starts: 2, MaxIterations: 1, StepSize: 0.01, Method: MethodPattern})
	require.NoError(t, err)
	_, err = opt.Optimize(context.Background(), obj, unit1D)
	var nf *NoFeasibleDesignFoundError
	require.ErrorAs(t, err, &nf)
	require.NotNil(t, nf.Fallback)
	var nc *OptimizationDidNotConvergeError
	assert.ErrorAs(t, nf.Errors[0], &nc)
	assert.Equal(t, 1, nc.Iterations)
}

func TestStartPointsDeterministic(t *testing.T) {
	a, err := NewOptimizer(Settings{Starts: 5, Seed: 11})
	require.NoError(t, err)
	b, err := NewOptimizer(Settings{Starts: 5, Seed: 11})
	require.NoError(t, err)
	pa, pb := a.StartPoints(3), b.StartPoints(3)
	assert.Equal(t, pa, pb)
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, pa[0])
	assert.Len(t, pa, 5)
}

func TestSettingsValidation(t *testing.T) {
	_, err := NewOptimizer(Settings{Method: "annealing"})
	var um *UnknownMethodError
	assert.ErrorAs(t, err, &um)

	_, err = NewOptimizer(Settings{StepSize: 2})
	assert.Error(t, err)

	m, err := ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodAuto, m)
}
