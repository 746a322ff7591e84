package catalog

import (
	"testing"

	"github.com/GoSim-25-26J-441/doe-core/internal/model"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogModels(t *testing.T) {
	tests := []struct {
		name   string
		dim    int
		design []float64
		params []float64
		want   float64
	}{
		{"linear", 2, []float64{1, 2}, []float64{3, 4}, 11},
		{"affine", 1, []float64{2}, []float64{1, 3}, 7},
		{"power", 1, []float64{4}, []float64{2, 0.5}, 4},
		{"exponential_rise", 1, []float64{0}, []float64{5, 1}, 0},
		{"michaelis_menten", 1, []float64{1}, []float64{2, 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, err := New(tt.name, tt.dim)
			require.NoError(t, err)
			assert.True(t, model.IsSmooth(sim))
			pred, err := sim.Predict(models.DesignPoint(tt.design), tt.params)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, pred.Mean[0], 1e-12)
		})
	}
}

func TestCatalogLookup(t *testing.T) {
	assert.Equal(t, []string{"affine", "exponential_rise", "linear", "michaelis_menten", "power"}, Names())

	_, err := New("quadratic", 1)
	var ue *UnknownSimulatorError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "quadratic", ue.Name)

	_, err = New("power", 2)
	assert.Error(t, err)
}

func TestPowerRejectsNegativeInput(t *testing.T) {
	sim, err := New("power", 1)
	require.NoError(t, err)
	_, err = sim.Predict(models.DesignPoint{-1}, []float64{1, 2})
	assert.Error(t, err)
}
