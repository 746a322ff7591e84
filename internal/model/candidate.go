package model

import (
	"fmt"
	"sync"

	"github.com/GoSim-25-26J-441/doe-core/internal/linalg"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MarginalMode selects how parameter uncertainty is propagated to the outputs
type MarginalMode string

const (
	// MarginalAuto uses samples when the distribution has them, Taylor otherwise
	MarginalAuto MarginalMode = ""
	// MarginalTaylor linearises the model around the parameter mean
	MarginalTaylor MarginalMode = "taylor"
	// MarginalSamples averages predictions over posterior samples
	MarginalSamples MarginalMode = "samples"
)

// ParseMarginalMode validates a configured marginal mode
func ParseMarginalMode(s string) (MarginalMode, error) {
	switch m := MarginalMode(s); m {
	case MarginalAuto, MarginalTaylor, MarginalSamples:
		return m, nil
	default:
		return "", fmt.Errorf("unknown marginal mode %q", s)
	}
}

// Candidate is one rival model: an adapter, its parameter distribution and the
// measurement noise of the experiment it is compared against
type Candidate struct {
	mu        sync.RWMutex
	id        string
	adapter   Adapter
	params    models.ParameterDistribution
	measNoise []float64
}

// NewCandidate validates that params and measNoise match the adapter's dimensions.
// A nil measNoise means noise-free measurements.
func NewCandidate(id string, a Adapter, params models.ParameterDistribution, measNoise []float64) (*Candidate, error) {
	if id == "" {
		return nil, fmt.Errorf("candidate id cannot be empty")
	}
	if a == nil {
		return nil, fmt.Errorf("candidate %s: adapter is nil", id)
	}
	if err := checkParams(a, params); err != nil {
		return nil, fmt.Errorf("candidate %s: %w", id, err)
	}
	noise := make([]float64, a.NumOutputs())
	if measNoise != nil {
		if len(measNoise) != len(noise) {
			return nil, &models.DimensionMismatchError{What: fmt.Sprintf("candidate %s measurement noise", id), Expected: len(noise), Got: len(measNoise)}
		}
		for i, v := range measNoise {
			if v < 0 {
				return nil, fmt.Errorf("candidate %s: measurement noise %d is negative", id, i)
			}
			noise[i] = v
		}
	}
	return &Candidate{id: id, adapter: a, params: params.Clone(), measNoise: noise}, nil
}

func checkParams(a Adapter, p models.ParameterDistribution) error {
	if a.ParamDim() == 0 && len(p.Mean) == 0 {
		return nil
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Dim() != a.ParamDim() {
		return &models.DimensionMismatchError{What: "parameters", Expected: a.ParamDim(), Got: p.Dim()}
	}
	return nil
}

// ID returns the candidate identifier
func (c *Candidate) ID() string { return c.id }

// Adapter returns the candidate's adapter
func (c *Candidate) Adapter() Adapter { return c.adapter }

// Params returns a copy of the current parameter distribution
func (c *Candidate) Params() models.ParameterDistribution {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params.Clone()
}

// SetParams replaces the parameter distribution. The dimensionality is fixed at creation.
func (c *Candidate) SetParams(p models.ParameterDistribution) error {
	if err := checkParams(c.adapter, p); err != nil {
		return fmt.Errorf("candidate %s: %w", c.id, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = p.Clone()
	return nil
}

// MeasNoiseVar returns the per-output measurement noise variance
func (c *Candidate) MeasNoiseVar() []float64 {
	return append([]float64(nil), c.measNoise...)
}

// Marginal returns the predictive distribution at design with parameter uncertainty
// marginalised out and measurement noise added
func (c *Candidate) Marginal(design models.DesignPoint, mode MarginalMode) (models.Prediction, error) {
	p := c.Params()
	if mode == MarginalAuto {
		mode = MarginalTaylor
		if p.HasSamples() {
			mode = MarginalSamples
		}
	}
	var pred models.Prediction
	var err error
	switch mode {
	case MarginalTaylor:
		pred, err = c.taylor(design, p)
	case MarginalSamples:
		if !p.HasSamples() {
			return models.Prediction{}, fmt.Errorf("candidate %s: sample marginal requested without parameter samples", c.id)
		}
		pred, err = c.sampled(design, p.Samples)
	default:
		return models.Prediction{}, fmt.Errorf("unknown marginal mode %q", mode)
	}
	if err != nil {
		return models.Prediction{}, err
	}
	linalg.AddDiag(pred.Cov, c.measNoise)
	return pred, nil
}

// mean at the point estimate, covariance J Σθ Jᵀ + model covariance
func (c *Candidate) taylor(design models.DesignPoint, p models.ParameterDistribution) (models.Prediction, error) {
	pred, err := c.adapter.Predict(design, p.Mean)
	if err != nil {
		return models.Prediction{}, err
	}
	if p.Cov == nil || p.Dim() == 0 {
		return pred, nil
	}
	j, err := ParamJacobian(c.adapter, design, p.Mean)
	if err != nil {
		return models.Prediction{}, err
	}
	cov := linalg.AddSym(pred.Cov, linalg.Sandwich(j, p.CovMatrix()))
	return models.Prediction{Mean: pred.Mean, Cov: cov}, nil
}

// sample mean of the predicted means; covariance is their sample covariance
// plus the average model covariance
func (c *Candidate) sampled(design models.DesignPoint, samples [][]float64) (models.Prediction, error) {
	n := len(samples)
	nout := c.adapter.NumOutputs()
	means := mat.NewDense(n, nout, nil)
	modelCov := mat.NewSymDense(nout, nil)
	for i, s := range samples {
		pred, err := c.adapter.Predict(design, s)
		if err != nil {
			return models.Prediction{}, err
		}
		means.SetRow(i, pred.Mean)
		modelCov.AddSym(modelCov, pred.Cov)
	}
	modelCov.ScaleSym(1/float64(n), modelCov)

	mean := make([]float64, nout)
	for o := range mean {
		mean[o] = stat.Mean(mat.Col(nil, o, means), nil)
	}
	if n == 1 {
		return models.Prediction{Mean: mean, Cov: modelCov}, nil
	}
	var sampleCov mat.SymDense
	stat.CovarianceMatrix(&sampleCov, means, nil)
	return models.Prediction{Mean: mean, Cov: linalg.AddSym(&sampleCov, modelCov)}, nil
}
