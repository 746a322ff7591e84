// Package model provides the uniform predictive interface over candidate models.
// A model is either evaluated directly (RawSimulator) or through a trained GP
// surrogate (SurrogateBacked); both expose Predict(design, params).
package model

import (
	"fmt"

	"github.com/GoSim-25-26J-441/doe-core/internal/linalg"
	"github.com/GoSim-25-26J-441/doe-core/internal/surrogate"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
	"gonum.org/v1/gonum/mat"
)

// Adapter predicts a model's outputs at a design for one parameter vector
type Adapter interface {
	Name() string
	DesignDim() int
	ParamDim() int
	NumOutputs() int
	Predict(design models.DesignPoint, params []float64) (models.Prediction, error)
}

// ParamJacobianProvider is implemented by adapters that can differentiate their
// mean prediction with respect to the parameters (outputs × params)
type ParamJacobianProvider interface {
	ParamJacobian(design models.DesignPoint, params []float64) (*mat.Dense, error)
}

// SmoothAdapter reports whether predictions are differentiable in the design inputs
type SmoothAdapter interface {
	Smooth() bool
}

// IsSmooth reports whether a is known to be differentiable in the design inputs
func IsSmooth(a Adapter) bool {
	s, ok := a.(SmoothAdapter)
	return ok && s.Smooth()
}

// Simulator evaluates a model's outputs at a design for a parameter vector
type Simulator func(design, params []float64) ([]float64, error)

// NoiseFunc returns the per-output variance a simulator reports at a design
type NoiseFunc func(design, params []float64) ([]float64, error)

// RawOption configures a RawSimulator
type RawOption func(*RawSimulator)

// WithNoise makes the simulator report predictive noise
func WithNoise(f NoiseFunc) RawOption {
	return func(r *RawSimulator) { r.noise = f }
}

// WithSmooth marks the simulator as differentiable in the design inputs
func WithSmooth() RawOption {
	return func(r *RawSimulator) { r.smooth = true }
}

// RawSimulator evaluates the simulator directly. Its covariance is zero unless a
// NoiseFunc is configured.
type RawSimulator struct {
	name      string
	designDim int
	paramDim  int
	outputs   int
	fn        Simulator
	noise     NoiseFunc
	smooth    bool
}

// NewRawSimulator wraps fn as an adapter
func NewRawSimulator(name string, designDim, paramDim, outputs int, fn Simulator, opts ...RawOption) (*RawSimulator, error) {
	if fn == nil {
		return nil, fmt.Errorf("simulator %q: function is nil", name)
	}
	if designDim <= 0 || paramDim < 0 || outputs <= 0 {
		return nil, fmt.Errorf("simulator %q: invalid dimensions design=%d params=%d outputs=%d", name, designDim, paramDim, outputs)
	}
	r := &RawSimulator{name: name, designDim: designDim, paramDim: paramDim, outputs: outputs, fn: fn}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *RawSimulator) Name() string { return r.name }
func (r *RawSimulator) DesignDim() int { return r.designDim }
func (r *RawSimulator) ParamDim() int { return r.paramDim }
func (r *RawSimulator) NumOutputs() int { return r.outputs }
func (r *RawSimulator) Smooth() bool { return r.smooth }

// Evaluate runs the simulator and checks its output shape
func (r *RawSimulator) Evaluate(design, params []float64) ([]float64, error) {
	if err := checkInputs(r, design, params); err != nil {
		return nil, err
	}
	y, err := r.fn(design, params)
	if err != nil {
		return nil, fmt.Errorf("simulator %q: %w", r.name, err)
	}
	if len(y) != r.outputs {
		return nil, &models.DimensionMismatchError{What: "simulator output", Expected: r.outputs, Got: len(y)}
	}
	if !utils.AllFinite(y) {
		return nil, fmt.Errorf("simulator %q returned non-finite output at %v", r.name, design)
	}
	return y, nil
}

func (r *RawSimulator) Predict(design models.DesignPoint, params []float64) (models.Prediction, error) {
	y, err := r.Evaluate(design, params)
	if err != nil {
		return models.Prediction{}, err
	}
	pred := models.NewPrediction(y)
	if r.noise != nil {
		v, err := r.noise(design, params)
		if err != nil {
			return models.Prediction{}, fmt.Errorf("simulator %q noise: %w", r.name, err)
		}
		if len(v) != r.outputs {
			return models.Prediction{}, &models.DimensionMismatchError{What: "simulator noise", Expected: r.outputs, Got: len(v)}
		}
		for i, vi := range v {
			if vi > 0 {
				pred.Cov.SetSym(i, i, vi)
			}
		}
	}
	return pred, nil
}

// SurrogateBacked predicts through a GP surrogate trained on (design, params) inputs.
// Its covariance is the diagonal of the per-output GP variances.
type SurrogateBacked struct {
	name      string
	designDim int
	paramDim  int
	s         *surrogate.Surrogate
	source    *RawSimulator
}

// NewSurrogateBacked wraps a surrogate whose inputs are [design..., params...]
func NewSurrogateBacked(name string, designDim, paramDim int, s *surrogate.Surrogate) (*SurrogateBacked, error) {
	if s == nil {
		return nil, fmt.Errorf("surrogate model %q: surrogate is nil", name)
	}
	if in := s.InputDim(); in != 0 && in != designDim+paramDim {
		return nil, &models.DimensionMismatchError{What: "surrogate input", Expected: designDim + paramDim, Got: in}
	}
	return &SurrogateBacked{name: name, designDim: designDim, paramDim: paramDim, s: s}, nil
}

func (b *SurrogateBacked) Name() string { return b.name }
func (b *SurrogateBacked) DesignDim() int { return b.designDim }
func (b *SurrogateBacked) ParamDim() int { return b.paramDim }
func (b *SurrogateBacked) NumOutputs() int { return b.s.NumOutputs() }
func (b *SurrogateBacked) Smooth() bool { return true }

// Surrogate returns the wrapped surrogate
func (b *SurrogateBacked) Surrogate() *surrogate.Surrogate {
	return b.s
}

// Source returns the simulator the surrogate was trained from, if any
func (b *SurrogateBacked) Source() *RawSimulator {
	return b.source
}

func (b *SurrogateBacked) input(design, params []float64) ([]float64, error) {
	if err := checkInputs(b, design, params); err != nil {
		return nil, err
	}
	x := make([]float64, 0, b.designDim+b.paramDim)
	x = append(x, design...)
	return append(x, params...), nil
}

func (b *SurrogateBacked) Predict(design models.DesignPoint, params []float64) (models.Prediction, error) {
	x, err := b.input(design, params)
	if err != nil {
		return models.Prediction{}, err
	}
	mean, variance, err := b.s.Predict(x)
	if err != nil {
		return models.Prediction{}, err
	}
	return models.Prediction{Mean: mean, Cov: linalg.Diag(variance)}, nil
}

// ParamJacobian uses the analytic GP mean gradient
func (b *SurrogateBacked) ParamJacobian(design models.DesignPoint, params []float64) (*mat.Dense, error) {
	x, err := b.input(design, params)
	if err != nil {
		return nil, err
	}
	_, _, dmean, _, err := b.s.PredictWithGradient(x)
	if err != nil {
		return nil, err
	}
	if b.paramDim == 0 {
		return nil, nil
	}
	j := mat.NewDense(len(dmean), b.paramDim, nil)
	for o, row := range dmean {
		for k := 0; k < b.paramDim; k++ {
			j.Set(o, k, row[b.designDim+k])
		}
	}
	return j, nil
}

func checkInputs(a Adapter, design, params []float64) error {
	if len(design) != a.DesignDim() {
		return &models.DimensionMismatchError{What: fmt.Sprintf("%s design", a.Name()), Expected: a.DesignDim(), Got: len(design)}
	}
	if len(params) != a.ParamDim() {
		return &models.DimensionMismatchError{What: fmt.Sprintf("%s parameters", a.Name()), Expected: a.ParamDim(), Got: len(params)}
	}
	return nil
}
