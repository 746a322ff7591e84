package models

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Bound is the admissible interval of a single design dimension
type Bound struct {
	Name  string  `json:"name,omitempty" yaml:"name,omitempty"`
	Lower float64 `json:"lower" yaml:"lower"`
	Upper float64 `json:"upper" yaml:"upper"`
}

// Width returns upper - lower
func (b Bound) Width() float64 {
	return b.Upper - b.Lower
}

// DesignSpace is an ordered, immutable set of per-dimension bounds.
// Construct it with NewDesignSpace; the zero value has no dimensions.
type DesignSpace struct {
	bounds []Bound
}

// NewDesignSpace validates the bounds and returns a design space.
// Every dimension must satisfy lower < upper.
func NewDesignSpace(bounds ...Bound) (*DesignSpace, error) {
	if len(bounds) == 0 {
		return nil, fmt.Errorf("design space needs at least one dimension")
	}
	own := make([]Bound, len(bounds))
	for i, b := range bounds {
		if !(b.Lower < b.Upper) {
			return nil, fmt.Errorf("design dimension %d: lower (%g) must be less than upper (%g)", i, b.Lower, b.Upper)
		}
		own[i] = b
	}
	return &DesignSpace{bounds: own}, nil
}

// MustDesignSpace is NewDesignSpace that panics on invalid bounds
func MustDesignSpace(bounds ...Bound) *DesignSpace {
	s, err := NewDesignSpace(bounds...)
	if err != nil {
		panic(err)
	}
	return s
}

// Dim returns the number of design dimensions
func (s *DesignSpace) Dim() int {
	return len(s.bounds)
}

// Bound returns the bound of dimension i
func (s *DesignSpace) Bound(i int) Bound {
	return s.bounds[i]
}

// Bounds returns a copy of all bounds
func (s *DesignSpace) Bounds() []Bound {
	out := make([]Bound, len(s.bounds))
	copy(out, s.bounds)
	return out
}

// Center returns the midpoint of the space
func (s *DesignSpace) Center() DesignPoint {
	out := make(DesignPoint, len(s.bounds))
	for i, b := range s.bounds {
		out[i] = b.Lower + 0.5*b.Width()
	}
	return out
}

// FromUnit maps a point of the unit hypercube into the space
func (s *DesignSpace) FromUnit(u []float64) DesignPoint {
	out := make(DesignPoint, len(s.bounds))
	for i, b := range s.bounds {
		out[i] = b.Lower + u[i]*b.Width()
	}
	return out
}

// Validate checks the dimension and bounds of a design point
func (s *DesignSpace) Validate(d DesignPoint) error {
	if len(d) != len(s.bounds) {
		return &DimensionMismatchError{What: "design point", Expected: len(s.bounds), Got: len(d)}
	}
	for i, v := range d {
		b := s.bounds[i]
		if math.IsNaN(v) || v < b.Lower || v > b.Upper {
			return &OutOfBoundsError{Dim: i, Value: v, Lower: b.Lower, Upper: b.Upper}
		}
	}
	return nil
}

// Contains reports whether d is a valid design point of the space
func (s *DesignSpace) Contains(d DesignPoint) bool {
	return s.Validate(d) == nil
}

// Clamp projects d onto the space. NaN components are moved to the lower bound.
func (s *DesignSpace) Clamp(d DesignPoint) DesignPoint {
	out := make(DesignPoint, len(s.bounds))
	for i, b := range s.bounds {
		v := d[i]
		switch {
		case math.IsNaN(v), v < b.Lower:
			v = b.Lower
		case v > b.Upper:
			v = b.Upper
		}
		out[i] = v
	}
	return out
}

// DesignPoint is a single input vector of a design space
type DesignPoint []float64

// Clone returns a copy of the point
func (d DesignPoint) Clone() DesignPoint {
	if d == nil {
		return nil
	}
	out := make(DesignPoint, len(d))
	copy(out, d)
	return out
}

// ParameterDistribution describes the uncertainty of a candidate model's parameters,
// either as a point estimate with covariance or as a set of posterior samples.
type ParameterDistribution struct {
	Mean    []float64   `json:"mean" yaml:"mean"`
	Cov     [][]float64 `json:"cov,omitempty" yaml:"cov,omitempty"`
	Samples [][]float64 `json:"samples,omitempty" yaml:"samples,omitempty"`
}

// NewGaussianParameters builds a point+covariance distribution. A nil covariance means
// the parameters are known exactly.
func NewGaussianParameters(mean []float64, cov [][]float64) (ParameterDistribution, error) {
	p := ParameterDistribution{Mean: append([]float64(nil), mean...), Cov: cloneMatrix(cov)}
	if err := p.Validate(); err != nil {
		return ParameterDistribution{}, err
	}
	return p, nil
}

// NewSampledParameters builds a distribution from posterior samples; Mean is the sample mean.
func NewSampledParameters(samples [][]float64) (ParameterDistribution, error) {
	if len(samples) == 0 {
		return ParameterDistribution{}, fmt.Errorf("at least one parameter sample is required")
	}
	dim := len(samples[0])
	mean := make([]float64, dim)
	for i, s := range samples {
		if len(s) != dim {
			return ParameterDistribution{}, &DimensionMismatchError{What: fmt.Sprintf("parameter sample %d", i), Expected: dim, Got: len(s)}
		}
		for j, v := range s {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(len(samples))
	}
	return ParameterDistribution{Mean: mean, Samples: cloneMatrix(samples)}, nil
}

// Dim returns the parameter dimensionality
func (p ParameterDistribution) Dim() int {
	return len(p.Mean)
}

// HasSamples reports whether the distribution is sample based
func (p ParameterDistribution) HasSamples() bool {
	return len(p.Samples) > 0
}

// Validate checks internal dimension consistency and covariance symmetry
func (p ParameterDistribution) Validate() error {
	dim := len(p.Mean)
	if dim == 0 {
		return fmt.Errorf("parameter mean cannot be empty")
	}
	if p.Cov != nil {
		if len(p.Cov) != dim {
			return &DimensionMismatchError{What: "parameter covariance rows", Expected: dim, Got: len(p.Cov)}
		}
		for i, row := range p.Cov {
			if len(row) != dim {
				return &DimensionMismatchError{What: fmt.Sprintf("parameter covariance row %d", i), Expected: dim, Got: len(row)}
			}
			if row[i] < 0 {
				return fmt.Errorf("parameter covariance diagonal %d is negative", i)
			}
		}
		for i := 0; i < dim; i++ {
			for j := i + 1; j < dim; j++ {
				if diff := p.Cov[i][j] - p.Cov[j][i]; diff > 1e-12 || diff < -1e-12 {
					return fmt.Errorf("parameter covariance is not symmetric at (%d,%d)", i, j)
				}
			}
		}
	}
	for i, s := range p.Samples {
		if len(s) != dim {
			return &DimensionMismatchError{What: fmt.Sprintf("parameter sample %d", i), Expected: dim, Got: len(s)}
		}
	}
	return nil
}

// CovMatrix returns the covariance as a symmetric matrix; zero when unset
func (p ParameterDistribution) CovMatrix() *mat.SymDense {
	dim := len(p.Mean)
	out := mat.NewSymDense(dim, nil)
	if p.Cov == nil {
		return out
	}
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			out.SetSym(i, j, p.Cov[i][j])
		}
	}
	return out
}

// StdDev returns the marginal standard deviations (zero when no covariance is set)
func (p ParameterDistribution) StdDev() []float64 {
	out := make([]float64, len(p.Mean))
	if p.Cov == nil {
		return out
	}
	for i := range out {
		if v := p.Cov[i][i]; v > 0 {
			out[i] = math.Sqrt(v)
		}
	}
	return out
}

// Box returns the parameter region mean ± spread·σ used to sample simulator
// runs. For a sample-based distribution σ is the per-dimension sample standard
// deviation and the box always covers the samples' range.
func (p ParameterDistribution) Box(spread float64) (lo, hi []float64) {
	dim := len(p.Mean)
	lo, hi = make([]float64, dim), make([]float64, dim)
	sd := p.StdDev()
	if p.Cov == nil && p.HasSamples() {
		col := make([]float64, len(p.Samples))
		for k := 0; k < dim; k++ {
			for i, s := range p.Samples {
				col[i] = s[k]
			}
			if len(col) > 1 {
				sd[k] = stat.StdDev(col, nil)
			}
		}
	}
	for k, m := range p.Mean {
		lo[k], hi[k] = m-spread*sd[k], m+spread*sd[k]
		for _, s := range p.Samples {
			lo[k] = math.Min(lo[k], s[k])
			hi[k] = math.Max(hi[k], s[k])
		}
	}
	return lo, hi
}

// Clone returns a deep copy
func (p ParameterDistribution) Clone() ParameterDistribution {
	return ParameterDistribution{
		Mean:    append([]float64(nil), p.Mean...),
		Cov:     cloneMatrix(p.Cov),
		Samples: cloneMatrix(p.Samples),
	}
}

// Prediction is a Gaussian predictive distribution over a model's outputs
type Prediction struct {
	Mean []float64
	Cov  *mat.SymDense
}

// NewPrediction returns a prediction with zero covariance
func NewPrediction(mean []float64) Prediction {
	return Prediction{Mean: mean, Cov: mat.NewSymDense(len(mean), nil)}
}

// Dim returns the number of outputs
func (p Prediction) Dim() int {
	return len(p.Mean)
}

// Observation is one experiment: the design that was run and the outputs observed
type Observation struct {
	Round      int         `json:"round"`
	Design     DesignPoint `json:"design"`
	Output     []float64   `json:"output"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// CampaignState is the ordered, append-only sequence of observations of a campaign
type CampaignState struct {
	Observations []Observation `json:"observations"`
}

// Append adds an observation to the end of the state
func (s *CampaignState) Append(obs Observation) {
	s.Observations = append(s.Observations, Observation{
		Round:      obs.Round,
		Design:     obs.Design.Clone(),
		Output:     append([]float64(nil), obs.Output...),
		RecordedAt: obs.RecordedAt,
	})
}

// Len returns the number of observations
func (s *CampaignState) Len() int {
	return len(s.Observations)
}

// Reset clears all observations
func (s *CampaignState) Reset() {
	s.Observations = nil
}

// Designs returns the designs of all observations in order
func (s *CampaignState) Designs() []DesignPoint {
	out := make([]DesignPoint, len(s.Observations))
	for i, o := range s.Observations {
		out[i] = o.Design.Clone()
	}
	return out
}

// Clone returns a deep copy of the state
func (s *CampaignState) Clone() CampaignState {
	out := CampaignState{Observations: make([]Observation, 0, len(s.Observations))}
	for _, o := range s.Observations {
		out.Append(o)
	}
	return out
}

// DimensionMismatchError reports a vector whose length does not match what is expected
type DimensionMismatchError struct {
	What     string
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch for %s: expected %d, got %d", e.What, e.Expected, e.Got)
}

// OutOfBoundsError reports a design component outside its dimension's bounds
type OutOfBoundsError struct {
	Dim   int
	Value float64
	Lower float64
	Upper float64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("design dimension %d value %g outside [%g, %g]", e.Dim, e.Value, e.Lower, e.Upper)
}

func cloneMatrix(m [][]float64) [][]float64 {
	if m == nil {
		return nil
	}
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
