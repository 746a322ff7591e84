// Package discrimination scores design points by how well they separate the
// predictive distributions of rival candidate models.
package discrimination

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/doe-core/internal/metrics"
	"github.com/GoSim-25-26J-441/doe-core/internal/model"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
	"gonum.org/v1/gonum/mat"
)

// Aggregation combines pairwise divergences into one score
type Aggregation string

const (
	// AggregateMin scores by the least separated pair
	AggregateMin Aggregation = "min"
	// AggregateSum scores by the sum over pairs
	AggregateSum Aggregation = "sum"
	// AggregateMean scores by the mean over pairs
	AggregateMean Aggregation = "mean"
)

// ParseAggregation validates a configured aggregation name
func ParseAggregation(s string) (Aggregation, error) {
	switch a := Aggregation(s); a {
	case AggregateMin, AggregateSum, AggregateMean:
		return a, nil
	case "":
		return AggregateMin, nil
	default:
		return "", fmt.Errorf("unknown aggregation %q", s)
	}
}

// Config configures a Criterion
type Config struct {
	Divergence  Divergence
	Aggregation Aggregation
	Marginal    model.MarginalMode
	Jitter      utils.JitterSchedule
}

// DefaultConfig returns Buzzi-Ferraris divergence, min aggregation and automatic marginalisation
func DefaultConfig() Config {
	return Config{
		Divergence:  BuzziFerraris,
		Aggregation: AggregateMin,
		Marginal:    model.MarginalAuto,
		Jitter:      utils.DefaultJitterSchedule(),
	}
}

// Criterion scores design points for a fixed set of candidates. It holds no
// mutable state of its own; scores change only when the candidates' parameter
// distributions or surrogates change.
type Criterion struct {
	space      *models.DesignSpace
	candidates []*model.Candidate
	cfg        Config
	reg        regularizer
}

// New validates that every candidate shares the design space and output dimension
func New(space *models.DesignSpace, candidates []*model.Candidate, cfg Config, m *metrics.Metrics) (*Criterion, error) {
	if space == nil {
		return nil, fmt.Errorf("design space is required")
	}
	if len(candidates) < 2 {
		return nil, fmt.Errorf("at least two candidate models are required, got %d", len(candidates))
	}
	seen := make(map[string]bool, len(candidates))
	outputs := candidates[0].Adapter().NumOutputs()
	for _, c := range candidates {
		if seen[c.ID()] {
			return nil, fmt.Errorf("duplicate candidate id %q", c.ID())
		}
		seen[c.ID()] = true
		if c.Adapter().DesignDim() != space.Dim() {
			return nil, &models.DimensionMismatchError{What: fmt.Sprintf("candidate %s design", c.ID()), Expected: space.Dim(), Got: c.Adapter().DesignDim()}
		}
		if c.Adapter().NumOutputs() != outputs {
			return nil, &models.DimensionMismatchError{What: fmt.Sprintf("candidate %s outputs", c.ID()), Expected: outputs, Got: c.Adapter().NumOutputs()}
		}
	}
	if _, err := ParseDivergence(string(cfg.Divergence)); err != nil {
		return nil, err
	}
	if _, err := ParseAggregation(string(cfg.Aggregation)); err != nil {
		return nil, err
	}
	if _, err := model.ParseMarginalMode(string(cfg.Marginal)); err != nil {
		return nil, err
	}
	if cfg.Jitter.Attempts <= 0 {
		cfg.Jitter = utils.DefaultJitterSchedule()
	}
	return &Criterion{
		space:      space,
		candidates: append([]*model.Candidate(nil), candidates...),
		cfg:        cfg,
		reg: regularizer{
			sched:    cfg.Jitter,
			onJitter: func() { m.RecordJitter("criterion") },
		},
	}, nil
}

// Space returns the design space
func (c *Criterion) Space() *models.DesignSpace { return c.space }

// Candidates returns the candidates in scoring order
func (c *Criterion) Candidates() []*model.Candidate {
	return append([]*model.Candidate(nil), c.candidates...)
}

// Config returns the criterion configuration
func (c *Criterion) Config() Config { return c.cfg }

// Differentiable reports whether every candidate is smooth in the design inputs
func (c *Criterion) Differentiable() bool {
	for _, cand := range c.candidates {
		if !model.IsSmooth(cand.Adapter()) {
			return false
		}
	}
	return true
}

// Predictions returns each candidate's marginal predictive distribution at d
func (c *Criterion) Predictions(d models.DesignPoint) ([]models.Prediction, error) {
	if err := c.space.Validate(d); err != nil {
		return nil, err
	}
	preds := make([]models.Prediction, len(c.candidates))
	for i, cand := range c.candidates {
		p, err := cand.Marginal(d, c.cfg.Marginal)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", cand.ID(), err)
		}
		preds[i] = p
	}
	return preds, nil
}

// PairScores returns the symmetric matrix of pairwise divergences at d (zero diagonal)
func (c *Criterion) PairScores(d models.DesignPoint) (*mat.SymDense, error) {
	preds, err := c.Predictions(d)
	if err != nil {
		return nil, err
	}
	n := len(preds)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v, err := c.reg.pairwise(c.cfg.Divergence, preds[i], preds[j])
			if err != nil {
				return nil, fmt.Errorf("pair (%s, %s): %w", c.candidates[i].ID(), c.candidates[j].ID(), err)
			}
			out.SetSym(i, j, v)
		}
	}
	return out, nil
}

// Score returns the aggregated discrimination score at d; higher is more discriminating
func (c *Criterion) Score(d models.DesignPoint) (float64, error) {
	pairs, err := c.PairScores(d)
	if err != nil {
		return 0, err
	}
	return Aggregate(c.cfg.Aggregation, pairs), nil
}

// Aggregate combines the upper triangle of a pair-score matrix
func Aggregate(agg Aggregation, pairs mat.Symmetric) float64 {
	n := pairs.SymmetricDim()
	lowest := math.Inf(1)
	var sum float64
	var count int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := pairs.At(i, j)
			sum += v
			count++
			if v < lowest {
				lowest = v
			}
		}
	}
	if count == 0 {
		return 0
	}
	switch agg {
	case AggregateSum:
		return sum
	case AggregateMean:
		return sum / float64(count)
	default:
		return lowest
	}
}

// Gradient returns the score gradient at d by central differences, switching to
// one-sided steps where a central step would leave the design space
func (c *Criterion) Gradient(d models.DesignPoint) ([]float64, error) {
	f0, err := c.Score(d)
	if err != nil {
		return nil, err
	}
	grad := make([]float64, len(d))
	work := d.Clone()
	for j := range d {
		b := c.space.Bound(j)
		h := 1e-6 * b.Width()
		lo, hi := d[j]-h, d[j]+h
		var fl, fh float64
		switch {
		case lo < b.Lower:
			lo, fl = d[j], f0
			work[j] = hi
			if fh, err = c.Score(work); err != nil {
				return nil, err
			}
		case hi > b.Upper:
			hi, fh = d[j], f0
			work[j] = lo
			if fl, err = c.Score(work); err != nil {
				return nil, err
			}
		default:
			work[j] = hi
			if fh, err = c.Score(work); err != nil {
				return nil, err
			}
			work[j] = lo
			if fl, err = c.Score(work); err != nil {
				return nil, err
			}
		}
		work[j] = d[j]
		grad[j] = (fh - fl) / (hi - lo)
	}
	return grad, nil
}
