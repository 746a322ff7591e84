package surrogate

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoSim-25-26J-441/doe-core/internal/metrics"
	"github.com/GoSim-25-26J-441/doe-core/internal/tracing"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"go.opentelemetry.io/otel/attribute"
)

// Surrogate is a multi-output GP emulator with one independent GP per output.
// Training data are (input, output) pairs where the input is usually a design
// concatenated with model parameters. Any change to the training data marks the
// surrogate stale until Fit is called again.
type Surrogate struct {
	mu      sync.RWMutex
	opts    Options
	metrics *metrics.Metrics

	inputs  [][]float64
	outputs [][]float64

	gps   []*GP
	fixed []Hyperparameters

	dataVersion uint64
	fitVersion  uint64
}

// New creates an empty surrogate. m may be nil.
func New(opts Options, m *metrics.Metrics) *Surrogate {
	return &Surrogate{opts: opts.withDefaults(), metrics: m}
}

// SetTrainingData replaces the training set
func (s *Surrogate) SetTrainingData(inputs, outputs [][]float64) error {
	if err := checkTrainingShape(inputs, outputs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = cloneRows(inputs)
	s.outputs = cloneRows(outputs)
	s.dataVersion++
	return nil
}

// AddTrainingData appends points to the training set
func (s *Surrogate) AddTrainingData(inputs, outputs [][]float64) error {
	if err := checkTrainingShape(inputs, outputs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inputs) > 0 {
		if len(inputs[0]) != len(s.inputs[0]) {
			return &models.DimensionMismatchError{What: "training input", Expected: len(s.inputs[0]), Got: len(inputs[0])}
		}
		if len(outputs[0]) != len(s.outputs[0]) {
			return &models.DimensionMismatchError{What: "training output", Expected: len(s.outputs[0]), Got: len(outputs[0])}
		}
	}
	s.inputs = append(s.inputs, cloneRows(inputs)...)
	s.outputs = append(s.outputs, cloneRows(outputs)...)
	s.dataVersion++
	return nil
}

// LoadHyperparameters fixes the kernel hyperparameters used by subsequent fits,
// one entry per output. Passing nil restores marginal-likelihood optimisation.
func (s *Surrogate) LoadHyperparameters(h []Hyperparameters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		s.fixed = nil
	} else {
		s.fixed = make([]Hyperparameters, len(h))
		for i := range h {
			s.fixed[i] = h[i].Clone()
		}
	}
	s.dataVersion++
}

// Fit trains one GP per output on the current training data
func (s *Surrogate) Fit(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := tracing.Start(ctx, "surrogate.fit",
		attribute.Int("surrogate.points", len(s.inputs)))
	defer func() {
		tracing.End(span, err)
		if err != nil {
			s.metrics.RecordSurrogateFit("error")
		} else {
			s.metrics.RecordSurrogateFit("ok")
		}
	}()

	if len(s.inputs) == 0 {
		return &InsufficientDataError{Have: 0, Need: 1}
	}
	dim := len(s.inputs[0])
	if len(s.inputs) < dim+1 {
		return &InsufficientDataError{Have: len(s.inputs), Need: dim + 1}
	}
	nout := len(s.outputs[0])
	if s.fixed != nil && len(s.fixed) != nout {
		return &models.DimensionMismatchError{What: "hyperparameter sets", Expected: nout, Got: len(s.fixed)}
	}

	gps := make([]*GP, nout)
	column := make([]float64, len(s.outputs))
	for o := 0; o < nout; o++ {
		for i, row := range s.outputs {
			column[i] = row[o]
		}
		var fixed *Hyperparameters
		if s.fixed != nil {
			fixed = &s.fixed[o]
		}
		gp := NewGP(s.opts)
		if err := gp.Fit(ctx, s.inputs, column, fixed); err != nil {
			if nf, ok := err.(*NumericalFitError); ok {
				nf.Output = o
			}
			return err
		}
		if gp.Jitter() > 0 {
			s.metrics.RecordJitter("surrogate")
		}
		gps[o] = gp
	}
	s.gps = gps
	s.fitVersion = s.dataVersion
	return nil
}

// FitData replaces the training data and fits in one step
func (s *Surrogate) FitData(ctx context.Context, inputs, outputs [][]float64) error {
	if err := s.SetTrainingData(inputs, outputs); err != nil {
		return err
	}
	return s.Fit(ctx)
}

func (s *Surrogate) readyLocked() error {
	if s.gps == nil || s.fitVersion != s.dataVersion {
		fitted := s.fitVersion
		if s.gps == nil {
			fitted = 0
		}
		return &StaleSurrogateError{DataVersion: s.dataVersion, FittedVersion: fitted}
	}
	return nil
}

// Predict returns the per-output predictive means and variances at x
func (s *Surrogate) Predict(x []float64) (mean, variance []float64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readyLocked(); err != nil {
		return nil, nil, err
	}
	mean = make([]float64, len(s.gps))
	variance = make([]float64, len(s.gps))
	for o, gp := range s.gps {
		m, v, err := gp.Predict(x)
		if err != nil {
			return nil, nil, err
		}
		mean[o], variance[o] = m, v
	}
	return mean, variance, nil
}

// PredictWithGradient also returns d mean_o / d x_j and d var_o / d x_j indexed [o][j]
func (s *Surrogate) PredictWithGradient(x []float64) (mean, variance []float64, dmean, dvar [][]float64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readyLocked(); err != nil {
		return nil, nil, nil, nil, err
	}
	n := len(s.gps)
	mean = make([]float64, n)
	variance = make([]float64, n)
	dmean = make([][]float64, n)
	dvar = make([][]float64, n)
	for o, gp := range s.gps {
		m, v, dm, dv, err := gp.PredictGradient(x)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		mean[o], variance[o], dmean[o], dvar[o] = m, v, dm, dv
	}
	return mean, variance, dmean, dvar, nil
}

// Hyperparameters returns the fitted hyperparameters, one per output
func (s *Surrogate) Hyperparameters() []Hyperparameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Hyperparameters, len(s.gps))
	for i, gp := range s.gps {
		out[i] = gp.Hyperparameters()
	}
	return out
}

// Stale reports whether Predict would fail with StaleSurrogateError
func (s *Surrogate) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readyLocked() != nil
}

// InputDim returns the training input dimensionality, or 0 without data
func (s *Surrogate) InputDim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.inputs) == 0 {
		return 0
	}
	return len(s.inputs[0])
}

// NumOutputs returns the number of outputs, or 0 without data
func (s *Surrogate) NumOutputs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.outputs) == 0 {
		return 0
	}
	return len(s.outputs[0])
}

// TrainingSize returns the number of training points
func (s *Surrogate) TrainingSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inputs)
}

func checkTrainingShape(inputs, outputs [][]float64) error {
	if len(inputs) == 0 {
		return fmt.Errorf("training inputs cannot be empty")
	}
	if len(inputs) != len(outputs) {
		return &models.DimensionMismatchError{What: "training outputs", Expected: len(inputs), Got: len(outputs)}
	}
	din, dout := len(inputs[0]), len(outputs[0])
	if din == 0 || dout == 0 {
		return fmt.Errorf("training rows cannot be empty")
	}
	for i := range inputs {
		if len(inputs[i]) != din {
			return &models.DimensionMismatchError{What: fmt.Sprintf("training input %d", i), Expected: din, Got: len(inputs[i])}
		}
		if len(outputs[i]) != dout {
			return &models.DimensionMismatchError{What: fmt.Sprintf("training output %d", i), Expected: dout, Got: len(outputs[i])}
		}
	}
	return nil
}

func cloneRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}

// Version returns the training data version; it increases on every data change
func (s *Surrogate) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataVersion
}
