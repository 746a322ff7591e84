package campaign

import (
	"context"
	"errors"
	"sync"

	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
)

// ErrNoPendingExperiment is returned by Submit and Fail when no experiment is waiting
var ErrNoPendingExperiment = errors.New("no experiment is pending")

type experimentResult struct {
	output []float64
	err    error
}

// ChannelRunner is an ExperimentRunner whose results are delivered from outside,
// e.g. by an HTTP handler. RunExperiment publishes the pending design and blocks
// until Submit, Fail or context cancellation.
type ChannelRunner struct {
	mu      sync.Mutex
	pending models.DesignPoint
	waiting bool
	results chan experimentResult
}

// NewChannelRunner creates an idle runner
func NewChannelRunner() *ChannelRunner {
	return &ChannelRunner{results: make(chan experimentResult, 1)}
}

func (r *ChannelRunner) RunExperiment(ctx context.Context, design models.DesignPoint) ([]float64, error) {
	r.mu.Lock()
	select {
	case <-r.results:
	default:
	}
	r.pending = design.Clone()
	r.waiting = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.waiting = false
		r.pending = nil
		r.mu.Unlock()
	}()

	select {
	case res := <-r.results:
		return res.output, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the design currently waiting for a result
func (r *ChannelRunner) Pending() (models.DesignPoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.waiting {
		return nil, false
	}
	return r.pending.Clone(), true
}

// Submit delivers the observed outputs for the pending design
func (r *ChannelRunner) Submit(output []float64) error {
	return r.deliver(experimentResult{output: append([]float64(nil), output...)})
}

// Fail reports that the pending experiment could not be run
func (r *ChannelRunner) Fail(err error) error {
	if err == nil {
		err = errors.New("experiment failed")
	}
	return r.deliver(experimentResult{err: err})
}

func (r *ChannelRunner) deliver(res experimentResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.waiting {
		return ErrNoPendingExperiment
	}
	select {
	case r.results <- res:
		r.waiting = false
		return nil
	default:
		return ErrNoPendingExperiment
	}
}
