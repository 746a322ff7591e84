package design

import (
	"fmt"
	"strings"
)

// OptimizationDidNotConvergeError is recorded on a start that hit the iteration
// cap before any convergence rule fired
type OptimizationDidNotConvergeError struct {
	Start      int
	Iterations int
	Score      float64
}

func (e *OptimizationDidNotConvergeError) Error() string {
	return fmt.Sprintf("start %d did not converge after %d iterations (score %g)", e.Start, e.Iterations, e.Score)
}

// StartFailedError wraps a scoring failure inside one start
type StartFailedError struct {
	Start int
	Err   error
}

func (e *StartFailedError) Error() string {
	return fmt.Sprintf("start %d failed: %v", e.Start, e.Err)
}

func (e *StartFailedError) Unwrap() error {
	return e.Err
}

// NoFeasibleDesignFoundError is returned when no start converged. Fallback holds
// the best non-converged start with a finite score, if there was one.
type NoFeasibleDesignFoundError struct {
	FailedStarts int
	Errors       []error
	Fallback     *StartResult
}

func (e *NoFeasibleDesignFoundError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for i, err := range e.Errors {
		if i == 3 {
			msgs = append(msgs, fmt.Sprintf("and %d more", len(e.Errors)-3))
			break
		}
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("no feasible design found: all %d starts failed: %s", e.FailedStarts, strings.Join(msgs, "; "))
}

// UnknownMethodError is returned for an unsupported local search method
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("unknown optimization method: %s", e.Method)
}
