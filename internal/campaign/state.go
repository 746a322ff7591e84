package campaign

import "fmt"

// State is a campaign lifecycle state
type State string

const (
	StateInitialized        State = "initialized"
	StateAwaitingExperiment State = "awaiting_experiment"
	StateUpdating           State = "updating"
	StateConverged          State = "converged"
	StateBudgetExhausted    State = "budget_exhausted"
)

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateConverged || s == StateBudgetExhausted
}

// ParseState validates a stored state name
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateInitialized, StateAwaitingExperiment, StateUpdating, StateConverged, StateBudgetExhausted:
		return st, nil
	default:
		return "", fmt.Errorf("unknown campaign state %q", s)
	}
}

// Round outcomes, also used as the metrics label
const (
	OutcomeDesignProposed     = "design_proposed"
	OutcomeObservation        = "observation_recorded"
	OutcomeConverged          = "converged"
	OutcomeBudgetExhausted    = "budget_exhausted"
	OutcomeOptimizationFailed = "optimization_failed"
	OutcomeExperimentFailed   = "experiment_failed"
	OutcomeUpdateFailed       = "update_failed"
)
