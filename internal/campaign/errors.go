package campaign

import (
	"fmt"

	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
)

// ExperimentExecutionError wraps a failed experiment callback. The campaign stays
// in awaiting_experiment so the same design can be run again.
type ExperimentExecutionError struct {
	Round  int
	Design models.DesignPoint
	Err    error
}

func (e *ExperimentExecutionError) Error() string {
	return fmt.Sprintf("experiment for round %d at %v failed: %v", e.Round, []float64(e.Design), e.Err)
}

func (e *ExperimentExecutionError) Unwrap() error {
	return e.Err
}

// InvalidTransitionError is returned when Step is called in a terminal state
type InvalidTransitionError struct {
	State State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("campaign is in terminal state %s", e.State)
}

// CalibrationError wraps a calibrator or refit failure for one candidate
type CalibrationError struct {
	ModelID string
	Err     error
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("update of model %s failed: %v", e.ModelID, e.Err)
}

func (e *CalibrationError) Unwrap() error {
	return e.Err
}
