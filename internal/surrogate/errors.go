package surrogate

import "fmt"

// InsufficientDataError is returned by Fit when there are fewer than dim+1 training points
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient training data: have %d points, need at least %d", e.Have, e.Need)
}

// NumericalFitError is returned when hyperparameter optimisation or the final
// factorisation of the kernel matrix fails. Callers may retry with jittered
// inputs or a wider lengthscale range.
type NumericalFitError struct {
	Output int
	Reason string
	Err    error
}

func (e *NumericalFitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("surrogate fit failed for output %d: %s: %v", e.Output, e.Reason, e.Err)
	}
	return fmt.Sprintf("surrogate fit failed for output %d: %s", e.Output, e.Reason)
}

func (e *NumericalFitError) Unwrap() error {
	return e.Err
}

// StaleSurrogateError is returned by Predict when the training data changed after the last fit
type StaleSurrogateError struct {
	DataVersion   uint64
	FittedVersion uint64
}

func (e *StaleSurrogateError) Error() string {
	if e.FittedVersion == 0 {
		return "surrogate has not been fitted"
	}
	return fmt.Sprintf("surrogate is stale: training data version %d, fitted version %d", e.DataVersion, e.FittedVersion)
}
