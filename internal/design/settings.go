package design

import "fmt"

// Method selects the local search run from each start
type Method string

const (
	// MethodAuto uses gradient ascent when the objective is differentiable, pattern search otherwise
	MethodAuto Method = "auto"
	// MethodGradient is projected gradient ascent with backtracking
	MethodGradient Method = "gradient"
	// MethodPattern is compass pattern search with step halving
	MethodPattern Method = "pattern"
)

// ParseMethod validates a configured method name
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodAuto, MethodGradient, MethodPattern:
		return m, nil
	case "":
		return MethodAuto, nil
	default:
		return "", &UnknownMethodError{Method: s}
	}
}

// Settings configures the multistart optimizer. Step sizes and tolerances on
// positions are in unit-cube coordinates of the design space.
type Settings struct {
	Starts            int
	MaxIterations     int
	StepSize          float64
	GradientTolerance float64
	StepTolerance     float64
	PlateauTolerance  float64
	PlateauIterations int
	// TieTolerance is the relative score difference under which two starts are considered equal
	TieTolerance float64
	Workers      int
	Seed         int64
	Method       Method
}

// DefaultSettings returns the optimizer defaults
func DefaultSettings() Settings {
	return Settings{
		Starts:            16,
		MaxIterations:     200,
		StepSize:          0.1,
		GradientTolerance: 1e-6,
		StepTolerance:     1e-6,
		PlateauTolerance:  1e-9,
		PlateauIterations: 5,
		TieTolerance:      1e-9,
		Workers:           4,
		Seed:              1,
		Method:            MethodAuto,
	}
}

// withDefaults fills zero fields from DefaultSettings
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Starts <= 0 {
		s.Starts = d.Starts
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = d.MaxIterations
	}
	if s.StepSize <= 0 {
		s.StepSize = d.StepSize
	}
	if s.GradientTolerance <= 0 {
		s.GradientTolerance = d.GradientTolerance
	}
	if s.StepTolerance <= 0 {
		s.StepTolerance = d.StepTolerance
	}
	if s.PlateauTolerance <= 0 {
		s.PlateauTolerance = d.PlateauTolerance
	}
	if s.PlateauIterations <= 0 {
		s.PlateauIterations = d.PlateauIterations
	}
	if s.TieTolerance <= 0 {
		s.TieTolerance = d.TieTolerance
	}
	if s.Workers <= 0 {
		s.Workers = d.Workers
	}
	if s.Method == "" {
		s.Method = MethodAuto
	}
	return s
}

// Validate rejects settings that cannot be defaulted
func (s Settings) Validate() error {
	if _, err := ParseMethod(string(s.Method)); err != nil {
		return err
	}
	if s.StepSize > 1 {
		return fmt.Errorf("step size %g exceeds the unit cube", s.StepSize)
	}
	return nil
}
