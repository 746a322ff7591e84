// Package catalog holds the named closed-form simulators that configuration files
// and the CLI refer to by name.
package catalog

import (
	"fmt"
	"math"
	"sort"

	"github.com/GoSim-25-26J-441/doe-core/internal/model"
)

// Entry describes a catalog simulator. Design dimensionality is chosen by the caller
// for the models that support it; the remaining shape is fixed.
type Entry struct {
	Name        string
	Description string
	ParamDim    func(designDim int) int
	Outputs     int
	Func        model.Simulator
}

var entries = map[string]Entry{
	"linear": {
		Name:        "linear",
		Description: "y = sum_i theta_i * x_i",
		ParamDim:    func(d int) int { return d },
		Outputs:     1,
		Func: func(x, p []float64) ([]float64, error) {
			var y float64
			for i := range x {
				y += p[i] * x[i]
			}
			return []float64{y}, nil
		},
	},
	"affine": {
		Name:        "affine",
		Description: "y = theta_0 + sum_i theta_{i+1} * x_i",
		ParamDim:    func(d int) int { return d + 1 },
		Outputs:     1,
		Func: func(x, p []float64) ([]float64, error) {
			y := p[0]
			for i := range x {
				y += p[i+1] * x[i]
			}
			return []float64{y}, nil
		},
	},
	"power": {
		Name:        "power",
		Description: "y = theta_0 * x_0^theta_1",
		ParamDim:    func(int) int { return 2 },
		Outputs:     1,
		Func: func(x, p []float64) ([]float64, error) {
			if x[0] < 0 {
				return nil, fmt.Errorf("power model needs x >= 0, got %g", x[0])
			}
			return []float64{p[0] * math.Pow(x[0], p[1])}, nil
		},
	},
	"exponential_rise": {
		Name:        "exponential_rise",
		Description: "y = theta_0 * (1 - exp(-theta_1 * x_0))",
		ParamDim:    func(int) int { return 2 },
		Outputs:     1,
		Func: func(x, p []float64) ([]float64, error) {
			return []float64{p[0] * (1 - math.Exp(-p[1]*x[0]))}, nil
		},
	},
	"michaelis_menten": {
		Name:        "michaelis_menten",
		Description: "y = theta_0 * x_0 / (theta_1 + x_0)",
		ParamDim:    func(int) int { return 2 },
		Outputs:     1,
		Func: func(x, p []float64) ([]float64, error) {
			den := p[1] + x[0]
			if den == 0 {
				return nil, fmt.Errorf("michaelis_menten: theta_1 + x is zero")
			}
			return []float64{p[0] * x[0] / den}, nil
		},
	},
}

// fixed-dimension models only read x_0
var singleInput = map[string]bool{"power": true, "exponential_rise": true, "michaelis_menten": true}

// UnknownSimulatorError is returned for names missing from the catalog
type UnknownSimulatorError struct {
	Name string
}

func (e *UnknownSimulatorError) Error() string {
	return fmt.Sprintf("unknown simulator: %s", e.Name)
}

// Names returns the catalog names in sorted order
func Names() []string {
	out := make([]string, 0, len(entries))
	for name := range entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the entry for name
func Lookup(name string) (Entry, error) {
	e, ok := entries[name]
	if !ok {
		return Entry{}, &UnknownSimulatorError{Name: name}
	}
	return e, nil
}

// New builds a raw simulator adapter for name over designDim inputs
func New(name string, designDim int, opts ...model.RawOption) (*model.RawSimulator, error) {
	e, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if singleInput[name] && designDim != 1 {
		return nil, fmt.Errorf("simulator %s needs a one-dimensional design space, got %d", name, designDim)
	}
	// every catalog model is differentiable in x on its domain
	opts = append([]model.RawOption{model.WithSmooth()}, opts...)
	return model.NewRawSimulator(name, designDim, e.ParamDim(designDim), e.Outputs, e.Func, opts...)
}
