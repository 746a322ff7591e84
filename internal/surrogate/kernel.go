package surrogate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Hyperparameters of the ARD squared-exponential kernel. Lengthscales are in
// box-transformed input units and the signal variance in standardised output units.
type Hyperparameters struct {
	LengthScales []float64 `json:"length_scales" yaml:"length_scales"`
	SignalVar    float64   `json:"signal_var" yaml:"signal_var"`
}

// Clone returns a deep copy
func (h Hyperparameters) Clone() Hyperparameters {
	return Hyperparameters{LengthScales: append([]float64(nil), h.LengthScales...), SignalVar: h.SignalVar}
}

func (h Hyperparameters) validate(dim int) error {
	if len(h.LengthScales) != dim {
		return fmt.Errorf("expected %d lengthscales, got %d", dim, len(h.LengthScales))
	}
	for i, l := range h.LengthScales {
		if !(l > 0) {
			return fmt.Errorf("lengthscale %d must be positive, got %g", i, l)
		}
	}
	if !(h.SignalVar > 0) {
		return fmt.Errorf("signal variance must be positive, got %g", h.SignalVar)
	}
	return nil
}

// k(a,b) = s2 * exp(-0.5 * sum((a_i-b_i)^2 / l_i^2))
func seKernel(a, b []float64, h Hyperparameters) float64 {
	var sum float64
	for i := range a {
		d := (a[i] - b[i]) / h.LengthScales[i]
		sum += d * d
	}
	return h.SignalVar * math.Exp(-0.5*sum)
}

// gram builds K + noise*I over the rows of z
func gram(z [][]float64, h Hyperparameters, noise float64) *mat.SymDense {
	n := len(z)
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		k.SetSym(i, i, h.SignalVar+noise)
		for j := i + 1; j < n; j++ {
			k.SetSym(i, j, seKernel(z[i], z[j], h))
		}
	}
	return k
}
