package model

import (
	"math"

	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"gonum.org/v1/gonum/mat"
)

const relativeStep = 1e-6

// ParamJacobian returns d mean / d params (outputs × params) at design. Adapters
// implementing ParamJacobianProvider are asked directly; otherwise central finite
// differences are used with a step relative to each parameter's magnitude.
func ParamJacobian(a Adapter, design models.DesignPoint, params []float64) (*mat.Dense, error) {
	if p, ok := a.(ParamJacobianProvider); ok {
		return p.ParamJacobian(design, params)
	}
	if err := checkInputs(a, design, params); err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, nil
	}
	j := mat.NewDense(a.NumOutputs(), len(params), nil)
	work := append([]float64(nil), params...)
	for k, v := range params {
		h := relativeStep * math.Max(math.Abs(v), 1)
		work[k] = v + h
		up, err := a.Predict(design, work)
		if err != nil {
			return nil, err
		}
		work[k] = v - h
		dn, err := a.Predict(design, work)
		if err != nil {
			return nil, err
		}
		work[k] = v
		for o := range up.Mean {
			j.Set(o, k, (up.Mean[o]-dn.Mean[o])/(2*h))
		}
	}
	return j, nil
}
