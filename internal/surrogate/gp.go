package surrogate

import (
	"context"
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/doe-core/internal/linalg"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Options configures GP fitting
type Options struct {
	// NoiseVar is the fixed observation noise in standardised output units
	NoiseVar float64
	// MinLengthScale and MaxLengthScale bound the fitted lengthscales (box-transformed units)
	MinLengthScale float64
	MaxLengthScale float64
	// Restarts is the number of Nelder-Mead runs from distinct initial lengthscales
	Restarts int
	// MaxIterations caps each Nelder-Mead run
	MaxIterations int
	// Jitter regularises the kernel matrix when it is numerically singular
	Jitter utils.JitterSchedule
}

// DefaultOptions returns the defaults used when a field is left zero
func DefaultOptions() Options {
	return Options{
		NoiseVar:       1e-6,
		MinLengthScale: 1e-3,
		MaxLengthScale: 10,
		Restarts:       3,
		MaxIterations:  200,
		Jitter:         utils.DefaultJitterSchedule(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.NoiseVar <= 0 {
		o.NoiseVar = d.NoiseVar
	}
	if o.MinLengthScale <= 0 {
		o.MinLengthScale = d.MinLengthScale
	}
	if o.MaxLengthScale <= o.MinLengthScale {
		o.MaxLengthScale = math.Max(d.MaxLengthScale, 10*o.MinLengthScale)
	}
	if o.Restarts <= 0 {
		o.Restarts = d.Restarts
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.Jitter.Attempts <= 0 {
		o.Jitter = d.Jitter
	}
	return o
}

// initial lengthscales tried by successive restarts
var restartLengthScales = []float64{0.5, 0.2, 1.0, 2.0, 0.1}

const (
	minSignalVar = 1e-4
	maxSignalVar = 1e4
)

// GP is a single-output Gaussian process regressor. Inputs are box-transformed to
// [0,1] with the training minimum and range; outputs are standardised with the
// training mean and standard deviation. Predictions are returned in original units.
type GP struct {
	opts Options
	dim  int

	z      [][]float64
	zmin   []float64
	zscale []float64
	ymean  float64
	ystd   float64

	hyp    Hyperparameters
	chol   *mat.Cholesky
	alpha  *mat.VecDense
	jitter float64
	fitted bool
}

// NewGP creates an unfitted GP
func NewGP(opts Options) *GP {
	return &GP{opts: opts.withDefaults()}
}

// Fit trains the GP on x (n×dim) and y (n). When fixed is non-nil its
// hyperparameters are used as-is instead of maximising the marginal likelihood.
func (g *GP) Fit(ctx context.Context, x [][]float64, y []float64, fixed *Hyperparameters) error {
	n := len(x)
	if n == 0 {
		return &InsufficientDataError{Have: 0, Need: 1}
	}
	dim := len(x[0])
	if n < dim+1 {
		return &InsufficientDataError{Have: n, Need: dim + 1}
	}
	if len(y) != n {
		return &models.DimensionMismatchError{What: "training outputs", Expected: n, Got: len(y)}
	}
	for i, row := range x {
		if len(row) != dim {
			return &models.DimensionMismatchError{What: fmt.Sprintf("training input %d", i), Expected: dim, Got: len(row)}
		}
		if !utils.AllFinite(row) {
			return fmt.Errorf("training input %d is not finite", i)
		}
	}
	if !utils.AllFinite(y) {
		return fmt.Errorf("training outputs are not finite")
	}

	g.dim = dim
	g.fitInputTransform(x)
	g.z = make([][]float64, n)
	for i, row := range x {
		g.z[i] = g.transform(row)
	}
	g.ymean, g.ystd = stat.PopMeanStdDev(y, nil)
	if !(g.ystd > 0) {
		g.ystd = 1
	}
	ys := make([]float64, n)
	for i, v := range y {
		ys[i] = (v - g.ymean) / g.ystd
	}

	var hyp Hyperparameters
	if fixed != nil {
		if err := fixed.validate(dim); err != nil {
			return &NumericalFitError{Reason: "invalid fixed hyperparameters", Err: err}
		}
		hyp = fixed.Clone()
	} else {
		var err error
		hyp, err = g.optimiseHyperparameters(ctx, ys)
		if err != nil {
			return err
		}
	}

	chol, jitter, err := linalg.Factorize(gram(g.z, hyp, g.opts.NoiseVar), g.opts.Jitter)
	if err != nil {
		return &NumericalFitError{Reason: "kernel matrix factorisation", Err: err}
	}
	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, mat.NewVecDense(n, ys)); err != nil && !linalg.IsCondition(err) {
		return &NumericalFitError{Reason: "kernel solve", Err: err}
	}

	g.hyp = hyp
	g.chol = chol
	g.alpha = alpha
	g.jitter = jitter
	g.fitted = true
	return nil
}

func (g *GP) optimiseHyperparameters(ctx context.Context, ys []float64) (Hyperparameters, error) {
	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			return g.negLogLikelihood(theta, ys)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: g.opts.MaxIterations,
		FuncEvaluations: 20 * g.opts.MaxIterations,
	}

	best := math.Inf(1)
	var bestTheta []float64
	var lastErr error
	for r := 0; r < g.opts.Restarts; r++ {
		if err := ctx.Err(); err != nil {
			return Hyperparameters{}, err
		}
		init := make([]float64, g.dim+1)
		l0 := restartLengthScales[r%len(restartLengthScales)]
		for i := 0; i < g.dim; i++ {
			init[i] = math.Log(l0)
		}
		res, err := optimize.Minimize(problem, init, settings, &optimize.NelderMead{})
		if err != nil {
			lastErr = err
		}
		if res == nil || math.IsNaN(res.F) || math.IsInf(res.F, 0) {
			continue
		}
		if res.F < best {
			best = res.F
			bestTheta = append([]float64(nil), res.X...)
		}
	}
	if bestTheta == nil {
		return Hyperparameters{}, &NumericalFitError{Reason: "marginal likelihood optimisation did not converge", Err: lastErr}
	}
	return g.hypFromTheta(bestTheta), nil
}

// theta = [log l_1..log l_dim, log s2], clamped into the configured bounds
func (g *GP) hypFromTheta(theta []float64) Hyperparameters {
	h := Hyperparameters{LengthScales: make([]float64, g.dim)}
	for i := 0; i < g.dim; i++ {
		h.LengthScales[i] = utils.Clamp(math.Exp(theta[i]), g.opts.MinLengthScale, g.opts.MaxLengthScale)
	}
	h.SignalVar = utils.Clamp(math.Exp(theta[g.dim]), minSignalVar, maxSignalVar)
	return h
}

func (g *GP) negLogLikelihood(theta []float64, ys []float64) float64 {
	if !utils.AllFinite(theta) {
		return math.Inf(1)
	}
	h := g.hypFromTheta(theta)
	chol, _, err := linalg.Factorize(gram(g.z, h, g.opts.NoiseVar), g.opts.Jitter)
	if err != nil {
		return math.Inf(1)
	}
	n := len(ys)
	b := mat.NewVecDense(n, ys)
	var alpha mat.VecDense
	if err := chol.SolveVecTo(&alpha, b); err != nil && !linalg.IsCondition(err) {
		return math.Inf(1)
	}
	nll := 0.5*mat.Dot(b, &alpha) + 0.5*chol.LogDet() + 0.5*float64(n)*math.Log(2*math.Pi)
	if math.IsNaN(nll) {
		return math.Inf(1)
	}
	return nll
}

func (g *GP) fitInputTransform(x [][]float64) {
	g.zmin = make([]float64, g.dim)
	g.zscale = make([]float64, g.dim)
	for j := 0; j < g.dim; j++ {
		lo, hi := x[0][j], x[0][j]
		for _, row := range x[1:] {
			lo = math.Min(lo, row[j])
			hi = math.Max(hi, row[j])
		}
		g.zmin[j] = lo
		g.zscale[j] = hi - lo
		if !(g.zscale[j] > 0) {
			g.zscale[j] = 1
		}
	}
}

func (g *GP) transform(x []float64) []float64 {
	z := make([]float64, g.dim)
	for j := range z {
		z[j] = (x[j] - g.zmin[j]) / g.zscale[j]
	}
	return z
}

// Dim returns the input dimensionality seen at fit time
func (g *GP) Dim() int {
	return g.dim
}

// Hyperparameters returns the fitted kernel hyperparameters
func (g *GP) Hyperparameters() Hyperparameters {
	return g.hyp.Clone()
}

// Jitter returns the diagonal jitter that was needed to factorise the kernel matrix
func (g *GP) Jitter() float64 {
	return g.jitter
}

// Predict returns the noiseless predictive mean and variance at x
func (g *GP) Predict(x []float64) (mean, variance float64, err error) {
	mean, variance, _, _, err = g.predict(x, false)
	return mean, variance, err
}

// PredictGradient also returns the gradients of mean and variance with respect to x
func (g *GP) PredictGradient(x []float64) (mean, variance float64, dmean, dvar []float64, err error) {
	return g.predict(x, true)
}

func (g *GP) predict(x []float64, withGrad bool) (mean, variance float64, dmean, dvar []float64, err error) {
	if !g.fitted {
		return 0, 0, nil, nil, &StaleSurrogateError{}
	}
	if len(x) != g.dim {
		return 0, 0, nil, nil, &models.DimensionMismatchError{What: "surrogate input", Expected: g.dim, Got: len(x)}
	}
	z := g.transform(x)
	n := len(g.z)
	ks := mat.NewVecDense(n, nil)
	for i, zi := range g.z {
		ks.SetVec(i, seKernel(z, zi, g.hyp))
	}
	var w mat.VecDense
	if err := g.chol.SolveVecTo(&w, ks); err != nil && !linalg.IsCondition(err) {
		return 0, 0, nil, nil, err
	}

	meanS := mat.Dot(ks, g.alpha)
	varS := g.hyp.SignalVar - mat.Dot(ks, &w)
	if varS < 0 {
		varS = 0
	}
	mean = g.ymean + g.ystd*meanS
	variance = g.ystd * g.ystd * varS
	if !withGrad {
		return mean, variance, nil, nil, nil
	}

	dmean = make([]float64, g.dim)
	dvar = make([]float64, g.dim)
	for j := 0; j < g.dim; j++ {
		l2 := g.hyp.LengthScales[j] * g.hyp.LengthScales[j]
		var dm, dv float64
		for i, zi := range g.z {
			dk := -ks.AtVec(i) * (z[j] - zi[j]) / l2
			dm += dk * g.alpha.AtVec(i)
			dv += dk * w.AtVec(i)
		}
		dmean[j] = g.ystd * dm / g.zscale[j]
		dvar[j] = -2 * g.ystd * g.ystd * dv / g.zscale[j]
	}
	return mean, variance, dmean, dvar, nil
}
