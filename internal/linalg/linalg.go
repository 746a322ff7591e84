// Package linalg holds the covariance algebra shared by the surrogate and the
// discrimination criterion: jitter-regularised Cholesky factorisation and a few
// symmetric-matrix helpers on top of gonum.
package linalg

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
	"gonum.org/v1/gonum/mat"
)

// NotPositiveDefiniteError is returned when a matrix stays indefinite after every jitter attempt
type NotPositiveDefiniteError struct {
	Size       int
	Attempts   int
	LastJitter float64
}

func (e *NotPositiveDefiniteError) Error() string {
	return fmt.Sprintf("matrix of size %d not positive definite after %d jitter attempts (last jitter %g)", e.Size, e.Attempts, e.LastJitter)
}

// Factorize computes the Cholesky factorisation of a. When a is not numerically
// positive definite, jitter from sched (scaled by the mean diagonal, or 1 when the
// diagonal is zero) is added to the diagonal until the factorisation succeeds.
// It returns the factor and the absolute jitter that was added.
func Factorize(a mat.Symmetric, sched utils.JitterSchedule) (*mat.Cholesky, float64, error) {
	n := a.SymmetricDim()
	var chol mat.Cholesky
	if chol.Factorize(a) {
		return &chol, 0, nil
	}

	scale := MeanDiag(a)
	if !(scale > 0) || math.IsInf(scale, 0) {
		scale = 1
	}
	work := mat.NewSymDense(n, nil)
	var jitter float64
	for attempt := 0; attempt < sched.Attempts; attempt++ {
		jitter = sched.Jitter(attempt) * scale
		work.CopySym(a)
		for i := 0; i < n; i++ {
			work.SetSym(i, i, work.At(i, i)+jitter)
		}
		if chol.Factorize(work) {
			return &chol, jitter, nil
		}
	}
	return nil, jitter, &NotPositiveDefiniteError{Size: n, Attempts: sched.Attempts, LastJitter: jitter}
}

// MeanDiag returns the mean of the absolute diagonal entries
func MeanDiag(a mat.Symmetric) float64 {
	n := a.SymmetricDim()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(a.At(i, i))
	}
	return sum / float64(n)
}

// Mahalanobis returns diffᵀ A⁻¹ diff for the factorised A
func Mahalanobis(diff []float64, chol *mat.Cholesky) (float64, error) {
	b := mat.NewVecDense(len(diff), append([]float64(nil), diff...))
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, b); err != nil && !IsCondition(err) {
		return 0, err
	}
	return mat.Dot(b, &x), nil
}

// IsCondition reports whether err is gonum's ill-conditioning warning, which is
// returned alongside a usable solution
func IsCondition(err error) bool {
	_, ok := err.(mat.Condition)
	return ok
}

// Inverse returns A⁻¹ from its Cholesky factor
func Inverse(chol *mat.Cholesky) (*mat.SymDense, error) {
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil && !IsCondition(err) {
		return nil, err
	}
	return &inv, nil
}

// AddSym returns a + b
func AddSym(a, b mat.Symmetric) *mat.SymDense {
	var out mat.SymDense
	out.AddSym(a, b)
	return &out
}

// ScaleSym returns f * a
func ScaleSym(f float64, a mat.Symmetric) *mat.SymDense {
	var out mat.SymDense
	out.ScaleSym(f, a)
	return &out
}

// AddDiag adds d[i] to a[i,i] in place
func AddDiag(a *mat.SymDense, d []float64) {
	for i, v := range d {
		a.SetSym(i, i, a.At(i, i)+v)
	}
}

// Diag returns a symmetric matrix with d on the diagonal
func Diag(d []float64) *mat.SymDense {
	out := mat.NewSymDense(len(d), nil)
	for i, v := range d {
		out.SetSym(i, i, v)
	}
	return out
}

// Sandwich returns J S Jᵀ, symmetrised against round-off
func Sandwich(j mat.Matrix, s mat.Symmetric) *mat.SymDense {
	r, _ := j.Dims()
	var tmp, full mat.Dense
	tmp.Mul(j, s)
	full.Mul(&tmp, j.T())
	return Symmetrize(&full, r)
}

// Symmetrize returns (m + mᵀ)/2 for a square n×n matrix
func Symmetrize(m mat.Matrix, n int) *mat.SymDense {
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for k := i; k < n; k++ {
			out.SetSym(i, k, 0.5*(m.At(i, k)+m.At(k, i)))
		}
	}
	return out
}

// Trace returns the trace of a square matrix
func Trace(m mat.Matrix) float64 {
	r, _ := m.Dims()
	var t float64
	for i := 0; i < r; i++ {
		t += m.At(i, i)
	}
	return t
}
