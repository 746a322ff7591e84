package discrimination

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/doe-core/internal/linalg"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
	"gonum.org/v1/gonum/mat"
)

// Divergence names a distance between two Gaussian predictive distributions
type Divergence string

const (
	// BuzziFerraris is Δᵀ(Σi+Σj)⁻¹Δ
	BuzziFerraris Divergence = "buzzi_ferraris"
	// SymmetricKL is ½[KL(i‖j) + KL(j‖i)]
	SymmetricKL Divergence = "symmetric_kl"
	// Bhattacharyya is ⅛ΔᵀΣ̄⁻¹Δ + ½ ln(det Σ̄ / √(det Σi det Σj)) with Σ̄ = (Σi+Σj)/2
	Bhattacharyya Divergence = "bhattacharyya"
)

// ParseDivergence validates a configured divergence name
func ParseDivergence(s string) (Divergence, error) {
	switch d := Divergence(s); d {
	case BuzziFerraris, SymmetricKL, Bhattacharyya:
		return d, nil
	case "":
		return BuzziFerraris, nil
	default:
		return "", fmt.Errorf("unknown divergence %q", s)
	}
}

// regularizer factorises covariances, adding deterministic diagonal jitter when
// they are singular; jitter hits are reported through onJitter
type regularizer struct {
	sched    utils.JitterSchedule
	onJitter func()
}

func (r regularizer) factorize(a mat.Symmetric) (*mat.Cholesky, error) {
	chol, jitter, err := linalg.Factorize(a, r.sched)
	if err != nil {
		return nil, err
	}
	if jitter > 0 && r.onJitter != nil {
		r.onJitter()
	}
	return chol, nil
}

// Pairwise computes the divergence between two predictions using the given
// jitter schedule. All divergences are symmetric and non-negative.
func Pairwise(div Divergence, a, b models.Prediction, sched utils.JitterSchedule) (float64, error) {
	return regularizer{sched: sched}.pairwise(div, a, b)
}

func (r regularizer) pairwise(div Divergence, a, b models.Prediction) (float64, error) {
	if a.Dim() != b.Dim() {
		return 0, &models.DimensionMismatchError{What: "prediction outputs", Expected: a.Dim(), Got: b.Dim()}
	}
	diff := make([]float64, a.Dim())
	for i := range diff {
		diff[i] = a.Mean[i] - b.Mean[i]
	}
	switch div {
	case BuzziFerraris, "":
		return r.buzziFerraris(diff, a.Cov, b.Cov)
	case SymmetricKL:
		return r.symmetricKL(diff, a.Cov, b.Cov)
	case Bhattacharyya:
		return r.bhattacharyya(diff, a.Cov, b.Cov)
	default:
		return 0, fmt.Errorf("unknown divergence %q", div)
	}
}

func (r regularizer) buzziFerraris(diff []float64, sa, sb mat.Symmetric) (float64, error) {
	chol, err := r.factorize(linalg.AddSym(sa, sb))
	if err != nil {
		return 0, err
	}
	return linalg.Mahalanobis(diff, chol)
}

// both covariances are replaced by their regularised factorisations so the
// result is the divergence of two proper Gaussians
func (r regularizer) symmetricKL(diff []float64, sa, sb mat.Symmetric) (float64, error) {
	ca, err := r.factorize(sa)
	if err != nil {
		return 0, err
	}
	cb, err := r.factorize(sb)
	if err != nil {
		return 0, err
	}
	var ra, rb mat.SymDense
	ca.ToSym(&ra)
	cb.ToSym(&rb)

	n := len(diff)
	var x mat.Dense
	if err := cb.SolveTo(&x, &ra); err != nil && !linalg.IsCondition(err) {
		return 0, err
	}
	tab := linalg.Trace(&x)
	if err := ca.SolveTo(&x, &rb); err != nil && !linalg.IsCondition(err) {
		return 0, err
	}
	tba := linalg.Trace(&x)

	ma, err := linalg.Mahalanobis(diff, ca)
	if err != nil {
		return 0, err
	}
	mb, err := linalg.Mahalanobis(diff, cb)
	if err != nil {
		return 0, err
	}
	v := 0.25*(tab+tba-2*float64(n)) + 0.25*(ma+mb)
	return math.Max(v, 0), nil
}

func (r regularizer) bhattacharyya(diff []float64, sa, sb mat.Symmetric) (float64, error) {
	ca, err := r.factorize(sa)
	if err != nil {
		return 0, err
	}
	cb, err := r.factorize(sb)
	if err != nil {
		return 0, err
	}
	var ra, rb mat.SymDense
	ca.ToSym(&ra)
	cb.ToSym(&rb)
	avg := linalg.ScaleSym(0.5, linalg.AddSym(&ra, &rb))
	cm, err := r.factorize(avg)
	if err != nil {
		return 0, err
	}
	m, err := linalg.Mahalanobis(diff, cm)
	if err != nil {
		return 0, err
	}
	v := m/8 + 0.5*(cm.LogDet()-0.5*(ca.LogDet()+cb.LogDet()))
	return math.Max(v, 0), nil
}
