package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestNewDesignSpaceValidation(t *testing.T) {
	if _, err := NewDesignSpace(); err == nil {
		t.Error("Expected error for empty design space")
	}
	if _, err := NewDesignSpace(Bound{Lower: 1, Upper: 1}); err == nil {
		t.Error("Expected error for lower == upper")
	}
	if _, err := NewDesignSpace(Bound{Lower: 0, Upper: 1}, Bound{Lower: 2, Upper: -1}); err == nil {
		t.Error("Expected error for lower > upper")
	}
	s, err := NewDesignSpace(Bound{Name: "x", Lower: 0, Upper: 1}, Bound{Name: "T", Lower: 300, Upper: 400})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if s.Dim() != 2 {
		t.Errorf("Expected 2 dimensions, got %d", s.Dim())
	}
}

func TestDesignSpaceImmutable(t *testing.T) {
	bounds := []Bound{{Lower: 0, Upper: 1}}
	s := MustDesignSpace(bounds...)
	bounds[0].Upper = 5

	got := s.Bounds()
	got[0].Lower = -3
	if s.Bound(0).Upper != 1 || s.Bound(0).Lower != 0 {
		t.Errorf("Expected design space to be unaffected by caller mutation, got %+v", s.Bound(0))
	}
}

func TestDesignSpaceValidate(t *testing.T) {
	s := MustDesignSpace(Bound{Lower: 0, Upper: 1}, Bound{Lower: -1, Upper: 1})

	if err := s.Validate(DesignPoint{0.5, 0}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := s.Validate(DesignPoint{1, -1}); err != nil {
		t.Errorf("Bounds are inclusive, got %v", err)
	}

	var dm *DimensionMismatchError
	if err := s.Validate(DesignPoint{0.5}); !errors.As(err, &dm) {
		t.Errorf("Expected DimensionMismatchError, got %v", err)
	}

	var oob *OutOfBoundsError
	if err := s.Validate(DesignPoint{0.5, 2}); !errors.As(err, &oob) || oob.Dim != 1 {
		t.Errorf("Expected OutOfBoundsError on dim 1, got %v", err)
	}
	if s.Contains(DesignPoint{math.NaN(), 0}) {
		t.Error("Expected NaN design to be rejected")
	}
}

func TestDesignSpaceClampAndCenter(t *testing.T) {
	s := MustDesignSpace(Bound{Lower: 0, Upper: 2}, Bound{Lower: -1, Upper: 1})
	got := s.Clamp(DesignPoint{3, math.NaN()})
	if got[0] != 2 || got[1] != -1 {
		t.Errorf("Unexpected clamp result: %v", got)
	}
	c := s.Center()
	if c[0] != 1 || c[1] != 0 {
		t.Errorf("Unexpected center: %v", c)
	}
	u := s.FromUnit([]float64{0.25, 1})
	if u[0] != 0.5 || u[1] != 1 {
		t.Errorf("Unexpected FromUnit: %v", u)
	}
}

func TestParameterDistribution(t *testing.T) {
	p, err := NewGaussianParameters([]float64{1, 2}, [][]float64{{0.04, 0.01}, {0.01, 0.09}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if p.Dim() != 2 || p.HasSamples() {
		t.Errorf("Unexpected distribution shape: %+v", p)
	}
	sd := p.StdDev()
	if math.Abs(sd[0]-0.2) > 1e-12 || math.Abs(sd[1]-0.3) > 1e-12 {
		t.Errorf("Unexpected std dev: %v", sd)
	}
	if p.CovMatrix().At(1, 0) != 0.01 {
		t.Errorf("Unexpected covariance matrix entry")
	}

	lo, hi := p.Box(2)
	if math.Abs(lo[0]-0.6) > 1e-12 || math.Abs(hi[1]-2.6) > 1e-12 {
		t.Errorf("Unexpected Gaussian box: %v %v", lo, hi)
	}

	sampled, err := NewSampledParameters([][]float64{{1}, {2}, {3}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	lo, hi = sampled.Box(3)
	if math.Abs(lo[0]+1) > 1e-12 || math.Abs(hi[0]-5) > 1e-12 {
		t.Errorf("Expected sample box [-1, 5], got [%v, %v]", lo[0], hi[0])
	}
	lo, hi = sampled.Box(0)
	if lo[0] != 1 || hi[0] != 3 {
		t.Errorf("Expected zero spread to keep the sample range, got [%v, %v]", lo[0], hi[0])
	}

	if _, err := NewGaussianParameters([]float64{1}, [][]float64{{1, 0}}); err == nil {
		t.Error("Expected error for ragged covariance")
	}
	if _, err := NewGaussianParameters([]float64{1, 2}, [][]float64{{1, 0.5}, {0.2, 1}}); err == nil {
		t.Error("Expected error for asymmetric covariance")
	}

	clone := p.Clone()
	clone.Mean[0] = 10
	clone.Cov[0][0] = 10
	if p.Mean[0] != 1 || p.Cov[0][0] != 0.04 {
		t.Error("Expected Clone to be deep")
	}
}

func TestNewSampledParameters(t *testing.T) {
	p, err := NewSampledParameters([][]float64{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if p.Mean[0] != 2 || p.Mean[1] != 3 {
		t.Errorf("Unexpected sample mean: %v", p.Mean)
	}
	if !p.HasSamples() {
		t.Error("Expected sampled distribution")
	}
	if _, err := NewSampledParameters([][]float64{{1}, {1, 2}}); err == nil {
		t.Error("Expected error for ragged samples")
	}
	if _, err := NewSampledParameters(nil); err == nil {
		t.Error("Expected error for no samples")
	}
}

func TestCampaignState(t *testing.T) {
	var s CampaignState
	d := DesignPoint{0.5}
	out := []float64{1.5}
	s.Append(Observation{Round: 1, Design: d, Output: out, RecordedAt: time.Unix(0, 0)})
	d[0] = 9
	out[0] = 9

	if s.Len() != 1 {
		t.Fatalf("Expected 1 observation, got %d", s.Len())
	}
	if s.Observations[0].Design[0] != 0.5 || s.Observations[0].Output[0] != 1.5 {
		t.Error("Expected Append to copy its inputs")
	}

	clone := s.Clone()
	clone.Observations[0].Output[0] = 3
	if s.Observations[0].Output[0] != 1.5 {
		t.Error("Expected Clone to be deep")
	}
	if d := s.Designs(); len(d) != 1 || d[0][0] != 0.5 {
		t.Errorf("Unexpected designs: %v", d)
	}

	s.Reset()
	if s.Len() != 0 {
		t.Error("Expected empty state after Reset")
	}
}
