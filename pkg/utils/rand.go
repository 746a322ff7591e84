package utils

import (
	"math/rand"
	"sync"
	"time"
)

// RandSource is a thread-safe random number generator
type RandSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandSource creates a new random source with the given seed.
// A zero seed draws one from the wall clock.
func NewRandSource(seed int64) *RandSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandSource{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Float64 returns a random float64 in [0.0, 1.0)
func (r *RandSource) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// NormFloat64 returns a normally distributed random number with mean and stddev
func (r *RandSource) NormFloat64(mean, stddev float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.NormFloat64()*stddev + mean
}

// Perm returns a random permutation of [0, n)
func (r *RandSource) Perm(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Perm(n)
}

// LatinHypercube draws n points from the unit hypercube of the given dimension so
// that every one of the n equal-width strata of each axis holds exactly one point.
func (r *RandSource) LatinHypercube(n, dim int) [][]float64 {
	if n <= 0 || dim <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	points := make([][]float64, n)
	for i := range points {
		points[i] = make([]float64, dim)
	}
	for d := 0; d < dim; d++ {
		perm := r.rng.Perm(n)
		for i := 0; i < n; i++ {
			points[i][d] = (float64(perm[i]) + r.rng.Float64()) / float64(n)
		}
	}
	return points
}
