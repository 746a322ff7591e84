package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

// Clamp limits v to [lo, hi]
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Max returns the largest of the values; zero for no values
func Max[T constraints.Ordered](values ...T) T {
	var out T
	for i, v := range values {
		if i == 0 || v > out {
			out = v
		}
	}
	return out
}

// AllFinite reports whether no value is NaN or infinite
func AllFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ParseFloats parses a comma separated list such as "0.5, 1,2e-3"
func ParseFloats(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty value list")
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("value %d (%q): %w", i, p, err)
		}
		out[i] = v
	}
	return out, nil
}
