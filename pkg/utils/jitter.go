package utils

import "math"

// JitterSchedule yields the diagonal jitter added to a covariance on successive
// factorisation attempts. It is deterministic: attempt k gets Base*Multiplier^k, capped at Max.
type JitterSchedule struct {
	Base       float64
	Multiplier float64
	Max        float64
	Attempts   int
}

// DefaultJitterSchedule starts at 1e-9 and grows by decades up to 1e-2 over eight attempts
func DefaultJitterSchedule() JitterSchedule {
	return JitterSchedule{Base: 1e-9, Multiplier: 10, Max: 1e-2, Attempts: 8}
}

// NewJitterSchedule builds a schedule, filling non-positive fields with defaults
func NewJitterSchedule(base float64, attempts int) JitterSchedule {
	s := DefaultJitterSchedule()
	if base > 0 {
		s.Base = base
	}
	if attempts > 0 {
		s.Attempts = attempts
	}
	if s.Max < s.Base {
		s.Max = s.Base
	}
	return s
}

// Jitter returns the jitter for the given attempt (0-indexed)
func (s JitterSchedule) Jitter(attempt int) float64 {
	mult := s.Multiplier
	if mult <= 1 {
		mult = 10
	}
	j := s.Base * math.Pow(mult, float64(attempt))
	if s.Max > 0 && j > s.Max {
		return s.Max
	}
	return j
}
