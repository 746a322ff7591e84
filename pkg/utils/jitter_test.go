package utils

import "testing"

func TestJitterScheduleGrowth(t *testing.T) {
	s := DefaultJitterSchedule()
	prev := 0.0
	for i := 0; i < s.Attempts; i++ {
		j := s.Jitter(i)
		if j < prev {
			t.Fatalf("Expected non-decreasing jitter, attempt %d gave %g after %g", i, j, prev)
		}
		if j > s.Max {
			t.Fatalf("Jitter %g exceeds cap %g", j, s.Max)
		}
		prev = j
	}
	if s.Jitter(0) != 1e-9 {
		t.Errorf("Expected first jitter 1e-9, got %g", s.Jitter(0))
	}
}

func TestJitterScheduleDeterministic(t *testing.T) {
	s := NewJitterSchedule(1e-6, 3)
	if s.Jitter(2) != s.Jitter(2) {
		t.Error("Expected deterministic jitter")
	}
	if s.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", s.Attempts)
	}
	if got := s.Jitter(1); got < 9.99e-6 || got > 1.001e-5 {
		t.Errorf("Expected second jitter ~1e-5, got %g", got)
	}
}

func TestJitterScheduleCap(t *testing.T) {
	s := NewJitterSchedule(1e-3, 10)
	if got := s.Jitter(9); got != s.Max {
		t.Errorf("Expected capped jitter %g, got %g", s.Max, got)
	}
}
