package utils

import (
	"testing"
	"time"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	if !c.Now().Equal(start) {
		t.Fatalf("Expected %v, got %v", start, c.Now())
	}
	c.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !c.Now().Equal(want) {
		t.Errorf("Expected %v after advance, got %v", want, c.Now())
	}
}

func TestSystemClockUTC(t *testing.T) {
	var c Clock = SystemClock{}
	if c.Now().Location() != time.UTC {
		t.Error("Expected system clock to report UTC")
	}
}
