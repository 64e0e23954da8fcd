package analyzer

import (
	"math"
	"testing"
)

func TestLogSimilarity(t *testing.T) {
	for _, tc := range []struct {
		a, b, want float64
	}{
		{1, 1, 1.0},
		{100, 100, 1.0},
		{1, 10, 1.0 - 1.0/3.0},
		{1, 1000, 0.0},    // three orders of magnitude apart
		{1, 1e6, 0.0},     // clamped, never negative
		{0, 0, 1.0},       // epsilon keeps zero volumes comparable
	} {
		got := logSimilarity(tc.a, tc.b)
		if math.Abs(got-tc.want) > 1e-6 {
			t.Errorf("logSimilarity(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
	if logSimilarity(3, 7) != logSimilarity(7, 3) {
		t.Error("logSimilarity is not symmetric")
	}
}

func TestCircularHourDistance(t *testing.T) {
	for _, tc := range []struct {
		h1, h2 int
		want   float64
	}{
		{0, 0, 0},
		{0, 12, 12},
		{23, 1, 2},  // wraps around midnight
		{1, 23, 2},
		{6, 18, 12}, // maximum distance on the circle
		{22, 2, 4},
	} {
		if got := circularHourDistance(tc.h1, tc.h2); got != tc.want {
			t.Errorf("circularHourDistance(%d, %d) = %v, want %v", tc.h1, tc.h2, got, tc.want)
		}
	}
}

func TestHourSimilarity(t *testing.T) {
	if got := hourSimilarity(3, 3); got != 1.0 {
		t.Errorf("same hour similarity = %v, want 1.0", got)
	}
	if got := hourSimilarity(6, 18); got != 0.0 {
		t.Errorf("opposite hour similarity = %v, want 0.0", got)
	}
	if got := hourSimilarity(-1, 5); got != 0.0 {
		t.Errorf("missing mode hour similarity = %v, want 0.0", got)
	}
	if got := hourSimilarity(23, 1); math.Abs(got-(1.0-2.0/12.0)) > 1e-9 {
		t.Errorf("wrapped similarity = %v", got)
	}
}

func TestBehavioralSubWeightsSumToOne(t *testing.T) {
	if s := volumeWeight + frequencyWeight + hourWeight; math.Abs(s-1.0) > 1e-9 {
		t.Errorf("behavioral sub-weights sum to %v, want 1.0", s)
	}
}
