package geo

import (
	"math"
	"testing"
)

func TestIdenticalPointsZero(t *testing.T) {
	points := [][2]float64{
		{0, 0},
		{7.3775, 3.9470},
		{-33.8688, 151.2093},
		{89.9, -179.9},
	}

	for _, p := range points {
		if d := HaversineDistance(p[0], p[1], p[0], p[1]); d != 0 {
			t.Errorf("distance(%v, %v) to itself = %f, want exactly 0", p[0], p[1], d)
		}
	}
}

func TestSymmetry(t *testing.T) {
	pairs := [][4]float64{
		{7.3775, 3.9470, 7.3800, 3.9500},
		{0, 0, 1, 1},
		{51.5074, -0.1278, 48.8566, 2.3522},
	}

	for _, p := range pairs {
		ab := HaversineDistance(p[0], p[1], p[2], p[3])
		ba := HaversineDistance(p[2], p[3], p[0], p[1])
		if math.Abs(ab-ba) > 1e-9 {
			t.Errorf("asymmetric distance: %f vs %f", ab, ba)
		}
	}
}

func TestKnownDistances(t *testing.T) {
	// One degree of latitude at the equator is about 111.2 km.
	d := HaversineDistance(0, 0, 1, 0)
	if d < 110000 || d > 112500 {
		t.Errorf("one degree latitude = %f m, expected ~111.2 km", d)
	}

	// Two points roughly 50 m apart in Ibadan (0.00045 degrees latitude).
	d = HaversineDistance(7.3775, 3.9470, 7.37795, 3.9470)
	if d < 45 || d > 55 {
		t.Errorf("expected ~50 m, got %f m", d)
	}
}

func TestNonNegative(t *testing.T) {
	d := HaversineDistance(-45.1, 120.5, 67.2, -43.9)
	if d < 0 {
		t.Errorf("distance must be non-negative, got %f", d)
	}
}
