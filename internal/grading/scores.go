package grading

import "math"

// Round2 rounds to 2 decimal places. All scores pass through this
// before storage.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Clamp bounds a score to [0, max].
func Clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
