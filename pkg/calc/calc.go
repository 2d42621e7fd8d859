// Package calc provides progress arithmetic.
package calc

import (
	"time"

	"downloadflow/pkg/maths"
)

// Progress calculates the percentage for a given pair of numbers.
func Progress(done, total int) int {
	if total > 0 {
		return maths.RoundFloat64ToInt(float64(done) / float64(total) * 100)
	}

	return 0
}

// ETA estimates the remaining time from the elapsed time and the completed percentage.
// It returns 0 until there is some progress.
func ETA(percent float64, started time.Time) time.Duration {
	if percent <= 0 {
		return 0
	}

	if percent >= 100 {
		return 0
	}

	elapsed := time.Since(started)

	return time.Duration(float64(elapsed) * (100/percent - 1))
}
