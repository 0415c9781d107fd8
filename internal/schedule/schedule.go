package schedule

import "math"

// Karras returns n noise levels spaced by the rho power rule, descending
// from sigmaMax to sigmaMin, with a trailing zero.
func Karras(n int, sigmaMin, sigmaMax, rho float64) []float64 {
	if n < 1 {
		return []float64{0}
	}
	sigmas := make([]float64, 0, n+1)
	minInv := math.Pow(sigmaMin, 1/rho)
	maxInv := math.Pow(sigmaMax, 1/rho)
	for i := 0; i < n; i++ {
		frac := 0.0
		if n > 1 {
			frac = float64(i) / float64(n-1)
		}
		sigmas = append(sigmas, math.Pow(maxInv+frac*(minInv-maxInv), rho))
	}
	return append(sigmas, 0)
}

// Linear returns n evenly spaced noise levels from sigmaMax down to
// sigmaMin, with a trailing zero.
func Linear(n int, sigmaMin, sigmaMax float64) []float64 {
	if n < 1 {
		return []float64{0}
	}
	sigmas := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		frac := 0.0
		if n > 1 {
			frac = float64(i) / float64(n-1)
		}
		sigmas = append(sigmas, sigmaMax+frac*(sigmaMin-sigmaMax))
	}
	return append(sigmas, 0)
}

// FirstUnsorted returns the index of the first entry that breaks the
// non-increasing order of sigmas, or len(sigmas) when the whole slice is
// sorted. Used to bound lookahead to the current descending run.
func FirstUnsorted(sigmas []float64) int {
	for i := 1; i < len(sigmas); i++ {
		if sigmas[i] > sigmas[i-1] {
			return i
		}
	}
	return len(sigmas)
}

// Segments splits a schedule into its maximal descending runs. A plain
// schedule yields one segment; schedules with restarts (an upward jump
// back to a higher sigma) yield one segment per run. Each segment is a
// [start, end) index pair into the original slice.
func Segments(sigmas []float64) [][2]int {
	if len(sigmas) == 0 {
		return nil
	}
	segs := make([][2]int, 0, 1)
	start := 0
	for i := 1; i < len(sigmas); i++ {
		if sigmas[i] > sigmas[i-1] {
			segs = append(segs, [2]int{start, i})
			start = i
		}
	}
	return append(segs, [2]int{start, len(sigmas)})
}
