package odesolve

import "math"

func sqrtf(v float64) float64 { return math.Sqrt(v) }
func powf(v, p float64) float64 {
	return math.Pow(v, p)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
