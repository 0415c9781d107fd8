package samplers

import "math"

// Log-sigma time: t = -log(sigma) is the natural integration variable
// for the exponential integrators.
func tOf(sigma float64) float64  { return -math.Log(sigma) }
func sigmaOf(t float64) float64  { return math.Exp(-t) }
func exp(v float64) float64      { return math.Exp(v) }
func expm1(v float64) float64    { return math.Expm1(v) }
func sqrt(v float64) float64     { return math.Sqrt(v) }
func absf(v float64) float64     { return math.Abs(v) }
func maxf(a, b float64) float64  { return math.Max(a, b) }
func minf(a, b float64) float64  { return math.Min(a, b) }
func powf(a, b float64) float64  { return math.Pow(a, b) }

// phi1 and phi2 are the standard exponential-integrator weights
// phi_1(z) = (e^z - 1)/z and phi_2(z) = (e^z - 1 - z)/z^2, with their
// removable singularities filled in.
func phi1(z float64) float64 {
	if z == 0 {
		return 1
	}
	return expm1(z) / z
}

func phi2(z float64) float64 {
	if z == 0 {
		return 0.5
	}
	return (expm1(z) - z) / (z * z)
}

// deSecondOrder produces the stage weight and the two final weights of
// the second-order exponential scheme, parameterized by the midpoint
// fraction c2. The simple form uses phi_1-only weights; the exact form
// uses the phi_2-based closed form.
func deSecondOrder(h, c2 float64, simplePhi bool) (a21, b1, b2 float64) {
	a21 = c2 * phi1(-c2*h)
	if simplePhi {
		b2 = phi1(-h) / (2 * c2)
		b1 = phi1(-h) - b2
		return a21, b1, b2
	}
	b2 = phi2(-h) / c2
	b1 = phi1(-h) - b2
	return a21, b1, b2
}
