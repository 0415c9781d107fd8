package diffusion

import "math"

// AncestralStep splits the move sigma -> sigmaNext into a deterministic
// transport to sigmaDown followed by noise injection scaled by sigmaUp,
// matching the target distribution at sigmaNext.
//
// Guarantees: sigmaDown <= sigmaNext <= sigma implies sigmaUp >= 0, and
// eta == 0 collapses to (sigmaNext, 0). The variance term is clamped at
// zero so an inverted pair (sigmaNext > sigma) degrades to a pure
// deterministic move instead of producing NaN.
func AncestralStep(sigma, sigmaNext, eta float64) (sigmaDown, sigmaUp float64) {
	if eta == 0 || sigmaNext == 0 {
		return sigmaNext, 0
	}
	v := sigmaNext * sigmaNext * (sigma*sigma - sigmaNext*sigmaNext) / (sigma * sigma)
	if v < 0 {
		v = 0
	}
	sigmaUp = math.Min(sigmaNext, eta*math.Sqrt(v))
	sigmaDown = math.Sqrt(sigmaNext*sigmaNext - sigmaUp*sigmaUp)
	return sigmaDown, sigmaUp
}

// ToD converts a denoised estimate into the probability-flow derivative
// dx/dsigma at (x, sigma).
func ToD(x Tensor, sigma float64, denoised Tensor) Tensor {
	d := make(Tensor, len(x))
	for i := range x {
		d[i] = (x[i] - denoised[i]) / sigma
	}
	return d
}

// ExtractPred decomposes the result of a step from xBefore (at sigma) to
// xAfter (at sigmaNext) into implied denoised and noise components, such
// that xAfter = denoised + noise*sigmaNext. Used to re-target a finished
// deterministic step onto an ancestral sigmaDown.
func ExtractPred(xBefore, xAfter Tensor, sigma, sigmaNext float64) (denoised, noise Tensor) {
	if sigmaNext == 0 {
		return xAfter.Clone(), Zeros(len(xAfter))
	}
	alpha := sigmaNext / sigma
	denoised = make(Tensor, len(xAfter))
	noise = make(Tensor, len(xAfter))
	for i := range xAfter {
		denoised[i] = (xAfter[i] - alpha*xBefore[i]) / (1 - alpha)
		noise[i] = (xAfter[i] - denoised[i]) / sigmaNext
	}
	return denoised, noise
}
