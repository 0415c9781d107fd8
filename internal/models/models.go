// Package models provides analytic denoisers used for experiments and
// tests. They have closed-form posteriors, so sampler output can be
// checked against exact trajectories.
package models

import (
	"math"

	"substep/internal/diffusion"
)

// PointModel always predicts a fixed clean target, regardless of the
// input. Every sampler converges to the target as sigma goes to zero.
type PointModel struct {
	Target diffusion.Tensor
}

func NewPointModel(target diffusion.Tensor) *PointModel {
	return &PointModel{Target: target}
}

func (m *PointModel) Evaluate(x diffusion.Tensor, sigma float64, spec diffusion.EvalSpec) (*diffusion.ModelResult, error) {
	denoised := m.Target.Clone()
	mr := &diffusion.ModelResult{
		X:              x.Clone(),
		Sigma:          sigma,
		Denoised:       denoised,
		DenoisedUncond: denoised,
	}
	if spec.Tangent != nil {
		// The prediction is constant, so any directional derivative
		// vanishes.
		mr.JDenoised = diffusion.Zeros(len(x))
	}
	return mr, nil
}

// GaussianModel is the exact denoiser for a zero-mean Gaussian data
// distribution with per-element variance Var: the posterior mean is a
// sigma-dependent shrinkage of the input.
type GaussianModel struct {
	Var float64
}

func NewGaussianModel(variance float64) *GaussianModel {
	return &GaussianModel{Var: variance}
}

func (m *GaussianModel) Evaluate(x diffusion.Tensor, sigma float64, spec diffusion.EvalSpec) (*diffusion.ModelResult, error) {
	shrink := m.Var / (m.Var + sigma*sigma)
	denoised := x.Scale(shrink)
	mr := &diffusion.ModelResult{
		X:              x.Clone(),
		Sigma:          sigma,
		Denoised:       denoised,
		DenoisedUncond: denoised,
	}
	if spec.Tangent != nil {
		// d/du [ (x+u_x*e) * v/(v+(sigma+u_s*e)^2) ] at e=0.
		dShrink := -2 * sigma * m.Var / ((m.Var + sigma*sigma) * (m.Var + sigma*sigma))
		mr.JDenoised = spec.Tangent.Scale(shrink).AddScaled(x, dShrink*spec.TangentSigma)
	}
	return mr, nil
}

// FlowTo is the exact probability-flow solution for the Gaussian model:
// it transports x from noise level sigma0 to sigma1 in closed form.
// Useful as ground truth when checking integrator accuracy.
func (m *GaussianModel) FlowTo(x diffusion.Tensor, sigma0, sigma1 float64) diffusion.Tensor {
	scale := math.Sqrt((m.Var + sigma1*sigma1) / (m.Var + sigma0*sigma0))
	return x.Scale(scale)
}

// GuidedModel pairs a conditional and an unconditional denoiser so the
// guidance blend has a real unguided prediction to mix against.
type GuidedModel struct {
	Cond   diffusion.Model
	Uncond diffusion.Model
	// Scale applies classifier-free guidance: denoised =
	// uncond + scale*(cond-uncond). Scale 1 reduces to the conditional
	// prediction.
	Scale float64
}

func NewGuidedModel(cond, uncond diffusion.Model, scale float64) *GuidedModel {
	return &GuidedModel{Cond: cond, Uncond: uncond, Scale: scale}
}

func (m *GuidedModel) Evaluate(x diffusion.Tensor, sigma float64, spec diffusion.EvalSpec) (*diffusion.ModelResult, error) {
	cond, err := m.Cond.Evaluate(x, sigma, spec)
	if err != nil {
		return nil, err
	}
	uncond, err := m.Uncond.Evaluate(x, sigma, spec)
	if err != nil {
		return nil, err
	}
	denoised := uncond.Denoised.AddScaled(cond.Denoised.Sub(uncond.Denoised), m.Scale)
	mr := &diffusion.ModelResult{
		X:              x.Clone(),
		Sigma:          sigma,
		Denoised:       denoised,
		DenoisedUncond: uncond.Denoised,
	}
	if spec.Tangent != nil && cond.JDenoised != nil && uncond.JDenoised != nil {
		mr.JDenoised = uncond.JDenoised.AddScaled(cond.JDenoised.Sub(uncond.JDenoised), m.Scale)
	}
	return mr, nil
}
