package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"substep/internal/diffusion"
)

func TestPointModelAlwaysPredictsTarget(t *testing.T) {
	target := diffusion.Tensor{1, 2, 3}
	m := NewPointModel(target)

	for _, sigma := range []float64{14.6, 1.0, 0.05} {
		mr, err := m.Evaluate(diffusion.Tensor{9, 9, 9}, sigma, diffusion.EvalSpec{})
		require.NoError(t, err)
		assert.Equal(t, target, mr.Denoised)
	}
}

func TestGaussianModelShrinkage(t *testing.T) {
	m := NewGaussianModel(1.0)
	x := diffusion.Tensor{2.0, -4.0}

	mr, err := m.Evaluate(x, 1.0, diffusion.EvalSpec{})
	require.NoError(t, err)
	assert.InDeltaSlice(t, diffusion.Tensor{1.0, -2.0}, mr.Denoised, 1e-12)

	// At tiny sigma the estimate approaches the input.
	mr, err = m.Evaluate(x, 1e-6, diffusion.EvalSpec{})
	require.NoError(t, err)
	assert.InDeltaSlice(t, x, mr.Denoised, 1e-9)
}

func TestGaussianModelJVPMatchesFiniteDifference(t *testing.T) {
	m := NewGaussianModel(1.0)
	x := diffusion.Tensor{1.5, -0.5}
	sigma := 2.0
	tangent := diffusion.Tensor{0.3, -0.7}
	tangentSigma := -2.0

	mr, err := m.Evaluate(x, sigma, diffusion.EvalSpec{Tangent: tangent, TangentSigma: tangentSigma})
	require.NoError(t, err)
	require.NotNil(t, mr.JDenoised)

	const eps = 1e-6
	xp := x.AddScaled(tangent, eps)
	plus, err := m.Evaluate(xp, sigma+tangentSigma*eps, diffusion.EvalSpec{})
	require.NoError(t, err)
	fd := plus.Denoised.Sub(mr.Denoised).Scale(1 / eps)
	assert.InDeltaSlice(t, fd, mr.JDenoised, 1e-4)
}

func TestGaussianFlowToIsConsistent(t *testing.T) {
	m := NewGaussianModel(2.0)
	x := diffusion.Tensor{3.0, -1.0}
	// Transporting down then back up is the identity.
	down := m.FlowTo(x, 2.0, 0.5)
	back := m.FlowTo(down, 0.5, 2.0)
	assert.InDeltaSlice(t, x, back, 1e-12)
}

func TestGuidedModelBlends(t *testing.T) {
	cond := NewPointModel(diffusion.Tensor{2, 2})
	uncond := NewPointModel(diffusion.Tensor{0, 0})

	m := NewGuidedModel(cond, uncond, 1.5)
	mr, err := m.Evaluate(diffusion.Tensor{1, 1}, 1.0, diffusion.EvalSpec{})
	require.NoError(t, err)
	assert.InDeltaSlice(t, diffusion.Tensor{3, 3}, mr.Denoised, 1e-12)
	assert.InDeltaSlice(t, diffusion.Tensor{0, 0}, mr.DenoisedUncond, 1e-12)
}
