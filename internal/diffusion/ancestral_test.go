package diffusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAncestralStepSplitsVariance(t *testing.T) {
	sigma, sigmaNext := 2.0, 1.0
	down, up := AncestralStep(sigma, sigmaNext, 1.0)
	assert.Greater(t, up, 0.0)
	assert.Greater(t, down, 0.0)
	assert.InDelta(t, sigmaNext*sigmaNext, down*down+up*up, 1e-12)
}

func TestAncestralStepEtaZeroIsDeterministic(t *testing.T) {
	down, up := AncestralStep(2.0, 1.0, 0.0)
	assert.Equal(t, 1.0, down)
	assert.Equal(t, 0.0, up)
}

func TestAncestralStepZeroTarget(t *testing.T) {
	down, up := AncestralStep(2.0, 0.0, 1.0)
	assert.Equal(t, 0.0, down)
	assert.Equal(t, 0.0, up)
}

func TestAncestralStepUpwardTargetClamps(t *testing.T) {
	// sigmaNext above sigma would put a negative value under the square
	// root; the variance term clamps to zero instead of going NaN.
	down, up := AncestralStep(1.0, 2.0, 1.0)
	assert.False(t, math.IsNaN(down))
	assert.False(t, math.IsNaN(up))
	assert.Equal(t, 0.0, up)
	assert.Equal(t, 2.0, down)
}

func TestAncestralStepEtaScalesNoise(t *testing.T) {
	_, upFull := AncestralStep(2.0, 1.0, 1.0)
	_, upHalf := AncestralStep(2.0, 1.0, 0.5)
	assert.Less(t, upHalf, upFull)
	assert.Greater(t, upHalf, 0.0)
}

func TestToD(t *testing.T) {
	x := Tensor{3.0, -1.0}
	den := Tensor{1.0, 1.0}
	d := ToD(x, 2.0, den)
	assert.InDeltaSlice(t, Tensor{1.0, -1.0}, d, 1e-12)
}

func TestExtractPredRecoversComponents(t *testing.T) {
	den := Tensor{1.0, -2.0}
	noise := Tensor{0.5, 0.25}
	sigma, sigmaNext := 2.0, 1.0

	xBefore := den.AddScaled(noise, sigma)
	xAfter := den.AddScaled(noise, sigmaNext)

	gotDen, gotNoise := ExtractPred(xBefore, xAfter, sigma, sigmaNext)
	assert.InDeltaSlice(t, den, gotDen, 1e-9)
	assert.InDeltaSlice(t, noise, gotNoise, 1e-9)
}

func TestGaussianNoiseDeterministicUnderSeed(t *testing.T) {
	a := NewGaussianNoise(42).Sample(1, 0.5, 8)
	b := NewGaussianNoise(42).Sample(1, 0.5, 8)
	assert.Equal(t, a, b)
	c := NewGaussianNoise(43).Sample(1, 0.5, 8)
	assert.NotEqual(t, a, c)
}
