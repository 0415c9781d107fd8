package samplers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhiWeightsAtZero(t *testing.T) {
	assert.Equal(t, 1.0, phi1(0))
	assert.Equal(t, 0.5, phi2(0))
}

func TestPhiWeightsMatchDefinition(t *testing.T) {
	for _, z := range []float64{-2, -0.5, 0.3, 1.7} {
		assert.InDelta(t, (math.Exp(z)-1)/z, phi1(z), 1e-12)
		assert.InDelta(t, (math.Exp(z)-1-z)/(z*z), phi2(z), 1e-12)
	}
}

func TestDESecondOrderWeightsSumToPhi1(t *testing.T) {
	h, c2 := 0.7, 0.5
	// Both phi forms satisfy b1 + b2 == phi1(-h) by construction.
	_, b1, b2 := deSecondOrder(h, c2, false)
	assert.InDelta(t, phi1(-h), b1+b2, 1e-12)
	_, b1, b2 = deSecondOrder(h, c2, true)
	assert.InDelta(t, phi1(-h), b1+b2, 1e-12)
}

func TestLogSigmaTimeRoundtrip(t *testing.T) {
	for _, sigma := range []float64{0.02, 0.5, 1, 14.6} {
		assert.InDelta(t, sigma, sigmaOf(tOf(sigma)), 1e-12)
	}
}
