package odesolve

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decay(t float64, y []float64) ([]float64, error) {
	out := make([]float64, len(y))
	for i := range y {
		out[i] = -y[i]
	}
	return out, nil
}

func TestBackendsSolveExponentialDecay(t *testing.T) {
	opts := Opts{Rtol: 1e-7, Atol: 1e-9}
	for _, name := range Names() {
		b, ok := Lookup(name)
		require.True(t, ok)
		y, err := b.Solve(decay, []float64{1.0, 2.0}, 0, 2, opts)
		require.NoError(t, err, name)
		want := math.Exp(-2)
		assert.InDelta(t, want, y[0], 1e-4, name)
		assert.InDelta(t, 2*want, y[1], 1e-4, name)
	}
}

func TestSolveBackwardInTime(t *testing.T) {
	b, ok := Lookup("dopri5")
	require.True(t, ok)
	// Integrating decay backward from t=2 to t=0 undoes the decay.
	y, err := b.Solve(decay, []float64{math.Exp(-2)}, 2, 0, Opts{Rtol: 1e-7, Atol: 1e-9})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, y[0], 1e-5)
}

func TestSolveZeroSpanReturnsInput(t *testing.T) {
	b, _ := Lookup("rk23")
	y, err := b.Solve(decay, []float64{3.0}, 1, 1, Opts{Rtol: 1e-6, Atol: 1e-9})
	require.NoError(t, err)
	assert.Equal(t, []float64{3.0}, y)
}

func TestFuncErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	f := func(t float64, y []float64) ([]float64, error) { return nil, boom }
	b, _ := Lookup("dopri5")
	_, err := b.Solve(f, []float64{1.0}, 0, 1, Opts{Rtol: 1e-6, Atol: 1e-9})
	assert.ErrorIs(t, err, boom)
}

func TestAvailableProbe(t *testing.T) {
	assert.True(t, Available("dopri5"))
	assert.True(t, Available("rk23"))
	assert.False(t, Available("dop853"))
	assert.Equal(t, []string{"dopri5", "rk23"}, Names())
}

func TestStepLimitExhausted(t *testing.T) {
	b, _ := Lookup("dopri5")
	_, err := b.Solve(decay, []float64{1.0}, 0, 1, Opts{Rtol: 1e-12, Atol: 1e-14, MaxSteps: 2})
	assert.ErrorIs(t, err, ErrStepsExhausted)
}
