package driver

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"substep/internal/diffusion"
	"substep/internal/models"
	"substep/internal/samplers"
)

func newEuler(t *testing.T, eta float64) samplers.Sampler {
	t.Helper()
	o := samplers.DefaultOptions()
	o.Eta = eta
	s, err := samplers.New("euler", o)
	require.NoError(t, err)
	return s
}

func TestRunConvergesToDenoised(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	noise := diffusion.NewGaussianNoise(7)
	sigmas := []float64{14.6, 7.8, 3.1, 0.0}
	x0 := diffusion.Tensor{10.0, -8.0, 4.0, 2.0}

	d := New(model, noise, newEuler(t, 0), sigmas, Config{}, nil)
	res, err := d.Run(context.Background(), x0)
	require.NoError(t, err)
	require.Len(t, res.Steps, 3)
	assert.True(t, res.X.IsValid())

	// Eta 0 draws no noise, so the run is a pure deterministic
	// trajectory and repeatable.
	d2 := New(model, diffusion.NewGaussianNoise(99), newEuler(t, 0), sigmas, Config{}, nil)
	res2, err := d2.Run(context.Background(), x0)
	require.NoError(t, err)
	assert.Equal(t, res.X, res2.X)
}

func TestRunStochasticDeterministicUnderSeed(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{14.6, 7.8, 3.1, 0.0}
	x0 := diffusion.Tensor{10.0, -8.0, 4.0, 2.0}

	run := func(seed int64) diffusion.Tensor {
		d := New(model, diffusion.NewGaussianNoise(seed), newEuler(t, 1), sigmas, Config{}, nil)
		res, err := d.Run(context.Background(), x0)
		require.NoError(t, err)
		return res.X
	}
	assert.Equal(t, run(5), run(5))
	assert.NotEqual(t, run(5), run(6))
}

func TestRunShortScheduleFails(t *testing.T) {
	d := New(models.NewGaussianModel(1), diffusion.NewGaussianNoise(1), newEuler(t, 0), []float64{1.0}, Config{}, nil)
	_, err := d.Run(context.Background(), diffusion.Tensor{1})
	assert.ErrorIs(t, err, diffusion.ErrShortSchedule)
}

func TestRunInvalidInitialSampleFails(t *testing.T) {
	bad := diffusion.Tensor{math.Inf(1), 2}
	d := New(models.NewGaussianModel(1), diffusion.NewGaussianNoise(1), newEuler(t, 0), []float64{2, 1, 0}, Config{}, nil)
	_, err := d.Run(context.Background(), bad)
	assert.ErrorIs(t, err, diffusion.ErrInvalidSample)
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := New(models.NewGaussianModel(1), diffusion.NewGaussianNoise(1), newEuler(t, 0), []float64{2, 1, 0}, Config{}, nil)
	_, err := d.Run(ctx, diffusion.Tensor{1, 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSplitsRestartSchedules(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	// One upward jump: two descending runs of 1 and 2 transitions.
	sigmas := []float64{4.0, 2.0, 3.0, 1.0, 0.0}
	x0 := diffusion.Tensor{3.0, -3.0}

	d := New(model, diffusion.NewGaussianNoise(3), newEuler(t, 0), sigmas, Config{}, nil)
	res, err := d.Run(context.Background(), x0)
	require.NoError(t, err)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, []int{0, 2, 3}, []int{res.Steps[0].Idx, res.Steps[1].Idx, res.Steps[2].Idx})
	assert.Equal(t, 4.0, res.Steps[0].Sigma)
	assert.Equal(t, 3.0, res.Steps[1].Sigma)
	assert.Equal(t, 0.0, res.Steps[2].SigmaNext)
}

func TestObserversSeeEveryStep(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{4.0, 2.0, 1.0, 0.0}
	var seen []int

	d := New(model, diffusion.NewGaussianNoise(1), newEuler(t, 0), sigmas, Config{}, nil)
	d.Observe(func(rec StepRecord, _ diffusion.Tensor) { seen = append(seen, rec.Idx) })
	_, err := d.Run(context.Background(), diffusion.Tensor{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestHistoryCapBoundsMultistepDepth(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{14.6, 7.8, 3.1, 1.0, 0.5, 0.0}
	x0 := diffusion.Tensor{5.0, -5.0}

	o := samplers.DefaultOptions()
	o.Eta = 0
	s, err := samplers.New("ipndm", o)
	require.NoError(t, err)

	// HistoryCap 1 keeps only the current evaluation, so the multistep
	// sampler never sees history and behaves like Euler.
	d := New(model, diffusion.NewGaussianNoise(1), s, sigmas, Config{HistoryCap: 1}, nil)
	res, err := d.Run(context.Background(), x0)
	require.NoError(t, err)

	de := New(model, diffusion.NewGaussianNoise(1), newEuler(t, 0), sigmas, Config{}, nil)
	eres, err := de.Run(context.Background(), x0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, eres.X, res.X, 1e-12)
}
