package samplers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"substep/internal/diffusion"
	"substep/internal/models"
)

func TestDeisCoeffCacheRecomputesOnKeyChange(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	x0 := diffusion.Tensor{1.0, -0.5, 2.0, 0.25}

	s, err := NewDEIS(noEta(DefaultOptions()))
	require.NoError(t, err)

	sigmas := []float64{14.6, 7.8, 3.1, 0.0}
	sc, x := buildContext(t, model, sigmas, 1, x0)
	runStep(t, s, x, sc)
	runStep(t, s, x, sc)
	assert.Equal(t, 1, s.Recomputes(), "same schedule must reuse the table")

	other := []float64{14.6, 7.8, 3.1, 1.0, 0.0}
	sc2, x2 := buildContext(t, model, other, 1, x0)
	runStep(t, s, x2, sc2)
	assert.Equal(t, 2, s.Recomputes(), "changed schedule must rebuild")
}

func TestHeunPP2OrderDropsToEulerAtTail(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{3.0, 1.0, 0.0}
	x0 := diffusion.Tensor{1.0, 2.0, -1.5, 0.5}

	opts := noEta(DefaultOptions())
	hpp, err := NewHeunPP2(opts)
	require.NoError(t, err)
	euler, err := NewEuler(opts)
	require.NoError(t, err)

	// Only one transition remains after this step, so the order-3
	// lookahead has no room and the step must degrade to order 1.
	sc, x := buildContext(t, model, sigmas, 1, x0)
	want := runStep(t, euler, x, sc).X
	got := runStep(t, hpp, x, sc).X
	assert.InDeltaSlice(t, want, got, 1e-12)
}

func TestEulerDancingFallsBackWithoutLeapRoom(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{3.0, 2.0, 0.0}
	x0 := diffusion.Tensor{1.0, -1.0}

	s, err := NewEulerDancing(DefaultOptions())
	require.NoError(t, err)

	sc, x := buildContext(t, model, sigmas, 0, x0)
	ev, err := s.Step(x, sc)
	require.NoError(t, err)
	assert.True(t, ev.Result.Final, "no leap room must produce a single final event")
	_, up := diffusion.AncestralStep(3.0, 2.0, 1.0)
	assert.InDelta(t, up, ev.Result.Strength, 1e-12)
}

func TestEulerDancingLeapYieldsIntermediate(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{4.0, 3.0, 2.0, 1.0, 0.0}
	x0 := diffusion.Tensor{2.0, -2.0}

	s, err := NewEulerDancing(DefaultOptions())
	require.NoError(t, err)

	sc, x := buildContext(t, model, sigmas, 0, x0)
	ev, err := s.Step(x, sc)
	require.NoError(t, err)
	require.False(t, ev.Result.Final)
	assert.Equal(t, 2.0, ev.Result.SigmaNext, "intermediate re-noise targets the leap sigma")
	require.NotNil(t, ev.Resume)

	ev, err = ev.Resume(ev.Result.X)
	require.NoError(t, err)
	assert.True(t, ev.Result.Final)
}

func TestDPMPPSDEYieldsIntermediateStage(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{3.0, 1.5, 0.0}
	x0 := diffusion.Tensor{1.0, 0.5, -0.5, 2.0}

	s, err := NewDPMPPSDE(DefaultOptions())
	require.NoError(t, err)

	sc, x := buildContext(t, model, sigmas, 0, x0)
	ev, err := s.Step(x, sc)
	require.NoError(t, err)
	require.False(t, ev.Result.Final)
	assert.Less(t, ev.Result.SigmaNext, 3.0)
	assert.Greater(t, ev.Result.SigmaNext, 1.5)

	ev, err = ev.Resume(ev.Result.X)
	require.NoError(t, err)
	assert.True(t, ev.Result.Final)
}

func TestODESamplerTracksExactGaussianFlow(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{1.0, 0.5, 0.0}
	x0 := diffusion.Tensor{2.0, -3.0, 1.0, 0.5}

	o := noEta(DefaultOptions())
	o.FixupHack = 0
	o.MinSigma = 0
	o.Rtol = -6
	o.Atol = -6
	o.MaxNFE = 1000

	for _, ctor := range []func(Options) (*ODE, error){NewODE, NewODEBatch} {
		s, err := ctor(o)
		require.NoError(t, err)
		sc, x := buildContext(t, model, sigmas, 0, x0)
		res := runStep(t, s, x, sc)
		want := model.FlowTo(x, 1.0, 0.5)
		assert.InDeltaSlice(t, want, res.X, 1e-4, s.Name())
	}
}

func TestODESamplerBudgetExceededIsFatal(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{1.0, 0.5, 0.0}
	x0 := diffusion.Tensor{2.0, -3.0}

	o := noEta(DefaultOptions())
	o.FixupHack = 0
	o.MinSigma = 0
	o.MaxNFE = 0

	s, err := NewODE(o)
	require.NoError(t, err)
	sc, x := buildContext(t, model, sigmas, 0, x0)
	_, err = s.Step(x, sc)
	require.Error(t, err)
	assert.ErrorIs(t, err, diffusion.ErrBudgetExceeded)
}

func TestODESamplerMinSigmaFallsBackToEuler(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{0.01, 0.005, 0.0}
	x0 := diffusion.Tensor{1.0, -1.0}

	o := noEta(DefaultOptions())
	s, err := NewODE(o)
	require.NoError(t, err)
	euler, err := NewEuler(noEta(DefaultOptions()))
	require.NoError(t, err)

	sc, x := buildContext(t, model, sigmas, 0, x0)
	want := runStep(t, euler, x, sc).X
	got := runStep(t, s, x, sc).X
	assert.InDeltaSlice(t, want, got, 1e-12)
}

func TestTTMJVPUsesDirectionalDerivative(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{2.0, 1.0, 0.0}
	x0 := diffusion.Tensor{1.0, -2.0, 0.5, 3.0}

	s, err := NewTTMJVP(noEta(DefaultOptions()))
	require.NoError(t, err)

	sc, x := buildContext(t, model, sigmas, 0, x0)
	res := runStep(t, s, x, sc)
	assert.True(t, res.Final)
	assert.True(t, res.X.IsValid())
	// Second order in log-sigma time: closer to the exact flow than the
	// plain Euler move.
	exact := model.FlowTo(x, 2.0, 1.0)
	euler, err := NewEuler(noEta(DefaultOptions()))
	require.NoError(t, err)
	eres := runStep(t, euler, x, sc)
	assert.Less(t, res.X.Sub(exact).Norm(), eres.X.Sub(exact).Norm())
}

func TestCycleScalesPreserveVariance(t *testing.T) {
	c := cycler{cyclePct: 0.25}
	keep, add := c.cycleScales(2.0)
	assert.InDelta(t, 1.5, keep, 1e-12)
	// keep^2 + (add/1.0125)^2 == sigma^2 before the overshoot factor.
	raw := add / (0.95 + 0.25*0.25)
	assert.InDelta(t, 4.0, keep*keep+raw*raw, 1e-9)
}

func TestDPMPP2MSDETerminalStepReturnsDenoised(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{3.1, 0.0}
	x0 := diffusion.Tensor{1.5, -2.0, 0.25, 3.0}

	s, err := NewDPMPP2MSDE(noEta(DefaultOptions()))
	require.NoError(t, err)

	sc, x := buildContext(t, model, sigmas, 0, x0)
	res := runStep(t, s, x, sc)
	assert.True(t, res.Final)
	assert.True(t, res.X.IsValid())
	assert.Equal(t, 0.0, res.Strength)
	assert.InDeltaSlice(t, sc.Denoised(), res.X, 1e-12)
}

func TestDPMPP2MHistoryEngagesSecondOrder(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{14.6, 7.8, 3.1, 1.0, 0.0}
	x0 := diffusion.Tensor{2.0, -1.0, 0.5, 4.0}
	one := 1

	opts := noEta(DefaultOptions())
	opts.HistoryLimit = &one
	s, err := NewDPMPP2M(opts)
	require.NoError(t, err)

	// The plain exponential update with no history correction.
	noHistory := func(x, denoised diffusion.Tensor, sigma, sigmaNext float64) diffusion.Tensor {
		h := math.Log(sigma) - math.Log(sigmaNext)
		return x.Scale(sigmaNext / sigma).AddScaled(denoised, -math.Expm1(-h))
	}

	// First transition: nothing to extrapolate from yet.
	sc, x := buildContext(t, model, sigmas, 0, x0)
	got := runStep(t, s, x, sc).X
	assert.InDeltaSlice(t, noHistory(x, sc.Denoised(), sigmas[0], sigmas[1]), got, 1e-12)

	// Every later transition carries a correction term.
	for idx := 1; idx < 3; idx++ {
		sc, x := buildContext(t, model, sigmas, idx, x0)
		got := runStep(t, s, x, sc).X
		plain := noHistory(x, sc.Denoised(), sigmas[idx], sigmas[idx+1])
		assert.Greater(t, got.Sub(plain).Norm(), 1e-9, "idx %d", idx)
	}
}
