package samplers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"substep/internal/diffusion"
	"substep/internal/models"
)

// buildContext evaluates the model at each schedule position up to idx
// and assembles the history the driver would have built, advancing the
// tracked sample with plain Euler moves between evaluations.
func buildContext(t *testing.T, model diffusion.Model, sigmas []float64, idx int, x0 diffusion.Tensor) (*StepContext, diffusion.Tensor) {
	t.Helper()
	x := x0.Clone()
	var hist []*diffusion.ModelResult
	for i := 0; i <= idx; i++ {
		mr, err := model.Evaluate(x, sigmas[i], diffusion.EvalSpec{CallIndex: 0})
		require.NoError(t, err)
		hist = append(hist, mr)
		if i < idx {
			d := diffusion.ToD(x, sigmas[i], mr.Denoised)
			x = x.AddScaled(d, sigmas[i+1]-sigmas[i])
		}
	}
	return &StepContext{
		Sigmas: sigmas,
		Idx:    idx,
		Hist:   hist,
		Model:  model,
		Noise:  diffusion.NewGaussianNoise(1),
	}, x
}

// runStep drains a step's event chain without applying noise.
func runStep(t *testing.T, s Sampler, x diffusion.Tensor, sc *StepContext) *Result {
	t.Helper()
	ev, err := s.Step(x, sc)
	require.NoError(t, err)
	for !ev.Result.Final {
		ev, err = ev.Resume(ev.Result.X)
		require.NoError(t, err)
	}
	return ev.Result
}

func noEta(o Options) Options {
	o.Eta = 0
	return o
}

func TestEulerTerminalStepReturnsDenoised(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{3.1, 0.0}
	x0 := diffusion.Tensor{1.5, -2.0, 0.25, 3.0}

	s, err := NewEuler(noEta(DefaultOptions()))
	require.NoError(t, err)

	sc, x := buildContext(t, model, sigmas, 0, x0)
	res := runStep(t, s, x, sc)
	assert.True(t, res.Final)
	assert.Equal(t, 0.0, res.Strength)
	assert.InDeltaSlice(t, sc.Denoised(), res.X, 1e-12)
}

func TestOrderOneMultistepMatchesEuler(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{14.6, 7.8, 3.1, 0.0}
	x0 := diffusion.Tensor{2.0, -1.0, 0.5, 4.0}
	zero := 0

	opts := noEta(DefaultOptions())
	opts.HistoryLimit = &zero

	euler, err := NewEuler(opts)
	require.NoError(t, err)
	ipndm, err := NewIPNDM(opts)
	require.NoError(t, err)
	ipndmV, err := NewIPNDMV(opts)
	require.NoError(t, err)
	deis, err := NewDEIS(opts)
	require.NoError(t, err)

	for idx := 0; idx < 2; idx++ {
		sc, x := buildContext(t, model, sigmas, idx, x0)
		want := runStep(t, euler, x, sc).X
		assert.InDeltaSlice(t, want, runStep(t, ipndm, x, sc).X, 1e-12, "ipndm idx %d", idx)
		assert.InDeltaSlice(t, want, runStep(t, ipndmV, x, sc).X, 1e-12, "ipndm_v idx %d", idx)
		assert.InDeltaSlice(t, want, runStep(t, deis, x, sc).X, 1e-12, "deis idx %d", idx)
	}
}

func TestRK4TracksExactGaussianFlow(t *testing.T) {
	model := models.NewGaussianModel(1.0)
	sigmas := []float64{1.0, 0.5, 0.0}
	x0 := diffusion.Tensor{2.0, -3.0, 1.0, 0.5}

	s, err := NewRK4(noEta(DefaultOptions()))
	require.NoError(t, err)

	sc, x := buildContext(t, model, sigmas, 0, x0)
	res := runStep(t, s, x, sc)
	want := model.FlowTo(x, 1.0, 0.5)
	assert.InDeltaSlice(t, want, res.X, 1e-3)
}

func TestDynValueInterpolation(t *testing.T) {
	start, end := 0.0, 1.0
	b := base{dynEtaStart: &start, dynEtaEnd: &end, eta: 2.0}

	sigmas := []float64{4, 3, 2, 1, 0}
	for idx, want := range []float64{0, 0.25, 0.5, 0.75} {
		sc := &StepContext{Sigmas: sigmas, Idx: idx}
		assert.InDelta(t, want, b.dynValue(sc, &start, &end), 1e-12)
		assert.InDelta(t, 2.0*want, b.dynEta(sc), 1e-12)
	}
}

func TestDynValueUnsetBoundsDisable(t *testing.T) {
	b := base{eta: 0.7}
	sc := &StepContext{Sigmas: []float64{2, 1, 0}, Idx: 0}
	assert.Equal(t, 1.0, b.dynValue(sc, nil, nil))
	assert.InDelta(t, 0.7, b.dynEta(sc), 1e-12)
}

func TestHistoryBoundCaps(t *testing.T) {
	hb := newHistoryBound(2, 3, DefaultOptions())
	mr := &diffusion.ModelResult{}

	// First step: no history regardless of limit.
	sc := &StepContext{Sigmas: []float64{3, 2, 1, 0}, Idx: 0, Hist: []*diffusion.ModelResult{mr}}
	assert.Equal(t, 0, hb.availableHistory(sc))

	// Later step, full buffer: limited by the configured limit.
	sc = &StepContext{
		Sigmas: []float64{3, 2, 1, 0},
		Idx:    2,
		Hist:   []*diffusion.ModelResult{mr, mr, mr},
	}
	assert.Equal(t, 2, hb.availableHistory(sc))

	// Driver retained fewer entries than the limit allows.
	sc.Hist = []*diffusion.ModelResult{mr, mr}
	assert.Equal(t, 1, hb.availableHistory(sc))
}

func TestRegistryUnknownSampler(t *testing.T) {
	_, err := New("nope", DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, diffusion.ErrUnknownSampler)
}

func TestRegistryConstructsAll(t *testing.T) {
	for _, name := range Names() {
		s, err := New(name, DefaultOptions())
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Name())
	}
}

func TestBadOptionEnums(t *testing.T) {
	o := DefaultOptions()
	o.SolverType = "cubic"
	_, err := NewDPMPP2MSDE(o)
	assert.ErrorIs(t, err, diffusion.ErrBadOption)

	o = DefaultOptions()
	o.DeisMode = "rhoab"
	_, err = NewDEIS(o)
	assert.ErrorIs(t, err, diffusion.ErrBadOption)

	o = DefaultOptions()
	o.DynDetaMode = "spline"
	_, err = NewEulerDancing(o)
	assert.ErrorIs(t, err, diffusion.ErrBadOption)
}

func TestODEUnknownBackend(t *testing.T) {
	o := DefaultOptions()
	o.Solver = "dop853"
	_, err := NewODE(o)
	assert.ErrorIs(t, err, diffusion.ErrBackendUnavailable)
	_, err = NewODEBatch(o)
	assert.ErrorIs(t, err, diffusion.ErrBackendUnavailable)
}

func TestClampSigma(t *testing.T) {
	assert.Equal(t, 0.0292, clampSigma(0.001, 0.0292))
	// Within threshold of the floor: left alone.
	assert.Equal(t, 0.0290, clampSigma(0.0290, 0.0292))
	assert.Equal(t, 0.5, clampSigma(0.5, 0.0292))
}
