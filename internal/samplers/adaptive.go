package samplers

import (
	"fmt"

	"substep/internal/diffusion"
	"substep/internal/odesolve"
)

// sigmaFloor is the noise level below which the probability-flow
// derivative is treated as zero during adaptive solves.
const sigmaFloor = 1e-5

// ODE adapts an embedded adaptive solver to one schedule step: it
// integrates the probability-flow ODE from sigma down to the ancestral
// sigma-down target, spending model calls against a hard budget. The
// serial variant solves each batch element independently; the batched
// variant solves the whole flattened batch in one call.
type ODE struct {
	base
	backend     odesolve.Backend
	batched     bool
	maxNFE      int
	rtol, atol  float64
	fixupHack   float64
	split       int
	minSigma    float64
	initialStep float64
}

func newODE(name string, batched bool, o Options) (*ODE, error) {
	backend, ok := odesolve.Lookup(o.Solver)
	if !ok {
		return nil, fmt.Errorf("%w: solver %q", diffusion.ErrBackendUnavailable, o.Solver)
	}
	split := o.Split
	if split < 1 {
		split = 1
	}
	return &ODE{
		base:        newBase(name, o, true),
		backend:     backend,
		batched:     batched,
		maxNFE:      o.MaxNFE,
		rtol:        powf(10, o.Rtol),
		atol:        powf(10, o.Atol),
		fixupHack:   o.FixupHack,
		split:       split,
		minSigma:    o.MinSigma,
		initialStep: o.InitialStep,
	}, nil
}

func NewODE(o Options) (*ODE, error)      { return newODE("ode", false, o) }
func NewODEBatch(o Options) (*ODE, error) { return newODE("ode_batch", true, o) }

// elemView slices one batch element out of a full-batch model result.
func elemView(mr *diffusion.ModelResult, off, n int) *diffusion.ModelResult {
	ev := &diffusion.ModelResult{
		X:        mr.X[off : off+n],
		Sigma:    mr.Sigma,
		Denoised: mr.Denoised[off : off+n],
	}
	if mr.DenoisedUncond != nil {
		ev.DenoisedUncond = mr.DenoisedUncond[off : off+n]
	}
	if mr.JDenoised != nil {
		ev.JDenoised = mr.JDenoised[off : off+n]
	}
	return ev
}

func (s *ODE) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	eta := s.dynEta(sc)
	sigma, sigmaNext := sc.Sigma(), sc.SigmaNext()
	if sigma <= s.minSigma {
		return s.eulerStep(x, sc)
	}
	sn := clampSigma(sigmaNext, s.minSigma)
	sigmaDown, sigmaUp := sc.AncestralStepTo(eta, sn)
	if s.fixupHack != 0 {
		sigmaDown = maxf(0, sigmaDown-(sigma-sigmaDown)*s.fixupHack)
	}

	var result diffusion.Tensor
	var mcc int
	var err error
	if s.batched {
		result, mcc, err = s.solveBatched(x, sc, sigma, sigmaDown)
	} else {
		result, mcc, err = s.solveSerial(x, sc, sigma, sigmaDown)
	}
	if err != nil {
		return nil, err
	}
	sc.report(1, s.backend.Name())

	if sn == sigmaNext {
		return s.finalResult(sc, result, sigmaUp), nil
	}
	// The solve stopped at the clamped sigma; one corrective Euler
	// sub-step covers the remainder after re-noising.
	mid := s.newResult(sc, result, sigmaUp)
	mid.SigmaNext = sn
	return intermediateEvent(mid, func(xr diffusion.Tensor) (*StepEvent, error) {
		mr, err := sc.EvalModel(xr, sn, diffusion.EvalSpec{CallIndex: mcc})
		if err != nil {
			return nil, err
		}
		xr = xr.AddScaled(s.toDAt(mr, xr, sn), sigmaNext-sn)
		return s.finalResult(sc, xr, 0), nil
	}), nil
}

func (s *ODE) solveSerial(x diffusion.Tensor, sc *StepContext, sigma, sigmaDown float64) (diffusion.Tensor, int, error) {
	bs := sc.batchSize()
	n := len(x) / bs
	delta := sigma - sigmaDown
	result := make(diffusion.Tensor, len(x))
	opts := odesolve.Opts{Rtol: s.rtol, Atol: s.atol}

	mcc := 0
	for b := 0; b < bs; b++ {
		off := b * n
		x0 := diffusion.Tensor(x[off : off+n])
		mcc = 0

		odefn := func(t float64, y []float64) ([]float64, error) {
			if t < sigmaFloor {
				return make([]float64, n), nil
			}
			if mcc >= s.maxNFE {
				return nil, fmt.Errorf("%w: %s hit %d model calls", diffusion.ErrBudgetExceeded, s.name, s.maxNFE)
			}
			sc.report((sigma-t)/delta, fmt.Sprintf("%s(%d/%d)", s.backend.Name(), mcc, s.maxNFE))
			yt := diffusion.Tensor(y)
			var mr *diffusion.ModelResult
			if mcc == 0 && t == sigma && diffusion.Equal(yt, x0) {
				mr = elemView(sc.HCur(), off, n)
				mcc = 1
			} else {
				fresh, err := sc.EvalModel(yt, t, diffusion.EvalSpec{CallIndex: mcc})
				if err != nil {
					return nil, err
				}
				mr = fresh
				mcc++
			}
			return s.toDAt(mr, yt, t), nil
		}

		y := append([]float64(nil), x0...)
		for seg := 0; seg < s.split; seg++ {
			t0 := sigma + (sigmaDown-sigma)*float64(seg)/float64(s.split)
			t1 := sigma + (sigmaDown-sigma)*float64(seg+1)/float64(s.split)
			var err error
			y, err = s.backend.Solve(odefn, y, t0, t1, opts)
			if err != nil {
				return nil, mcc, err
			}
		}
		copy(result[off:off+n], y)
	}
	return result, mcc, nil
}

func (s *ODE) solveBatched(x diffusion.Tensor, sc *StepContext, sigma, sigmaDown float64) (diffusion.Tensor, int, error) {
	delta := sigma - sigmaDown
	mcc := 0

	odefn := func(t float64, y []float64) ([]float64, error) {
		if t < sigmaFloor {
			return make([]float64, len(y)), nil
		}
		if mcc >= s.maxNFE {
			return nil, fmt.Errorf("%w: %s hit %d model calls", diffusion.ErrBudgetExceeded, s.name, s.maxNFE)
		}
		sc.report((sigma-t)/delta, fmt.Sprintf("%s(%d/%d)", s.backend.Name(), mcc, s.maxNFE))
		yt := diffusion.Tensor(y)
		var mr *diffusion.ModelResult
		if mcc == 0 && t == sigma && diffusion.Equal(yt, x) {
			mr = sc.HCur()
			mcc = 1
		} else {
			fresh, err := sc.EvalModel(yt, t, diffusion.EvalSpec{CallIndex: mcc})
			if err != nil {
				return nil, err
			}
			mr = fresh
			mcc++
		}
		return s.toDAt(mr, yt, t), nil
	}

	opts := odesolve.Opts{
		Rtol:        s.rtol,
		Atol:        s.atol,
		InitialStep: s.initialStep * delta,
	}
	y, err := s.backend.Solve(odefn, x, sigma, sigmaDown, opts)
	if err != nil {
		return nil, mcc, err
	}
	return y, mcc, nil
}
