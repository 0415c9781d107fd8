package samplers

import (
	"fmt"

	"substep/internal/diffusion"
)

// DPMPP2M is the deterministic 2nd-order multistep exponential
// integrator: it extrapolates from the previous denoised estimate and
// needs no extra model calls.
type DPMPP2M struct {
	base
	historyBound
}

func NewDPMPP2M(o Options) (*DPMPP2M, error) {
	return &DPMPP2M{
		base:         newBase("dpmpp_2m", o, false),
		historyBound: newHistoryBound(1, 1, o),
	}, nil
}

func (s *DPMPP2M) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	sigma, sigmaNext := sc.Sigma(), sc.SigmaNext()
	if sigmaNext == 0 {
		return s.eulerStep(x, sc)
	}
	t, tNext := tOf(sigma), tOf(sigmaNext)
	h := tNext - t

	denoisedD := sc.Denoised()
	if s.availableHistory(sc) > 0 {
		hLast := t - tOf(sc.SigmaPrev())
		r := hLast / h
		old := sc.HPrev().Denoised
		denoisedD = sc.Denoised().Scale(1 + 1/(2*r)).AddScaled(old, -1/(2*r))
	}
	out := x.Scale(sigmaNext / sigma).AddScaled(denoisedD, -expm1(-h))
	return s.ancestralize(sc, out), nil
}

// DPMPP2MSDE is the stochastic 2M variant. The history correction has
// two selectable forms, midpoint and heun.
type DPMPP2MSDE struct {
	base
	historyBound
	solverType string
}

func NewDPMPP2MSDE(o Options) (*DPMPP2MSDE, error) {
	if o.SolverType != "midpoint" && o.SolverType != "heun" {
		return nil, fmt.Errorf("%w: dpmpp_2m_sde solver_type %q", diffusion.ErrBadOption, o.SolverType)
	}
	return &DPMPP2MSDE{
		base:         newBase("dpmpp_2m_sde", o, false),
		historyBound: newHistoryBound(1, 1, o),
		solverType:   o.SolverType,
	}, nil
}

func (s *DPMPP2MSDE) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.denoisedResult(sc), nil
	}
	sigma, sigmaNext := sc.Sigma(), sc.SigmaNext()
	denoised := sc.Denoised()
	t, tNext := tOf(sigma), tOf(sigmaNext)
	h := tNext - t
	etaH := s.dynEta(sc) * h

	out := x.Scale(sigmaNext / sigma * exp(-etaH)).
		AddScaled(denoised, -expm1(-h-etaH))
	strength := sigmaNext * sqrt(-expm1(-2*etaH))
	if s.availableHistory(sc) == 0 {
		return s.finalResult(sc, out, strength), nil
	}

	hLast := tOf(sigma) - tOf(sc.SigmaPrev())
	r := hLast / h
	old := sc.HPrev().Denoised
	diff := denoised.Sub(old)
	switch s.solverType {
	case "heun":
		a := -h - etaH
		out = out.AddScaled(diff, (-expm1(a)/a+1)*(1/r))
	case "midpoint":
		out = out.AddScaled(diff, 0.5*-expm1(-h-etaH)*(1/r))
	}
	return s.finalResult(sc, out, strength), nil
}

// DPMPP3MSDE is the stochastic 3rd-order multistep variant, using
// divided differences over up to two history entries with a distinct
// formula per available-history count.
type DPMPP3MSDE struct {
	base
	historyBound
}

func NewDPMPP3MSDE(o Options) (*DPMPP3MSDE, error) {
	return &DPMPP3MSDE{
		base:         newBase("dpmpp_3m_sde", o, false),
		historyBound: newHistoryBound(2, 2, o),
	}, nil
}

func (s *DPMPP3MSDE) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.denoisedResult(sc), nil
	}
	sigma, sigmaNext := sc.Sigma(), sc.SigmaNext()
	denoised := sc.Denoised()
	t, tNext := tOf(sigma), tOf(sigmaNext)
	h := tNext - t
	eta := s.dynEta(sc)
	hEta := h * (eta + 1)

	out := x.Scale(exp(-hEta)).AddScaled(denoised, -expm1(-hEta))
	strength := sigmaNext * sqrt(-expm1(-2*h*eta))

	avail := s.availableHistory(sc)
	if avail == 0 {
		return s.finalResult(sc, out, strength), nil
	}
	h1 := tOf(sigma) - tOf(sc.SigmaPrev())
	denoised1 := sc.HistBack(1).Denoised
	p2 := expm1(-hEta)/hEta + 1
	if avail == 1 {
		r := h1 / h
		d := denoised.Sub(denoised1).Scale(1 / r)
		out = out.AddScaled(d, p2)
	} else {
		h2 := tOf(sc.SigmaPrev()) - tOf(sc.Sigmas[sc.Idx-2])
		denoised2 := sc.HistBack(2).Denoised
		r0, r1 := h1/h, h2/h
		d10 := denoised.Sub(denoised1).Scale(1 / r0)
		d11 := denoised1.Sub(denoised2).Scale(1 / r1)
		d1 := d10.AddScaled(d10.Sub(d11), r0/(r0+r1))
		d2 := d10.Sub(d11).Scale(1 / (r0 + r1))
		p3 := p2/hEta - 0.5
		out = out.AddScaled(d1, p2).AddScaled(d2, -p3)
	}
	return s.finalResult(sc, out, strength), nil
}

// DPMPP2S is the two-stage exponential scheme with a midpoint model
// evaluation at the halfway log-time point.
type DPMPP2S struct {
	base
}

func NewDPMPP2S(o Options) (*DPMPP2S, error) {
	return &DPMPP2S{base: newBase("dpmpp_2s", o, false)}, nil
}

func (s *DPMPP2S) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.eulerStep(x, sc)
	}
	sigmaDown, sigmaUp := sc.AncestralStep(s.dynEta(sc))
	t, tNext := tOf(sc.Sigma()), tOf(sigmaDown)
	const r = 0.5
	h := tNext - t
	sMid := t + r*h

	x2 := x.Scale(sigmaOf(sMid) / sigmaOf(t)).AddScaled(sc.Denoised(), -expm1(-h*r))
	mr2, err := sc.EvalModel(x2, sigmaOf(sMid), diffusion.EvalSpec{CallIndex: 1})
	if err != nil {
		return nil, err
	}
	out := x.Scale(sigmaOf(tNext) / sigmaOf(t)).AddScaled(mr2.Denoised, -expm1(-h))
	return s.finalResult(sc, out, sigmaUp), nil
}

// DPMPPSDE is the two-stage stochastic scheme: the intermediate stage
// passes through the ancestral split and is surfaced as a non-final
// result so the driver re-noises it before the midpoint evaluation.
type DPMPPSDE struct {
	base
	r float64
}

func NewDPMPPSDE(o Options) (*DPMPPSDE, error) {
	return &DPMPPSDE{
		base: newBase("dpmpp_sde", o, false),
		r:    o.R,
	}, nil
}

func (s *DPMPPSDE) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.eulerStep(x, sc)
	}
	eta := s.dynEta(sc)
	sigma := sc.Sigma()
	t, tNext := tOf(sigma), tOf(sc.SigmaNext())
	h := tNext - t
	sMid := t + h*s.r
	fac := 1 / (2 * s.r)

	// Stage 1: ancestral move to the midpoint sigma.
	sd, su := diffusion.AncestralStep(sigma, sigmaOf(sMid), eta)
	sUnder := tOf(sd)
	x2 := x.Scale(sigmaOf(sUnder) / sigma).AddScaled(sc.Denoised(), -expm1(t-sUnder))

	stage1 := s.newResult(sc, x2, su)
	stage1.SigmaNext = sigmaOf(sMid)
	return intermediateEvent(stage1, func(x2 diffusion.Tensor) (*StepEvent, error) {
		mr2, err := sc.EvalModel(x2, sigmaOf(sMid), diffusion.EvalSpec{CallIndex: 1})
		if err != nil {
			return nil, err
		}
		// Stage 2: full ancestral move using the blended estimate.
		sd2, su2 := diffusion.AncestralStep(sigma, sc.SigmaNext(), eta)
		tNextUnder := tOf(sd2)
		denoisedD := diffusion.Lerp(sc.Denoised(), mr2.Denoised, fac)
		out := x.Scale(sigmaOf(tNextUnder) / sigma).AddScaled(denoisedD, -expm1(t-tNextUnder))
		return s.finalResult(sc, out, su2), nil
	}), nil
}
