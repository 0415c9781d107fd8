package samplers

import (
	"substep/internal/diffusion"
)

// RES is a two-stage exponential integrator in log-sigma time with
// closed-form stage weights, parameterized by a midpoint fraction.
type RES struct {
	base
	simplePhi bool
	c2        float64
}

func NewRES(o Options) (*RES, error) {
	return &RES{
		base:      newBase("res", o, false),
		simplePhi: o.ResSimplePhi,
		c2:        o.ResC2,
	}, nil
}

func (s *RES) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.eulerStep(x, sc)
	}
	eta := s.dynEta(sc)
	sigmaDown, sigmaUp := sc.AncestralStep(eta)
	denoised := sc.Denoised()

	lam := tOf(sc.Sigma())
	lamNext := tOf(sc.SigmaNext())
	if eta != 0 {
		lamNext = tOf(sigmaDown)
	}
	h := lamNext - lam
	a21, b1, b2 := deSecondOrder(h, s.c2, s.simplePhi)

	c2h := 0.5 * h
	x2 := x.Scale(exp(-c2h)).AddScaled(denoised, a21*h)
	sigma2 := sigmaOf(lam + c2h)

	mr2, err := sc.EvalModel(x2, sigma2, diffusion.EvalSpec{CallIndex: 1})
	if err != nil {
		return nil, err
	}

	out := x.Scale(exp(-h)).
		AddScaled(denoised, h*b1).
		AddScaled(mr2.Denoised, h*b2)
	return s.finalResult(sc, out, sigmaUp), nil
}

// TTMJVP is the 2nd-order truncated Taylor method. It needs a
// directional-derivative model evaluation in addition to the plain one.
type TTMJVP struct {
	base
	alternatePhi2 bool
}

func NewTTMJVP(o Options) (*TTMJVP, error) {
	return &TTMJVP{
		base:          newBase("ttm_jvp", o, false),
		alternatePhi2: o.AlternatePhi2,
	}, nil
}

func (s *TTMJVP) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.denoisedResult(sc), nil
	}
	eta := s.dynEta(sc)
	sigma, sigmaNext := sc.Sigma(), sc.SigmaNext()
	t, tNext := tOf(sigma), tOf(sigmaNext)
	h := tNext - t
	hEta := h * (eta + 1)

	eps := diffusion.ToD(x, sigma, sc.Denoised())
	mr, err := sc.EvalModel(x, sigma, diffusion.EvalSpec{
		CallIndex:    1,
		Tangent:      eps.Scale(-sigma),
		TangentSigma: -sigma,
	})
	if err != nil {
		return nil, err
	}
	denoisedPrime := mr.JDenoised

	p1 := -expm1(-hEta)
	var p2 float64
	if s.alternatePhi2 {
		// behaves better with eta > 0
		p2 = expm1(-h) + h
	} else {
		p2 = expm1(-hEta) + hEta
	}
	out := x.Scale(exp(-hEta)).
		AddScaled(sc.Denoised(), p1).
		AddScaled(denoisedPrime, p2)

	strength := 0.0
	if eta != 0 {
		strength = sigmaNext * sqrt(-expm1(-2*h*eta))
	}
	return s.finalResult(sc, out, strength), nil
}
