package samplers

import (
	"fmt"

	"substep/internal/diffusion"
)

// Trapezoidal averages the derivative at both ends of the sub-interval
// (Heun's method), spending one extra model call.
type Trapezoidal struct {
	base
}

func NewTrapezoidal(o Options) (*Trapezoidal, error) {
	return &Trapezoidal{base: newBase("trapezoidal", o, true)}, nil
}

func (s *Trapezoidal) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.eulerStep(x, sc)
	}
	sigmaDown, sigmaUp := sc.AncestralStep(s.dynEta(sc))

	d := s.toD(sc.HCur())
	xPred := x.AddScaled(d, sc.DT())
	mrNext, err := sc.EvalModel(xPred, sc.SigmaNext(), diffusion.EvalSpec{CallIndex: 1})
	if err != nil {
		return nil, err
	}
	dNext := s.toD(mrNext)

	dt2 := sigmaDown - sc.Sigma()
	out := x.AddScaled(d.Add(dNext), dt2/2)
	return s.finalResult(sc, out, sigmaUp), nil
}

// TrapezoidalCycle is the trapezoidal update with cyclic re-noising in
// place of the ancestral split.
type TrapezoidalCycle struct {
	base
	cycler
}

func NewTrapezoidalCycle(o Options) (*TrapezoidalCycle, error) {
	return &TrapezoidalCycle{
		base:   newBase("trapezoidal_cycle", o, true),
		cycler: cycler{cyclePct: o.CyclePct},
	}, nil
}

func (s *TrapezoidalCycle) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.denoisedResult(sc), nil
	}
	d := s.toD(sc.HCur())
	xPred := x.AddScaled(d, sc.DT())
	mrNext, err := sc.EvalModel(xPred, sc.SigmaNext(), diffusion.EvalSpec{CallIndex: 1})
	if err != nil {
		return nil, err
	}
	dNext := s.toD(mrNext)

	keep, add := s.cycleScales(sc.SigmaNext())
	noisePred := d.Add(dNext).Scale(0.5)
	denoisedPred := x.AddScaled(noisePred, -sc.Sigma())
	return s.finalResult(sc, denoisedPred.AddScaled(noisePred, keep), add), nil
}

// ReversibleHeun is Heun's method minus a symmetric correction sized by
// an independent reversible split, approximating time-reversibility.
type ReversibleHeun struct {
	base
	historyBound
	reversible
}

func NewReversibleHeun(o Options) (*ReversibleHeun, error) {
	return &ReversibleHeun{
		base:         newBase("reversible_heun", o, true),
		historyBound: newHistoryBound(0, 0, o),
		reversible:   newReversible(o),
	}, nil
}

func (s *ReversibleHeun) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.eulerStep(x, sc)
	}
	sigmaDown, sigmaUp := sc.AncestralStep(s.dynEta(sc))
	sigmaDownRev, _ := sc.AncestralStep(s.dynReta(&s.base, sc))
	dt := sigmaDown - sc.Sigma()
	dtRev := sigmaDownRev - sc.Sigma()

	d := s.toD(sc.HCur())
	xPred := x.AddScaled(d, dt)
	mrNext, err := sc.EvalModel(xPred, sigmaDown, diffusion.EvalSpec{CallIndex: 1})
	if err != nil {
		return nil, err
	}
	dNext := s.toD(mrNext)

	out := x.AddScaled(d.Add(dNext), dt/2)
	correction := dNext.Sub(d).Scale(dtRev * dtRev / 4)
	out = out.AddScaled(correction, -s.reversibleScale)
	return s.finalResult(sc, out, sigmaUp), nil
}

// ReversibleHeun1S is the single-stage variant: it substitutes the
// previous step's model result for the extra evaluation once history is
// available, falling back to a fresh call on the first step.
type ReversibleHeun1S struct {
	base
	historyBound
	reversible
}

func NewReversibleHeun1S(o Options) (*ReversibleHeun1S, error) {
	return &ReversibleHeun1S{
		base:         newBase("reversible_heun_1s", o, true),
		historyBound: newHistoryBound(1, 1, o),
		reversible:   newReversible(o),
	}, nil
}

func (s *ReversibleHeun1S) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.eulerStep(x, sc)
	}
	avail := s.availableHistory(sc)
	sigma := sc.Sigma()
	sigmaDown, sigmaUp := sc.AncestralStep(s.dynEta(sc))
	sigmaDownRev, _ := sc.AncestralStep(s.dynReta(&s.base, sc))
	dt := sigmaDown - sigma
	dtRev := sigmaDownRev - sigma

	effX := x
	var dPrev diffusion.Tensor
	if avail > 0 {
		effX = sc.HCur().X
		dPrev = s.toDAt(sc.HPrev(), effX, sigma)
	} else {
		mr, err := sc.EvalModel(effX, sigma, diffusion.EvalSpec{CallIndex: 1})
		if err != nil {
			return nil, fmt.Errorf("reversible_heun_1s: %w", err)
		}
		dPrev = s.toDAt(mr, effX, sigma)
	}

	xPred := effX.AddScaled(dPrev, dt)
	dNext := s.toDAt(sc.HCur(), xPred, sigmaDown)

	out := x.AddScaled(dPrev.Add(dNext), dt/2)
	correction := dNext.Sub(dPrev).Scale(dtRev * dtRev / 4)
	out = out.AddScaled(correction, -s.reversibleScale)
	return s.finalResult(sc, out, sigmaUp), nil
}
