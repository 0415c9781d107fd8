package samplers

import (
	"substep/internal/diffusion"
)

// Bogacki is the 3-stage Bogacki-Shampine update. The reversible
// correction is forced to zero unless the reversible variant is selected.
type Bogacki struct {
	base
	historyBound
	reversible
	reversibleEnabled bool
}

func NewBogacki(o Options) (*Bogacki, error) {
	s := &Bogacki{
		base:         newBase("bogacki", o, true),
		historyBound: newHistoryBound(0, 0, o),
		reversible:   newReversible(o),
	}
	s.reversibleScale = 0
	return s, nil
}

func NewReversibleBogacki(o Options) (*Bogacki, error) {
	return &Bogacki{
		base:              newBase("reversible_bogacki", o, true),
		historyBound:      newHistoryBound(0, 0, o),
		reversible:        newReversible(o),
		reversibleEnabled: true,
	}, nil
}

func (s *Bogacki) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.eulerStep(x, sc)
	}
	sigma := sc.Sigma()
	sigmaDown, sigmaUp := sc.AncestralStep(s.dynEta(sc))
	reta := 0.0
	if s.reversibleEnabled {
		reta = s.dynReta(&s.base, sc)
	}
	sigmaDownRev, _ := sc.AncestralStep(reta)
	dt := sigmaDown - sigma
	dtRev := sigmaDownRev - sigma

	d := s.toD(sc.HCur())
	k1 := d.Scale(dt)

	mr2, err := sc.EvalModel(x.AddScaled(k1, 0.5), sigma+dt/2, diffusion.EvalSpec{CallIndex: 1})
	if err != nil {
		return nil, err
	}
	k2 := s.toD(mr2).Scale(dt)

	x3 := x.AddScaled(k1, 0.75).AddScaled(k2, 0.25)
	mr3, err := sc.EvalModel(x3, sigma+3*dt/4, diffusion.EvalSpec{CallIndex: 2})
	if err != nil {
		return nil, err
	}
	k3 := s.toD(mr3).Scale(dt)

	correction := k3.Sub(k2).Scale(dtRev * dtRev / 6)
	out := x.AddScaled(k1, 2.0/9).AddScaled(k2, 1.0/3).AddScaled(k3, 4.0/9)
	out = out.AddScaled(correction, -s.reversibleScale)
	return s.finalResult(sc, out, sigmaUp), nil
}

// RK4 is the classical 4-stage Runge-Kutta update over the ancestral
// sub-interval.
type RK4 struct {
	base
}

func NewRK4(o Options) (*RK4, error) {
	return &RK4{base: newBase("rk4", o, true)}, nil
}

func (s *RK4) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.eulerStep(x, sc)
	}
	sigma := sc.Sigma()
	sigmaDown, sigmaUp := sc.AncestralStep(s.dynEta(sc))
	d := diffusion.ToD(x, sigma, sc.Denoised())
	dt := sigmaDown - sigma

	k1 := d.Scale(dt)
	mr2, err := sc.EvalModel(x.AddScaled(k1, 0.5), sigma+dt/2, diffusion.EvalSpec{CallIndex: 1})
	if err != nil {
		return nil, err
	}
	k2 := s.toD(mr2).Scale(dt)

	mr3, err := sc.EvalModel(x.AddScaled(k2, 0.5), sigma+dt/2, diffusion.EvalSpec{CallIndex: 2})
	if err != nil {
		return nil, err
	}
	k3 := s.toD(mr3).Scale(dt)

	mr4, err := sc.EvalModel(x.Add(k3), sigma+dt, diffusion.EvalSpec{CallIndex: 3})
	if err != nil {
		return nil, err
	}
	k4 := s.toD(mr4).Scale(dt)

	out := x.
		AddScaled(k1, 1.0/6).
		AddScaled(k2, 2.0/6).
		AddScaled(k3, 2.0/6).
		AddScaled(k4, 1.0/6)
	return s.finalResult(sc, out, sigmaUp), nil
}
