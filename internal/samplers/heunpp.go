package samplers

import (
	"substep/internal/diffusion"
)

// HeunPP2 raises the effective order up to three by chaining forward
// Euler predictions, then blends the derivatives with sigma-proportional
// weights. The order drops near the end of the schedule so the chained
// predictions never run past the last sigma.
type HeunPP2 struct {
	base
	maxOrder int
}

func NewHeunPP2(o Options) (*HeunPP2, error) {
	maxOrder := o.MaxOrder
	if maxOrder > 3 {
		maxOrder = 3
	}
	if maxOrder < 1 {
		maxOrder = 1
	}
	return &HeunPP2{
		base:     newBase("heunpp2", o, true),
		maxOrder: maxOrder,
	}, nil
}

func (s *HeunPP2) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	stepsRemain := len(sc.Sigmas) - (sc.Idx + 2)
	if stepsRemain < 0 {
		stepsRemain = 0
	}
	order := s.maxOrder
	if stepsRemain+1 < order {
		order = stepsRemain + 1
	}
	sigma, sigmaNext := sc.Sigma(), sc.SigmaNext()
	if order == 1 || sigmaNext == 0 {
		return s.eulerStep(x, sc)
	}

	d := s.toD(sc.HCur())
	dt := sc.DT()
	w := float64(order) * sigma
	w2 := sigmaNext / w

	x2 := x.AddScaled(d, dt)
	mr2, err := sc.EvalModel(x2, sigmaNext, diffusion.EvalSpec{CallIndex: 1})
	if err != nil {
		return nil, err
	}
	d2 := s.toD(mr2)

	var dPrime diffusion.Tensor
	if order == 2 {
		w1 := 1 - w2
		dPrime = d.Scale(w1).AddScaled(d2, w2)
	} else {
		snn := sc.Sigmas[sc.Idx+2]
		x3 := x2.AddScaled(d2, snn-sigmaNext)
		mr3, err := sc.EvalModel(x3, snn, diffusion.EvalSpec{CallIndex: 2})
		if err != nil {
			return nil, err
		}
		d3 := s.toD(mr3)
		w3 := snn / w
		w1 := 1 - w2 - w3
		dPrime = d.Scale(w1).AddScaled(d2, w2).AddScaled(d3, w3)
	}
	return s.ancestralize(sc, x.AddScaled(dPrime, dt)), nil
}
