package samplers

import (
	"substep/internal/diffusion"
)

// Euler is the baseline order-1 sampler: one derivative, one ancestral
// re-noise.
type Euler struct {
	base
}

func NewEuler(o Options) (*Euler, error) {
	return &Euler{base: newBase("euler", o, true)}, nil
}

func (s *Euler) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	return s.eulerStep(x, sc)
}

// EulerCycle replaces the ancestral split with cyclic re-noising: it
// blends the denoised estimate with a kept fraction of the derivative and
// tops the variance back up with fresh noise sized by the cycle
// percentage.
type EulerCycle struct {
	base
	cycler
}

func NewEulerCycle(o Options) (*EulerCycle, error) {
	return &EulerCycle{
		base:   newBase("euler_cycle", o, true),
		cycler: cycler{cyclePct: o.CyclePct},
	}, nil
}

func (s *EulerCycle) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.denoisedResult(sc), nil
	}
	d := s.toD(sc.HCur())
	keep, add := s.cycleScales(sc.SigmaNext())
	return s.finalResult(sc, sc.Denoised().AddScaled(d, keep), add), nil
}
