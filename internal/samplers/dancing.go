package samplers

import (
	"fmt"

	"substep/internal/diffusion"
	"substep/internal/schedule"
)

// EulerDancing leaps several schedule entries ahead with an Euler move,
// re-noises at the leap sigma, then takes a second Euler move back down
// to the normal next sigma with its own eta. Leaping only happens while
// the remaining schedule has room, so the tail degrades to plain Euler.
type EulerDancing struct {
	base
	deta         float64
	dsNoise      float64
	leap         int
	dynDetaStart *float64
	dynDetaEnd   *float64
	dynDetaMode  string
}

func NewEulerDancing(o Options) (*EulerDancing, error) {
	switch o.DynDetaMode {
	case "lerp", "lerp_alt", "deta":
	default:
		return nil, fmt.Errorf("%w: euler_dancing dyn_deta_mode %q", diffusion.ErrBadOption, o.DynDetaMode)
	}
	dsNoise := o.SNoise
	if o.DsNoise != nil {
		dsNoise = *o.DsNoise
	}
	return &EulerDancing{
		base:         newBase("euler_dancing", o, false),
		deta:         o.Deta,
		dsNoise:      dsNoise,
		leap:         o.Leap,
		dynDetaStart: o.DynDetaStart,
		dynDetaEnd:   o.DynDetaEnd,
		dynDetaMode:  o.DynDetaMode,
	}, nil
}

func (s *EulerDancing) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.eulerStep(x, sc)
	}
	sigma, sigmaNext := sc.Sigma(), sc.SigmaNext()

	// The leap window is the maximal descending run starting at the
	// current index, cut before any zero sigma.
	leapSigmas := sc.Sigmas[sc.Idx:]
	leapSigmas = leapSigmas[:schedule.FirstUnsorted(leapSigmas)]
	maxLeap := len(leapSigmas) - 1
	for i, ls := range leapSigmas {
		if ls <= 0 {
			maxLeap = i - 1
			break
		}
	}
	danceable := maxLeap > 1
	currLeap := s.leap
	if currLeap > maxLeap {
		currLeap = maxLeap
	}
	if currLeap < 1 {
		currLeap = 1
	}
	sigmaLeap := sigmaNext
	if danceable {
		sigmaLeap = leapSigmas[currLeap]
	}

	sigmaDown, sigmaUp := diffusion.AncestralStep(sigma, sigmaLeap, s.eta)
	d := diffusion.ToD(x, sigma, sc.Denoised())
	x = x.AddScaled(d, sigmaDown-sigma)
	if currLeap == 1 {
		return s.finalResult(sc, x, sigmaUp), nil
	}

	finish := func(x diffusion.Tensor) (*StepEvent, error) {
		_, up2 := diffusion.AncestralStep(sigmaNext, sigmaLeap, s.deta)
		sigmaUp2 := up2 + sigmaNext*0.5
		sigmaDown2, _ := diffusion.AncestralStep(sigmaNext, sigmaLeap, s.deta)
		d2 := diffusion.ToD(x, sigmaLeap, sc.Denoised())
		x = x.AddScaled(d2, sigmaDown2-sigmaLeap)
		return s.finalResult(sc, x, sigmaUp2), nil
	}

	if s.dsNoise*sigmaUp == 0 {
		return finish(x)
	}
	mid := s.newResult(sc, x, sigmaUp)
	mid.SNoise = s.dsNoise
	mid.SigmaNext = sigmaLeap
	return intermediateEvent(mid, finish), nil
}
