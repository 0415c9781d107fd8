package samplers

import (
	"substep/internal/diffusion"
)

// Result describes one outcome surfaced by a sampler: the sample, how
// much fresh noise to mix in, and which noise-level transition it belongs
// to. A non-final result is an intermediate state the driver must
// re-noise before resuming the step.
type Result struct {
	X diffusion.Tensor

	// Strength is the noise strength, by convention the ancestral
	// split's sigma-up term. SNoise is the sampler's configured scale
	// factor; the effective scale is Strength*SNoise.
	Strength float64
	SNoise   float64

	Sigma     float64
	SigmaNext float64

	Noise diffusion.NoiseSource
	Final bool
}

// NoiseScale is the effective noise scale of this result.
func (r *Result) NoiseScale() float64 { return r.Strength * r.SNoise }

// ApplyNoise mixes scaled noise into the result's sample and returns the
// noised sample. It is a no-op when the target sigma is zero or the
// effective scale vanishes, so the terminal denoising step never draws.
func (r *Result) ApplyNoise(extraScale float64) diffusion.Tensor {
	scale := r.NoiseScale() * extraScale
	if r.SigmaNext == 0 || scale == 0 {
		return r.X
	}
	noise := r.Noise.Sample(r.Sigma, r.SigmaNext, len(r.X))
	r.X = r.X.AddScaled(noise, scale)
	return r.X
}

// StepEvent is one yield of a sampler's cooperative step. The driver
// applies the result's noise, then either stops (final) or calls Resume
// with the re-noised sample to obtain the next event. Resume is nil if
// and only if Result.Final is set.
type StepEvent struct {
	Result *Result
	Resume func(x diffusion.Tensor) (*StepEvent, error)
}

func finalEvent(r *Result) *StepEvent {
	r.Final = true
	return &StepEvent{Result: r}
}

func intermediateEvent(r *Result, resume func(diffusion.Tensor) (*StepEvent, error)) *StepEvent {
	r.Final = false
	return &StepEvent{Result: r, Resume: resume}
}
