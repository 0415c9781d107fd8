package diffusion

import (
	"math"
	"math/rand"
)

// Tensor is a flat sample buffer. A batch of b samples is stored
// contiguously; the element count must be divisible by b.
type Tensor []float64

func Zeros(n int) Tensor {
	return make(Tensor, n)
}

func (t Tensor) Clone() Tensor {
	c := make(Tensor, len(t))
	copy(c, t)
	return c
}

func (t Tensor) IsValid() bool {
	for _, v := range t {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (t Tensor) Norm() float64 {
	sum := 0.0
	for _, v := range t {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (t Tensor) Add(other Tensor) Tensor {
	result := make(Tensor, len(t))
	for i := range t {
		result[i] = t[i] + other[i]
	}
	return result
}

func (t Tensor) Sub(other Tensor) Tensor {
	result := make(Tensor, len(t))
	for i := range t {
		result[i] = t[i] - other[i]
	}
	return result
}

func (t Tensor) Scale(factor float64) Tensor {
	result := make(Tensor, len(t))
	for i := range t {
		result[i] = t[i] * factor
	}
	return result
}

// AddScaled returns t + other*factor.
func (t Tensor) AddScaled(other Tensor, factor float64) Tensor {
	result := make(Tensor, len(t))
	for i := range t {
		result[i] = t[i] + other[i]*factor
	}
	return result
}

// Lerp returns a + (b-a)*w.
func Lerp(a, b Tensor, w float64) Tensor {
	result := make(Tensor, len(a))
	for i := range a {
		result[i] = a[i] + (b[i]-a[i])*w
	}
	return result
}

func Equal(a, b Tensor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EvalSpec carries the non-sample arguments of a model evaluation.
type EvalSpec struct {
	// CallIndex counts model evaluations within one logical step. The
	// driver's own evaluation is index 0; samplers number their extra
	// calls from 1.
	CallIndex int

	// Tangent requests a directional-derivative output: the model must
	// fill ModelResult.JDenoised with the JVP of the denoiser along
	// (Tangent, TangentSigma). Nil for plain evaluations.
	Tangent      Tensor
	TangentSigma float64
}

// ModelResult is one denoiser evaluation. The same value doubles as a
// history entry: the outer loop records (X, Denoised, Sigma) triples and
// samplers read them back for multistep formulas.
type ModelResult struct {
	X     Tensor
	Sigma float64

	Denoised Tensor
	// DenoisedUncond is the unguided prediction when the model exposes a
	// guided/unguided pair. Models without guidance set it to Denoised.
	DenoisedUncond Tensor
	// JDenoised is only set when the evaluation requested a tangent.
	JDenoised Tensor
}

// Blend mixes the guided and unguided predictions. A zero scale returns
// the guided prediction unchanged.
func (mr *ModelResult) Blend(scale float64) Tensor {
	if scale == 0 || mr.DenoisedUncond == nil {
		return mr.Denoised
	}
	return Lerp(mr.Denoised, mr.DenoisedUncond, scale)
}

// D is the probability-flow derivative at the evaluation point.
func (mr *ModelResult) D(blendScale float64) Tensor {
	return ToD(mr.X, mr.Sigma, mr.Blend(blendScale))
}

// DAt recomputes the derivative against a different sample and sigma,
// reusing this evaluation's denoised estimate.
func (mr *ModelResult) DAt(x Tensor, sigma float64, blendScale float64) Tensor {
	return ToD(x, sigma, mr.Blend(blendScale))
}

// Model is the external denoiser. Evaluations must be deterministic for
// identical inputs within one step.
type Model interface {
	Evaluate(x Tensor, sigma float64, spec EvalSpec) (*ModelResult, error)
}

// NoiseSource produces unit-scale noise, deterministic under a fixed seed.
// The (sigma, sigmaNext) pair is advisory; sources that correlate noise
// across levels may use it.
type NoiseSource interface {
	Sample(sigma, sigmaNext float64, n int) Tensor
}

// GaussianNoise is the default NoiseSource: i.i.d. standard normal draws
// from a seeded generator.
type GaussianNoise struct {
	rng *rand.Rand
}

func NewGaussianNoise(seed int64) *GaussianNoise {
	return &GaussianNoise{rng: rand.New(rand.NewSource(seed))}
}

func (g *GaussianNoise) Sample(sigma, sigmaNext float64, n int) Tensor {
	out := make(Tensor, n)
	for i := range out {
		out[i] = g.rng.NormFloat64()
	}
	return out
}
