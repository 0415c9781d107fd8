package samplers

import (
	"substep/internal/diffusion"
)

// StepContext is the read-mostly view a sampler gets for one schedule
// step. The driver owns it and rebuilds it each step; samplers only read
// it, except that evaluating the model through it produces fresh results.
type StepContext struct {
	// Sigmas is the noise-level sequence of the current descending run
	// and Idx the position of the step within it. SigmaNext is
	// Sigmas[Idx+1].
	Sigmas []float64
	Idx    int

	// MainSigmas/MainIdx describe the outer trajectory when Sigmas is a
	// restart-local sub-range. Both are nil/zero on plain schedules, in
	// which case the local values stand in.
	MainSigmas []float64
	MainIdx    int

	// Hist holds model results aligned with schedule positions, newest
	// last. The last entry is the current step's own evaluation; the
	// entries before it are history.
	Hist []*diffusion.ModelResult

	Model diffusion.Model
	Noise diffusion.NoiseSource

	// BatchSize is the number of samples packed into one Tensor.
	BatchSize int

	// DisableStatus suppresses advisory progress reporting.
	DisableStatus bool
	// Progress, when set, receives advisory completion fractions during
	// long adaptive solves. It has no effect on numerical results.
	Progress func(frac float64, desc string)
}

func (sc *StepContext) Sigma() float64     { return sc.Sigmas[sc.Idx] }
func (sc *StepContext) SigmaNext() float64 { return sc.Sigmas[sc.Idx+1] }

// SigmaPrev is the previous noise level, or 0 at the first step.
func (sc *StepContext) SigmaPrev() float64 {
	if sc.Idx == 0 {
		return 0
	}
	return sc.Sigmas[sc.Idx-1]
}

// DT is the derived step size sigmaNext - sigma (negative on a
// descending schedule).
func (sc *StepContext) DT() float64 { return sc.SigmaNext() - sc.Sigma() }

// HCur is the current step's model result.
func (sc *StepContext) HCur() *diffusion.ModelResult {
	return sc.Hist[len(sc.Hist)-1]
}

// HPrev is the newest history entry before the current one.
func (sc *StepContext) HPrev() *diffusion.ModelResult {
	return sc.Hist[len(sc.Hist)-2]
}

// HistBack returns the entry k positions behind the current one, so
// HistBack(0) == HCur.
func (sc *StepContext) HistBack(k int) *diffusion.ModelResult {
	return sc.Hist[len(sc.Hist)-1-k]
}

// Denoised is the model's clean-sample estimate for the current step.
func (sc *StepContext) Denoised() diffusion.Tensor {
	return sc.HCur().Denoised
}

// AncestralStep splits the current transition by eta.
func (sc *StepContext) AncestralStep(eta float64) (down, up float64) {
	return diffusion.AncestralStep(sc.Sigma(), sc.SigmaNext(), eta)
}

// AncestralStepTo splits the transition toward an explicit target sigma.
func (sc *StepContext) AncestralStepTo(eta, sigmaNext float64) (down, up float64) {
	return diffusion.AncestralStep(sc.Sigma(), sigmaNext, eta)
}

// EvalModel evaluates the denoiser through the context.
func (sc *StepContext) EvalModel(x diffusion.Tensor, sigma float64, spec diffusion.EvalSpec) (*diffusion.ModelResult, error) {
	return sc.Model.Evaluate(x, sigma, spec)
}

func (sc *StepContext) mainIdx() int {
	if sc.MainSigmas == nil {
		return sc.Idx
	}
	return sc.MainIdx
}

func (sc *StepContext) mainSigmas() []float64 {
	if sc.MainSigmas == nil {
		return sc.Sigmas
	}
	return sc.MainSigmas
}

func (sc *StepContext) report(frac float64, desc string) {
	if sc.Progress != nil && !sc.DisableStatus {
		sc.Progress(frac, desc)
	}
}

func (sc *StepContext) batchSize() int {
	if sc.BatchSize < 1 {
		return 1
	}
	return sc.BatchSize
}
