package samplers

import (
	"substep/internal/diffusion"
)

// Sampler advances a noisy sample one increment along the reverse-time
// denoising trajectory. Step never returns the new sample directly: it
// yields a chain of events, zero or more intermediate and exactly one
// final, that the driver consumes.
type Sampler interface {
	Name() string
	Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error)
	Weight() float64
	Substeps() int
}

// base carries the configuration shared by every sampler and the helpers
// the step implementations are built from.
type base struct {
	name        string
	eta         float64
	sNoise      float64
	weight      float64
	substeps    int
	dynEtaStart *float64
	dynEtaEnd   *float64
	cfgppScale  float64
}

// newBase applies Options to a sampler core. allowGuidance gates the
// guidance blend: unsupported algorithms force the scale to zero.
func newBase(name string, o Options, allowGuidance bool) base {
	scale := o.CFGPPScale
	if !allowGuidance {
		scale = 0
	}
	substeps := o.Substeps
	if substeps < 1 {
		substeps = 1
	}
	return base{
		name:        name,
		eta:         o.Eta,
		sNoise:      o.SNoise,
		weight:      o.Weight,
		substeps:    substeps,
		dynEtaStart: o.DynEtaStart,
		dynEtaEnd:   o.DynEtaEnd,
		cfgppScale:  scale,
	}
}

func (b *base) Name() string    { return b.name }
func (b *base) Weight() float64 { return b.weight }
func (b *base) Substeps() int   { return b.substeps }

// dynValue interpolates between start and end by the step's fractional
// position within the outer trajectory. Unset bounds disable the feature
// (1.0); equal bounds pin it to that constant.
func (b *base) dynValue(sc *StepContext, start, end *float64) float64 {
	if start == nil || end == nil {
		return 1.0
	}
	if *start == *end {
		return *start
	}
	sigmas := sc.mainSigmas()
	if len(sigmas) <= 1 {
		return *start
	}
	pct := float64(sc.mainIdx()) / float64(len(sigmas)-1)
	return *start + (*end-*start)*pct
}

func (b *base) dynEta(sc *StepContext) float64 {
	return b.eta * b.dynValue(sc, b.dynEtaStart, b.dynEtaEnd)
}

func (b *base) toD(mr *diffusion.ModelResult) diffusion.Tensor {
	return mr.D(b.cfgppScale)
}

func (b *base) toDAt(mr *diffusion.ModelResult, x diffusion.Tensor, sigma float64) diffusion.Tensor {
	return mr.DAt(x, sigma, b.cfgppScale)
}

// newResult builds a result for the current transition with this
// sampler's noise scale factor.
func (b *base) newResult(sc *StepContext, x diffusion.Tensor, strength float64) *Result {
	return &Result{
		X:         x,
		Strength:  strength,
		SNoise:    b.sNoise,
		Sigma:     sc.Sigma(),
		SigmaNext: sc.SigmaNext(),
		Noise:     sc.Noise,
	}
}

func (b *base) finalResult(sc *StepContext, x diffusion.Tensor, strength float64) *StepEvent {
	return finalEvent(b.newResult(sc, x, strength))
}

// denoisedResult terminates the step with the model's clean estimate and
// no noise.
func (b *base) denoisedResult(sc *StepContext) *StepEvent {
	return b.finalResult(sc, sc.Denoised().Clone(), 0)
}

/// eulerStep is the universal order-1 step: ancestral split, one
// derivative, one increment.
func (b *base) eulerStep(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	sigmaDown, sigmaUp := sc.AncestralStep(b.dynEta(sc))
	d := b.toD(sc.HCur())
	dt := sigmaDown - sc.Sigma()
	return b.finalResult(sc, x.AddScaled(d, dt), sigmaUp), nil
}

// ancestralize re-targets a finished deterministic step onto the
// ancestral sigmaDown and attaches the matching noise strength. With
// eta 0 or a zero target it passes the sample through unchanged.
func (b *base) ancestralize(sc *StepContext, x diffusion.Tensor) *StepEvent {
	eta := b.dynEta(sc)
	if sc.SigmaNext() == 0 || eta == 0 {
		return b.finalResult(sc, x, 0)
	}
	sigmaDown, sigmaUp := sc.AncestralStep(eta)
	denoised, noise := diffusion.ExtractPred(sc.HCur().X, x, sc.Sigma(), sc.SigmaNext())
	return b.finalResult(sc, denoised.AddScaled(noise, sigmaDown), sigmaUp)
}

// historyBound adds the bounded-history policy: the number of usable past
// entries is capped by the schedule position, the configured limit, the
// algorithm's hard maximum, and what the driver actually retained.
type historyBound struct {
	historyLimit int
	maxHistory   int
}

func newHistoryBound(defaultLimit, maxHistory int, o Options) historyBound {
	limit := defaultLimit
	if o.HistoryLimit != nil {
		limit = *o.HistoryLimit
	}
	if limit < 0 {
		limit = 0
	}
	if limit > maxHistory {
		limit = maxHistory
	}
	return historyBound{historyLimit: limit, maxHistory: maxHistory}
}

func (h *historyBound) availableHistory(sc *StepContext) int {
	avail := sc.Idx
	if h.historyLimit < avail {
		avail = h.historyLimit
	}
	if h.maxHistory < avail {
		avail = h.maxHistory
	}
	if stored := len(sc.Hist) - 1; stored < avail {
		avail = stored
	}
	if avail < 0 {
		avail = 0
	}
	return avail
}

// reversible adds the time-symmetric correction policy: an independent
// ancestral split (reta) sizes the correction term.
type reversible struct {
	reversibleScale float64
	reta            float64
	dynRetaStart    *float64
	dynRetaEnd      *float64
}

func newReversible(o Options) reversible {
	return reversible{
		reversibleScale: o.ReversibleScale,
		reta:            o.Reta,
		dynRetaStart:    o.DynRetaStart,
		dynRetaEnd:      o.DynRetaEnd,
	}
}

func (r *reversible) dynReta(b *base, sc *StepContext) float64 {
	return r.reta * b.dynValue(sc, r.dynRetaStart, r.dynRetaEnd)
}

// cycler adds the cyclic re-noise policy: instead of the ancestral split,
// keep a fraction of the derivative and top up with fresh noise sized to
// preserve the target variance.
type cycler struct {
	cyclePct float64
}

func (c *cycler) cycleScales(sigmaNext float64) (keep, add float64) {
	keep = sigmaNext * (1.0 - c.cyclePct)
	add = sqrt(sigmaNext*sigmaNext-keep*keep) * (0.95 + 0.25*c.cyclePct)
	return keep, add
}

// minSigmaClamp adjusts a target sigma up to the configured floor when it
// falls meaningfully below it. Adaptive adapters integrate to the clamped
// target and fix up the difference with one extra sub-step.
const minSigmaThreshold = 5e-4

func clampSigma(sigma, minSigma float64) float64 {
	if minSigma-sigma > minSigmaThreshold {
		return minSigma
	}
	return sigma
}
