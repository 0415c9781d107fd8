// Package driver owns the outer sampling loop: it walks the schedule,
// evaluates the model once per step, maintains the shared history
// buffer, and consumes the event chain each sampler step yields.
package driver

import (
	"context"
	"fmt"
	"log/slog"

	"substep/internal/diffusion"
	"substep/internal/samplers"
	"substep/internal/schedule"
)

// DefaultHistoryCap bounds the history buffer when the config leaves it
// unset. It covers the deepest multistep formula plus the current entry.
const DefaultHistoryCap = 4

// Config tunes the outer loop.
type Config struct {
	HistoryCap    int
	BatchSize     int
	DisableStatus bool
}

// StepRecord is one step's trace entry.
type StepRecord struct {
	Idx       int
	Sigma     float64
	SigmaNext float64
	// Norm is the sample norm after the step, DenoisedNorm the norm of
	// the model's clean estimate at the step.
	Norm         float64
	DenoisedNorm float64
}

// RunResult is the outcome of a full trajectory.
type RunResult struct {
	X     diffusion.Tensor
	Steps []StepRecord
}

// StepObserver is notified after each completed step. Observers must
// not mutate the record or the sample.
type StepObserver func(rec StepRecord, x diffusion.Tensor)

type Driver struct {
	model   diffusion.Model
	noise   diffusion.NoiseSource
	sampler samplers.Sampler
	sigmas  []float64
	cfg     Config
	log     *slog.Logger

	observers []StepObserver
	progress  func(frac float64, desc string)
}

func New(model diffusion.Model, noise diffusion.NoiseSource, sampler samplers.Sampler, sigmas []float64, cfg Config, log *slog.Logger) *Driver {
	if cfg.HistoryCap < 1 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		model:   model,
		noise:   noise,
		sampler: sampler,
		sigmas:  sigmas,
		cfg:     cfg,
		log:     log,
	}
}

// Observe registers a per-step observer.
func (d *Driver) Observe(fn StepObserver) { d.observers = append(d.observers, fn) }

// OnProgress registers the advisory progress sink passed through to
// adaptive samplers.
func (d *Driver) OnProgress(fn func(frac float64, desc string)) { d.progress = fn }

// Run advances x0 through the whole schedule and returns the final
// sample with its per-step trace. Schedules containing restarts (an
// upward sigma jump) are split into descending runs; history never
// crosses a run boundary.
func (d *Driver) Run(ctx context.Context, x0 diffusion.Tensor) (*RunResult, error) {
	if len(d.sigmas) < 2 {
		return nil, fmt.Errorf("%w: %d sigmas", diffusion.ErrShortSchedule, len(d.sigmas))
	}
	if !x0.IsValid() {
		return nil, fmt.Errorf("%w: initial sample", diffusion.ErrInvalidSample)
	}

	segs := schedule.Segments(d.sigmas)
	restarted := len(segs) > 1
	x := x0.Clone()
	res := &RunResult{}

	for _, seg := range segs {
		segSigmas := d.sigmas[seg[0]:seg[1]]
		if len(segSigmas) < 2 {
			continue
		}
		segStart := seg[0]
		var hist []*diffusion.ModelResult
		for idx := 0; idx < len(segSigmas)-1; idx++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			sigma, sigmaNext := segSigmas[idx], segSigmas[idx+1]

			mr, err := d.model.Evaluate(x, sigma, diffusion.EvalSpec{CallIndex: 0})
			if err != nil {
				return nil, fmt.Errorf("step %d: model: %w", segStart+idx, err)
			}
			hist = append(hist, mr)
			if len(hist) > d.cfg.HistoryCap {
				hist = hist[1:]
			}

			sc := &samplers.StepContext{
				Sigmas:        segSigmas,
				Idx:           idx,
				Hist:          hist,
				Model:         d.model,
				Noise:         d.noise,
				BatchSize:     d.cfg.BatchSize,
				DisableStatus: d.cfg.DisableStatus,
				Progress:      d.progress,
			}
			if restarted {
				sc.MainSigmas = d.sigmas
				sc.MainIdx = segStart + idx
			}

			ev, err := d.sampler.Step(x, sc)
			if err != nil {
				return nil, fmt.Errorf("step %d: %s: %w", segStart+idx, d.sampler.Name(), err)
			}
			for {
				x = ev.Result.ApplyNoise(1)
				if ev.Result.Final {
					break
				}
				ev, err = ev.Resume(x)
				if err != nil {
					return nil, fmt.Errorf("step %d: %s: %w", segStart+idx, d.sampler.Name(), err)
				}
			}
			if !x.IsValid() {
				return nil, fmt.Errorf("%w: step %d", diffusion.ErrInvalidSample, segStart+idx)
			}

			rec := StepRecord{
				Idx:          segStart + idx,
				Sigma:        sigma,
				SigmaNext:    sigmaNext,
				Norm:         x.Norm(),
				DenoisedNorm: mr.Denoised.Norm(),
			}
			res.Steps = append(res.Steps, rec)
			for _, obs := range d.observers {
				obs(rec, x)
			}
			d.log.Debug("step",
				"idx", rec.Idx,
				"sigma", rec.Sigma,
				"sigma_next", rec.SigmaNext,
				"norm", rec.Norm,
			)
		}
	}
	res.X = x
	return res, nil
}
