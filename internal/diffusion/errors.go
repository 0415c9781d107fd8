package diffusion

import "errors"

// Domain errors for sampling operations.
var (
	// ErrBudgetExceeded indicates an adaptive sampler spent more model
	// evaluations than its configured cap. Fatal for the enclosing run.
	ErrBudgetExceeded = errors.New("diffusion: model evaluation budget exceeded")

	// ErrBackendUnavailable indicates a sampler was selected whose solver
	// backend is not present.
	ErrBackendUnavailable = errors.New("diffusion: adaptive solver backend unavailable")

	// ErrBadOption indicates an invalid enumerated sampler option.
	ErrBadOption = errors.New("diffusion: invalid sampler option")

	// ErrUnknownSampler indicates a sampler name with no registered constructor.
	ErrUnknownSampler = errors.New("diffusion: unknown sampler")

	// ErrInvalidSample indicates a sample with NaN or Inf values.
	ErrInvalidSample = errors.New("diffusion: invalid sample (NaN or Inf detected)")

	// ErrShortSchedule indicates a sigma schedule with fewer than two entries.
	ErrShortSchedule = errors.New("diffusion: schedule needs at least two sigmas")
)
