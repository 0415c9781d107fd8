// Package odesolve provides the adaptive ODE backends the adaptive
// sampler adapters integrate with. The backend set is fixed at compile
// time; callers probe availability by name before constructing anything
// that depends on a backend.
package odesolve

import (
	"errors"
	"fmt"
	"sort"
)

// Func evaluates the derivative dy/dt at (t, y). Implementations may
// return an error to abort the solve (e.g. an exhausted evaluation
// budget).
type Func func(t float64, y []float64) ([]float64, error)

// Opts controls an adaptive solve. Rtol and Atol are absolute
// tolerances, not exponents.
type Opts struct {
	Rtol        float64
	Atol        float64
	InitialStep float64
	// MaxSteps bounds the number of accepted plus rejected attempts.
	// Zero means the default.
	MaxSteps int
}

const defaultMaxSteps = 10_000

// Backend is one embedded adaptive integrator. Solve advances y from t0
// to t1, in either time direction, and returns the final state.
type Backend interface {
	Name() string
	Solve(f Func, y0 []float64, t0, t1 float64, o Opts) ([]float64, error)
}

var ErrStepsExhausted = errors.New("odesolve: step limit exhausted")

var backends = map[string]Backend{
	"dopri5": dopri5{},
	"rk23":   rk23{},
}

// Available reports whether a backend with the given name is embedded.
func Available(name string) bool {
	_, ok := backends[name]
	return ok
}

// Lookup returns the named backend.
func Lookup(name string) (Backend, bool) {
	b, ok := backends[name]
	return b, ok
}

// Names lists the embedded backends in sorted order.
func Names() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// errorNorm is the scaled RMS error used by both backends to accept or
// reject a step.
func errorNorm(y, yNew, errEst []float64, rtol, atol float64) float64 {
	var sum float64
	for i := range errEst {
		sc := atol + rtol*maxAbs(y[i], yNew[i])
		r := errEst[i] / sc
		sum += r * r
	}
	return sqrtf(sum / float64(len(errEst)))
}

func maxAbs(a, b float64) float64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}

// stepController is the shared accept/reject and step-size policy.
type stepController struct {
	safety   float64
	minScale float64
	maxScale float64
	order    float64
}

func (c stepController) next(h, errNorm float64) (accept bool, hNext float64) {
	if errNorm <= 1 {
		scale := c.maxScale
		if errNorm > 0 {
			scale = minf(c.maxScale, c.safety*powf(errNorm, -1/(c.order+1)))
		}
		return true, h * scale
	}
	scale := maxf(c.minScale, c.safety*powf(errNorm, -1/c.order))
	return false, h * scale
}

// solveAdaptive runs the shared outer loop: try a step, shrink on
// rejection, clamp the last step onto t1 exactly. attempt performs one
// trial step of size h and returns the candidate state, the embedded
// error estimate, and the derivative at the step start (for FSAL reuse
// the backend manages internally).
func solveAdaptive(f Func, y0 []float64, t0, t1 float64, o Opts, ctrl stepController,
	attempt func(t float64, y []float64, h float64) (yNew, errEst []float64, err error),
) ([]float64, error) {
	if t0 == t1 {
		return append([]float64(nil), y0...), nil
	}
	maxSteps := o.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	dir := 1.0
	if t1 < t0 {
		dir = -1.0
	}
	h := o.InitialStep
	if h <= 0 {
		h = absf(t1-t0) / 10
	}
	if h > absf(t1-t0) {
		h = absf(t1 - t0)
	}
	h *= dir

	t := t0
	y := append([]float64(nil), y0...)
	for step := 0; step < maxSteps; step++ {
		if (dir > 0 && t+h > t1) || (dir < 0 && t+h < t1) {
			h = t1 - t
		}
		yNew, errEst, err := attempt(t, y, h)
		if err != nil {
			return nil, err
		}
		en := errorNorm(y, yNew, errEst, o.Rtol, o.Atol)
		accept, hNext := ctrl.next(h, en)
		if accept {
			t += h
			y = yNew
			if t == t1 || absf(t1-t) < 1e-14*maxf(absf(t0), absf(t1)) {
				return y, nil
			}
		}
		h = hNext
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrStepsExhausted, maxSteps)
}
