package samplers

import (
	"substep/internal/diffusion"
)

// ipndmMultipliers holds Adams-Bashforth weights per order, with a
// shared divisor per row.
var ipndmMultipliers = []struct {
	weights []float64
	div     float64
}{
	{[]float64{1}, 1},
	{[]float64{3, -1}, 2},
	{[]float64{23, -16, 5}, 12},
	{[]float64{55, -59, 37, -9}, 24},
}

// IPNDM is the improved pseudo numerical multistep sampler with fixed
// Adams-Bashforth weights. Effective order grows with available history.
type IPNDM struct {
	base
	historyBound
}

func NewIPNDM(o Options) (*IPNDM, error) {
	return &IPNDM{
		base:         newBase("ipndm", o, true),
		historyBound: newHistoryBound(1, 3, o),
	}, nil
}

func (s *IPNDM) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.eulerStep(x, sc)
	}
	order := s.availableHistory(sc) + 1
	row := ipndmMultipliers[order-1]

	noise := s.toD(sc.HCur()).Scale(row.weights[0])
	for k := 1; k < order; k++ {
		noise = noise.AddScaled(s.toD(sc.HistBack(k)), row.weights[k])
	}
	noise = noise.Scale(1 / row.div)
	return s.ancestralize(sc, x.AddScaled(noise, sc.DT())), nil
}

// IPNDMV is the variable-step variant: weights are recomputed each step
// from the actual sigma spacing instead of assuming uniform steps.
type IPNDMV struct {
	base
	historyBound
}

func NewIPNDMV(o Options) (*IPNDMV, error) {
	return &IPNDMV{
		base:         newBase("ipndm_v", o, true),
		historyBound: newHistoryBound(1, 3, o),
	}, nil
}

func (s *IPNDMV) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.eulerStep(x, sc)
	}
	dt := sc.DT()
	d := s.toD(sc.HCur())
	order := s.availableHistory(sc) + 1

	// hn[k] is the sigma delta k steps back: hn[1] covers the previous
	// step, hn[2] the one before, and so on.
	hn := make([]float64, order)
	for k := 1; k < order; k++ {
		hn[k] = sc.Sigmas[sc.Idx-(k-1)] - sc.Sigmas[sc.Idx-k]
	}

	var noise diffusion.Tensor
	switch order {
	case 1:
		noise = d
	case 2:
		c1 := (2 + dt/hn[1]) / 2
		c2 := -(dt / hn[1]) / 2
		noise = d.Scale(c1).AddScaled(s.toD(sc.HistBack(1)), c2)
	case 3:
		tmp := (1 - dt/(3*(dt+hn[1]))*(dt*(dt+hn[1]))/(hn[1]*(hn[1]+hn[2]))) / 2
		c1 := (2+dt/hn[1])/2 + tmp
		c2 := -(dt/hn[1])/2 - (1+hn[1]/hn[2])*tmp
		c3 := tmp * hn[1] / hn[2]
		noise = d.Scale(c1).
			AddScaled(s.toD(sc.HistBack(1)), c2).
			AddScaled(s.toD(sc.HistBack(2)), c3)
	default:
		tmp1 := (1 - dt/(3*(dt+hn[1]))*(dt*(dt+hn[1]))/(hn[1]*(hn[1]+hn[2]))) / 2
		tmp2 := ((1-dt/(3*(dt+hn[1])))/2 + (1-dt/(2*(dt+hn[1])))*dt/(6*(dt+hn[1]+hn[2]))) *
			(dt * (dt + hn[1]) * (dt + hn[1] + hn[2])) /
			(hn[1] * (hn[1] + hn[2]) * (hn[1] + hn[2] + hn[3]))
		ratio := hn[1] * (hn[1] + hn[2]) / (hn[2] * (hn[2] + hn[3]))
		c1 := (2+dt/hn[1])/2 + tmp1 + tmp2
		c2 := -(dt/hn[1])/2 - (1+hn[1]/hn[2])*tmp1 - (1+hn[1]/hn[2]+ratio)*tmp2
		c3 := tmp1*hn[1]/hn[2] + (hn[1]/hn[2]+ratio*(1+hn[2]/hn[3]))*tmp2
		c4 := -tmp2 * ratio * hn[1] / hn[2]
		noise = d.Scale(c1).
			AddScaled(s.toD(sc.HistBack(1)), c2).
			AddScaled(s.toD(sc.HistBack(2)), c3).
			AddScaled(s.toD(sc.HistBack(3)), c4)
	}
	return s.ancestralize(sc, x.AddScaled(noise, dt)), nil
}
