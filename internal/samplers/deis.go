package samplers

import (
	"fmt"

	"substep/internal/diffusion"
)

// deisQuadN is the sub-interval count for the trapezoid integration of
// the Lagrange basis polynomials.
const deisQuadN = 1024

type deisKey struct {
	historyLimit int
	steps        int
	first, last  float64
}

// DEIS fits multistep coefficients to the actual schedule by
// integrating Lagrange basis polynomials over each sigma interval. The
// table depends only on the schedule shape, so it is memoized by a
// fingerprint of the schedule and recomputed when that changes.
type DEIS struct {
	base
	historyBound
	coeffKey   *deisKey
	coeffs     [][]float64
	recomputes int
}

func NewDEIS(o Options) (*DEIS, error) {
	if o.DeisMode != "tab" {
		return nil, fmt.Errorf("%w: deis mode %q", diffusion.ErrBadOption, o.DeisMode)
	}
	return &DEIS{
		base:         newBase("deis", o, true),
		historyBound: newHistoryBound(1, 3, o),
	}, nil
}

// Recomputes reports how many times the coefficient table was rebuilt.
func (s *DEIS) Recomputes() int { return s.recomputes }

// lagrangeBasis evaluates the j-th basis polynomial with the given
// nodes at tau.
func lagrangeBasis(nodes []float64, j int, tau float64) float64 {
	p := 1.0
	for k, nk := range nodes {
		if k == j {
			continue
		}
		p *= (tau - nk) / (nodes[j] - nk)
	}
	return p
}

func (s *DEIS) coeffTable(sc *StepContext) [][]float64 {
	key := deisKey{
		historyLimit: s.historyLimit,
		steps:        len(sc.Sigmas),
		first:        sc.Sigmas[0],
		last:         sc.Sigmas[len(sc.Sigmas)-1],
	}
	if s.coeffKey != nil && *s.coeffKey == key {
		return s.coeffs
	}
	s.coeffKey = &key
	s.recomputes++

	maxOrder := s.historyLimit + 1
	table := make([][]float64, len(sc.Sigmas)-1)
	for i := range table {
		order := i + 1
		if order > maxOrder {
			order = maxOrder
		}
		if order == 1 {
			table[i] = []float64{sc.Sigmas[i+1] - sc.Sigmas[i]}
			continue
		}
		nodes := make([]float64, order)
		for j := range nodes {
			nodes[j] = sc.Sigmas[i-j]
		}
		lo, hi := sc.Sigmas[i], sc.Sigmas[i+1]
		dTau := (hi - lo) / deisQuadN
		c := make([]float64, order)
		for j := range c {
			// Trapezoid rule over the step interval.
			sum := 0.5 * (lagrangeBasis(nodes, j, lo) + lagrangeBasis(nodes, j, hi))
			for k := 1; k < deisQuadN; k++ {
				sum += lagrangeBasis(nodes, j, lo+float64(k)*dTau)
			}
			c[j] = sum * dTau
		}
		table[i] = c
	}
	s.coeffs = table
	return table
}

func (s *DEIS) Step(x diffusion.Tensor, sc *StepContext) (*StepEvent, error) {
	if sc.SigmaNext() == 0 {
		return s.eulerStep(x, sc)
	}
	d := s.toD(sc.HCur())
	order := s.availableHistory(sc) + 1

	var noise diffusion.Tensor
	if order < 2 {
		noise = d.Scale(sc.DT())
	} else {
		c := s.coeffTable(sc)[sc.Idx]
		noise = d.Scale(c[0])
		for k := 1; k < order && k < len(c); k++ {
			noise = noise.AddScaled(s.toD(sc.HistBack(k)), c[k])
		}
	}
	return s.ancestralize(sc, x.Add(noise)), nil
}
