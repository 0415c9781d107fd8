package samplers

import (
	"fmt"
	"sort"

	"substep/internal/diffusion"
)

// Constructor builds a sampler from options. Constructors validate the
// options they consume and fail fast on bad enumerations.
type Constructor func(Options) (Sampler, error)

func wrap[S Sampler](f func(Options) (S, error)) Constructor {
	return func(o Options) (Sampler, error) { return f(o) }
}

// constructors is the fixed sampler set. The registry is closed: names
// are compiled in, never registered at runtime.
var constructors = map[string]Constructor{
	"euler":              wrap(NewEuler),
	"euler_cycle":        wrap(NewEulerCycle),
	"euler_dancing":      wrap(NewEulerDancing),
	"trapezoidal":        wrap(NewTrapezoidal),
	"trapezoidal_cycle":  wrap(NewTrapezoidalCycle),
	"reversible_heun":    wrap(NewReversibleHeun),
	"reversible_heun_1s": wrap(NewReversibleHeun1S),
	"bogacki":            wrap(NewBogacki),
	"reversible_bogacki": wrap(NewReversibleBogacki),
	"rk4":                wrap(NewRK4),
	"dpmpp_2m":           wrap(NewDPMPP2M),
	"dpmpp_2m_sde":       wrap(NewDPMPP2MSDE),
	"dpmpp_3m_sde":       wrap(NewDPMPP3MSDE),
	"dpmpp_2s":           wrap(NewDPMPP2S),
	"dpmpp_sde":          wrap(NewDPMPPSDE),
	"res":                wrap(NewRES),
	"ttm_jvp":            wrap(NewTTMJVP),
	"ipndm":              wrap(NewIPNDM),
	"ipndm_v":            wrap(NewIPNDMV),
	"deis":               wrap(NewDEIS),
	"heunpp2":            wrap(NewHeunPP2),
	"ode":                wrap(NewODE),
	"ode_batch":          wrap(NewODEBatch),
}

// New builds the named sampler.
func New(name string, o Options) (Sampler, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", diffusion.ErrUnknownSampler, name)
	}
	return ctor(o)
}

// Names lists the registered samplers in sorted order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
