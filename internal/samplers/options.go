package samplers

// Options is the full set of knobs the selection registry understands.
// Each sampler reads the subset it supports and ignores the rest.
// Pointer fields distinguish "unset" from an explicit zero.
type Options struct {
	Eta        float64 `yaml:"eta"`
	SNoise     float64 `yaml:"s_noise"`
	Weight     float64 `yaml:"weight"`
	Substeps   int     `yaml:"substeps"`
	CFGPPScale float64 `yaml:"cfgpp_scale"`

	DynEtaStart *float64 `yaml:"dyn_eta_start"`
	DynEtaEnd   *float64 `yaml:"dyn_eta_end"`

	HistoryLimit *int `yaml:"history_limit"`

	ReversibleScale float64  `yaml:"reversible_scale"`
	Reta            float64  `yaml:"reta"`
	DynRetaStart    *float64 `yaml:"dyn_reta_start"`
	DynRetaEnd      *float64 `yaml:"dyn_reta_end"`

	CyclePct float64 `yaml:"cycle_pct"`

	// dpmpp_2m_sde correction form: "midpoint" or "heun".
	SolverType string `yaml:"solver_type"`
	// dpmpp_sde midpoint fraction.
	R float64 `yaml:"r"`

	ResSimplePhi bool    `yaml:"res_simple_phi"`
	ResC2        float64 `yaml:"res_c2"`

	AlternatePhi2 bool `yaml:"alternate_phi_2"`

	MaxOrder int `yaml:"max_order"`

	DeisMode string `yaml:"deis_mode"`

	Deta         float64  `yaml:"deta"`
	DsNoise      *float64 `yaml:"ds_noise"`
	Leap         int      `yaml:"leap"`
	DynDetaStart *float64 `yaml:"dyn_deta_start"`
	DynDetaEnd   *float64 `yaml:"dyn_deta_end"`
	DynDetaMode  string   `yaml:"dyn_deta_mode"`

	// Adaptive adapter knobs. Rtol/Atol are base-10 exponents.
	Solver      string  `yaml:"solver"`
	MaxNFE      int     `yaml:"max_nfe"`
	Rtol        float64 `yaml:"rtol"`
	Atol        float64 `yaml:"atol"`
	FixupHack   float64 `yaml:"fixup_hack"`
	Split       int     `yaml:"split"`
	MinSigma    float64 `yaml:"min_sigma"`
	InitialStep float64 `yaml:"initial_step"`
}

// DefaultOptions returns the baseline configuration every sampler starts
// from.
func DefaultOptions() Options {
	return Options{
		Eta:             1.0,
		SNoise:          1.0,
		Weight:          1.0,
		Substeps:        1,
		ReversibleScale: 1.0,
		Reta:            1.0,
		CyclePct:        0.25,
		SolverType:      "midpoint",
		R:               0.5,
		ResC2:           0.5,
		AlternatePhi2:   true,
		MaxOrder:        3,
		DeisMode:        "tab",
		Deta:            1.0,
		Leap:            2,
		DynDetaMode:     "lerp",
		Solver:          "dopri5",
		MaxNFE:          100,
		Rtol:            -2.5,
		Atol:            -3.5,
		FixupHack:       0.025,
		Split:           1,
		MinSigma:        0.0292,
		InitialStep:     0.25,
	}
}
