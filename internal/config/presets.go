package config

import "sort"

func preset(sampler string, mutate func(*Config)) *Config {
	cfg := DefaultConfig()
	cfg.Sampler = sampler
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

// Presets are ready-made configurations grouped by sampler family.
var Presets = map[string]map[string]*Config{
	"euler": {
		"ancestral": preset("euler", nil),
		"deterministic": preset("euler", func(c *Config) {
			c.Options.Eta = 0
		}),
		"dancing": preset("euler_dancing", func(c *Config) {
			c.Options.Leap = 3
		}),
	},
	"dpmpp": {
		"2m": preset("dpmpp_2m", func(c *Config) {
			c.Options.Eta = 0
		}),
		"2m_sde_heun": preset("dpmpp_2m_sde", func(c *Config) {
			c.Options.SolverType = "heun"
		}),
		"3m_sde": preset("dpmpp_3m_sde", nil),
	},
	"multistep": {
		"ipndm":  preset("ipndm", nil),
		"deis":   preset("deis", nil),
		"high_order": preset("ipndm_v", func(c *Config) {
			three := 3
			c.Options.HistoryLimit = &three
			c.HistoryCap = 4
		}),
	},
	"adaptive": {
		"precise": preset("ode", func(c *Config) {
			c.Options.Rtol = -4
			c.Options.Atol = -5
			c.Options.MaxNFE = 400
		}),
		"batch": preset("ode_batch", nil),
	},
}

func GetPreset(family, name string) *Config {
	group, ok := Presets[family]
	if !ok {
		return nil
	}
	return group[name]
}

func ListPresets(family string) []string {
	group, ok := Presets[family]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(group))
	for name := range group {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
