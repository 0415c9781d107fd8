package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"substep/internal/samplers"
	"substep/internal/schedule"
)

const (
	DefaultSteps    = 20
	DefaultSigmaMin = 0.0292
	DefaultSigmaMax = 14.6146
	DefaultRho      = 7.0
	DefaultDim      = 4
	DefaultVariance = 1.0
)

type Config struct {
	Sampler    string         `yaml:"sampler"`
	Schedule   ScheduleConfig `yaml:"schedule"`
	Model      ModelConfig    `yaml:"model"`
	Seed       int64          `yaml:"seed"`
	Dim        int            `yaml:"dim"`
	BatchSize  int            `yaml:"batch_size"`
	HistoryCap int            `yaml:"history_cap"`

	Options samplers.Options `yaml:"options"`
}

type ScheduleConfig struct {
	Kind     string  `yaml:"kind"`
	Steps    int     `yaml:"steps"`
	SigmaMin float64 `yaml:"sigma_min"`
	SigmaMax float64 `yaml:"sigma_max"`
	Rho      float64 `yaml:"rho"`
}

type ModelConfig struct {
	Kind          string    `yaml:"kind"`
	Variance      float64   `yaml:"variance"`
	Target        []float64 `yaml:"target"`
	GuidanceScale float64   `yaml:"guidance_scale"`
}

func DefaultConfig() *Config {
	return &Config{
		Sampler: "euler",
		Schedule: ScheduleConfig{
			Kind:     "karras",
			Steps:    DefaultSteps,
			SigmaMin: DefaultSigmaMin,
			SigmaMax: DefaultSigmaMax,
			Rho:      DefaultRho,
		},
		Model: ModelConfig{
			Kind:     "gaussian",
			Variance: DefaultVariance,
		},
		Dim:       DefaultDim,
		BatchSize: 1,
		Options:   samplers.DefaultOptions(),
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Sigmas materializes the configured noise schedule.
func (c *Config) Sigmas() ([]float64, error) {
	s := c.Schedule
	switch s.Kind {
	case "karras", "":
		return schedule.Karras(s.Steps, s.SigmaMin, s.SigmaMax, s.Rho), nil
	case "linear":
		return schedule.Linear(s.Steps, s.SigmaMin, s.SigmaMax), nil
	default:
		return nil, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}
