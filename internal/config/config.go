package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the run configuration the framework hands to the runtime,
// loaded from a YAML file.
type Config struct {
	Grid   GridConfig   `yaml:"grid"`
	Time   TimeConfig   `yaml:"time"`
	Device DeviceConfig `yaml:"device"`
	OpenCL OpenCLConfig `yaml:"opencl"`
	EOS    EOSConfig    `yaml:"eos"`
	IC     ICConfig     `yaml:"ic"`
	Output OutputConfig `yaml:"output"`
}

// GridConfig describes the hyper-surface grid: cell counts and spacings
// along x, y and the space-time rapidity eta.
type GridConfig struct {
	NX   int     `yaml:"nx"`
	NY   int     `yaml:"ny"`
	NZ   int     `yaml:"nz"`
	DX   float64 `yaml:"dx"`
	DY   float64 `yaml:"dy"`
	DEta float64 `yaml:"deta"`
}

// Size returns the total cell count.
func (g GridConfig) Size() int { return g.NX * g.NY * g.NZ }

// TimeConfig describes proper-time stepping.
type TimeConfig struct {
	Tau0   float64 `yaml:"tau0"`
	Dt     float64 `yaml:"dt"`
	TauMax float64 `yaml:"taumax"`
	NtSkip int     `yaml:"ntskip"`
}

// DeviceConfig selects the compute device.
type DeviceConfig struct {
	Type string `yaml:"type"` // cpu, gpu or all
	ID   int    `yaml:"id"`
}

// OpenCLConfig controls kernel compilation.
type OpenCLConfig struct {
	KernelDir       string `yaml:"kernel_dir"`
	SinglePrecision bool   `yaml:"single_precision"`
	Optimize        bool   `yaml:"optimize"`
}

// EOSConfig selects the equation of state and the freeze-out threshold
// below which the evolution is considered finished.
type EOSConfig struct {
	Type     string  `yaml:"type"` // ideal_gas
	EdFreeze float64 `yaml:"ed_freeze"`
}

// ICConfig selects the built-in initial condition profile.
type ICConfig struct {
	Type      string  `yaml:"type"` // gaussian or bjorken
	Amplitude float64 `yaml:"amplitude"`
	Width     float64 `yaml:"width"`
}

// OutputConfig controls snapshot and trace output.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns a configuration for a small central-collision test run.
func Default() *Config {
	return &Config{
		Grid: GridConfig{
			NX: 67, NY: 67, NZ: 1,
			DX: 0.3, DY: 0.3, DEta: 0.3,
		},
		Time: TimeConfig{
			Tau0:   0.6,
			Dt:     0.02,
			TauMax: 10.0,
			NtSkip: 10,
		},
		Device: DeviceConfig{Type: "gpu", ID: 0},
		OpenCL: OpenCLConfig{
			KernelDir:       "kernels",
			SinglePrecision: true,
			Optimize:        true,
		},
		EOS: EOSConfig{
			Type:     "ideal_gas",
			EdFreeze: 0.05,
		},
		IC: ICConfig{
			Type:      "gaussian",
			Amplitude: 30.0,
			Width:     3.0,
		},
		Output: OutputConfig{Dir: "./data"},
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the runtime cannot work with.
func (c *Config) Validate() error {
	if c.Grid.NX <= 0 || c.Grid.NY <= 0 || c.Grid.NZ <= 0 {
		return fmt.Errorf("grid sizes must be positive, got %dx%dx%d", c.Grid.NX, c.Grid.NY, c.Grid.NZ)
	}
	if c.Grid.DX <= 0 || c.Grid.DY <= 0 || c.Grid.DEta <= 0 {
		return fmt.Errorf("grid spacings must be positive")
	}
	if c.Time.Dt <= 0 {
		return fmt.Errorf("time step must be positive, got %g", c.Time.Dt)
	}
	if c.Time.Tau0 <= 0 {
		return fmt.Errorf("tau0 must be positive, got %g", c.Time.Tau0)
	}
	if c.Time.TauMax <= c.Time.Tau0 {
		return fmt.Errorf("taumax %g must exceed tau0 %g", c.Time.TauMax, c.Time.Tau0)
	}
	if c.Time.NtSkip <= 0 {
		return fmt.Errorf("ntskip must be positive, got %d", c.Time.NtSkip)
	}
	if c.EOS.Type != "ideal_gas" {
		return fmt.Errorf("unknown eos type %q", c.EOS.Type)
	}
	if c.EOS.EdFreeze < 0 {
		return fmt.Errorf("ed_freeze must not be negative, got %g", c.EOS.EdFreeze)
	}
	switch c.IC.Type {
	case "gaussian", "bjorken":
	default:
		return fmt.Errorf("unknown ic type %q", c.IC.Type)
	}
	if c.OpenCL.KernelDir == "" {
		return fmt.Errorf("kernel_dir must be set")
	}
	return nil
}
