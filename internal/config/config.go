// Package config loads the simulation configuration from YAML.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config is the top-level simulation configuration.
type Config struct {
	Markets    []MarketConfig   `yaml:"markets"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// MarketConfig declares one market to create before the run.
type MarketConfig struct {
	Symbol   string `yaml:"symbol"`
	TickSize int64  `yaml:"tick_size"`
}

// SimulationConfig controls the generated order flow.
type SimulationConfig struct {
	Workers         int   `yaml:"workers"`
	OrdersPerWorker int   `yaml:"orders_per_worker"`
	Seed            int64 `yaml:"seed"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Markets: []MarketConfig{
			{Symbol: "AAPL", TickSize: 1},
			{Symbol: "GOOG", TickSize: 1},
			{Symbol: "MSFT", TickSize: 5},
		},
		Simulation: SimulationConfig{
			Workers:         5,
			OrdersPerWorker: 200,
			Seed:            42,
		},
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer file.Close()

	cfg := Default()
	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config file")
	}

	if len(cfg.Markets) == 0 {
		return nil, errors.New("config declares no markets")
	}
	for _, m := range cfg.Markets {
		if m.Symbol == "" {
			return nil, errors.New("market with empty symbol")
		}
		if m.TickSize <= 0 {
			return nil, errors.Errorf("market %s has non-positive tick size %d", m.Symbol, m.TickSize)
		}
	}
	if cfg.Simulation.Workers <= 0 {
		return nil, errors.New("simulation workers must be positive")
	}
	if cfg.Simulation.OrdersPerWorker <= 0 {
		return nil, errors.New("simulation orders_per_worker must be positive")
	}
	return cfg, nil
}
