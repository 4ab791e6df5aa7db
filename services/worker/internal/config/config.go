package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, relative to the working
// directory the worker starts in.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	DatabaseURL          string `yaml:"databaseURL"`
	RabbitURL            string `yaml:"rabbitURL"`
	RabbitQueue          string `yaml:"rabbitQueue"`
	INatBaseURL          string `yaml:"inatBaseURL"`
	LogLevel             string `yaml:"logLevel"`
	SweepIntervalSeconds int    `yaml:"sweepIntervalSeconds"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("RABBIT_URL"); v != "" {
		cfg.RabbitURL = v
	}
	if v := os.Getenv("INAT_BASE_URL"); v != "" {
		cfg.INatBaseURL = v
	}
	if v := os.Getenv("WORKER_SWEEP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepIntervalSeconds = n
		}
	}
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	return cfg, nil
}
