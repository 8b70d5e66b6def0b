// Package config loads the wsprobe server configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents configuration data for the probe server.
type Config struct {
	// ListenAddr is the address and port of the probe endpoint.
	ListenAddr string `yaml:"listen_addr"`
	// MetricsAddr is the address and port of the metrics and pprof server.
	MetricsAddr string `yaml:"metrics_addr"`
	// CertFile and KeyFile enable TLS when both are set.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// IdleSeconds bounds how long a silent probe connection is kept open.
	IdleSeconds int `yaml:"idle_seconds"`
}

// DefaultConfig returns sensible defaults in case no configuration file is
// provided.
func DefaultConfig() Config {
	return Config{
		ListenAddr:  ":8080",
		MetricsAddr: ":9090",
		IdleSeconds: 300,
	}
}

// Load reads configuration from a yaml file. An empty path falls back to
// defaults; a missing or malformed file is an error, because a server
// started with a config it cannot read should not run with silent defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ListenAddr == "" || cfg.MetricsAddr == "" {
		return Config{}, fmt.Errorf("config %s: listen_addr and metrics_addr must not be empty", path)
	}
	if cfg.IdleSeconds <= 0 {
		return Config{}, fmt.Errorf("config %s: idle_seconds must be positive", path)
	}
	return cfg, nil
}

// IdleTimeout returns IdleSeconds as a duration.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleSeconds) * time.Second
}
