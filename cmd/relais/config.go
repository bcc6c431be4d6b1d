package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full relais configuration.
type Config struct {
	CachePath    string `yaml:"cache_path"`
	CacheMaxSize int    `yaml:"cache_max_size"`

	ProxyAddr       string `yaml:"proxy_addr"`
	ControlAddr     string `yaml:"control_addr"`
	ControlPassword string `yaml:"control_password"`

	SearXInstances []string `yaml:"searx_instances"`
	BraveAPIKey    string   `yaml:"brave_api_key"`
	// OnionEngines adds the ahmia and brave adapters ahead of duckduckgo
	// in the priority list.
	OnionEngines bool `yaml:"onion_engines"`

	MinIntervalMS int `yaml:"min_interval_ms"`

	AdminListen string `yaml:"admin_listen"`
}

// DefaultConfig returns sane defaults for a local proxy daemon.
func DefaultConfig() *Config {
	return &Config{
		CachePath:     "db/relais_cache.db",
		CacheMaxSize:  1000,
		ProxyAddr:     "127.0.0.1:9050",
		ControlAddr:   "127.0.0.1:9051",
		MinIntervalMS: 2000,
	}
}

// LoadConfig reads and parses a YAML config file, merged over defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("cache_path is required")
	}
	if c.CacheMaxSize <= 0 {
		return fmt.Errorf("cache_max_size must be > 0")
	}
	if c.ProxyAddr == "" {
		return fmt.Errorf("proxy_addr is required")
	}
	if c.MinIntervalMS < 0 {
		return fmt.Errorf("min_interval_ms must be >= 0")
	}
	return nil
}

// MinInterval returns the rate limiter spacing as a duration.
func (c *Config) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMS) * time.Millisecond
}
