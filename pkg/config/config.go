package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Values are layered:
// defaults, then an optional YAML file, then environment variables.
// Command line flags are applied on top by cmd.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Fetch   FetchConfig   `yaml:"fetch"`
	History HistoryConfig `yaml:"history"`
	Logging LogConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port      int    `yaml:"port" envconfig:"PORT"`
	Host      string `yaml:"host" envconfig:"HOST"`
	PublicDir string `yaml:"publicDir" envconfig:"PUBLIC_DIR"`
	Prefork   bool   `yaml:"prefork" envconfig:"PREFORK"`
}

// FetchConfig controls the upstream request.
type FetchConfig struct {
	UserAgent    string        `yaml:"userAgent" envconfig:"USER_AGENT"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"HTTP_TIMEOUT"`
	MaxRedirects int           `yaml:"maxRedirects" envconfig:"MAX_REDIRECTS"`
	LogURLs      bool          `yaml:"logURLs" envconfig:"LOG_URLS"`
}

// HistoryConfig selects the history store. An empty Database keeps history
// in memory.
type HistoryConfig struct {
	Database string `yaml:"database" envconfig:"HISTORY_DB"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Development bool   `yaml:"development" envconfig:"LOG_DEV"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 3000,
			Host: "0.0.0.0",
		},
		Fetch: FetchConfig{
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			Timeout:      10 * time.Second,
			MaxRedirects: 5,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("syntax error in config file '%s': %w", path, err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("invalid fetch timeout %s", c.Fetch.Timeout)
	}
	if c.Fetch.MaxRedirects < 0 {
		return fmt.Errorf("invalid redirect limit %d", c.Fetch.MaxRedirects)
	}
	if c.Fetch.UserAgent == "" {
		return fmt.Errorf("user agent must not be empty")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
