// Package config loads the broker's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete broker configuration, loaded from a YAML file
// named on the command line (see cmd/goqttd).
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	TLS     TLSConfig     `yaml:"tls"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Limits  LimitsConfig  `yaml:"limits"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Bridge  BridgeConfig  `yaml:"bridge"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TLSConfig mirrors the ssl/sslkey/sslcert flags MQTT brokers commonly expose.
type TLSConfig struct {
	Enabled  bool   `yaml:"ssl"`
	CertFile string `yaml:"sslcert"`
	KeyFile  string `yaml:"sslkey"`
}

// AuthConfig selects exactly one of the four access-control backends.
// Precedence when more than one is set: authfile, webauth, password,
// then none.
type AuthConfig struct {
	AuthFile string `yaml:"authfile"` // JSON authfile path, or sqlite:// prefix for the SQLite backend
	WebAuth  string `yaml:"webauth"`  // HTTP endpoint URL
	Password string `yaml:"password"` // single shared password
	None     bool   `yaml:"none"`     // accept every connection
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // "memory" or "bbolt"
	Path    string `yaml:"path"`
}

type LimitsConfig struct {
	MaxInflightMessages int           `yaml:"max_inflight_messages"`
	MaxMessageSize      int64         `yaml:"max_message_size"`
	RetryInterval       time.Duration `yaml:"retry_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// BridgeConfig configures the observe-only uplink sink (§9).
type BridgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 1883
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/goqttd.db"
	}
	if c.Limits.MaxInflightMessages == 0 {
		c.Limits.MaxInflightMessages = 20
	}
	if c.Limits.MaxMessageSize == 0 {
		c.Limits.MaxMessageSize = 256 * 1024
	}
	if c.Limits.RetryInterval == 0 {
		c.Limits.RetryInterval = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("ssl enabled but sslcert or sslkey not specified")
	}
	if c.Storage.Backend != "memory" && c.Storage.Backend != "bbolt" {
		return fmt.Errorf("invalid storage backend: %s (must be memory or bbolt)", c.Storage.Backend)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Metrics.Enabled && c.Metrics.Port == c.Server.Port {
		return fmt.Errorf("metrics port cannot be the same as server port")
	}
	return nil
}
