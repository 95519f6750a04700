package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessors.
//
// Example (~/.chiffon/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8090
// orchestrator:
//   base_url: http://localhost:8000
//   max_attempts: 3
//   timeout_seconds: 30
// session:
//   ttl_hours: 24
//   sweep_interval_seconds: 300
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - ORCHESTRATOR_URL in the environment overrides orchestrator.base_url.

type AppConfig struct {
	Server       ServerConfig       `yaml:"server"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Session      SessionConfig      `yaml:"session"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type OrchestratorConfig struct {
	BaseURL        *string `yaml:"base_url"`
	MaxAttempts    *int    `yaml:"max_attempts"`
	TimeoutSeconds *int    `yaml:"timeout_seconds"`
}

type SessionConfig struct {
	TTLHours             *int `yaml:"ttl_hours"`
	SweepIntervalSeconds *int `yaml:"sweep_interval_seconds"`
}

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8090
	DefaultOrchestratorURL = "http://localhost:8000"
	DefaultMaxAttempts     = 3
	DefaultTimeoutSeconds  = 30
	DefaultTTLHours        = 24
	DefaultSweepSeconds    = 300
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".chiffon")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.chiffon/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	// Validate
	if strings.TrimSpace(cfg.Host()) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}
	if port := cfg.Port(); port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}
	if cfg.MaxAttempts() < 1 {
		return nil, "", fmt.Errorf("invalid orchestrator.max_attempts in %s", configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server:       ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Orchestrator: OrchestratorConfig{BaseURL: ptr(DefaultOrchestratorURL)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

// OrchestratorURL returns the orchestrator base URL. The ORCHESTRATOR_URL
// environment variable wins over the config file.
func (c *AppConfig) OrchestratorURL() string {
	if v := strings.TrimSpace(os.Getenv("ORCHESTRATOR_URL")); v != "" {
		return strings.TrimRight(v, "/")
	}
	if c == nil || c.Orchestrator.BaseURL == nil {
		return DefaultOrchestratorURL
	}
	v := strings.TrimSpace(*c.Orchestrator.BaseURL)
	if v == "" {
		return DefaultOrchestratorURL
	}
	return strings.TrimRight(v, "/")
}

func (c *AppConfig) MaxAttempts() int {
	if c == nil || c.Orchestrator.MaxAttempts == nil {
		return DefaultMaxAttempts
	}
	return *c.Orchestrator.MaxAttempts
}

func (c *AppConfig) RequestTimeout() time.Duration {
	if c == nil || c.Orchestrator.TimeoutSeconds == nil || *c.Orchestrator.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(*c.Orchestrator.TimeoutSeconds) * time.Second
}

func (c *AppConfig) SessionTTL() time.Duration {
	if c == nil || c.Session.TTLHours == nil || *c.Session.TTLHours <= 0 {
		return DefaultTTLHours * time.Hour
	}
	return time.Duration(*c.Session.TTLHours) * time.Hour
}

func (c *AppConfig) SweepInterval() time.Duration {
	if c == nil || c.Session.SweepIntervalSeconds == nil || *c.Session.SweepIntervalSeconds <= 0 {
		return DefaultSweepSeconds * time.Second
	}
	return time.Duration(*c.Session.SweepIntervalSeconds) * time.Second
}

func ptr[T any](v T) *T { return &v }
