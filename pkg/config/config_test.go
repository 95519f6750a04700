package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFile_ReturnsDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ORCHESTRATOR_URL", "")

	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path == "" {
		t.Fatalf("expected config path")
	}
	if got := cfg.Host(); got != DefaultHost {
		t.Fatalf("cfg.Host() = %q, want %q", got, DefaultHost)
	}
	if got := cfg.Port(); got != DefaultPort {
		t.Fatalf("cfg.Port() = %d, want %d", got, DefaultPort)
	}
	if got := cfg.OrchestratorURL(); got != DefaultOrchestratorURL {
		t.Fatalf("cfg.OrchestratorURL() = %q, want %q", got, DefaultOrchestratorURL)
	}
	if got := cfg.MaxAttempts(); got != DefaultMaxAttempts {
		t.Fatalf("cfg.MaxAttempts() = %d, want %d", got, DefaultMaxAttempts)
	}
	if got := cfg.SessionTTL(); got != 24*time.Hour {
		t.Fatalf("cfg.SessionTTL() = %v, want 24h", got)
	}
	if got := cfg.SweepInterval(); got != 300*time.Second {
		t.Fatalf("cfg.SweepInterval() = %v, want 300s", got)
	}
}

func TestEnsureDefaultConfig_CreatesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := EnsureDefaultConfig()
	if err != nil {
		t.Fatalf("EnsureDefaultConfig() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist at %s: %v", path, err)
	}

	cfg, gotPath, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if filepath.Clean(gotPath) != filepath.Clean(path) {
		t.Fatalf("Load() path = %s, want %s", gotPath, path)
	}
	if got := cfg.Host(); got != DefaultHost {
		t.Fatalf("cfg.Host() = %q, want %q", got, DefaultHost)
	}
}

func TestLoad_ParsesFullConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ORCHESTRATOR_URL", "")

	configDir := filepath.Join(home, ".chiffon")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	body := "server:\n  host: 0.0.0.0\n  port: 9090\norchestrator:\n  base_url: http://orch:9000/\n  max_attempts: 5\n  timeout_seconds: 10\nsession:\n  ttl_hours: 1\n  sweep_interval_seconds: 60\n"
	if err := os.WriteFile(configPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Host(); got != "0.0.0.0" {
		t.Fatalf("cfg.Host() = %q, want %q", got, "0.0.0.0")
	}
	if got := cfg.Port(); got != 9090 {
		t.Fatalf("cfg.Port() = %d, want %d", got, 9090)
	}
	if got := cfg.OrchestratorURL(); got != "http://orch:9000" {
		t.Fatalf("cfg.OrchestratorURL() = %q, want trailing slash trimmed", got)
	}
	if got := cfg.MaxAttempts(); got != 5 {
		t.Fatalf("cfg.MaxAttempts() = %d, want 5", got)
	}
	if got := cfg.RequestTimeout(); got != 10*time.Second {
		t.Fatalf("cfg.RequestTimeout() = %v, want 10s", got)
	}
	if got := cfg.SessionTTL(); got != time.Hour {
		t.Fatalf("cfg.SessionTTL() = %v, want 1h", got)
	}
	if got := cfg.SweepInterval(); got != time.Minute {
		t.Fatalf("cfg.SweepInterval() = %v, want 1m", got)
	}
}

func TestOrchestratorURL_EnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ORCHESTRATOR_URL", "http://override:8000/")

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.OrchestratorURL(); got != "http://override:8000" {
		t.Fatalf("cfg.OrchestratorURL() = %q, want env override", got)
	}
}
