package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.Name != "Divergence" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "Divergence")
	}
	if cfg.Device.ServiceUUID == "" {
		t.Error("Device.ServiceUUID should not be empty")
	}
	if cfg.Device.CharacteristicUUID == "" {
		t.Error("Device.CharacteristicUUID should not be empty")
	}
	if cfg.Device.RestartDelaySeconds != 4 {
		t.Errorf("Device.RestartDelaySeconds = %d, want 4", cfg.Device.RestartDelaySeconds)
	}
	if cfg.HTTP.ListenAddr != "127.0.0.1:8536" {
		t.Errorf("HTTP.ListenAddr = %q, want %q", cfg.HTTP.ListenAddr, "127.0.0.1:8536")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
device:
  name: Divergence Mk II
  restart_delay_seconds: 10
http:
  listen_addr: 0.0.0.0:9000
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Name != "Divergence Mk II" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "Divergence Mk II")
	}
	if cfg.Device.RestartDelaySeconds != 10 {
		t.Errorf("Device.RestartDelaySeconds = %d, want 10", cfg.Device.RestartDelaySeconds)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Device.ServiceUUID != Default().Device.ServiceUUID {
		t.Errorf("Device.ServiceUUID = %q, want default", cfg.Device.ServiceUUID)
	}
	if cfg.HTTP.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("HTTP.ListenAddr = %q, want %q", cfg.HTTP.ListenAddr, "0.0.0.0:9000")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestRestartDelay(t *testing.T) {
	cfg := Default()
	cfg.Device.RestartDelaySeconds = 7
	if got := cfg.RestartDelay(); got != 7*time.Second {
		t.Errorf("RestartDelay() = %v, want 7s", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty device name", func(c *Config) { c.Device.Name = "" }},
		{"empty service uuid", func(c *Config) { c.Device.ServiceUUID = "" }},
		{"empty characteristic uuid", func(c *Config) { c.Device.CharacteristicUUID = "" }},
		{"zero restart delay", func(c *Config) { c.Device.RestartDelaySeconds = 0 }},
		{"negative restart delay", func(c *Config) { c.Device.RestartDelaySeconds = -1 }},
		{"empty listen addr", func(c *Config) { c.HTTP.ListenAddr = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should have failed")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
