// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sadudu/homebridge-divergence-meter/internal/meter"
)

// Config holds all daemon configuration.
type Config struct {
	Device   DeviceConfig `yaml:"device"`
	HTTP     HTTPConfig   `yaml:"http"`
	LogLevel string       `yaml:"log_level"`
}

// DeviceConfig holds settings for the meter and the BLE link to it.
type DeviceConfig struct {
	// Name is the advertised local name to match during scanning.
	Name string `yaml:"name"`
	// ServiceUUID / CharacteristicUUID locate the writable command
	// attribute. Defaults match the HM-10 UART module in the meter.
	ServiceUUID        string `yaml:"service_uuid"`
	CharacteristicUUID string `yaml:"characteristic_uuid"`
	// RestartDelaySeconds is the backoff before re-requesting a scan after
	// another consumer stopped the shared radio.
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`
}

// HTTPConfig holds control API settings.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "divergenced", "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:                meter.TargetName,
			ServiceUUID:         "0000ffe0-0000-1000-8000-00805f9b34fb",
			CharacteristicUUID:  "0000ffe1-0000-1000-8000-00805f9b34fb",
			RestartDelaySeconds: 4,
		},
		HTTP: HTTPConfig{
			ListenAddr: "127.0.0.1:8536",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// RestartDelay returns the configured scan-restart backoff as a duration.
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.Device.RestartDelaySeconds) * time.Second
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Name == "" {
		return fmt.Errorf("device.name must not be empty")
	}
	if c.Device.ServiceUUID == "" {
		return fmt.Errorf("device.service_uuid must not be empty")
	}
	if c.Device.CharacteristicUUID == "" {
		return fmt.Errorf("device.characteristic_uuid must not be empty")
	}
	if c.Device.RestartDelaySeconds <= 0 {
		return fmt.Errorf("device.restart_delay_seconds must be > 0, got %d", c.Device.RestartDelaySeconds)
	}
	if c.HTTP.ListenAddr == "" {
		return fmt.Errorf("http.listen_addr must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level string to a slog.Level.
// Unknown values default to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
