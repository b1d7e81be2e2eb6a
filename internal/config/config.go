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

// Config holds all application configuration.
type Config struct {
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"` // "text" or "json"
	LogOutput string       `yaml:"log_output"` // "stderr", "stdout" or a file path
	Device    DeviceConfig `yaml:"device"`
	Upload    UploadConfig `yaml:"upload"`
	Server    ServerConfig `yaml:"server"`
	Cache     CacheConfig  `yaml:"cache"`
}

// DeviceConfig holds BLE discovery and connection settings.
type DeviceConfig struct {
	Address           string        `yaml:"address"` // dial directly; empty scans for the first Furby
	ScanTimeout       time.Duration `yaml:"scan_timeout"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"` // per attempt
	ConnectRetries    int           `yaml:"connect_retries"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	ReconnectMax      int           `yaml:"reconnect_max"` // max backoff between attempts, seconds
}

// UploadConfig holds DLC transfer timings.
type UploadConfig struct {
	ReadyTimeout    time.Duration `yaml:"ready_timeout"`
	CompleteTimeout time.Duration `yaml:"complete_timeout"`
	ChunkDelay      time.Duration `yaml:"chunk_delay"`
	DefaultSlot     int           `yaml:"default_slot"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	BreakerFailures uint32        `yaml:"breaker_failures"` // consecutive failed connects before failing fast
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	Flourish        bool          `yaml:"flourish"` // greet new connections with the antenna flash
}

// CacheConfig holds the known-Furby cache settings.
type CacheConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"` // reload when another process rewrites the file
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gofluff")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		LogOutput: "stderr",
		Device: DeviceConfig{
			ScanTimeout:       10 * time.Second,
			ConnectTimeout:    10 * time.Second,
			ConnectRetries:    3,
			KeepaliveInterval: 3 * time.Second,
			ReconnectMax:      8,
		},
		Upload: UploadConfig{
			ReadyTimeout:    10 * time.Second,
			CompleteTimeout: 60 * time.Second,
			ChunkDelay:      5 * time.Millisecond,
			DefaultSlot:     2,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			BreakerFailures: 3,
			BreakerCooldown: 30 * time.Second,
			Flourish:        true,
		},
		Cache: CacheConfig{
			Path:  filepath.Join(DefaultConfigDir(), "known_furbies.json"),
			Watch: true,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Cache.Path = expandTilde(cfg.Cache.Path)
	if cfg.LogOutput != "stderr" && cfg.LogOutput != "stdout" {
		cfg.LogOutput = expandTilde(cfg.LogOutput)
	}

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	if c.LogOutput == "" {
		return fmt.Errorf("log_output must not be empty")
	}

	if c.Device.ScanTimeout <= 0 {
		return fmt.Errorf("device.scan_timeout must be > 0")
	}
	if c.Device.ConnectTimeout <= 0 {
		return fmt.Errorf("device.connect_timeout must be > 0")
	}
	if c.Device.ConnectRetries < 1 || c.Device.ConnectRetries > 10 {
		return fmt.Errorf("device.connect_retries must be between 1 and 10, got %d", c.Device.ConnectRetries)
	}
	if c.Device.KeepaliveInterval <= 0 {
		return fmt.Errorf("device.keepalive_interval must be > 0")
	}
	if c.Device.ReconnectMax <= 0 {
		return fmt.Errorf("device.reconnect_max must be > 0")
	}

	if c.Upload.ReadyTimeout <= 0 {
		return fmt.Errorf("upload.ready_timeout must be > 0")
	}
	if c.Upload.CompleteTimeout <= 0 {
		return fmt.Errorf("upload.complete_timeout must be > 0")
	}
	if c.Upload.ChunkDelay <= 0 {
		return fmt.Errorf("upload.chunk_delay must be > 0")
	}
	if c.Upload.DefaultSlot < 0 || c.Upload.DefaultSlot > 255 {
		return fmt.Errorf("upload.default_slot must be between 0 and 255, got %d", c.Upload.DefaultSlot)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Server.BreakerFailures == 0 {
		return fmt.Errorf("server.breaker_failures must be > 0")
	}
	if c.Server.BreakerCooldown <= 0 {
		return fmt.Errorf("server.breaker_cooldown must be > 0")
	}

	if c.Cache.Path == "" {
		return fmt.Errorf("cache.path must not be empty")
	}

	return nil
}

const defaultHeader = `# gofluff configuration
# Durations use Go syntax: 500ms, 3s, 1m.
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the path written, or "" when a config was
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
