package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Retention RetentionConfig `yaml:"retention"`
	Hub       HubConfig       `yaml:"hub"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

type StorageConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RetentionConfig controls how long completed sessions stay in the store
// and how often the sweeper looks for expired ones.
type RetentionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type HubConfig struct {
	Capacity int `yaml:"capacity"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 9147,
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			Path:         "~/.claude-monitor/sessions.db",
			MaxOpenConns: 5,
		},
		Retention: RetentionConfig{
			TTL:           60 * time.Second,
			SweepInterval: 30 * time.Second,
		},
		Hub: HubConfig{
			Capacity: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Storage.MaxOpenConns < 1 {
		errs = append(errs, errors.New("storage.max_open_conns must be positive"))
	}
	if c.Retention.TTL <= 0 {
		errs = append(errs, errors.New("retention.ttl must be positive"))
	}
	if c.Retention.SweepInterval <= 0 {
		errs = append(errs, errors.New("retention.sweep_interval must be positive"))
	}
	if c.Retention.TTL > 0 && c.Retention.SweepInterval > c.Retention.TTL {
		errs = append(errs, fmt.Errorf("retention.sweep_interval %s is longer than retention.ttl %s", c.Retention.SweepInterval, c.Retention.TTL))
	}
	if c.Hub.Capacity < 1 {
		errs = append(errs, errors.New("hub.capacity must be at least 1"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DatabasePath returns Storage.Path with a leading ~ expanded.
func (c *Config) DatabasePath() string {
	return ExpandPath(c.Storage.Path)
}

func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
