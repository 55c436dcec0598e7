package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  port: 9090
  host: "127.0.0.1"
storage:
  path: /var/lib/monitor/sessions.db
retention:
  ttl: 5m
  sweep_interval: 1m
hub:
  capacity: 256
log:
  level: debug
  format: json
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Errorf("Addr() = %q, want 127.0.0.1:9090", cfg.Addr())
	}
	if cfg.Storage.Path != "/var/lib/monitor/sessions.db" {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Storage.MaxOpenConns != 5 {
		t.Errorf("Storage.MaxOpenConns = %d, want default 5", cfg.Storage.MaxOpenConns)
	}
	if cfg.Retention.TTL != 5*time.Minute {
		t.Errorf("Retention.TTL = %v, want 5m", cfg.Retention.TTL)
	}
	if cfg.Retention.SweepInterval != time.Minute {
		t.Errorf("Retention.SweepInterval = %v, want 1m", cfg.Retention.SweepInterval)
	}
	if cfg.Hub.Capacity != 256 {
		t.Errorf("Hub.Capacity = %d, want 256", cfg.Hub.Capacity)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  port: 9999\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	def := defaultConfig()
	if cfg.Server.Host != def.Server.Host {
		t.Errorf("Server.Host = %q, want default %q", cfg.Server.Host, def.Server.Host)
	}
	if cfg.Retention != def.Retention {
		t.Errorf("Retention = %+v, want defaults %+v", cfg.Retention, def.Retention)
	}
	if cfg.Hub.Capacity != 100 {
		t.Errorf("Hub.Capacity = %d, want 100", cfg.Hub.Capacity)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}
	if cfg.Server.Port != 9147 {
		t.Errorf("Server.Port = %d, want 9147", cfg.Server.Port)
	}
	if cfg.Retention.TTL != 60*time.Second || cfg.Retention.SweepInterval != 30*time.Second {
		t.Errorf("Retention = %+v", cfg.Retention)
	}
}

func TestLoadOrDefaultInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrDefault(cfgPath); err == nil {
		t.Error("expected parse error, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"empty path", func(c *Config) { c.Storage.Path = " " }, "storage.path"},
		{"zero ttl", func(c *Config) { c.Retention.TTL = 0 }, "retention.ttl"},
		{"negative interval", func(c *Config) { c.Retention.SweepInterval = -time.Second }, "sweep_interval must be positive"},
		{"interval longer than ttl", func(c *Config) { c.Retention.SweepInterval = 2 * time.Minute }, "longer than"},
		{"zero capacity", func(c *Config) { c.Hub.Capacity = 0 }, "hub.capacity"},
		{"zero conns", func(c *Config) { c.Storage.MaxOpenConns = 0 }, "max_open_conns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/.claude-monitor/sessions.db"); got != filepath.Join(home, ".claude-monitor", "sessions.db") {
		t.Errorf("ExpandPath(~/...) = %q", got)
	}
	if got := ExpandPath("/abs/path.db"); got != "/abs/path.db" {
		t.Errorf("ExpandPath(/abs) = %q", got)
	}
	if got := ExpandPath("~user/x"); got != "~user/x" {
		t.Errorf("ExpandPath(~user) = %q, want unchanged", got)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("retention:\n  ttl: 60s\n  sweep_interval: 30s\n"), 0644); err != nil {
		t.Fatal(err)
	}

	logger, _ := logtest.NewNullLogger()
	reloaded := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, cfgPath, logrus.NewEntry(logger), func(c *Config) { reloaded <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(cfgPath, []byte("retention:\n  ttl: 10m\n  sweep_interval: 1m\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Retention.TTL != 10*time.Minute {
			t.Errorf("reloaded TTL = %v, want 10m", cfg.Retention.TTL)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchSkipsInvalidFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("hub:\n  capacity: 10\n"), 0644); err != nil {
		t.Fatal(err)
	}

	logger, hook := logtest.NewNullLogger()
	reloaded := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, cfgPath, logrus.NewEntry(logger), func(c *Config) { reloaded <- c })

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(cfgPath, []byte("hub:\n  capacity: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			t.Fatalf("invalid config was applied: %+v", cfg.Hub)
		case <-deadline:
			t.Fatal("reload failure was not logged")
		case <-time.After(20 * time.Millisecond):
			if e := hook.LastEntry(); e != nil && e.Level == logrus.WarnLevel {
				return
			}
		}
	}
}
