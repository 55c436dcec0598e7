package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agent-overlay/monitor/internal/config"
	"github.com/agent-overlay/monitor/internal/hub"
	"github.com/agent-overlay/monitor/internal/logging"
	"github.com/agent-overlay/monitor/internal/mock"
	"github.com/agent-overlay/monitor/internal/store"
	"github.com/agent-overlay/monitor/internal/sweeper"
	"github.com/agent-overlay/monitor/internal/tracker"
	"github.com/agent-overlay/monitor/internal/ws"
)

const defaultConfigPath = "~/.claude-monitor/config.yaml"

type serveOptions struct {
	configPath string
	port       int
	dbPath     string
	mock       bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor server",
		Long:  "Accept hook events over HTTP and stream the active sessions to WebSocket clients.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", defaultConfigPath, "Path to config file")
	cmd.Flags().IntVar(&opts.port, "port", 0, "Override server port")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "Override database path")
	cmd.Flags().BoolVar(&opts.mock, "mock", false, "Generate mock session events")

	return cmd
}

// loadConfig reads the config file, if any, and applies flag overrides.
func (o *serveOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(config.ExpandPath(o.configPath))
	if err != nil {
		return nil, err
	}
	o.override(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *serveOptions) override(cfg *config.Config) {
	if o.port > 0 {
		cfg.Server.Port = o.port
	}
	if o.dbPath != "" {
		cfg.Storage.Path = o.dbPath
	}
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	logger := logging.NewLogger("monitor")

	st, err := store.Open(ctx, store.Config{
		Path:         cfg.DatabasePath(),
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		Logger:       logging.NewLogger("store"),
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.WithError(err).Error("Failed to close store")
		}
	}()

	h := hub.New(cfg.Hub.Capacity)
	defer h.Close()

	tr := tracker.New(st, h, logging.NewLogger("tracker"))
	sw := sweeper.New(st, tr, cfg.Retention.TTL, cfg.Retention.SweepInterval, logging.NewLogger("sweeper"))
	go sw.Run(ctx)

	go watchConfig(ctx, opts, cfg, sw)

	if opts.mock {
		logger.Info("Starting in mock mode")
		mock.NewGenerator(tr, time.Second, logging.NewLogger("mock")).Start(ctx)
	}

	logger.WithFields(logrus.Fields{
		"db":       cfg.DatabasePath(),
		"ttl":      cfg.Retention.TTL,
		"capacity": cfg.Hub.Capacity,
	}).Info("Monitor starting")

	return ws.NewServer(tr, version, logging.NewLogger("server")).Run(ctx, cfg.Addr())
}

// watchConfig applies retention and log level changes from the config file
// without a restart. Listener and storage settings only take effect on the
// next start.
func watchConfig(ctx context.Context, opts *serveOptions, current *config.Config, sw *sweeper.Sweeper) {
	logger := logging.NewLogger("config")
	err := config.Watch(ctx, config.ExpandPath(opts.configPath), logger, func(next *config.Config) {
		opts.override(next)
		if next.Addr() != current.Addr() || next.DatabasePath() != current.DatabasePath() {
			logger.Warn("Server and storage changes need a restart")
		}
		sw.SetRetention(next.Retention.TTL, next.Retention.SweepInterval)
		if err := logging.SetLevel(next.Log.Level); err != nil {
			logger.WithError(err).Warn("Ignoring log level")
		}
		logger.WithFields(logrus.Fields{
			"ttl":      next.Retention.TTL,
			"interval": next.Retention.SweepInterval,
			"level":    next.Log.Level,
		}).Info("Config reloaded")
	})
	if err != nil {
		logger.WithError(err).Debug("Config hot reload disabled")
	}
}
