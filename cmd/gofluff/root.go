package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gofluff/internal/ble"
	"github.com/chaz8081/gofluff/internal/cache"
	"github.com/chaz8081/gofluff/internal/config"
	"github.com/chaz8081/gofluff/internal/logger"
)

// app carries the state shared by every command: resolved config, the
// BLE adapter and the known-device cache.
type app struct {
	// persistent flags
	configPath string
	address    string
	timeout    time.Duration
	retries    int
	logLevel   string

	newAdapter func() ble.Adapter
	adapter    ble.Adapter

	cfg      *config.Config
	cache    *cache.Cache
	closeLog func() error
}

// newRootCmd creates the root gofluff command with all subcommands attached.
// newAdapter is called at most once, the first time a command needs BLE.
func newRootCmd(newAdapter func() ble.Adapter) *cobra.Command {
	a := &app{newAdapter: newAdapter}

	cmd := &cobra.Command{
		Use:           "gofluff",
		Short:         "Control a Furby Connect over Bluetooth LE",
		Long:          "gofluff discovers, connects to and controls Furby Connect toys.\nRun \"gofluff serve\" for the HTTP and WebSocket API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closeLog != nil {
				return a.closeLog()
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to config file (default: ~/.config/gofluff/config.yaml)")
	pf.StringVarP(&a.address, "address", "a", "", "Furby address to dial directly (required in F2F mode)")
	pf.DurationVar(&a.timeout, "timeout", 0, "connection timeout per attempt (default from config)")
	pf.IntVar(&a.retries, "retries", 0, "connection attempts (default from config)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newScanCmd(a),
		newInfoCmd(a),
		newAntennaCmd(a),
		newActionCmd(a),
		newSequenceCmd(a),
		newLCDCmd(a),
		newDebugCmd(a),
		newNameCmd(a),
		newNamesCmd(),
		newMoodCmd(a),
		newMonitorCmd(a),
		newUploadCmd(a),
		newLoadCmd(a),
		newActivateCmd(a),
		newDeactivateCmd(a),
		newDeleteCmd(a),
		newKnownCmd(a),
		newServeCmd(a),
		newConfigCmd(),
	)

	return cmd
}

// setup loads config, applies flag overrides, and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("address") {
		cfg.Device.Address = a.address
	}
	if flags.Changed("timeout") {
		cfg.Device.ConnectTimeout = a.timeout
	}
	if flags.Changed("retries") {
		cfg.Device.ConnectRetries = a.retries
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	a.cfg = cfg

	log, closeLog, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogOutput)
	if err != nil {
		return err
	}
	slog.SetDefault(log)
	a.closeLog = closeLog
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

func (a *app) bleAdapter() ble.Adapter {
	if a.adapter == nil {
		a.adapter = a.newAdapter()
	}
	return a.adapter
}

// knownFurbies opens the device cache on first use.
func (a *app) knownFurbies() *cache.Cache {
	if a.cache == nil {
		a.cache = cache.Open(a.cfg.Cache.Path)
	}
	return a.cache
}

func (a *app) sessionOptions() ble.Options {
	return ble.Options{
		KeepaliveInterval: a.cfg.Device.KeepaliveInterval,
		ReconnectMax:      a.cfg.Device.ReconnectMax,
	}
}

func (a *app) connectOptions() ble.ConnectOptions {
	return ble.ConnectOptions{
		Address: a.cfg.Device.Address,
		Timeout: a.cfg.Device.ConnectTimeout,
		Retries: a.cfg.Device.ConnectRetries,
	}
}

// withSession connects, records the device in the cache, runs fn and
// disconnects.
func (a *app) withSession(ctx context.Context, fn func(ctx context.Context, s *ble.Session) error) error {
	s := ble.NewSession(a.bleAdapter(), a.sessionOptions())
	co := a.connectOptions()
	if co.Address == "" {
		slog.Info("Scanning for Furby...")
	} else {
		slog.Info("Connecting to Furby", "address", co.Address)
	}
	if err := s.Connect(ctx, co); err != nil {
		return err
	}
	defer func() {
		if err := s.Disconnect(); err != nil {
			slog.Warn("Disconnect failed", "error", err)
		}
	}()

	if dev, ok := s.Device(); ok {
		if _, err := a.knownFurbies().AddOrUpdate(cache.Update{Address: dev.Address, DeviceName: dev.Name}); err != nil {
			slog.Warn("Could not update known Furbies", "error", err)
		}
	}
	return fn(ctx, s)
}
