package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gofluff/internal/dlc"
	"github.com/chaz8081/gofluff/internal/logger"
	"github.com/chaz8081/gofluff/internal/server"
)

// newServeCmd creates the "gofluff serve" subcommand.
func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}

			// Re-create the logger so every record also reaches /ws/logs.
			hub := server.NewLogHub(logger.ParseLevel(cfg.LogLevel))
			log, closeLog, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogOutput, hub.Handler())
			if err != nil {
				return err
			}
			if a.closeLog != nil {
				a.closeLog()
			}
			a.closeLog = closeLog
			slog.SetDefault(log)

			ctx := cmd.Context()
			known := a.knownFurbies()
			if cfg.Cache.Watch {
				if err := known.Watch(ctx); err != nil {
					slog.Warn("[Cache] watch disabled", "error", err)
				}
			}

			registry := server.NewRegistry(a.bleAdapter(), server.RegistryOptions{
				Session: a.sessionOptions(),
				Upload: dlc.Options{
					ReadyTimeout:    cfg.Upload.ReadyTimeout,
					CompleteTimeout: cfg.Upload.CompleteTimeout,
					ChunkDelay:      cfg.Upload.ChunkDelay,
				},
				BreakerFailures: cfg.Server.BreakerFailures,
				BreakerCooldown: cfg.Server.BreakerCooldown,
			})

			srv := server.New(registry, known, hub, server.Options{
				ConnectTimeout: cfg.Device.ConnectTimeout,
				ConnectRetries: cfg.Device.ConnectRetries,
				ScanTimeout:    cfg.Device.ScanTimeout,
				Flourish:       cfg.Server.Flourish,
				DefaultSlot:    uint8(cfg.Upload.DefaultSlot),
			})
			slog.Info("[Server] starting", "addr", cfg.Server.Addr, "cache", known.Path())
			return srv.ListenAndServe(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
