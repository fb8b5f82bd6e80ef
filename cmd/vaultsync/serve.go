package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/vaultsync/internal/config"
	"github.com/njoerd114/vaultsync/internal/model"
	"github.com/njoerd114/vaultsync/internal/syncserver"
)

var (
	flagListen string
	flagDelay  time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bundled sync collector",
	Long: `Run a collector that accepts sync batches on POST /api/sync and logs them.
Useful for local testing and as a reference for the wire format.

The listen address comes from --listen, then server.listen in the config
file, then 127.0.0.1:8787.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// The collector does not need a valid config file.
		cfg, _, _ := loadConfig()
		logger, closer := newLogger(cfg, false)
		defer closer.Close()

		addr := flagListen
		if addr == "" && cfg != nil {
			addr = cfg.Server.Listen
		}
		if addr == "" {
			addr = config.DefaultListenAddr
		}

		h := syncserver.NewHandler(
			syncserver.WithLogger(logger),
			syncserver.WithDelay(flagDelay),
			syncserver.WithSink(func(batchID string, items []model.SyncQueueItem) {
				for _, it := range items {
					logger.Debug("sync item",
						"batch", batchID,
						"id", it.ID,
						"operation", it.Operation,
						"store", it.Store,
					)
				}
			}),
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		err := syncserver.Serve(ctx, addr, h, logger)
		batches, items := h.Stats()
		logger.Info("collector stopped", "batches", batches, "items", items)
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "host:port to listen on")
	serveCmd.Flags().DurationVar(&flagDelay, "delay", 500*time.Millisecond, "simulated processing time per batch")
}
