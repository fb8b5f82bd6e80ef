package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/vaultsync/internal/config"
	"github.com/njoerd114/vaultsync/internal/events"
	"github.com/njoerd114/vaultsync/internal/game"
	"github.com/njoerd114/vaultsync/internal/netstatus"
	"github.com/njoerd114/vaultsync/internal/remote"
	"github.com/njoerd114/vaultsync/internal/repo"
	"github.com/njoerd114/vaultsync/internal/setup"
	"github.com/njoerd114/vaultsync/internal/store"
	syncp "github.com/njoerd114/vaultsync/internal/sync"
	"github.com/njoerd114/vaultsync/internal/telemetry"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive first-run wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		cfgPath, err := configPath()
		if err != nil {
			return err
		}
		_, err = setup.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout(), cfgPath, logger).Run(ctx)
		return err
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the connectivity monitor and periodic sync until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSync(cmd.Context(), true)
	},
}

var syncOnceCmd = &cobra.Command{
	Use:   "sync-once",
	Short: "Flush the sync queue once, then exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSync(cmd.Context(), false)
	},
}

// runSync is shared by daemon and sync-once.
func runSync(parent context.Context, daemon bool) error {
	if parent == nil {
		parent = context.Background()
	}

	// --- Config & logger -----------------------------------------------------

	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closer := newLogger(cfg, false)
	defer closer.Close()
	logger.Info("config loaded",
		"path", cfgPath,
		"endpoint", cfg.Sync.Endpoint,
		"interval", cfg.Sync.Interval,
		"atomic_outbox", cfg.Sync.AtomicOutbox,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		shutdownTel, err := setupTelemetry(cfg.Telemetry)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger = slog.New(telemetry.NewSlogHandler(logger.Handler()))
			slog.SetDefault(logger)
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Vault ---------------------------------------------------------------

	bus := events.NewBus()
	unsubscribe := bus.Subscribe(logEvents(logger))
	defer unsubscribe()

	db, err := openVault(ctx, cfg, logger, bus)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("closing vault", "error", closeErr)
		}
	}()

	if _, err := game.NewService(repo.New(db), nowMillis(db)).GetOrInitializeUser(ctx); err != nil {
		return fmt.Errorf("initializing user: %w", err)
	}

	// --- Sync engine ---------------------------------------------------------

	prober := &netstatus.HTTPProber{
		URL:    cfg.Connectivity.ProbeURL,
		Client: &http.Client{Timeout: cfg.Sync.Timeout},
	}
	monitor := netstatus.NewMonitor(prober, cfg.Connectivity.Interval, logger, bus)
	client := remote.NewClient(cfg.Sync.Endpoint, cfg.Sync.Timeout, cfg.Sync.MaxAttempts, logger)
	engine := syncp.NewEngine(db, client, monitor, cfg.Sync.Interval, logger, bus)

	// --- Dispatch mode -------------------------------------------------------

	if !daemon {
		monitor.Check(ctx)
		res, err := engine.Flush(ctx)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		logger.Info("sync complete", "items", res.Items)
		return nil
	}

	logger.Info("daemon starting",
		"sync_interval", cfg.Sync.Interval,
		"probe_interval", cfg.Connectivity.Interval,
	)
	if err := runDaemon(ctx, monitor, engine); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// runDaemon runs the monitor and the engine until ctx is cancelled. The
// first probe completes before the engine starts so its startup flush sees
// the real connectivity state.
func runDaemon(ctx context.Context, monitor *netstatus.Monitor, engine *syncp.Engine) error {
	monitor.Check(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon: %w", err)
	}
	return nil
}

func setupTelemetry(tc *config.TelemetryConfig) (telemetry.ShutdownFunc, error) {
	return telemetry.Setup(context.Background(), telemetry.Config{
		OTLPEndpoint: tc.OTLPEndpoint,
		Insecure:     tc.Insecure,
		ServiceName:  tc.ServiceName,
		Headers:      tc.Headers,
	})
}

func nowMillis(db *store.Engine) func() int64 {
	return func() int64 { return db.Now().UnixMilli() }
}
