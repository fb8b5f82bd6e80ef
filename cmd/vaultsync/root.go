package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/njoerd114/vaultsync/internal/config"
	"github.com/njoerd114/vaultsync/internal/events"
	"github.com/njoerd114/vaultsync/internal/store"
)

const (
	cfgKeyConfig  = "config"
	cfgKeyVerbose = "verbose"
	envPrefix     = "VAULTSYNC"
)

var (
	flagJSON bool

	// settings resolves flags against VAULTSYNC_* environment variables.
	settings = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "vaultsync",
	Short:         "Offline-first task vault with a background sync queue",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String(cfgKeyConfig, "", "path to config.yaml (default ~/.config/vaultsync/config.yaml, env VAULTSYNC_CONFIG)")
	rootCmd.PersistentFlags().BoolP(cfgKeyVerbose, "v", false, "enable debug logging (env VAULTSYNC_VERBOSE)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output as JSON where supported")

	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	_ = settings.BindPFlag(cfgKeyConfig, rootCmd.PersistentFlags().Lookup(cfgKeyConfig))
	_ = settings.BindPFlag(cfgKeyVerbose, rootCmd.PersistentFlags().Lookup(cfgKeyVerbose))

	rootCmd.AddCommand(
		setupCmd,
		daemonCmd,
		syncOnceCmd,
		serveCmd,
		statusCmd,
		queueCmd,
		addCmd,
		listCmd,
		scoreCmd,
		toggleCmd,
		redeemCmd,
		deleteCmd,
		versionCmd,
	)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "vaultsync", version)
	},
}

// configPath returns --config, then VAULTSYNC_CONFIG, then the default path.
func configPath() (string, error) {
	if p := settings.GetString(cfgKeyConfig); p != "" {
		return p, nil
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, string, error) {
	path, err := configPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, path, fmt.Errorf("%w\n\nRun 'vaultsync setup' to create a config file", err)
		}
		return nil, path, err
	}
	return cfg, path, nil
}

// newLogger builds the process logger. log.file, when set, receives output
// through a size-rotated file instead of stderr. quiet raises the level to
// warn for one-shot commands unless --verbose is set.
func newLogger(cfg *config.Config, quiet bool) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	if cfg != nil {
		_ = level.UnmarshalText([]byte(cfg.Log.Level))
	}
	if quiet {
		level = max(level, slog.LevelWarn)
	}
	if settings.GetBool(cfgKeyVerbose) {
		level = slog.LevelDebug
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg != nil && cfg.Log.File != "" {
		rot := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Compress:   true,
		}
		w, closer = rot, rot
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// logEvents mirrors bus events into the log.
func logEvents(logger *slog.Logger) events.Handler {
	return func(ev events.Event) {
		attrs := []any{"event", string(ev.Kind)}
		if ev.Items > 0 {
			attrs = append(attrs, "items", ev.Items)
		}
		if ev.Err != nil {
			attrs = append(attrs, "error", ev.Err)
			logger.Warn(ev.Message, attrs...)
			return
		}
		logger.Debug(ev.Message, attrs...)
	}
}

func openVault(ctx context.Context, cfg *config.Config, logger *slog.Logger, bus events.Publisher) (*store.Engine, error) {
	db, err := store.Open(ctx, cfg.DBPath,
		store.WithLogger(logger),
		store.WithPublisher(bus),
		store.WithAtomicOutbox(cfg.Sync.AtomicOutbox),
	)
	if err != nil {
		return nil, fmt.Errorf("opening vault at %q: %w", cfg.DBPath, err)
	}
	return db, nil
}

// withVault loads the config and opens the vault for a one-shot command.
func withVault(ctx context.Context, fn func(cfg *config.Config, db *store.Engine, logger *slog.Logger) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closer := newLogger(cfg, true)
	defer closer.Close()

	db, err := openVault(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("closing vault", "error", closeErr)
		}
	}()
	return fn(cfg, db, logger)
}
