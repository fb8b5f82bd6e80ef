package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/vaultsync/internal/config"
	"github.com/njoerd114/vaultsync/internal/model"
	"github.com/njoerd114/vaultsync/internal/netstatus"
	"github.com/njoerd114/vaultsync/internal/repo"
	"github.com/njoerd114/vaultsync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault, queue and config state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "vaultsync status")
		fmt.Fprintln(out, "────────────────")

		cfg, cfgPath, err := loadConfig()
		if err != nil {
			fmt.Fprintf(out, "  Config:    %s (%v)\n", cfgPath, firstLine(err))
			return nil
		}
		fmt.Fprintf(out, "  Config:    %s ✓\n", cfgPath)
		fmt.Fprintf(out, "  Endpoint:  %s\n", cfg.Sync.Endpoint)
		fmt.Fprintf(out, "  Interval:  %s\n", cfg.Sync.Interval)
		if cfg.Sync.AtomicOutbox {
			fmt.Fprintf(out, "  Outbox:    atomic\n")
		} else {
			fmt.Fprintf(out, "  Outbox:    best-effort\n")
		}
		fmt.Fprintf(out, "  Network:   %s\n", probeLabel(ctx, cfg))

		fi, err := os.Stat(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(out, "  Vault:     not created yet (%s)\n", cfg.DBPath)
			return nil
		}
		fmt.Fprintf(out, "  Vault:     %s (%s)\n", cfg.DBPath, humanSize(fi.Size()))

		return withVault(ctx, func(_ *config.Config, db *store.Engine, _ *slog.Logger) error {
			info, err := db.Info(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  Schema:    v%d (%s)\n", info.Version, strings.Join(info.Collections, ", "))

			n, err := db.QueueLen(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  Pending:   %d change(s)\n", n)

			u, err := repo.NewUsers(db).Get(ctx)
			if err != nil {
				return err
			}
			if u == nil {
				fmt.Fprintf(out, "  Player:    not initialized\n")
			} else {
				fmt.Fprintf(out, "  Player:    level %d, %d XP, %d caps\n", u.Level, u.XP, u.Caps)
			}
			return nil
		})
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or drop pending sync changes",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending changes, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		return withVault(ctx, func(_ *config.Config, db *store.Engine, _ *slog.Logger) error {
			items, err := db.Queue(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(out, items)
			}
			if len(items) == 0 {
				fmt.Fprintln(out, "Queue is empty.")
				return nil
			}
			tw := newTable(out, "ID", "OPERATION", "STORE", "QUEUED", "DATA")
			for _, it := range items {
				tw.row(it.ID, it.Operation, it.Store, model.FromMillis(it.Timestamp).Local().Format(time.DateTime), truncate(string(it.Data), 60))
			}
			return tw.flush()
		})
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every pending change without sending it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		return withVault(ctx, func(_ *config.Config, db *store.Engine, _ *slog.Logger) error {
			n, err := db.QueueLen(ctx)
			if err != nil {
				return err
			}
			if err := db.ClearQueue(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dropped %d pending change(s).\n", n)
			return nil
		})
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd, queueClearCmd)
}

func probeLabel(ctx context.Context, cfg *config.Config) string {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	p := &netstatus.HTTPProber{URL: cfg.Connectivity.ProbeURL}
	if err := p.Probe(ctx); err != nil {
		return "offline"
	}
	return "online"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstLine(err error) string {
	s, _, _ := strings.Cut(err.Error(), "\n")
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
