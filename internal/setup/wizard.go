package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/njoerd114/vaultsync/internal/config"
	"github.com/njoerd114/vaultsync/internal/netstatus"
)

const defaultEndpoint = "http://127.0.0.1:8787/api/sync"

var logLevels = []string{"debug", "info", "warn", "error"}

// Wizard walks the user through writing a config file.
type Wizard struct {
	prompt  *Prompter
	logger  *slog.Logger
	w       io.Writer
	cfgPath string

	// probe checks the collector URL. Replaced in tests.
	probe func(ctx context.Context, url string) error
}

// NewWizard creates a Wizard that saves to cfgPath.
func NewWizard(r io.Reader, w io.Writer, cfgPath string, logger *slog.Logger) *Wizard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Wizard{
		prompt:  NewPrompter(r, w),
		logger:  logger,
		w:       w,
		cfgPath: cfgPath,
		probe: func(ctx context.Context, url string) error {
			p := &netstatus.HTTPProber{URL: url}
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return p.Probe(ctx)
		},
	}
}

// Run executes the wizard and returns the saved config, or nil when the user
// kept an existing file.
func (wiz *Wizard) Run(ctx context.Context) (*config.Config, error) {
	fmt.Fprintf(wiz.w, "\nWelcome to vaultsync setup!\n")
	fmt.Fprintf(wiz.w, "This wizard writes %s.\n\n", wiz.cfgPath)

	if _, statErr := os.Stat(wiz.cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", wiz.cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return nil, nil
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	cfg := &config.Config{}

	// Step 1: collector.
	fmt.Fprintf(wiz.w, "Step 1/4: Sync Collector\n")
	cfg.Sync.Endpoint = wiz.prompt.String("Collector URL", defaultEndpoint)
	fmt.Fprintf(wiz.w, "  Checking %s...", cfg.Sync.Endpoint)
	if err := wiz.probe(ctx, cfg.Sync.Endpoint); err != nil {
		fmt.Fprintf(wiz.w, " unreachable\n")
		wiz.logger.Debug("collector probe failed", "url", cfg.Sync.Endpoint, "error", err)
		fmt.Fprintf(wiz.w, "  Changes are queued locally until the collector is reachable.\n")
		if !wiz.prompt.Confirm("Use this URL anyway?", true) {
			return nil, fmt.Errorf("collector %s unreachable: %w", cfg.Sync.Endpoint, err)
		}
	} else {
		fmt.Fprintf(wiz.w, " ok\n")
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 2: schedule.
	fmt.Fprintf(wiz.w, "Step 2/4: Sync Schedule\n")
	cfg.Sync.Interval = wiz.prompt.Duration("Sync interval", 5*time.Minute, 10*time.Second, time.Hour)
	fmt.Fprintf(wiz.w, "\n")

	// Step 3: local vault.
	fmt.Fprintf(wiz.w, "Step 3/4: Local Vault\n")
	defaultDB, err := config.DefaultDBPath()
	if err != nil {
		return nil, err
	}
	cfg.DBPath = wiz.prompt.String("Database path", defaultDB)
	cfg.Sync.AtomicOutbox = wiz.prompt.Confirm("Reject a change when its sync entry cannot be queued?", false)
	idx, err := wiz.prompt.Select("Log level", logLevels, 1)
	if err != nil {
		return nil, fmt.Errorf("selecting log level: %w", err)
	}
	cfg.Log.Level = logLevels[idx]
	fmt.Fprintf(wiz.w, "\n")

	// Step 4: telemetry.
	fmt.Fprintf(wiz.w, "Step 4/4: Telemetry\n")
	if wiz.prompt.Confirm("Export traces and metrics to an OTLP collector?", false) {
		tel := &config.TelemetryConfig{
			OTLPEndpoint: wiz.prompt.String("OTLP gRPC endpoint", "localhost:4317"),
		}
		tel.Insecure = wiz.prompt.Confirm("Connect without TLS?", true)
		if token := wiz.prompt.Secret("Bearer token"); token != "" {
			tel.Headers = map[string]string{"Authorization": "Bearer " + token}
		}
		cfg.Telemetry = tel
	}
	fmt.Fprintf(wiz.w, "\n")

	if err := cfg.Write(wiz.cfgPath); err != nil {
		return nil, fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintf(wiz.w, "Setup complete! Config written to %s\n", wiz.cfgPath)
	fmt.Fprintf(wiz.w, "  Start syncing:   vaultsync daemon\n")
	fmt.Fprintf(wiz.w, "  Local collector: vaultsync serve\n")
	fmt.Fprintf(wiz.w, "  Status:          vaultsync status\n\n")
	return cfg, nil
}
