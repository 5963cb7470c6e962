package commands

import (
	"caselist-scout/internal/components/telemetry"
	"caselist-scout/lib/configutil"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath    *string
	telemetryPath *string
	verbose       *bool
)

// tel is the telemetry shared by every command, it is set up before any
// command runs.
var (
	tel      telemetry.API = telemetry.NoopAPI{}
	shutdown               = func(context.Context) error { return nil }
)

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "caselist.json5", "The configuration file to read.")
	telemetryPath = rootCmd.PersistentFlags().String("telemetry", "telemetry.json5", "The OpenTelemetry configuration file, telemetry export is disabled if it does not exist.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging.")
}

var rootCmd = &cobra.Command{
	Use:   "caselist-cli",
	Short: "caselist-cli collects round records from opencaselist and verifies them against an index of expected counts.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(*verbose)
		return setupTelemetry(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		err := shutdown(context.Background())
		if err != nil {
			slog.Warn("failed to flush telemetry", "err", err.Error())
		}
	},
}

func setupTelemetry(ctx context.Context) error {
	tel = telemetry.SlogAPI{}

	cfg, err := configutil.ReadConfig[telemetry.Config](*telemetryPath)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no telemetry config, export disabled", "path", *telemetryPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read telemetry config: %w", err)
	}

	t, err := telemetry.Setup(ctx, "caselist-cli", cfg)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	shutdown = t.Shutdown

	otelApi, err := telemetry.NewOtelAPI(tel)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	tel = otelApi
	telemetry.InstrumentPerfStats(ctx, tel)
	return nil
}

func readConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if errors.Is(err, os.ErrNotExist) && !rootCmd.PersistentFlags().Changed("config") {
		cfg, err = configutil.ReadRecursively[Config](path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return cfg, nil
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
