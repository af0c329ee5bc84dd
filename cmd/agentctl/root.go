package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/centauriapp/agentcore/internal/config"
	"github.com/centauriapp/agentcore/internal/coordinator"
	"github.com/centauriapp/agentcore/internal/transmit"
)

// version is set at build time via ldflags.
var version = "dev"

var flagConfigPath string

// newRootCmd builds the fully assembled root command. Called once from
// main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "agentctl",
		Short:         "Drive the agentcore Coordinator from the command line",
		Long:          "A development and integration-testing harness for the agentcore session/telemetry core.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (defaults to ./agentcore.toml if present)")

	cmd.AddCommand(newBeginCmd())
	cmd.AddCommand(newEndCmd())
	cmd.AddCommand(newLogCmd())
	cmd.AddCommand(newFlushCmd())
	cmd.AddCommand(newSuspendCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// buildLogger returns a logger writing to stderr, plain text when
// attached to a terminal and JSON otherwise — mirroring how the
// host application's own CLI layer would decide a format.
func buildLogger() *slog.Logger {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func configPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}
	return "agentcore.toml"
}

// bootstrap loads config, builds a Transmitter, and configures the
// process-wide Coordinator — the same sequence a real host application
// runs once at startup.
func bootstrap() (*coordinator.Coordinator, error) {
	logger := buildLogger()

	cfg, err := config.LoadOrDefault(configPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	tx := transmit.New(logger)

	c, err := coordinator.Configure(cfg, tx, logger)
	if err != nil {
		return nil, fmt.Errorf("starting coordinator: %w", err)
	}
	return c, nil
}

func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
