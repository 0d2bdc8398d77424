package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/hydration"
	"github.com/loykin/hydration/internal/logger"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(),
		createAddCommand(),
		createRestartCommand(),
		createProcessCommand(),
		createStateCommand(),
		createCronsCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "hydration",
		Short: "Slot-sync tracker for HyperBEAM oracle processes",
		Long: `Hydration admits oracle processes a few at a time, initializes their cron,
and polls their computed slot until it catches up with the current slot.

Examples:
  hydration serve processes.json    # Start daemon
  hydration status                  # Registry summary from the local daemon
  hydration add --process-id=<id> --name=pool
  hydration status --api-url=http://remote:8080/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [processes.json]",
		Short: "Start the hydration daemon",
		Long: `Start the hydration daemon. Configuration is read from --config, or from
config.toml in the working directory when present. The optional argument is a
process list that is reconciled into the registry at startup.

Examples:
  hydration serve
  hydration serve processes.json --config=/etc/hydration/config.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ProcessesFile = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *serveFlags)
		},
	}
	return cmd
}

// runServe loads configuration, installs the logger and runs the service
// until ctx is cancelled.
func runServe(ctx context.Context, f ServeFlags) error {
	cfg, err := hydration.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	closer, err := logger.Setup(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer func() { _ = closer.Close() }()

	path := f.ProcessesFile
	if path == "" {
		path = cfg.ProcessesFile
	}
	var procs []hydration.ProcessConfig
	if path != "" {
		procs, err = hydration.LoadProcessList(path)
		if err != nil {
			return err
		}
		slog.Info("Loaded process list", "path", path, "count", len(procs))
	}

	svc, err := hydration.New(cfg, procs)
	if err != nil {
		return err
	}
	slog.Info("Starting hydration",
		"addr", cfg.Server.Addr(),
		"hyperbeam", cfg.HyperBEAM.BaseURL,
		"max_active", cfg.Limits.MaxActiveProcesses,
		"state", cfg.State.DSN)

	start := time.Now()
	err = svc.Run(ctx)
	slog.Info("Hydration stopped", "uptime", time.Since(start).Round(time.Second))
	return err
}
