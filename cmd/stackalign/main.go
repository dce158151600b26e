package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ironsheep/stackalign/internal/config"
	"github.com/ironsheep/stackalign/internal/logging"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// app carries what every subcommand needs once the root command has loaded
// configuration.
type app struct {
	envFile  string
	logLevel string

	cfg *config.Config
	log *logging.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "stackalign",
		Short: "Calibrate stacked equation layouts by rendering and measuring them",
		Long: `stackalign turns a step-by-step equation solution into layouts whose
operation row sits exactly under the terms it cancels. Each step is rendered,
measured from its pixels and adjusted until it converges.

Configuration comes from STACKALIGN_* environment variables, optionally
seeded from a .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env", ".env", "env file read before the environment")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides STACKALIGN_LOG_LEVEL")

	root.AddCommand(
		newCalibrateCommand(a),
		newBatchCommand(a),
		newShowCommand(a),
		newSegmentCommand(a),
		newRenderCommand(a),
		newServeCommand(a),
		newVersionCommand(),
	)
	return root
}

// load reads configuration and builds the stderr logger. Stdout is reserved
// for command output and the MCP protocol.
func (a *app) load() error {
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.cfg = cfg
	a.log = logging.NewLoggerTo(os.Stderr, "stackalign", logging.ParseLevel(level))
	a.log.Debug("configuration loaded", "version", Version, "sessions", cfg.Sessions,
		"maxIterations", cfg.MaxIterations, "threshold", cfg.ThresholdPx)
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Skip configuration so version works with a broken environment.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "stackalign %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
}
