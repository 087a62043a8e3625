// howelld is the coordination daemon: persistent memory, task board,
// instance registry, and creative queues behind one HTTP surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"howell/internal/app"
	"howell/internal/config"
	"howell/internal/logging"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "howelld",
		Short:        "Howell coordination daemon",
		Long:         "Runs the persistent-memory and fleet-coordination daemon on the configured port.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultFile(), "path to the config document")
	return cmd
}

func runDaemon(configPath string) error {
	// Bootstrap config load just to place the log file; the coordinator
	// loads its own copy.
	boot, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(boot.LogsDir(), 0o755); err != nil {
		return err
	}
	logging.SetDefaultDir(boot.LogsDir())
	logger := logging.NewComponentLogger("Main")

	coord, err := app.New(configPath, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return coord.Run(ctx)
}
