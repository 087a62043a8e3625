// howell is the terminal companion for the daemon: quick status, inbox
// feeds, searches, queue approvals, and the git sync cycle.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"howell/internal/config"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "howell",
		Short:        "Talk to the local coordination daemon",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFile(), "path to the config document")

	root.AddCommand(
		statusCmd(),
		feedCmd(),
		recentCmd(),
		inboxCmd(),
		searchCmd(),
		queueCmd(),
		approveCmd(),
		tasksCmd(),
		boardCmd(),
		syncCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
}
