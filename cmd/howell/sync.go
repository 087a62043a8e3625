package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"howell/internal/config"
	"howell/internal/gitsync"
)

// EnvSyncRemote points the sync repo at a remote. Only needed on init.
const EnvSyncRemote = "HOWELL_SYNC_REMOTE"

func newSyncer() (*gitsync.Syncer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return gitsync.New(cfg.PersistRoot, os.Getenv(EnvSyncRemote), "", nil), nil
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the persist root across machines via git",
	}
	cmd.AddCommand(syncInitCmd(), syncPullCmd(), syncPushCmd(), syncStatusCmd(), syncAutoCmd())
	return cmd
}

func syncInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Turn the persist root into a git repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSyncer()
			if err != nil {
				return err
			}
			if err := s.Init(); err != nil {
				return err
			}
			fmt.Println(green("Sync repo ready. Machine: " + s.MachineID()))
			return nil
		},
	}
}

func syncPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Pull the latest persist state (run at session start)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSyncer()
			if err != nil {
				return err
			}
			res, err := s.Pull()
			if err != nil {
				return err
			}
			printSyncResult(res)
			return nil
		},
	}
}

func syncPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Commit and push local persist changes (run at session end)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSyncer()
			if err != nil {
				return err
			}
			res, err := s.Push()
			if err != nil {
				return err
			}
			printSyncResult(res)
			for _, f := range res.Files {
				fmt.Println(gray("  " + f))
			}
			return nil
		},
	}
}

func syncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show this machine's sync position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSyncer()
			if err != nil {
				return err
			}
			st, err := s.CurrentStatus()
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", bold("Machine:"), st.MachineID)
			fmt.Printf("%s %d local, %d behind, %d ahead\n", bold("Changes:"),
				st.LocalChanges, st.BehindRemote, st.AheadOfRemote)
			fmt.Printf("%s %s\n", bold("Last:"), st.LastCommit)
			fmt.Printf("%s %s\n", bold("Root:"), st.PersistRoot)
			return nil
		},
	}
}

func syncAutoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auto",
		Short: "Full cycle: pull, then push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSyncer()
			if err != nil {
				return err
			}
			pull, push, err := s.Auto()
			if err != nil {
				return err
			}
			fmt.Println(bold("pull:"))
			printSyncResult(pull)
			fmt.Println(bold("push:"))
			printSyncResult(push)
			return nil
		},
	}
}

func printSyncResult(res *gitsync.Result) {
	line := res.Message
	switch res.Status {
	case "ok", "resolved":
		fmt.Println(green(line))
	case "offline", "needs_pull":
		fmt.Println(yellow(line))
	default:
		fmt.Println(red(line))
	}
	for _, f := range res.ConflictsResolved {
		fmt.Println(gray("  resolved: " + f))
	}
	for _, f := range res.Unresolved {
		fmt.Println(red("  NEEDS MANUAL: " + f))
	}
}
