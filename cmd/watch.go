package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/grovetools/trail/cli"
	"github.com/grovetools/trail/logging"
	"github.com/grovetools/trail/pkg/daemon"
	"github.com/grovetools/trail/pkg/models"
	"github.com/grovetools/trail/pkg/profiling"
	"github.com/spf13/cobra"
)

// NewWatchCmd creates the `watch` command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Set the files the daemon records",
		Long: `Replaces the daemon's watch set with the given files. Paths are made
absolute relative to the working directory. With no paths the watch set is
cleared.

Examples:
  # Record two files
  trail watch main.go go.mod

  # Add a file to the current set
  trail watch --add README.md

  # Stop watching everything
  trail watch
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			add, _ := cmd.Flags().GetBool("add")

			layered, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			client := daemon.New(layered.Final)
			defer client.Close()

			paths, err := absPaths(args)
			if err != nil {
				return err
			}
			if add {
				current, err := client.WatchedFiles(cmd.Context())
				if err != nil {
					return err
				}
				paths = append(current, paths...)
			}

			effective, err := client.SetWatched(cmd.Context(), paths)
			if err != nil {
				return err
			}
			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd.OutOrStdout(), models.WatchList{Paths: effective})
			}

			pretty := logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout())
			pretty.Success(fmt.Sprintf("Watching %d file(s)", len(effective)))
			for _, p := range effective {
				pretty.Path("  watch", p)
			}
			if skipped := len(dedupe(paths)) - len(effective); skipped > 0 {
				pretty.WarnPretty(fmt.Sprintf("%d path(s) matched ignore patterns", skipped))
			}
			return nil
		},
	}

	cmd.Flags().Bool("add", false, "Add to the current watch set instead of replacing it")
	return cmd
}

// NewListCmd creates the `list` command.
func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the files the daemon is watching",
		RunE: func(cmd *cobra.Command, args []string) error {
			layered, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			client := daemon.New(layered.Final)
			defer client.Close()

			watched, err := client.WatchedFiles(cmd.Context())
			if err != nil {
				return err
			}
			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd.OutOrStdout(), models.WatchList{Paths: watched})
			}
			for _, p := range watched {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

// NewHistoryCmd creates the `history` command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <path>",
		Short: "Show the recent changes of a file",
		Long: `Prints the most recent recorded changes of a file, newest first. Works
without a running daemon by reading the store directly.

Examples:
  # Summaries of the last changes
  trail history main.go

  # Include the diff of every change
  trail history main.go --diff
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showDiff, _ := cmd.Flags().GetBool("diff")

			layered, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			client := daemon.New(layered.Final)
			defer client.Close()

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			span := profiling.Start("history.fetch")
			history, err := client.History(cmd.Context(), path)
			span.Stop()
			if err != nil {
				return err
			}

			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd.OutOrStdout(), history)
			}
			printHistory(cmd.OutOrStdout(), path, history, showDiff)
			return nil
		},
	}

	cmd.Flags().BoolP("diff", "d", false, "Show the diff of each change")
	return cmd
}

func printHistory(w io.Writer, path string, history []models.FileDiffResult, showDiff bool) {
	pretty := logging.NewPrettyLogger().WithWriter(w)
	if len(history) == 0 {
		pretty.InfoPretty(fmt.Sprintf("No recorded changes for %s", path))
		return
	}

	pretty.Path("History", path)
	for _, entry := range history {
		pretty.Divider()
		when := time.UnixMilli(entry.Timestamp).Format("2006-01-02 15:04:05")
		pretty.Field(fmt.Sprintf("#%d %s", entry.ID, entry.ChangeEvent), when)
		switch {
		case entry.Error != "":
			pretty.ErrorPretty("unavailable", fmt.Errorf("%s", entry.Error))
		case entry.Binary:
			pretty.InfoPretty(fmt.Sprintf("binary change (%d byte patch)", entry.PatchSize))
		case showDiff && entry.Data != "":
			pretty.Diff(entry.Data)
		}
	}
}

func absPaths(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		p, err := filepath.Abs(a)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}
