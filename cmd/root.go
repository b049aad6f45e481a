// Package cmd implements the trail command line.
package cmd

import (
	"github.com/grovetools/trail/cli"
	"github.com/grovetools/trail/logging"
	"github.com/grovetools/trail/pkg/profiling"
	"github.com/grovetools/trail/version"
	"github.com/spf13/cobra"
)

// NewRootCmd assembles the trail command tree.
func NewRootCmd() *cobra.Command {
	root := cli.NewStandardCommand(
		"trail",
		"Record the change history of the files you work on",
	)
	root.SilenceUsage = true
	root.SilenceErrors = true
	cli.SetVersionTemplate(root, version.GetInfo())

	profiler := profiling.NewCobraProfiler(logging.NewLogger("profiling"))
	profiler.AddFlags(root)
	root.PersistentPreRunE = profiler.PreRun
	root.PersistentPostRun = profiler.PostRun

	root.AddCommand(NewDaemonCmd())
	root.AddCommand(NewWatchCmd())
	root.AddCommand(NewListCmd())
	root.AddCommand(NewHistoryCmd())
	root.AddCommand(NewLogsCmd())
	root.AddCommand(NewConfigCmd())
	root.AddCommand(NewPathsCmd())
	root.AddCommand(cli.NewVersionCommand("trail"))

	cli.ApplyStyledHelpRecursive(root)
	return root
}
