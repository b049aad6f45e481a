package cmd

import (
	"github.com/grovetools/trail/pkg/paths"
	"github.com/spf13/cobra"
)

// PathsOutput represents the XDG-compliant paths used by trail.
type PathsOutput struct {
	ConfigDir string `json:"config_dir"`
	DataDir   string `json:"data_dir"`
	StateDir  string `json:"state_dir"`
	LogsDir   string `json:"logs_dir"`
	Socket    string `json:"socket"`
	PidFile   string `json:"pid_file"`
	Database  string `json:"database"`
}

// NewPathsCmd creates the `paths` command.
func NewPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the XDG-compliant paths used by trail",
		Long: `Print the XDG-compliant paths used by trail as JSON.

Set TRAIL_HOME to move every path under a single directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), PathsOutput{
				ConfigDir: paths.ConfigDir(),
				DataDir:   paths.DataDir(),
				StateDir:  paths.StateDir(),
				LogsDir:   paths.LogsDir(),
				Socket:    paths.SocketPath(),
				PidFile:   paths.PidFilePath(),
				Database:  paths.DatabasePath(),
			})
		},
	}
}
