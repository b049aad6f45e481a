package cmd

import (
	"fmt"

	"github.com/grovetools/trail/cli"
	"github.com/grovetools/trail/config"
	"github.com/grovetools/trail/pkg/daemon"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd creates the `config` command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect trail configuration",
	}

	cmd.AddCommand(newConfigLayersCmd())
	cmd.AddCommand(newConfigRunningCmd())
	cmd.AddCommand(cli.NewSchemaCommand("Print the JSON schema of trail.yml", config.GenerateSchema))

	return cmd
}

func newConfigLayersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layers",
		Short: "Display the layered configuration for the current directory",
		Long: `Shows how the final configuration is built by merging layers:
1. Global config (~/.config/trail/trail.yml)
2. Project config (trail.yml)
3. Override files (trail.override.yml)
This is useful for debugging configuration issues.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			layered, err := cli.LoadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load layered config: %w", err)
			}

			out := cmd.OutOrStdout()
			printLayer := func(title string, path string, cfg *config.Config) {
				if cfg == nil {
					return
				}
				fmt.Fprintf(out, "--- # %s\n", title)
				if path != "" {
					fmt.Fprintf(out, "# Source: %s\n", path)
				}
				data, _ := yaml.Marshal(cfg)
				fmt.Fprintln(out, string(data))
			}

			printLayer("GLOBAL CONFIG", layered.FilePaths[config.SourceGlobal], layered.Global)
			printLayer("PROJECT CONFIG", layered.FilePaths[config.SourceProject], layered.Project)
			for _, override := range layered.Overrides {
				printLayer("OVERRIDE CONFIG", override.Path, override.Config)
			}
			printLayer("FINAL MERGED CONFIG", "", layered.Final)

			return nil
		},
	}
}

func newConfigRunningCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "running",
		Short: "Show the configuration the daemon is running with",
		RunE: func(cmd *cobra.Command, args []string) error {
			layered, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			client := daemon.New(layered.Final)
			defer client.Close()

			rc, err := client.RunningConfig(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rc)
		},
	}
}
