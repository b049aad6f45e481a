package cli

import (
	"os"
	"sort"

	"github.com/grovetools/trail/config"
	"github.com/grovetools/trail/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CommandOptions holds common options for trail commands
type CommandOptions struct {
	ConfigFile string
	Verbose    bool
	JSONOutput bool
}

// NewStandardCommand creates a new command with standard trail flags
func NewStandardCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to trail.yml config file")

	// Apply styled help
	SetStyledHelp(cmd)

	return cmd
}

// GetLogger returns the CLI logger, adjusted to the command's flags.
func GetLogger(cmd *cobra.Command) *logrus.Entry {
	entry := logging.NewLogger("trail-cli")

	opts := GetOptions(cmd)
	if opts.Verbose {
		entry.Logger.SetLevel(logrus.DebugLevel)
	}
	if opts.JSONOutput {
		entry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return entry
}

// GetOptions extracts common options from a command
func GetOptions(cmd *cobra.Command) CommandOptions {
	configFile, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return CommandOptions{
		ConfigFile: configFile,
		Verbose:    verbose,
		JSONOutput: jsonOutput,
	}
}

// LoadConfig loads the configuration for a command. An explicit --config
// file is used alone; otherwise the global, project and override layers are
// merged starting from the working directory.
func LoadConfig(cmd *cobra.Command) (*config.LayeredConfig, error) {
	opts := GetOptions(cmd)
	if opts.ConfigFile != "" {
		cfg, err := config.Load(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		return &config.LayeredConfig{
			Project:   cfg,
			Final:     cfg,
			FilePaths: map[config.ConfigSource]string{config.SourceProject: opts.ConfigFile},
		}, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.LoadLayered(cwd)
}

// ConfigFiles lists the files a layered config was read from, in a stable order.
func ConfigFiles(layered *config.LayeredConfig) []string {
	if layered == nil {
		return nil
	}
	files := make([]string, 0, len(layered.FilePaths)+len(layered.Overrides))
	seen := make(map[string]bool)
	for _, p := range layered.FilePaths {
		if p != "" && !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, o := range layered.Overrides {
		if o.Path != "" && !seen[o.Path] {
			seen[o.Path] = true
			files = append(files, o.Path)
		}
	}
	sort.Strings(files)
	return files
}
