package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSchemaCommand creates a 'schema' command that prints a generated JSON schema.
func NewSchemaCommand(short string, generate func() ([]byte, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: short,
		Long:  `Outputs the JSON schema in a form editors and the yaml language server understand.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := generate()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	// The --json flag is implied since that's all this command does.
	return cmd
}
