package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewGetCommand creates the command that prints a single configuration value.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Long: `Get loads the mirrored subtree and prints the value of a single key.

Keys use ':' between path segments, e.g.:

  zkconfig get db:host`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, opts, args[0])
		},
	}
}

func runGet(cmd *cobra.Command, opts *RootOptions, key string) error {
	settings, err := loadSettings(cmd, opts)
	if err != nil {
		return err
	}
	eng, err := opts.dial(cmd, settings)
	if err != nil {
		return err
	}
	defer eng.Close()

	value, ok := eng.Get(key)
	if !ok {
		return fmt.Errorf("key %q not found under %s", key, settings.RootPath)
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}
