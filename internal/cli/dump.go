package cli

import (
	"github.com/spf13/cobra"
)

// NewDumpCommand creates the command that prints the whole configuration map.
func NewDumpCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print every key under the mirrored root",
		Long: `Dump loads the mirrored subtree and prints the full configuration map,
sorted by key. Use --format yaml for machine-readable output.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, opts)
		},
	}
}

func runDump(cmd *cobra.Command, opts *RootOptions) error {
	settings, err := loadSettings(cmd, opts)
	if err != nil {
		return err
	}
	eng, err := opts.dial(cmd, settings)
	if err != nil {
		return err
	}
	defer eng.Close()

	return writeSnapshot(cmd.OutOrStdout(), eng.Snapshot(), opts.Format)
}
