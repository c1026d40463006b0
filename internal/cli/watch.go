package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// WatchOptions holds flags specific to the watch command.
type WatchOptions struct {
	*RootOptions
	SnapshotPath string
}

// NewWatchCommand creates the command that follows the mirrored subtree and
// prints every change as it is applied.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the mirrored subtree and print changes",
		Long: `Watch loads the mirrored subtree, prints it, and then prints one line per
key that changes until interrupted:

  + key = value   added
  - key           removed
  ~ key = value   changed

With --snapshot, every applied change is also exported to a YAML file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.SnapshotPath, "snapshot", "", "file that receives a YAML export after every change")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	settings, err := loadSettings(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.SnapshotPath != "" {
		settings.SnapshotPath = opts.SnapshotPath
	}
	eng, err := opts.dial(cmd, settings)
	if err != nil {
		return err
	}
	defer eng.Close()

	// Subscribe before reading the first snapshot so no change can land
	// between the two unannounced. Coalescing notifications is fine: the loop
	// re-reads the full snapshot every wakeup, so a dropped signal never
	// loses a change.
	notify := make(chan struct{}, 1)
	remove := eng.OnReload(func() {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer remove()

	out := cmd.OutOrStdout()
	last := eng.Snapshot()
	if err := writeSnapshot(out, last, opts.Format); err != nil {
		return err
	}
	fmt.Fprintf(out, "-- watching %s\n", settings.RootPath)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-notify:
			current := eng.Snapshot()
			printDiff(out, last, current)
			last = current
		}
	}
}
