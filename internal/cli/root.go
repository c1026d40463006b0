// Package cli implements the zkconfig command line interface.
package cli

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikekulinski/zkconfig/pkg/coordination"
	"github.com/mikekulinski/zkconfig/pkg/engine"
	"github.com/mikekulinski/zkconfig/pkg/zkclient"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	ConfigFile     string
	Servers        []string
	RootPath       string
	SessionTimeout time.Duration
	ConnectTimeout time.Duration
	AuthDigest     string
	Format         string
	Verbose        bool

	// Dialer overrides how sessions are established (for testing).
	// If nil, commands dial a real ZooKeeper ensemble.
	Dialer coordination.Dialer
}

const (
	formatText = "text"
	formatYAML = "yaml"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{formatText, formatYAML}

// NewRootCommand creates the root command for the zkconfig CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zkconfig",
		Short: "Mirror a ZooKeeper subtree as flat configuration",
		Long: `zkconfig keeps a flat key/value view of a ZooKeeper subtree.

Node paths below the root map to configuration keys by replacing the path
separator with ':', so with root /config the node /config/db/host becomes
the key db:host.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			configureLogging(opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "YAML config file")
	cmd.PersistentFlags().StringSliceVar(&opts.Servers, "servers", []string{"127.0.0.1:2181"}, "coordination service hosts, host:port")
	cmd.PersistentFlags().StringVar(&opts.RootPath, "root", engine.DefaultRootPath, "root of the mirrored subtree")
	cmd.PersistentFlags().DurationVar(&opts.SessionTimeout, "session-timeout", engine.DefaultSessionTimeout, "session timeout negotiated with the service")
	cmd.PersistentFlags().DurationVar(&opts.ConnectTimeout, "connect-timeout", engine.DefaultConnectTimeout, "how long to wait for the first connection")
	cmd.PersistentFlags().StringVar(&opts.AuthDigest, "auth-digest", "", "digest credentials as user:password")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", formatText, "output format (text|yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging to stderr")

	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// dial connects the sync engine and blocks until its first load finished.
// The caller owns the returned engine and must Close it.
func (opts *RootOptions) dial(cmd *cobra.Command, settings *engine.Settings) (*engine.Engine, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = zkclient.NewDialer()
	}
	eng, err := engine.New(dialer, settings)
	if err != nil {
		return nil, err
	}
	if err := eng.Load(cmd.Context()); err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return eng, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// configureLogging routes glog to stderr and raises its verbosity when
// --verbose is set. glog reads its settings from the standard flag set.
func configureLogging(verbose bool) {
	if !flag.Parsed() {
		_ = flag.CommandLine.Parse(nil)
	}
	_ = flag.Set("logtostderr", "true")
	if verbose {
		_ = flag.Set("v", "2")
	}
}
