package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mikekulinski/zkconfig/pkg/coordination"
	"github.com/mikekulinski/zkconfig/pkg/engine"
)

// duration parses YAML scalars like "30s" or "1m30s" into a time.Duration.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

// fileConfig is the YAML schema accepted by --config.
type fileConfig struct {
	Servers        []string   `yaml:"servers"`
	RootPath       string     `yaml:"root_path"`
	SessionTimeout duration   `yaml:"session_timeout"`
	ConnectTimeout duration   `yaml:"connect_timeout"`
	Auth           []fileAuth `yaml:"auth"`
	SnapshotPath   string     `yaml:"snapshot_path"`
}

type fileAuth struct {
	Scheme string `yaml:"scheme"`
	Auth   string `yaml:"auth"`
}

func loadConfigFile(path string) (*fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := &fileConfig{}
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		// An empty file decodes to nothing at all.
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// loadSettings resolves the engine settings from defaults, the optional YAML
// config file, and the command line. Flags that were explicitly set win over
// the file; the file wins over built-in defaults.
func loadSettings(cmd *cobra.Command, opts *RootOptions) (*engine.Settings, error) {
	settings := engine.DefaultSettings()
	settings.Servers = opts.Servers

	if opts.ConfigFile != "" {
		cfg, err := loadConfigFile(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		if len(cfg.Servers) > 0 {
			settings.Servers = cfg.Servers
		}
		if cfg.RootPath != "" {
			settings.RootPath = cfg.RootPath
		}
		if cfg.SessionTimeout > 0 {
			settings.SessionTimeout = time.Duration(cfg.SessionTimeout)
		}
		if cfg.ConnectTimeout > 0 {
			settings.ConnectTimeout = time.Duration(cfg.ConnectTimeout)
		}
		for _, a := range cfg.Auth {
			settings.Auth = append(settings.Auth, coordination.AuthInfo{
				Scheme: a.Scheme,
				Auth:   []byte(a.Auth),
			})
		}
		settings.SnapshotPath = cfg.SnapshotPath
	}

	flags := cmd.Flags()
	if flags.Changed("servers") {
		settings.Servers = opts.Servers
	}
	if flags.Changed("root") {
		settings.RootPath = opts.RootPath
	}
	if flags.Changed("session-timeout") {
		settings.SessionTimeout = opts.SessionTimeout
	}
	if flags.Changed("connect-timeout") {
		settings.ConnectTimeout = opts.ConnectTimeout
	}
	if opts.AuthDigest != "" {
		settings.Auth = append(settings.Auth, coordination.AuthInfo{
			Scheme: "digest",
			Auth:   []byte(opts.AuthDigest),
		})
	}
	return settings, nil
}
