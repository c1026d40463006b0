package engine

import (
	"time"

	"github.com/mikekulinski/zkconfig/pkg/coordination"
)

const (
	DefaultSessionTimeout = 30 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	DefaultRootPath       = "/config"
)

// Settings carries the values the engine passes through to the coordination
// client, plus the root of the mirrored subtree.
type Settings struct {
	// Servers lists the coordination service hosts, one host:port per entry.
	Servers []string
	// SessionTimeout is negotiated with the service and bounds how long a
	// session survives without heartbeats.
	SessionTimeout time.Duration
	// ConnectTimeout bounds how long Load waits for the first connected
	// signal.
	ConnectTimeout time.Duration
	// RootPath is the subtree mirrored into the configuration map.
	RootPath string
	// Auth entries are registered on every session. Opaque to the engine.
	Auth []coordination.AuthInfo
	// SnapshotPath, when non-empty, names a file that receives a YAML export
	// of the configuration map after every applied change.
	SnapshotPath string
}

func DefaultSettings() *Settings {
	return &Settings{
		SessionTimeout: DefaultSessionTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		RootPath:       DefaultRootPath,
	}
}
