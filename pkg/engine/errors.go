package engine

import "errors"

var (
	// ErrConnectionTimeout is returned by Load when no connected signal
	// arrives within Settings.ConnectTimeout.
	ErrConnectionTimeout = errors.New("engine: timed out waiting for connection")
	// ErrSessionAuthFailed is returned by Load when the session fails
	// authentication. The engine does not recover from it.
	ErrSessionAuthFailed = errors.New("engine: session authentication failed")
	// ErrClosed is returned by Load when the engine is closed while waiting.
	ErrClosed = errors.New("engine: closed")
)
