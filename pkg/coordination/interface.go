// Package coordination defines the boundary to the remote coordination
// service. The sync engine only ever talks to these interfaces: it reads
// values and child lists with one-shot watches armed, and it consumes the
// session's asynchronous event stream. The production implementation lives
// in pkg/zkclient; tests use pkg/coordtest.
package coordination

import "time"

//go:generate mockgen -source=interface.go -destination=mocks/mock_coordination.go -package=mock_coordination

// Dialer establishes a new session with the coordination service. Every call
// returns a brand-new session with no watches carried over; the event channel
// delivers that session's state transitions and watch notifications until the
// session is closed.
type Dialer interface {
	Dial(servers []string, sessionTimeout time.Duration, auth []AuthInfo) (Session, <-chan Event, error)
}

// Session is a live connection to the coordination service.
//
// Watches are one-shot: arming a watch during a read or list buys exactly one
// future event for that node, delivered on the session's event channel, after
// which it must be re-armed by another read or list. Reads and lists are the
// only way to arm watches, so no code path can observe remote state without
// simultaneously renewing its subscription.
type Session interface {
	// ReadValue returns the node's payload. A nil or empty payload on an
	// existing node is a present value; a missing node fails with ErrNoNode
	// and an unauthorized one with ErrNoAuth. When watch is set and the node
	// exists, a one-shot data watch is armed.
	ReadValue(path string, watch bool) ([]byte, error)
	// ListChildren returns the names of the node's children. A missing node
	// fails with ErrNoNode. When watch is set and the node exists, a one-shot
	// child watch is armed.
	ListChildren(path string, watch bool) ([]string, error)
	// Close terminates the session. The event channel is closed once any
	// pending events have drained; armed watches never fire after that.
	Close() error
}
