package coordination

import "errors"

var (
	// ErrNoNode means the node does not exist at the requested path.
	ErrNoNode = errors.New("coordination: node does not exist")
	// ErrNoAuth means the session is not authorized to read the node.
	ErrNoAuth = errors.New("coordination: not authorized")
	// ErrSessionClosed means the operation was attempted on a closed session.
	ErrSessionClosed = errors.New("coordination: session closed")
)

// AuthInfo is an opaque credential handed to the service when the session is
// established, e.g. scheme "digest" with "user:password" bytes.
type AuthInfo struct {
	Scheme string
	Auth   []byte
}

// EventType identifies what a delivered event describes: a session state
// transition or a fired node watch.
type EventType int

const (
	// EventSession reports a session state transition; State carries the new
	// state and Path is empty.
	EventSession EventType = iota
	// EventNodeDeleted fires when a watched node is deleted.
	EventNodeDeleted
	// EventNodeDataChanged fires when a watched node's payload changes.
	EventNodeDataChanged
	// EventNodeChildrenChanged fires when a child is added to or removed from
	// a watched node.
	EventNodeChildrenChanged
)

func (t EventType) String() string {
	switch t {
	case EventSession:
		return "Session"
	case EventNodeDeleted:
		return "NodeDeleted"
	case EventNodeDataChanged:
		return "NodeDataChanged"
	case EventNodeChildrenChanged:
		return "NodeChildrenChanged"
	default:
		return "Unknown"
	}
}

// SessionState is the connection state reported by EventSession events.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnected
	StateExpired
	StateAuthFailed
	StateConnectedReadOnly
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnected:
		return "Connected"
	case StateExpired:
		return "Expired"
	case StateAuthFailed:
		return "AuthFailed"
	case StateConnectedReadOnly:
		return "ConnectedReadOnly"
	default:
		return "Unknown"
	}
}

// Event is a single asynchronous notification from the session: either a
// state transition (Type == EventSession) or a fired one-shot node watch.
type Event struct {
	Type  EventType
	State SessionState
	Path  string
	Err   error
}
