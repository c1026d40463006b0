package coordtest

import (
	"slices"

	"github.com/mikekulinski/zkconfig/pkg/coordination"
	"github.com/mikekulinski/zkconfig/pkg/pathkey"
)

// eventBuffer is the capacity of each session's event channel. A test that
// produces more unconsumed events than this will block on the next mutation.
const eventBuffer = 64

// Session is one client session against the in-memory server. Tests drive
// its state transitions through the server's broadcast helpers.
type Session struct {
	server *Server
	events chan coordination.Event

	// All guarded by server.mu.
	closed    bool
	expired   bool
	suspended bool
}

// ReadValue returns the value at path, optionally arming a one-shot data
// watch. Watches are only armed when the read succeeds, matching ZooKeeper.
func (sess *Session) ReadValue(path string, watch bool) ([]byte, error) {
	s := sess.server
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := sess.readableLocked(path)
	if err != nil {
		return nil, err
	}
	if watch {
		s.dataWatches[path] = append(s.dataWatches[path], sess)
	}
	return slices.Clone(n.data), nil
}

// ListChildren returns the child names of path in no particular order,
// optionally arming a one-shot child watch.
func (sess *Session) ListChildren(path string, watch bool) ([]string, error) {
	s := sess.server
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := sess.readableLocked(path)
	if err != nil {
		return nil, err
	}
	if watch {
		s.childWatches[path] = append(s.childWatches[path], sess)
	}
	var names []string
	for name := range n.children {
		names = append(names, name)
	}
	return names, nil
}

// Close marks the session dead. Its watches never fire again.
func (sess *Session) Close() error {
	s := sess.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.closed {
		return nil
	}
	sess.closed = true
	s.dropWatchesLocked(sess)
	return nil
}

// readableLocked resolves path for a read, applying session liveness,
// injected failures, and access denials.
func (sess *Session) readableLocked(path string) (*node, error) {
	s := sess.server
	if sess.closed || sess.expired || sess.suspended {
		return nil, coordination.ErrSessionClosed
	}
	if err := s.failures[path]; err != nil {
		return nil, err
	}
	if s.denied[path] {
		return nil, coordination.ErrNoAuth
	}
	n := find(s.root, pathkey.SplitPath(path))
	if n == nil {
		return nil, coordination.ErrNoNode
	}
	return n, nil
}

func (sess *Session) sendState(state coordination.SessionState) {
	sess.send(coordination.Event{Type: coordination.EventSession, State: state})
}

func (sess *Session) send(ev coordination.Event) {
	if sess.closed {
		return
	}
	sess.events <- ev
}
