// Package coordtest provides an in-memory coordination service for tests.
// It reproduces the parts of ZooKeeper the sync engine depends on, most
// importantly one-shot watches: a watch armed by a read fires at most once
// and is discarded as soon as it fires.
package coordtest

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mikekulinski/zkconfig/pkg/coordination"
	"github.com/mikekulinski/zkconfig/pkg/pathkey"
)

// node is one entry in the in-memory tree.
type node struct {
	name     string
	data     []byte
	children map[string]*node
}

func newNode(name string, data []byte) *node {
	return &node{
		name: name,
		// Init the children to an empty map instead of nil to avoid panics
		// when writing to a nil map.
		children: map[string]*node{},
		data:     data,
	}
}

// Server is the in-memory coordination service. Mutations fire the same
// watch events a real ensemble would, in the same order.
type Server struct {
	mu   sync.Mutex
	root *node

	// One-shot watches keyed by the absolute path they were armed on.
	dataWatches  map[string][]*Session
	childWatches map[string][]*Session

	// Paths that refuse reads with ErrNoAuth.
	denied map[string]bool
	// Paths whose reads fail with an injected error.
	failures map[string]error

	sessions []*Session
	held     []*Session
	holding  bool
	readOnly bool
}

func NewServer() *Server {
	return &Server{
		root:         newNode("", nil),
		dataWatches:  map[string][]*Session{},
		childWatches: map[string][]*Session{},
		denied:       map[string]bool{},
		failures:     map[string]error{},
	}
}

// Dial starts a new session against the server, implementing
// coordination.Dialer. Unless connections are held, the session immediately
// observes a connected state.
func (s *Server) Dial(_ []string, _ time.Duration, _ []coordination.AuthInfo) (coordination.Session, <-chan coordination.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		server: s,
		events: make(chan coordination.Event, eventBuffer),
	}
	s.sessions = append(s.sessions, sess)
	if s.holding {
		s.held = append(s.held, sess)
		return sess, sess.events, nil
	}
	sess.sendState(s.connectStateLocked())
	return sess, sess.events, nil
}

// Create adds a node at path. The parent must already exist. Child watches
// on the parent fire.
func (s *Server) Create(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := pathkey.ValidateRootPath(path); err != nil {
		return err
	}
	names := pathkey.SplitPath(path)
	if len(names) == 0 {
		return fmt.Errorf("node [%s] already exists", path)
	}

	parent := find(s.root, names[:len(names)-1])
	if parent == nil {
		return fmt.Errorf("at least one of the ancestors of this node are missing")
	}
	name := names[len(names)-1]
	if _, ok := parent.children[name]; ok {
		return fmt.Errorf("node [%s] already exists at path [%s]", name, path)
	}
	parent.children[name] = newNode(name, data)

	s.fireWatches(s.childWatches, pathkey.Parent(path), coordination.EventNodeChildrenChanged)
	return nil
}

// SetData replaces the value at path. Data watches on the node fire.
func (s *Server) SetData(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := find(s.root, pathkey.SplitPath(path))
	if n == nil {
		return fmt.Errorf("node does not exist")
	}
	n.data = data

	s.fireWatches(s.dataWatches, path, coordination.EventNodeDataChanged)
	return nil
}

// Delete removes the leaf node at path. Deleting a node with children is an
// error, matching ZooKeeper. Watches on the node fire deleted, and child
// watches on the parent fire.
func (s *Server) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(path, false)
}

// DeleteTree removes the node at path and everything below it, firing the
// watch events a leaf-by-leaf teardown would produce.
func (s *Server) DeleteTree(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(path, true)
}

func (s *Server) deleteLocked(path string, recursive bool) error {
	names := pathkey.SplitPath(path)
	if len(names) == 0 {
		return fmt.Errorf("cannot delete the root node")
	}
	parent := find(s.root, names[:len(names)-1])
	if parent == nil {
		return fmt.Errorf("at least one of the ancestors of this node are missing")
	}
	name := names[len(names)-1]
	n, ok := parent.children[name]
	if !ok {
		// If the node doesn't exist, then act like the operation succeeded.
		return nil
	}
	if len(n.children) > 0 && !recursive {
		return fmt.Errorf("the node specified has children. Only leaf nodes can be deleted")
	}

	for childName := range n.children {
		if err := s.deleteLocked(pathkey.Join(path, childName), true); err != nil {
			return err
		}
	}
	delete(parent.children, name)

	s.fireWatches(s.dataWatches, path, coordination.EventNodeDeleted)
	s.fireWatches(s.childWatches, path, coordination.EventNodeDeleted)
	s.fireWatches(s.childWatches, pathkey.Parent(path), coordination.EventNodeChildrenChanged)
	return nil
}

// Deny makes reads of path fail with ErrNoAuth.
func (s *Server) Deny(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[path] = true
}

// Allow clears a previous Deny.
func (s *Server) Allow(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.denied, path)
}

// Fail makes reads of path fail with err. A nil err clears the failure.
func (s *Server) Fail(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, path)
		return
	}
	s.failures[path] = err
}

// ExpireSessions expires every live session. Expired sessions refuse further
// reads and their watches never fire again.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.liveLocked() {
		sess.expired = true
		s.dropWatchesLocked(sess)
		sess.sendState(coordination.StateExpired)
	}
}

// DisconnectSessions drops every live session into the disconnected state.
// Reads fail until ReconnectSessions is called, but watches stay armed.
func (s *Server) DisconnectSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.liveLocked() {
		sess.suspended = true
		sess.sendState(coordination.StateDisconnected)
	}
}

// ReconnectSessions restores previously disconnected sessions.
func (s *Server) ReconnectSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.liveLocked() {
		sess.suspended = false
		sess.sendState(s.connectStateLocked())
	}
}

// RejectAuth makes every live session observe an authentication failure and
// then refuse further reads.
func (s *Server) RejectAuth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.liveLocked() {
		sess.expired = true
		s.dropWatchesLocked(sess)
		sess.sendState(coordination.StateAuthFailed)
	}
}

// HoldConnections keeps new sessions from reporting a connected state until
// ReleaseConnections is called, for driving connection waits into timeouts.
func (s *Server) HoldConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding = true
}

// ReleaseConnections lets held sessions connect.
func (s *Server) ReleaseConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding = false
	for _, sess := range s.held {
		if !sess.closed {
			sess.sendState(s.connectStateLocked())
		}
	}
	s.held = nil
}

// SetReadOnly controls whether sessions connect in the read-only state.
func (s *Server) SetReadOnly(readOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOnly = readOnly
}

func (s *Server) connectStateLocked() coordination.SessionState {
	if s.readOnly {
		return coordination.StateConnectedReadOnly
	}
	return coordination.StateConnected
}

// fireWatches sends the event to every session watching path in the given
// table, then clears the entry. Watches are one-shot.
func (s *Server) fireWatches(table map[string][]*Session, path string, typ coordination.EventType) {
	watchers := table[path]
	if len(watchers) == 0 {
		return
	}
	delete(table, path)
	for _, sess := range watchers {
		sess.send(coordination.Event{Type: typ, Path: path})
	}
}

func (s *Server) liveLocked() []*Session {
	var live []*Session
	for _, sess := range s.sessions {
		if !sess.closed && !sess.expired {
			live = append(live, sess)
		}
	}
	return live
}

func (s *Server) dropWatchesLocked(target *Session) {
	for path, watchers := range s.dataWatches {
		s.dataWatches[path] = slices.DeleteFunc(watchers, func(w *Session) bool { return w == target })
	}
	for path, watchers := range s.childWatches {
		s.childWatches[path] = slices.DeleteFunc(watchers, func(w *Session) bool { return w == target })
	}
}

// find searches down the tree and returns the node named by names, or nil if
// any step is missing.
func find(start *node, names []string) *node {
	n := start
	for _, name := range names {
		child, ok := n.children[name]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}
