// Package zkclient implements the coordination interfaces on top of a real
// ZooKeeper ensemble using github.com/go-zookeeper/zk.
//
// ZooKeeper delivers each watch on its own channel, and each watch fires at
// most once. Pump goroutines merge those single firings, together with
// session state changes, into one ordered event channel for the consumer.
package zkclient

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/mikekulinski/zkconfig/pkg/coordination"
)

// eventBuffer is the capacity of the merged event channel. Pumps block once
// the buffer is full, so events are never dropped or reordered.
const eventBuffer = 64

// conn is the subset of *zk.Conn the session uses. It exists so tests can
// substitute a stub without a live ensemble.
type conn interface {
	Get(path string) ([]byte, *zk.Stat, error)
	GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error)
	Children(path string) ([]string, *zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	AddAuth(scheme string, auth []byte) error
	Close()
}

// Dialer establishes ZooKeeper sessions.
type Dialer struct {
	connect func(servers []string, sessionTimeout time.Duration) (conn, <-chan zk.Event, error)
}

// NewDialer returns a Dialer that connects to a real ensemble.
func NewDialer() *Dialer {
	return &Dialer{
		connect: func(servers []string, sessionTimeout time.Duration) (conn, <-chan zk.Event, error) {
			return zk.Connect(servers, sessionTimeout)
		},
	}
}

// Dial opens a brand new ZooKeeper session and registers the given auth
// credentials on it. The returned channel carries session state changes and
// watch firings in the order ZooKeeper delivered them.
func (d *Dialer) Dial(servers []string, sessionTimeout time.Duration, auth []coordination.AuthInfo) (coordination.Session, <-chan coordination.Event, error) {
	c, zkEvents, err := d.connect(servers, sessionTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to zookeeper: %w", err)
	}
	for _, a := range auth {
		if err := c.AddAuth(a.Scheme, a.Auth); err != nil {
			c.Close()
			return nil, nil, fmt.Errorf("adding auth for scheme %q: %w", a.Scheme, err)
		}
	}

	s := &session{
		tag:    uuid.New().String(),
		conn:   c,
		events: make(chan coordination.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	glog.V(1).Infof("[%s]dialed %v", s.tag, servers)
	go s.pumpSession(zkEvents)
	return s, s.events, nil
}

// session wraps one ZooKeeper connection. Watches set through ReadValue and
// ListChildren are merged into the events channel by short-lived pump
// goroutines, one per armed watch.
type session struct {
	tag  string
	conn conn

	events chan coordination.Event

	closeOnce sync.Once
	done      chan struct{}
}

// ReadValue reads the value stored at path. With watch set, a one-shot data
// watch is left on the node and its firing is forwarded to the event channel.
func (s *session) ReadValue(path string, watch bool) ([]byte, error) {
	if !watch {
		data, _, err := s.conn.Get(path)
		if err != nil {
			return nil, mapError(err)
		}
		return data, nil
	}
	data, _, ch, err := s.conn.GetW(path)
	if err != nil {
		return nil, mapError(err)
	}
	go s.pumpWatch(ch)
	return data, nil
}

// ListChildren lists the child names of path. With watch set, a one-shot
// child watch is left on the node.
func (s *session) ListChildren(path string, watch bool) ([]string, error) {
	if !watch {
		children, _, err := s.conn.Children(path)
		if err != nil {
			return nil, mapError(err)
		}
		return children, nil
	}
	children, _, ch, err := s.conn.ChildrenW(path)
	if err != nil {
		return nil, mapError(err)
	}
	go s.pumpWatch(ch)
	return children, nil
}

// Close tears down the connection. The event channel is left open so that
// in-flight pumps never send on a closed channel; they all exit via done.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		glog.V(1).Infof("[%s]closing session", s.tag)
		close(s.done)
		s.conn.Close()
	})
	return nil
}

// pumpSession forwards session state changes for the lifetime of the
// connection. States outside the coordination model, such as the brief
// TCP-connected-but-no-session state, are not forwarded.
func (s *session) pumpSession(zkEvents <-chan zk.Event) {
	for {
		select {
		case ev, ok := <-zkEvents:
			if !ok {
				return
			}
			if ev.Type != zk.EventSession {
				continue
			}
			state, ok := mapState(ev.State)
			if !ok {
				glog.V(2).Infof("[%s]ignoring session state %v", s.tag, ev.State)
				continue
			}
			glog.V(1).Infof("[%s]session state %s", s.tag, state)
			s.send(coordination.Event{Type: coordination.EventSession, State: state, Err: ev.Err})
		case <-s.done:
			return
		}
	}
}

// pumpWatch forwards the single firing of a node watch, then exits.
func (s *session) pumpWatch(ch <-chan zk.Event) {
	select {
	case ev, ok := <-ch:
		if !ok {
			return
		}
		typ, ok := mapEventType(ev.Type)
		if !ok {
			glog.V(2).Infof("[%s]ignoring watch event %v on %q", s.tag, ev.Type, ev.Path)
			return
		}
		s.send(coordination.Event{Type: typ, Path: ev.Path, Err: ev.Err})
	case <-s.done:
	}
}

func (s *session) send(ev coordination.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// mapError translates go-zookeeper errors into the coordination sentinels
// callers match on. Unrecognized errors pass through unchanged.
func mapError(err error) error {
	switch {
	case errors.Is(err, zk.ErrNoNode):
		return coordination.ErrNoNode
	case errors.Is(err, zk.ErrNoAuth):
		return coordination.ErrNoAuth
	case errors.Is(err, zk.ErrConnectionClosed), errors.Is(err, zk.ErrSessionExpired):
		return coordination.ErrSessionClosed
	default:
		return err
	}
}

func mapState(st zk.State) (coordination.SessionState, bool) {
	switch st {
	case zk.StateHasSession:
		return coordination.StateConnected, true
	case zk.StateDisconnected:
		return coordination.StateDisconnected, true
	case zk.StateExpired:
		return coordination.StateExpired, true
	case zk.StateAuthFailed:
		return coordination.StateAuthFailed, true
	case zk.StateConnectedReadOnly:
		return coordination.StateConnectedReadOnly, true
	default:
		return 0, false
	}
}

func mapEventType(t zk.EventType) (coordination.EventType, bool) {
	switch t {
	case zk.EventNodeDeleted:
		return coordination.EventNodeDeleted, true
	case zk.EventNodeDataChanged:
		return coordination.EventNodeDataChanged, true
	case zk.EventNodeChildrenChanged:
		return coordination.EventNodeChildrenChanged, true
	default:
		return 0, false
	}
}
