package zkclient

import (
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/mikekulinski/zkconfig/pkg/coordination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubConn is a scriptable in-memory stand-in for *zk.Conn.
type stubConn struct {
	data     map[string][]byte
	children map[string][]string
	errs     map[string]error

	dataWatch  chan zk.Event
	childWatch chan zk.Event

	auths   []string
	authErr error
	closed  bool
}

func newStubConn() *stubConn {
	return &stubConn{
		data:       map[string][]byte{},
		children:   map[string][]string{},
		errs:       map[string]error{},
		dataWatch:  make(chan zk.Event, 1),
		childWatch: make(chan zk.Event, 1),
	}
}

func (c *stubConn) Get(path string) ([]byte, *zk.Stat, error) {
	if err := c.errs[path]; err != nil {
		return nil, nil, err
	}
	return c.data[path], &zk.Stat{}, nil
}

func (c *stubConn) GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error) {
	if err := c.errs[path]; err != nil {
		return nil, nil, nil, err
	}
	return c.data[path], &zk.Stat{}, c.dataWatch, nil
}

func (c *stubConn) Children(path string) ([]string, *zk.Stat, error) {
	if err := c.errs[path]; err != nil {
		return nil, nil, err
	}
	return c.children[path], &zk.Stat{}, nil
}

func (c *stubConn) ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error) {
	if err := c.errs[path]; err != nil {
		return nil, nil, nil, err
	}
	return c.children[path], &zk.Stat{}, c.childWatch, nil
}

func (c *stubConn) AddAuth(scheme string, auth []byte) error {
	if c.authErr != nil {
		return c.authErr
	}
	c.auths = append(c.auths, scheme)
	return nil
}

func (c *stubConn) Close() {
	c.closed = true
}

func dialStub(t *testing.T, c *stubConn, auth []coordination.AuthInfo) (coordination.Session, <-chan coordination.Event, chan zk.Event) {
	t.Helper()
	zkEvents := make(chan zk.Event, 4)
	d := &Dialer{
		connect: func([]string, time.Duration) (conn, <-chan zk.Event, error) {
			return c, zkEvents, nil
		},
	}
	sess, events, err := d.Dial([]string{"stub:2181"}, time.Second, auth)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, sess.Close())
	})
	return sess, events, zkEvents
}

func recvEvent(t *testing.T, events <-chan coordination.Event) coordination.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return coordination.Event{}
	}
}

func TestDial_RegistersAuth(t *testing.T) {
	c := newStubConn()
	dialStub(t, c, []coordination.AuthInfo{
		{Scheme: "digest", Auth: []byte("reader:pw")},
		{Scheme: "ip", Auth: []byte("10.0.0.1")},
	})
	assert.Equal(t, []string{"digest", "ip"}, c.auths)
}

func TestDial_AuthErrorClosesConnection(t *testing.T) {
	c := newStubConn()
	c.authErr = zk.ErrAuthFailed
	d := &Dialer{
		connect: func([]string, time.Duration) (conn, <-chan zk.Event, error) {
			return c, make(chan zk.Event), nil
		},
	}
	_, _, err := d.Dial([]string{"stub:2181"}, time.Second, []coordination.AuthInfo{{Scheme: "digest", Auth: []byte("x")}})
	require.Error(t, err)
	assert.True(t, c.closed)
}

func TestReadValue(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string][]byte
		errs     map[string]error
		path     string
		expected []byte
		errIs    error
	}{
		{
			name:     "returns stored value",
			data:     map[string][]byte{"/config/db/host": []byte("db1")},
			path:     "/config/db/host",
			expected: []byte("db1"),
		},
		{
			name:  "missing node maps to ErrNoNode",
			errs:  map[string]error{"/config/gone": zk.ErrNoNode},
			path:  "/config/gone",
			errIs: coordination.ErrNoNode,
		},
		{
			name:  "denied node maps to ErrNoAuth",
			errs:  map[string]error{"/config/secret": zk.ErrNoAuth},
			path:  "/config/secret",
			errIs: coordination.ErrNoAuth,
		},
		{
			name:  "closed connection maps to ErrSessionClosed",
			errs:  map[string]error{"/config/db": zk.ErrConnectionClosed},
			path:  "/config/db",
			errIs: coordination.ErrSessionClosed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newStubConn()
			for k, v := range tt.data {
				c.data[k] = v
			}
			for k, v := range tt.errs {
				c.errs[k] = v
			}
			sess, _, _ := dialStub(t, c, nil)

			got, err := sess.ReadValue(tt.path, false)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestReadValue_WatchFiring(t *testing.T) {
	c := newStubConn()
	c.data["/config/db/host"] = []byte("db1")
	sess, events, _ := dialStub(t, c, nil)

	value, err := sess.ReadValue("/config/db/host", true)
	require.NoError(t, err)
	assert.Equal(t, []byte("db1"), value)

	c.dataWatch <- zk.Event{Type: zk.EventNodeDataChanged, Path: "/config/db/host"}
	ev := recvEvent(t, events)
	assert.Equal(t, coordination.EventNodeDataChanged, ev.Type)
	assert.Equal(t, "/config/db/host", ev.Path)
}

func TestListChildren_WatchFiring(t *testing.T) {
	c := newStubConn()
	c.children["/config/db"] = []string{"host", "port"}
	sess, events, _ := dialStub(t, c, nil)

	children, err := sess.ListChildren("/config/db", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"host", "port"}, children)

	c.childWatch <- zk.Event{Type: zk.EventNodeChildrenChanged, Path: "/config/db"}
	ev := recvEvent(t, events)
	assert.Equal(t, coordination.EventNodeChildrenChanged, ev.Type)
	assert.Equal(t, "/config/db", ev.Path)
}

func TestSessionStateForwarding(t *testing.T) {
	c := newStubConn()
	_, events, zkEvents := dialStub(t, c, nil)

	// The TCP-level connected state carries no session yet and must not be
	// forwarded. The first event the consumer sees is the established session.
	zkEvents <- zk.Event{Type: zk.EventSession, State: zk.StateConnecting}
	zkEvents <- zk.Event{Type: zk.EventSession, State: zk.StateConnected}
	zkEvents <- zk.Event{Type: zk.EventSession, State: zk.StateHasSession}

	ev := recvEvent(t, events)
	assert.Equal(t, coordination.EventSession, ev.Type)
	assert.Equal(t, coordination.StateConnected, ev.State)

	zkEvents <- zk.Event{Type: zk.EventSession, State: zk.StateExpired}
	ev = recvEvent(t, events)
	assert.Equal(t, coordination.StateExpired, ev.State)
}

func TestMapState(t *testing.T) {
	tests := []struct {
		name      string
		state     zk.State
		expected  coordination.SessionState
		forwarded bool
	}{
		{
			name:      "has session",
			state:     zk.StateHasSession,
			expected:  coordination.StateConnected,
			forwarded: true,
		},
		{
			name:      "disconnected",
			state:     zk.StateDisconnected,
			expected:  coordination.StateDisconnected,
			forwarded: true,
		},
		{
			name:      "expired",
			state:     zk.StateExpired,
			expected:  coordination.StateExpired,
			forwarded: true,
		},
		{
			name:      "auth failed",
			state:     zk.StateAuthFailed,
			expected:  coordination.StateAuthFailed,
			forwarded: true,
		},
		{
			name:      "read only",
			state:     zk.StateConnectedReadOnly,
			expected:  coordination.StateConnectedReadOnly,
			forwarded: true,
		},
		{
			name:      "tcp connected is not forwarded",
			state:     zk.StateConnected,
			forwarded: false,
		},
		{
			name:      "connecting is not forwarded",
			state:     zk.StateConnecting,
			forwarded: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := mapState(tt.state)
			assert.Equal(t, tt.forwarded, ok)
			if tt.forwarded {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := newStubConn()
	sess, _, _ := dialStub(t, c, nil)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.True(t, c.closed)
}
