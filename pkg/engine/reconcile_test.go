package engine

import (
	"errors"
	"maps"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/mikekulinski/zkconfig/pkg/coordination"
	mock_coordination "github.com/mikekulinski/zkconfig/pkg/coordination/mocks"
	"github.com/mikekulinski/zkconfig/pkg/coordtest"
	"github.com/mikekulinski/zkconfig/pkg/pathkey"
	"github.com/mikekulinski/zkconfig/pkg/pathtree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// mirrorEngine builds an engine whose mirror looks like a finished load of
// the given map, without any session behind it. Tree nodes are derived from
// the keys, so "set:a" produces the directory node "set" holding "a".
func mirrorEngine(data map[string]string) *Engine {
	e := &Engine{
		settings:  testSettings(),
		connected: newGate(),
		loaded:    newGate(),
		reloads:   newCallbackList[func()](),
		done:      make(chan struct{}),
		epoch:     1,
		root:      pathtree.NewNode("config"),
		data:      map[string]string{},
		published: true,
	}
	for key, value := range data {
		e.data[key] = value
		node := e.root
		for _, name := range strings.Split(key, pathkey.KeyDelimiter) {
			child, ok := node.Children[name]
			if !ok {
				child = node.Add(name)
			}
			node = child
		}
	}
	return e
}

func childNamesSorted(node *pathtree.Node) []string {
	names := node.ChildNames()
	sort.Strings(names)
	return names
}

func TestReconcile_ChildrenDiff(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess := mock_coordination.NewMockSession(ctrl)
	e := mirrorEngine(map[string]string{"set:a": "1", "set:b": "2", "set:c": "3"})
	reloads := recordReloads(e)

	sess.EXPECT().ListChildren("/config/set", true).Return([]string{"b", "c", "d"}, nil)
	sess.EXPECT().ReadValue("/config/set/d", true).Return([]byte("4"), nil)

	e.reconcile(1, sess, coordination.Event{
		Type: coordination.EventNodeChildrenChanged,
		Path: "/config/set",
	})

	assert.Equal(t, map[string]string{"set:b": "2", "set:c": "3", "set:d": "4"}, e.Snapshot())
	set := pathtree.FindPath(e.root, "/config/set", "/config")
	require.NotNil(t, set)
	assert.Equal(t, []string{"b", "c", "d"}, childNamesSorted(set))

	// The whole diff produces a single reload.
	waitReload(t, reloads)
	assertNoReload(t, reloads)
}

func TestReconcile_ChildrenDiff_NewChildDenied(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess := mock_coordination.NewMockSession(ctrl)
	e := mirrorEngine(map[string]string{"set:a": "1"})
	reloads := recordReloads(e)

	sess.EXPECT().ListChildren("/config/set", true).Return([]string{"d"}, nil)
	sess.EXPECT().ReadValue("/config/set/d", true).Return(nil, coordination.ErrNoAuth)

	e.reconcile(1, sess, coordination.Event{
		Type: coordination.EventNodeChildrenChanged,
		Path: "/config/set",
	})

	// The unauthorized child is skipped like during the initial load; the
	// removal still applies.
	assert.Equal(t, map[string]string{}, e.Snapshot())
	set := pathtree.FindPath(e.root, "/config/set", "/config")
	require.NotNil(t, set)
	assert.Empty(t, set.Children)
	waitReload(t, reloads)
}

func TestReconcile_ChildrenDiff_ListFailureIsNoOp(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess := mock_coordination.NewMockSession(ctrl)
	e := mirrorEngine(map[string]string{"set:a": "1"})
	reloads := recordReloads(e)

	sess.EXPECT().ListChildren("/config/set", true).Return(nil, errors.New("wire cut"))

	e.reconcile(1, sess, coordination.Event{
		Type: coordination.EventNodeChildrenChanged,
		Path: "/config/set",
	})

	assert.Equal(t, map[string]string{"set:a": "1"}, e.Snapshot())
	assertNoReload(t, reloads)
}

func TestReconcile_DataChanged(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess := mock_coordination.NewMockSession(ctrl)
	e := mirrorEngine(map[string]string{"db:host": "x"})
	reloads := recordReloads(e)

	sess.EXPECT().ReadValue("/config/db/host", true).Return([]byte("y"), nil)

	e.reconcile(1, sess, coordination.Event{
		Type: coordination.EventNodeDataChanged,
		Path: "/config/db/host",
	})

	assert.Equal(t, map[string]string{"db:host": "y"}, e.Snapshot())
	waitReload(t, reloads)
}

func TestReconcile_DataChanged_SameValueTwice(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess := mock_coordination.NewMockSession(ctrl)
	e := mirrorEngine(map[string]string{"db:host": "x"})
	reloads := recordReloads(e)

	// The re-read still happens each time so the watch is re-armed, but an
	// unchanged value has no further side effects.
	sess.EXPECT().ReadValue("/config/db/host", true).Return([]byte("x"), nil).Times(2)

	ev := coordination.Event{
		Type: coordination.EventNodeDataChanged,
		Path: "/config/db/host",
	}
	e.reconcile(1, sess, ev)
	e.reconcile(1, sess, ev)

	assert.Equal(t, map[string]string{"db:host": "x"}, e.Snapshot())
	assertNoReload(t, reloads)
}

func TestReconcile_DataChanged_FailedReReadKeepsValue(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "node vanished", err: coordination.ErrNoNode},
		{name: "authorization revoked", err: coordination.ErrNoAuth},
		{name: "connectivity failure", err: errors.New("wire cut")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			sess := mock_coordination.NewMockSession(ctrl)
			e := mirrorEngine(map[string]string{"db:host": "x"})
			reloads := recordReloads(e)

			sess.EXPECT().ReadValue("/config/db/host", true).Return(nil, tt.err)

			e.reconcile(1, sess, coordination.Event{
				Type: coordination.EventNodeDataChanged,
				Path: "/config/db/host",
			})

			// Absence on this event is not deletion: the prior value stands
			// until a future successful event corrects it.
			assert.Equal(t, map[string]string{"db:host": "x"}, e.Snapshot())
			assertNoReload(t, reloads)
		})
	}
}

func TestReconcile_DataChanged_NullPayloadKeepsValue(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess := mock_coordination.NewMockSession(ctrl)
	e := mirrorEngine(map[string]string{"db:host": "x"})
	reloads := recordReloads(e)

	sess.EXPECT().ReadValue("/config/db/host", true).Return(nil, nil)

	e.reconcile(1, sess, coordination.Event{
		Type: coordination.EventNodeDataChanged,
		Path: "/config/db/host",
	})

	assert.Equal(t, map[string]string{"db:host": "x"}, e.Snapshot())
	assertNoReload(t, reloads)
}

func TestReconcile_Deleted_ClearsDescendants(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess := mock_coordination.NewMockSession(ctrl)
	e := mirrorEngine(map[string]string{"db:host": "x", "db:port": "5432", "service": "s"})
	reloads := recordReloads(e)

	e.reconcile(1, sess, coordination.Event{
		Type: coordination.EventNodeDeleted,
		Path: "/config/db",
	})

	// The one event takes the whole subtree's keys with it; the remote
	// store removed those nodes too, it just never tells us per descendant.
	assert.Equal(t, map[string]string{"service": "s"}, e.Snapshot())
	assert.Nil(t, pathtree.FindPath(e.root, "/config/db", "/config"))
	waitReload(t, reloads)
	assertNoReload(t, reloads)
}

func TestReconcile_DeletedRoot(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess := mock_coordination.NewMockSession(ctrl)
	e := mirrorEngine(map[string]string{"db:host": "x"})
	reloads := recordReloads(e)

	e.reconcile(1, sess, coordination.Event{
		Type: coordination.EventNodeDeleted,
		Path: "/config",
	})

	assert.Empty(t, e.Snapshot())
	assert.False(t, e.mirrored("/config/db/host"))
	waitReload(t, reloads)
}

func TestReconcile_UntrackedPathDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	// No expectations: events for paths outside the mirror must not touch
	// the store at all.
	sess := mock_coordination.NewMockSession(ctrl)
	e := mirrorEngine(map[string]string{"db:host": "x"})
	reloads := recordReloads(e)

	for _, typ := range []coordination.EventType{
		coordination.EventNodeDeleted,
		coordination.EventNodeDataChanged,
		coordination.EventNodeChildrenChanged,
	} {
		e.reconcile(1, sess, coordination.Event{Type: typ, Path: "/config/ghost"})
	}

	assert.Equal(t, map[string]string{"db:host": "x"}, e.Snapshot())
	assertNoReload(t, reloads)
}

func TestReconcile_StaleEpochDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess := mock_coordination.NewMockSession(ctrl)
	e := mirrorEngine(map[string]string{"db:host": "x"})
	reloads := recordReloads(e)

	// A new session took over while this event's read was in flight. The
	// read happens (and re-arms a watch the old session will never use), but
	// the apply is fenced out.
	e.stateLock.Lock()
	e.epoch = 2
	e.stateLock.Unlock()
	sess.EXPECT().ReadValue("/config/db/host", true).Return([]byte("y"), nil)

	e.reconcile(1, sess, coordination.Event{
		Type: coordination.EventNodeDataChanged,
		Path: "/config/db/host",
	})

	assert.Equal(t, map[string]string{"db:host": "x"}, e.Snapshot())
	assertNoReload(t, reloads)
}

func TestWatchFlow_ChildrenAddAndRemove(t *testing.T) {
	server := coordtest.NewServer()
	require.NoError(t, server.Create("/config", nil))
	require.NoError(t, server.Create("/config/set", nil))
	require.NoError(t, server.Create("/config/set/a", []byte("1")))
	require.NoError(t, server.Create("/config/set/b", []byte("2")))
	require.NoError(t, server.Create("/config/set/c", []byte("3")))
	e := startEngine(t, server, nil)
	reloads := recordReloads(e)

	require.NoError(t, server.Delete("/config/set/a"))
	waitReload(t, reloads)
	require.NoError(t, server.Create("/config/set/d", []byte("4")))
	waitReload(t, reloads)

	assert.Equal(t, map[string]string{
		"set:b": "2",
		"set:c": "3",
		"set:d": "4",
	}, e.Snapshot())

	// The added child came with its own data watch.
	require.NoError(t, server.SetData("/config/set/d", []byte("44")))
	waitReload(t, reloads)
	value, _ := e.Get("set:d")
	assert.Equal(t, "44", value)
}

func TestWatchFlow_DataChangeIdempotent(t *testing.T) {
	server := coordtest.NewServer()
	seedStore(t, server)
	e := startEngine(t, server, nil)
	reloads := recordReloads(e)

	// Writing the value already mirrored fires the watch, but reconciling
	// it is a no-op with no notification.
	require.NoError(t, server.SetData("/config/db/host", []byte("x")))
	assertNoReload(t, reloads)

	require.NoError(t, server.SetData("/config/db/host", []byte("y")))
	waitReload(t, reloads)
	value, _ := e.Get("db:host")
	assert.Equal(t, "y", value)
}

func TestWatchFlow_SubtreeDeletion(t *testing.T) {
	server := coordtest.NewServer()
	seedStore(t, server)
	require.NoError(t, server.Create("/config/service", []byte("payments")))
	e := startEngine(t, server, nil)

	require.NoError(t, server.DeleteTree("/config/db"))

	expected := map[string]string{"service": "payments"}
	require.Eventually(t, func() bool {
		return maps.Equal(e.Snapshot(), expected)
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, e.mirrored("/config/db"))
	assert.False(t, e.mirrored("/config/db/host"))
}
