// Package engine keeps a flat key/value view of a coordination service
// subtree synchronized with the remote store.
//
// On connect it loads the whole subtree, arming a watch on every node it
// reads. After that, watch events drive incremental reconciliation: since
// every watch fires at most once, every handler re-arms its subscription as
// part of the same read that inspects the node. Session expiry throws the
// mirror away and rebuilds it on a brand-new session.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/mikekulinski/zkconfig/pkg/coordination"
	"github.com/mikekulinski/zkconfig/pkg/pathkey"
	"github.com/mikekulinski/zkconfig/pkg/pathtree"
	"github.com/mikekulinski/zkconfig/pkg/snapshot"
)

// Engine mirrors one subtree into a configuration map. Create it with New,
// block on Load until the first snapshot is ready, then read through Get or
// Snapshot while reconciliation keeps the map current.
type Engine struct {
	settings *Settings
	dialer   coordination.Dialer
	exporter *snapshot.Exporter

	connected *gate
	loaded    *gate

	// stateLock guards everything below. Handlers never hold it across a
	// remote read; they re-check the epoch after reacquiring instead.
	stateLock sync.Mutex
	epoch     int
	session   coordination.Session
	root      *pathtree.Node
	data      map[string]string
	published bool
	loadErr   error
	fatalErr  error
	closed    bool

	reloads *callbackList[func()]

	done      chan struct{}
	closeOnce sync.Once
}

// New validates the settings and dials the first session. The engine starts
// mirroring in the background; call Load to wait for the first snapshot.
func New(dialer coordination.Dialer, settings *Settings) (*Engine, error) {
	if err := pathkey.ValidateRootPath(settings.RootPath); err != nil {
		return nil, fmt.Errorf("validating root path: %w", err)
	}
	if len(settings.Servers) == 0 {
		return nil, errors.New("no servers configured")
	}

	e := &Engine{
		settings:  settings,
		dialer:    dialer,
		connected: newGate(),
		loaded:    newGate(),
		data:      map[string]string{},
		reloads:   newCallbackList[func()](),
		done:      make(chan struct{}),
	}
	if settings.SnapshotPath != "" {
		exporter, err := snapshot.NewExporter(settings.SnapshotPath)
		if err != nil {
			return nil, fmt.Errorf("creating snapshot exporter: %w", err)
		}
		e.exporter = exporter
	}
	if err := e.dialSession(); err != nil {
		return nil, fmt.Errorf("dialing coordination service: %w", err)
	}
	return e, nil
}

// Load blocks until the engine is connected and the initial load has
// completed, then returns the load's outcome. The connected wait is bounded
// by Settings.ConnectTimeout; the load wait is unbounded. A session level
// authentication failure surfaces here as ErrSessionAuthFailed.
func (e *Engine) Load(ctx context.Context) error {
	connectTimer := time.NewTimer(e.settings.ConnectTimeout)
	defer connectTimer.Stop()

	select {
	case <-e.connected.wait():
	case <-e.loaded.wait():
		// A terminal failure can complete the cycle without ever connecting.
	case <-connectTimer.C:
		return ErrConnectionTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}

	select {
	case <-e.loaded.wait():
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}

	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	if e.fatalErr != nil {
		return e.fatalErr
	}
	return e.loadErr
}

// Snapshot returns a copy of the configuration map.
func (e *Engine) Snapshot() map[string]string {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	out := make(map[string]string, len(e.data))
	for key, value := range e.data {
		out[key] = value
	}
	return out
}

// Get returns the value for one flattened key.
func (e *Engine) Get(key string) (string, bool) {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	value, ok := e.data[key]
	return value, ok
}

// OnReload registers a callback invoked after each applied change. The
// returned function removes the registration.
func (e *Engine) OnReload(callback func()) func() {
	callbackID := e.reloads.add(callback)
	return func() {
		e.reloads.remove(callbackID)
	}
}

// Close shuts the engine down and closes the current session. The last
// snapshot stays readable; pending Load calls unblock with ErrClosed.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.stateLock.Lock()
		e.closed = true
		sess := e.session
		e.stateLock.Unlock()

		close(e.done)
		if sess != nil {
			_ = sess.Close()
		}
	})
	return nil
}

// dialSession starts a brand-new session and its dispatcher. Whatever the
// previous session published stays visible until the new session's load
// replaces it.
func (e *Engine) dialSession() error {
	sess, events, err := e.dialer.Dial(e.settings.Servers, e.settings.SessionTimeout, e.settings.Auth)
	if err != nil {
		return err
	}

	e.stateLock.Lock()
	if e.closed {
		e.stateLock.Unlock()
		return sess.Close()
	}
	e.epoch++
	epoch := e.epoch
	e.session = sess
	e.stateLock.Unlock()

	go e.dispatch(epoch, sess, events)
	return nil
}

// dispatch runs state transitions and reconciliation inline for one session,
// in delivery order. The engine adds no further concurrency: a session's
// events never race each other, and cross-session races are fenced by the
// epoch checks inside each apply.
func (e *Engine) dispatch(epoch int, sess coordination.Session, events <-chan coordination.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if stop := e.handleEvent(epoch, sess, ev); stop {
				return
			}
		case <-e.done:
			return
		}
	}
}

func (e *Engine) handleEvent(epoch int, sess coordination.Session, ev coordination.Event) bool {
	if ev.Type == coordination.EventSession {
		return e.handleSessionState(epoch, sess, ev.State)
	}
	e.reconcile(epoch, sess, ev)
	return false
}

func (e *Engine) handleSessionState(epoch int, sess coordination.Session, state coordination.SessionState) bool {
	if e.stale(epoch) {
		return true
	}
	glog.V(1).Infof("[session]state %s", state)

	switch state {
	case coordination.StateConnected:
		e.connected.set()
		e.runLoad(epoch, sess)
		return false
	case coordination.StateDisconnected:
		// Transient. The last good snapshot stays visible.
		e.connected.clear()
		return false
	case coordination.StateExpired:
		e.expire(epoch, sess)
		return true
	case coordination.StateAuthFailed:
		e.fail(epoch, ErrSessionAuthFailed)
		return true
	case coordination.StateConnectedReadOnly:
		// Read-only connections are never intentionally established.
		return false
	default:
		return false
	}
}

// expire abandons the expired session and dials a brand-new one. Old-cycle
// Load waiters are released; the new session's connected transition rebuilds
// the mirror from scratch.
func (e *Engine) expire(epoch int, sess coordination.Session) {
	e.connected.clear()
	e.loaded.set()
	_ = sess.Close()

	glog.Warningf("[session]expired, dialing a new session")
	if err := e.dialSession(); err != nil {
		e.fail(epoch, fmt.Errorf("redialing after session expiry: %w", err))
	}
}

// fail records a terminal error and releases every waiter. The engine keeps
// serving whatever snapshot it already has.
func (e *Engine) fail(epoch int, err error) {
	e.stateLock.Lock()
	if e.epoch != epoch || e.closed {
		e.stateLock.Unlock()
		return
	}
	e.fatalErr = err
	e.stateLock.Unlock()

	glog.Errorf("[session]fatal: %v", err)
	e.loaded.set()
}

func (e *Engine) stale(epoch int) bool {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	return e.epoch != epoch || e.closed
}

// mirrored reports whether path currently has a tree node. Handlers use it
// to avoid re-arming watches on paths the mirror no longer tracks.
func (e *Engine) mirrored(path string) bool {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	return e.root != nil && pathtree.FindPath(e.root, path, e.settings.RootPath) != nil
}

// changed runs after every applied mutation: it refreshes the snapshot file
// when configured and notifies reload subscribers.
func (e *Engine) changed() {
	e.export()
	for _, callback := range e.reloads.get() {
		callback()
	}
}

func (e *Engine) export() {
	if e.exporter == nil {
		return
	}
	if err := e.exporter.Export(e.Snapshot()); err != nil {
		// The snapshot file is advisory; keep serving from memory.
		glog.Errorf("[snapshot]export failed: %v", err)
	}
}
