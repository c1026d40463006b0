package engine

import "sync"

// gate is a resettable level-triggered signal. Waiters snapshot the channel
// for the cycle they started waiting in, so a clear racing a wait can never
// swallow a set that already happened.
type gate struct {
	mu   sync.Mutex
	ch   chan struct{}
	open bool
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

// wait returns the current cycle's channel. It is closed once the gate is
// set; a later clear replaces it for future waiters only.
func (g *gate) wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}

// set opens the gate, releasing everyone waiting on the current cycle.
// Setting an open gate is a no-op.
func (g *gate) set() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return
	}
	g.open = true
	close(g.ch)
}

// clear starts a new cycle. Clearing an unset gate keeps the pending channel
// so earlier waiters still see the next set.
func (g *gate) clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return
	}
	g.open = false
	g.ch = make(chan struct{})
}
