package engine

import (
	"slices"
	"sync"
)

// callbackList is a registry whose entries can be snapshotted and invoked
// without holding the lock. Entries are keyed by a monotonically increasing
// id so removal does not depend on func values being comparable.
type callbackList[T any] struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]T
	order  []int
}

func newCallbackList[T any]() *callbackList[T] {
	return &callbackList[T]{byID: map[int]T{}}
}

// add registers a callback and returns its id.
func (l *callbackList[T]) add(callback T) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.byID[id] = callback
	l.order = append(l.order, id)
	return id
}

// remove drops a callback by id. Unknown ids are ignored.
func (l *callbackList[T]) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byID, id)
	l.order = slices.DeleteFunc(l.order, func(other int) bool { return other == id })
}

// get returns the callbacks in registration order.
func (l *callbackList[T]) get() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	callbacks := make([]T, 0, len(l.order))
	for _, id := range l.order {
		callbacks = append(callbacks, l.byID[id])
	}
	return callbacks
}
