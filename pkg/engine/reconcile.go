package engine

import (
	"github.com/golang/glog"
	"github.com/mikekulinski/zkconfig/pkg/coordination"
	"github.com/mikekulinski/zkconfig/pkg/pathkey"
	"github.com/mikekulinski/zkconfig/pkg/pathtree"
)

// reconcile applies one node notification. Handlers re-arm the watch they
// consume as part of the read that inspects the node; a handler that fails
// mid-way is a no-op for that event and the prior state stands until a
// future event corrects it.
func (e *Engine) reconcile(epoch int, sess coordination.Session, ev coordination.Event) {
	switch ev.Type {
	case coordination.EventNodeDeleted:
		e.applyDeleted(epoch, ev.Path)
	case coordination.EventNodeDataChanged:
		e.applyDataChanged(epoch, sess, ev.Path)
	case coordination.EventNodeChildrenChanged:
		e.applyChildrenChanged(epoch, sess, ev.Path)
	}
}

// applyDeleted removes the node's key and detaches its subtree, clearing
// descendant keys eagerly so the map never outlives the tree.
func (e *Engine) applyDeleted(epoch int, path string) {
	e.stateLock.Lock()
	if e.epoch != epoch || e.closed {
		e.stateLock.Unlock()
		return
	}
	applied := e.removeSubtreeLocked(path)
	e.stateLock.Unlock()

	if applied {
		glog.V(2).Infof("[watch]deleted %s", path)
		e.changed()
	}
}

// applyDataChanged re-reads the node, re-arming its data watch in the same
// call, and overwrites the key when a value comes back. Absence here is not
// deletion: a failed re-read leaves the prior value in place.
func (e *Engine) applyDataChanged(epoch int, sess coordination.Session, path string) {
	if !e.mirrored(path) {
		return
	}
	value, err := sess.ReadValue(path, true)
	if err != nil {
		glog.V(2).Infof("[watch]data changed %s: re-read failed: %v", path, err)
		return
	}
	if value == nil {
		// A null payload is not a deletion; the prior value stands.
		return
	}

	e.stateLock.Lock()
	if e.epoch != epoch || e.closed || e.root == nil {
		e.stateLock.Unlock()
		return
	}
	if pathtree.FindPath(e.root, path, e.settings.RootPath) == nil {
		// The node fell out of the mirror while we were reading. Do not
		// resurrect it.
		e.stateLock.Unlock()
		return
	}
	key, err := pathkey.ToKey(path, e.settings.RootPath)
	if err != nil || key == "" {
		e.stateLock.Unlock()
		return
	}
	if prev, ok := e.data[key]; ok && prev == string(value) {
		e.stateLock.Unlock()
		return
	}
	e.data[key] = string(value)
	e.stateLock.Unlock()

	glog.V(2).Infof("[watch]data changed %s", path)
	e.changed()
}

// applyChildrenChanged re-lists the node's children, re-arming its child
// watch, and diffs them against the mirror. Added children are read
// shallowly with their own data watch armed; removed children are detached
// together with their descendants' keys. One reload fires for the whole
// event.
func (e *Engine) applyChildrenChanged(epoch int, sess coordination.Session, path string) {
	if !e.mirrored(path) {
		return
	}
	remote, err := sess.ListChildren(path, true)
	if err != nil {
		glog.V(2).Infof("[watch]children changed %s: re-list failed: %v", path, err)
		return
	}

	e.stateLock.Lock()
	if e.epoch != epoch || e.closed || e.root == nil {
		e.stateLock.Unlock()
		return
	}
	node := pathtree.FindPath(e.root, path, e.settings.RootPath)
	if node == nil {
		e.stateLock.Unlock()
		return
	}
	remoteSet := make(map[string]bool, len(remote))
	var added []string
	for _, name := range remote {
		remoteSet[name] = true
		if _, ok := node.Children[name]; !ok {
			added = append(added, name)
		}
	}
	var removed []string
	for name := range node.Children {
		if !remoteSet[name] {
			removed = append(removed, name)
		}
	}
	e.stateLock.Unlock()

	// Read new children outside the lock; each read arms the child's data
	// watch. A child that refuses authorization or vanished again is skipped
	// exactly like during the initial load.
	type addition struct {
		name  string
		value []byte
	}
	var additions []addition
	for _, name := range added {
		childPath := pathkey.Join(path, name)
		value, err := sess.ReadValue(childPath, true)
		if err != nil {
			glog.V(2).Infof("[watch]skipping new child %s: %v", childPath, err)
			continue
		}
		additions = append(additions, addition{name: name, value: value})
	}

	e.stateLock.Lock()
	if e.epoch != epoch || e.closed || e.root == nil {
		e.stateLock.Unlock()
		return
	}
	node = pathtree.FindPath(e.root, path, e.settings.RootPath)
	if node == nil {
		e.stateLock.Unlock()
		return
	}
	applied := false
	for _, name := range removed {
		if e.removeSubtreeLocked(pathkey.Join(path, name)) {
			applied = true
		}
	}
	for _, a := range additions {
		if _, ok := node.Children[a.name]; ok {
			continue
		}
		node.Add(a.name)
		if a.value != nil {
			if key, kerr := pathkey.ToKey(pathkey.Join(path, a.name), e.settings.RootPath); kerr == nil && key != "" {
				e.data[key] = string(a.value)
			}
		}
		applied = true
	}
	e.stateLock.Unlock()

	if applied {
		glog.V(2).Infof("[watch]children changed %s: %d added, %d removed", path, len(additions), len(removed))
		e.changed()
	}
}

// removeSubtreeLocked detaches the tree node at path and deletes the map
// entries for it and everything below it. It reports whether anything was
// removed. Callers hold stateLock.
func (e *Engine) removeSubtreeLocked(path string) bool {
	if e.root == nil {
		return false
	}
	rootPath := e.settings.RootPath
	if path == rootPath {
		e.root = nil
		e.data = map[string]string{}
		return true
	}

	parent := pathtree.FindPath(e.root, pathkey.Parent(path), rootPath)
	if parent == nil {
		return false
	}
	node := parent.Remove(pathkey.LastName(path))
	if node == nil {
		return false
	}
	pathtree.Walk(path, node, func(p string, _ *pathtree.Node) {
		if key, err := pathkey.ToKey(p, rootPath); err == nil {
			delete(e.data, key)
		}
	})
	return true
}
