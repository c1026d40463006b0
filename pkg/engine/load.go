package engine

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/mikekulinski/zkconfig/pkg/coordination"
	"github.com/mikekulinski/zkconfig/pkg/pathkey"
	"github.com/mikekulinski/zkconfig/pkg/pathtree"
)

// runLoad rebuilds the tree and map from a full traversal and publishes the
// result. A failed build is discarded whole; its error is deferred to the
// blocking Load caller. Either way the cycle's load-complete signal fires.
func (e *Engine) runLoad(epoch int, sess coordination.Session) {
	root, data, err := e.loadTree(sess)

	e.stateLock.Lock()
	if e.epoch != epoch || e.closed {
		e.stateLock.Unlock()
		return
	}
	replaced := e.published
	if err != nil {
		e.loadErr = fmt.Errorf("loading %s: %w", e.settings.RootPath, err)
	} else {
		e.root = root
		e.data = data
		e.published = true
		e.loadErr = nil
	}
	e.stateLock.Unlock()

	if err != nil {
		glog.Errorf("[load]failed: %v", err)
	} else {
		glog.V(1).Infof("[load]loaded %d keys under %s", len(data), e.settings.RootPath)
	}
	e.loaded.set()

	if err == nil {
		e.export()
		if replaced {
			for _, callback := range e.reloads.get() {
				callback()
			}
		}
	}
}

// loadTree walks the subtree depth-first using an explicit work stack,
// arming a watch on every node it touches so no observation goes
// unsubscribed. Unauthorized nodes are skipped together with their entire
// subtree; so are nodes deleted mid-walk. Any other failure aborts the
// whole build.
func (e *Engine) loadTree(sess coordination.Session) (*pathtree.Node, map[string]string, error) {
	rootPath := e.settings.RootPath

	type frame struct {
		path   string
		parent *pathtree.Node
	}

	var root *pathtree.Node
	data := map[string]string{}
	stack := []frame{{path: rootPath}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		value, err := sess.ReadValue(f.path, true)
		switch {
		case errors.Is(err, coordination.ErrNoAuth):
			// Expected partial visibility, not a load failure.
			glog.V(2).Infof("[load]skipping unauthorized node %s", f.path)
			continue
		case errors.Is(err, coordination.ErrNoNode):
			glog.V(2).Infof("[load]skipping vanished node %s", f.path)
			continue
		case err != nil:
			return nil, nil, fmt.Errorf("reading %s: %w", f.path, err)
		}

		// An empty payload maps to the empty string; a null payload is a
		// successful read that records no value. Either way the node joins
		// the tree and its children are traversed.
		if value != nil {
			key, err := pathkey.ToKey(f.path, rootPath)
			if err != nil {
				return nil, nil, err
			}
			data[key] = string(value)
		}

		var node *pathtree.Node
		if f.parent == nil {
			node = pathtree.NewNode(pathkey.LastName(f.path))
			root = node
		} else {
			node = f.parent.Add(pathkey.LastName(f.path))
		}

		children, err := sess.ListChildren(f.path, true)
		switch {
		case errors.Is(err, coordination.ErrNoAuth), errors.Is(err, coordination.ErrNoNode):
			// The value stands on its own; there is just nothing to descend
			// into.
			continue
		case err != nil:
			return nil, nil, fmt.Errorf("listing %s: %w", f.path, err)
		}
		for _, child := range children {
			stack = append(stack, frame{path: pathkey.Join(f.path, child), parent: node})
		}
	}

	// The root's own key never names a setting.
	delete(data, "")
	return root, data, nil
}
