// Package pathtree holds the local mirror of the remote node hierarchy. The
// tree records exactly the set of remote paths that have been successfully
// read at least once and not yet deleted; it carries structure only, the node
// values live in the flat configuration map derived from it.
package pathtree

import (
	"strings"

	"github.com/mikekulinski/zkconfig/pkg/pathkey"
)

// Node is a single entry in the path tree. Child names are unique per parent.
type Node struct {
	Name     string
	Children map[string]*Node
}

func NewNode(name string) *Node {
	return &Node{
		Name: name,
		// Init the children to an empty map instead of nil to avoid panics
		// when writing to a nil map.
		Children: map[string]*Node{},
	}
}

// Add creates a child node under n and returns it. An existing child with the
// same name is replaced; the caller decides whether that is a rebuild or a
// bug.
func (n *Node) Add(name string) *Node {
	child := NewNode(name)
	n.Children[name] = child
	return child
}

// Remove detaches the named child and returns it, or nil if no such child
// exists. The detached subtree is returned so the caller can walk it for
// cleanup.
func (n *Node) Remove(name string) *Node {
	child, ok := n.Children[name]
	if !ok {
		return nil
	}
	delete(n.Children, name)
	return child
}

// ChildNames returns the names of the direct children, in map order.
func (n *Node) ChildNames() []string {
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	return names
}

// Find descends from start through the given node names and returns the node
// they identify, or nil if any name along the way is missing.
func Find(start *Node, names []string) *Node {
	node := start
	for _, name := range names {
		next, ok := node.Children[name]
		if !ok {
			return nil
		}
		node = next
	}
	return node
}

// FindPath resolves the node for an absolute path below rootPath. The root
// path itself resolves to start; paths outside the root resolve to nil.
func FindPath(start *Node, path, rootPath string) *Node {
	if !strings.HasPrefix(path, rootPath) {
		return nil
	}
	return Find(start, pathkey.SplitPath(strings.TrimPrefix(path, rootPath)))
}

// Walk visits node and every descendant depth first. The visit callback
// receives each node's absolute path, built from the path supplied for the
// starting node.
func Walk(path string, node *Node, visit func(path string, node *Node)) {
	visit(path, node)
	for name, child := range node.Children {
		Walk(pathkey.Join(path, name), child, visit)
	}
}
